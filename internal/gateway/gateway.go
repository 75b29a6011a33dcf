// Package gateway holds the per-channel delivery clients: certified mail
// over SMTP submission, SMS and paper engagement over provider HTTP APIs.
// Each send either returns the provider's generated-message artifact or a
// classified error so callers can tell transient failures from permanent
// ones.
package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/evicertia/pn-ec/internal/attachment"
	"github.com/evicertia/pn-ec/internal/model"
)

// SendError wraps a gateway failure with classification metadata.
type SendError struct {
	// Gateway is the name of the gateway that returned the error.
	Gateway string
	// StatusCode is the protocol status code, when the transport carries one.
	StatusCode int
	// Message is the error description from the gateway.
	Message string
	// Permanent indicates the error will not succeed on retry.
	Permanent bool
}

func (e *SendError) Error() string {
	return e.Gateway + ": " + e.Message
}

// IsPermanent returns true if the error is a permanent failure that neither
// retry tier should reattempt.
func IsPermanent(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Permanent
	}
	return false
}

// IsTransient returns true if the error is a temporary failure that may
// succeed on retry.
func IsTransient(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return !se.Permanent
	}
	// Unknown errors are treated as transient to avoid data loss.
	return true
}

// ClassifyHTTPError creates a SendError from an HTTP status code and
// response body, classifying it as permanent or transient.
func ClassifyHTTPError(gatewayName string, statusCode int, body string) *SendError {
	se := &SendError{
		Gateway:    gatewayName,
		StatusCode: statusCode,
		Message:    body,
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		// Not an error.
		return nil

	case statusCode == 400:
		se.Permanent = containsPermanentIndicator(body)

	case statusCode == 401, statusCode == 403, statusCode == 404:
		se.Permanent = true

	case statusCode == 408, statusCode == 429:
		// Timeout or rate limited - always transient.
		se.Permanent = false

	case statusCode >= 500:
		se.Permanent = containsPermanentServerIndicator(body)

	default:
		// Other 4xx codes are treated as permanent.
		se.Permanent = statusCode >= 400 && statusCode < 500
	}

	return se
}

// ClassifySMTPError creates a SendError from an SMTP reply. SMTP inverts the
// HTTP convention: 4xx replies are transient ("try again later"), 5xx replies
// are permanent rejections.
func ClassifySMTPError(gatewayName string, code int, message string) *SendError {
	return &SendError{
		Gateway:    gatewayName,
		StatusCode: code,
		Message:    message,
		Permanent:  code >= 500,
	}
}

// transientError builds a retryable SendError from a transport failure such
// as a refused connection or a timeout.
func transientError(gatewayName string, err error) *SendError {
	return &SendError{Gateway: gatewayName, Message: err.Error()}
}

// containsPermanentIndicator checks if a 400 response body indicates a
// permanent failure (e.g., invalid recipient, malformed request).
func containsPermanentIndicator(body string) bool {
	lower := strings.ToLower(body)
	permanentPatterns := []string{
		"invalid recipient",
		"invalid number",
		"invalid address",
		"does not exist",
		"recipient rejected",
		"bad request",
		"validation error",
	}
	for _, pattern := range permanentPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// containsPermanentServerIndicator checks if a 5xx response body indicates
// a permanent server-side failure (e.g., invalid credentials).
func containsPermanentServerIndicator(body string) bool {
	lower := strings.ToLower(body)
	permanentPatterns := []string{
		"invalid api key",
		"authentication failed",
		"account suspended",
		"account disabled",
		"unauthorized",
	}
	for _, pattern := range permanentPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// CertifiedMailGateway transmits a composed certified-mail message.
type CertifiedMailGateway interface {
	SendCertifiedMail(ctx context.Context, req *model.Request, attachments []attachment.Resolved) (*model.GeneratedMessage, error)
}

// SMSGateway transmits a courtesy SMS.
type SMSGateway interface {
	SendSMS(ctx context.Context, req *model.Request) (*model.GeneratedMessage, error)
}

// PaperGateway submits a paper engagement to the consolidator.
type PaperGateway interface {
	SubmitPaperEngagement(ctx context.Context, req *model.Request, attachments []attachment.Resolved) (*model.GeneratedMessage, error)
}
