package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/evicertia/pn-ec/internal/config"
	"github.com/evicertia/pn-ec/internal/model"
)

const (
	smsGatewayName = "sms-provider"
	smsSendPath    = "/v1/messages"
)

// SMSHTTPGateway delivers courtesy SMS messages through the provider's
// JSON API.
type SMSHTTPGateway struct {
	cfg    config.SMSGatewayConfig
	client HTTPClient
}

// NewSMSHTTPGateway creates an SMS gateway from configuration.
func NewSMSHTTPGateway(cfg config.SMSGatewayConfig, client HTTPClient) *SMSHTTPGateway {
	return &SMSHTTPGateway{cfg: cfg, client: client}
}

// smsSendRequest matches the provider's message-submission schema.
type smsSendRequest struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
	Reference string `json:"reference,omitempty"`
}

// smsSendResponse is the provider's acknowledgment.
type smsSendResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// SendSMS delivers the message text to the receiver number. The
// self-describing reference is passed to the provider so delivery callbacks
// can be correlated.
func (g *SMSHTTPGateway) SendSMS(ctx context.Context, req *model.Request) (*model.GeneratedMessage, error) {
	p := req.SMS
	if p == nil {
		return nil, fmt.Errorf("%s: request %s has no sms payload", smsGatewayName, req.RequestID)
	}

	sender := p.SenderNumber
	if sender == "" {
		sender = g.cfg.Sender
	}
	reference := EncodeMessageID(req.RequestID, req.ClientID, "sms")

	body, err := json.Marshal(smsSendRequest{
		Sender:    sender,
		Recipient: p.ReceiverNumber,
		Text:      p.MessageText,
		Reference: reference,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", smsGatewayName, err)
	}

	resp, err := g.client.Do(&HTTPRequest{
		Method: "POST",
		URL:    g.cfg.Endpoint + smsSendPath,
		Headers: map[string]string{
			"Authorization": "Bearer " + g.cfg.APIKey,
			"Content-Type":  "application/json",
		},
		Body: body,
	})
	if err != nil {
		return nil, transientError(smsGatewayName, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ClassifyHTTPError(smsGatewayName, resp.StatusCode, string(resp.Body))
	}

	var ack smsSendResponse
	if err := json.Unmarshal(resp.Body, &ack); err != nil {
		return nil, transientError(smsGatewayName, fmt.Errorf("decode response: %w", err))
	}
	id := ack.MessageID
	if id == "" {
		id = reference
	}
	return &model.GeneratedMessage{
		ID:     id,
		System: g.cfg.Endpoint,
	}, nil
}
