package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/evicertia/pn-ec/internal/attachment"
	"github.com/evicertia/pn-ec/internal/config"
	"github.com/evicertia/pn-ec/internal/model"
)

const pecGatewayName = "pec-smtp"

// smtpSubmitter abstracts the SMTP submission so tests can intercept the
// rendered message without a live server.
type smtpSubmitter interface {
	Submit(ctx context.Context, from string, to []string, raw []byte) error
}

// PECSMTPGateway delivers certified mail through an SMTP submission
// endpoint, authenticating with SASL PLAIN over STARTTLS.
type PECSMTPGateway struct {
	cfg       config.PECGatewayConfig
	submitter smtpSubmitter
}

// NewPECSMTPGateway creates the certified-mail gateway from configuration.
func NewPECSMTPGateway(cfg config.PECGatewayConfig) *PECSMTPGateway {
	g := &PECSMTPGateway{cfg: cfg}
	g.submitter = &starttlsSubmitter{cfg: cfg}
	return g
}

// SendCertifiedMail composes the MIME message and submits it. The returned
// GeneratedMessage carries the self-describing message ID embedded in the
// outgoing headers.
func (g *PECSMTPGateway) SendCertifiedMail(ctx context.Context, req *model.Request, attachments []attachment.Resolved) (*model.GeneratedMessage, error) {
	p := req.PEC
	if p == nil {
		return nil, fmt.Errorf("%s: request %s has no certified-mail payload", pecGatewayName, req.RequestID)
	}

	messageID := EncodeMessageID(req.RequestID, req.ClientID, g.cfg.MessageIDDomain)
	raw, err := ComposeCertifiedMail(messageID, p, attachments)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", pecGatewayName, err)
	}

	if err := g.submitter.Submit(ctx, p.SenderAddress, []string{p.ReceiverAddress}, raw); err != nil {
		var smtpErr *smtp.SMTPError
		if errors.As(err, &smtpErr) {
			return nil, ClassifySMTPError(pecGatewayName, smtpErr.Code, smtpErr.Message)
		}
		return nil, transientError(pecGatewayName, err)
	}

	return &model.GeneratedMessage{
		ID:     messageID,
		System: g.cfg.Host,
	}, nil
}

// starttlsSubmitter dials the submission endpoint per message. Certified
// mail volume per worker is low enough that connection reuse is not worth
// the session-state bookkeeping.
type starttlsSubmitter struct {
	cfg config.PECGatewayConfig
}

func (s *starttlsSubmitter) Submit(ctx context.Context, from string, to []string, raw []byte) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	c, err := smtp.DialStartTLS(addr, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer c.Close()

	if s.cfg.Username != "" {
		auth := sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}
	}

	if err := c.SendMail(from, to, bytes.NewReader(raw)); err != nil {
		return err
	}
	return c.Quit()
}
