package sendworker

import (
	"context"

	"github.com/evicertia/pn-ec/internal/attachment"
	"github.com/evicertia/pn-ec/internal/gateway"
	"github.com/evicertia/pn-ec/internal/model"
)

// Sender adapts one delivery gateway to the worker pipeline. BaseSize is
// the byte estimate of the composed message before attachments, used to
// budget the size policy. The retry scheduler shares these adapters for its
// direct sends.
type Sender interface {
	Send(ctx context.Context, req *model.Request, attachments []attachment.Resolved) (*model.GeneratedMessage, error)
	BaseSize(req *model.Request) int64
}

type pecSender struct {
	gw gateway.CertifiedMailGateway
}

// NewPECSender adapts the certified-mail gateway for a channel worker.
func NewPECSender(gw gateway.CertifiedMailGateway) Sender {
	return &pecSender{gw: gw}
}

func (s *pecSender) Send(ctx context.Context, req *model.Request, attachments []attachment.Resolved) (*model.GeneratedMessage, error) {
	return s.gw.SendCertifiedMail(ctx, req, attachments)
}

func (s *pecSender) BaseSize(req *model.Request) int64 {
	if req.PEC == nil {
		return 0
	}
	return gateway.CertifiedMailBaseSize(req.PEC)
}

type smsSender struct {
	gw gateway.SMSGateway
}

// NewSMSSender adapts the SMS gateway for a channel worker.
func NewSMSSender(gw gateway.SMSGateway) Sender {
	return &smsSender{gw: gw}
}

func (s *smsSender) Send(ctx context.Context, req *model.Request, _ []attachment.Resolved) (*model.GeneratedMessage, error) {
	return s.gw.SendSMS(ctx, req)
}

func (s *smsSender) BaseSize(req *model.Request) int64 {
	if req.SMS == nil {
		return 0
	}
	return int64(len(req.SMS.MessageText))
}

type paperSender struct {
	gw gateway.PaperGateway
}

// NewPaperSender adapts the paper consolidator gateway for a channel worker.
func NewPaperSender(gw gateway.PaperGateway) Sender {
	return &paperSender{gw: gw}
}

func (s *paperSender) Send(ctx context.Context, req *model.Request, attachments []attachment.Resolved) (*model.GeneratedMessage, error) {
	return s.gw.SubmitPaperEngagement(ctx, req, attachments)
}

func (s *paperSender) BaseSize(_ *model.Request) int64 {
	return 0
}
