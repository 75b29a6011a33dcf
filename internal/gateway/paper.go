package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path"

	"github.com/evicertia/pn-ec/internal/attachment"
	"github.com/evicertia/pn-ec/internal/config"
	"github.com/evicertia/pn-ec/internal/model"
)

const (
	paperGatewayName = "paper-consolidator"
	paperSubmitPath  = "/v1/engagements"
)

// PaperHTTPGateway submits paper engagements to the print-and-post
// consolidator's JSON API.
type PaperHTTPGateway struct {
	cfg    config.PaperGatewayConfig
	client HTTPClient
}

// NewPaperHTTPGateway creates a paper gateway from configuration.
func NewPaperHTTPGateway(cfg config.PaperGatewayConfig, client HTTPClient) *PaperHTTPGateway {
	return &PaperHTTPGateway{cfg: cfg, client: client}
}

// paperSubmitRequest matches the consolidator's engagement schema. Address
// rows are forwarded verbatim so the print layout matches the request.
type paperSubmitRequest struct {
	ServiceID   string          `json:"serviceId"`
	Reference   string          `json:"reference"`
	ProductType string          `json:"productType"`
	PrintType   string          `json:"printType,omitempty"`
	Receiver    paperAddress    `json:"receiver"`
	Sender      paperAddress    `json:"sender"`
	Documents   []paperDocument `json:"documents"`
}

type paperAddress struct {
	Name        string `json:"name"`
	NameRow2    string `json:"nameRow2,omitempty"`
	Address     string `json:"address"`
	AddressRow2 string `json:"addressRow2,omitempty"`
	Zip         string `json:"zip,omitempty"`
	City        string `json:"city,omitempty"`
	CityRow2    string `json:"cityRow2,omitempty"`
	Province    string `json:"province,omitempty"`
	Country     string `json:"country,omitempty"`
}

type paperDocument struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"` // base64 encoded
}

// paperSubmitResponse is the consolidator's acknowledgment.
type paperSubmitResponse struct {
	EngagementID string `json:"engagementId"`
	Status       string `json:"status"`
}

// SubmitPaperEngagement registers the engagement with the consolidator and
// returns its tracking identifier.
func (g *PaperHTTPGateway) SubmitPaperEngagement(ctx context.Context, req *model.Request, attachments []attachment.Resolved) (*model.GeneratedMessage, error) {
	p := req.Paper
	if p == nil {
		return nil, fmt.Errorf("%s: request %s has no paper payload", paperGatewayName, req.RequestID)
	}

	payload := paperSubmitRequest{
		ServiceID:   g.cfg.ServiceID,
		Reference:   EncodeMessageID(req.RequestID, req.ClientID, "paper"),
		ProductType: p.ProductType,
		PrintType:   p.PrintType,
		Receiver: paperAddress{
			Name:        p.ReceiverName,
			NameRow2:    p.ReceiverNameRow2,
			Address:     p.ReceiverAddress,
			AddressRow2: p.ReceiverAddress2,
			Zip:         p.ReceiverZip,
			City:        p.ReceiverCity,
			CityRow2:    p.ReceiverCity2,
			Province:    p.ReceiverProvince,
			Country:     p.ReceiverCountry,
		},
		Sender: paperAddress{
			Name:     p.SenderName,
			Address:  p.SenderAddress,
			City:     p.SenderCity,
			Province: p.SenderProvince,
		},
	}
	for _, att := range attachments {
		payload.Documents = append(payload.Documents, paperDocument{
			Filename:    path.Base(att.Ref),
			ContentType: att.ContentType,
			Content:     base64.StdEncoding.EncodeToString(att.Content),
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", paperGatewayName, err)
	}

	resp, err := g.client.Do(&HTTPRequest{
		Method: "POST",
		URL:    g.cfg.Endpoint + paperSubmitPath,
		Headers: map[string]string{
			"x-api-key":    g.cfg.APIKey,
			"Content-Type": "application/json",
		},
		Body: body,
	})
	if err != nil {
		return nil, transientError(paperGatewayName, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ClassifyHTTPError(paperGatewayName, resp.StatusCode, string(resp.Body))
	}

	var ack paperSubmitResponse
	if err := json.Unmarshal(resp.Body, &ack); err != nil {
		return nil, transientError(paperGatewayName, fmt.Errorf("decode response: %w", err))
	}
	return &model.GeneratedMessage{
		ID:     ack.EngagementID,
		System: g.cfg.Endpoint,
	}, nil
}
