// Package model defines the domain entities shared by the dispatch,
// send-worker and retry-scheduler pipelines: requests, channel payloads,
// status transitions and the events published to the notification tracker.
package model

import (
	"errors"
	"fmt"
	"time"
)

// Channel identifies the delivery channel of a request.
type Channel string

const (
	ChannelPEC   Channel = "pec"
	ChannelSMS   Channel = "sms"
	ChannelPaper Channel = "paper"
)

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelPEC, ChannelSMS, ChannelPaper:
		return true
	}
	return false
}

// QoS is the caller-selected urgency class. It determines which send queue a
// request is routed to. An empty or unknown value routes nowhere.
type QoS string

const (
	QoSInteractive QoS = "INTERACTIVE"
	QoSBatch       QoS = "BATCH"
)

// Request is a durable delivery request, identified by (RequestID, ClientID).
// Content is immutable after admission; only retry metadata and the generated
// message reference change afterwards, and only through the repository.
type Request struct {
	RequestID string  `json:"requestId"`
	ClientID  string  `json:"clientId"`
	Channel   Channel `json:"channel"`
	QoS       QoS     `json:"qos,omitempty"`

	// Exactly one payload is non-nil, selected by Channel.
	PEC   *PECPayload   `json:"pec,omitempty"`
	SMS   *SMSPayload   `json:"sms,omitempty"`
	Paper *PaperPayload `json:"paper,omitempty"`

	CorrelationID   string    `json:"correlationId,omitempty"`
	EventType       string    `json:"eventType,omitempty"`
	Tags            []string  `json:"tags,omitempty"`
	ClientTimestamp time.Time `json:"clientRequestTimestamp"`
	RegisteredAt    time.Time `json:"registeredAt,omitempty"`
}

// PECPayload carries the certified-mail request fields.
type PECPayload struct {
	ReceiverAddress string   `json:"receiverDigitalAddress"`
	SenderAddress   string   `json:"senderDigitalAddress"`
	Subject         string   `json:"subjectText"`
	MessageText     string   `json:"messageText"`
	ContentType     string   `json:"messageContentType,omitempty"`
	AttachmentURIs  []string `json:"attachmentUrls,omitempty"`
}

// SMSPayload carries the courtesy-SMS request fields.
type SMSPayload struct {
	ReceiverNumber string `json:"receiverDigitalAddress"`
	SenderNumber   string `json:"senderDigitalAddress"`
	MessageText    string `json:"messageText"`
}

// PaperPayload carries the paper-engagement request fields. Address rows
// mirror the consolidator's print layout.
type PaperPayload struct {
	ProductType      string   `json:"productType"`
	ReceiverName     string   `json:"receiverName"`
	ReceiverNameRow2 string   `json:"receiverNameRow2,omitempty"`
	ReceiverAddress  string   `json:"receiverAddress"`
	ReceiverAddress2 string   `json:"receiverAddressRow2,omitempty"`
	ReceiverZip      string   `json:"receiverCap"`
	ReceiverCity     string   `json:"receiverCity"`
	ReceiverCity2    string   `json:"receiverCity2,omitempty"`
	ReceiverProvince string   `json:"receiverPr,omitempty"`
	ReceiverCountry  string   `json:"receiverCountry,omitempty"`
	SenderName       string   `json:"senderName"`
	SenderAddress    string   `json:"senderAddress"`
	SenderCity       string   `json:"senderCity"`
	SenderProvince   string   `json:"senderPr,omitempty"`
	PrintType        string   `json:"printType,omitempty"`
	AttachmentURIs   []string `json:"attachmentUrls,omitempty"`
}

// ErrInvalidRequest wraps admission validation failures.
var ErrInvalidRequest = errors.New("invalid request")

// Validate checks the structural invariants of a request: identifiers
// present, a known channel, and exactly the matching payload populated.
func (r *Request) Validate() error {
	if r.RequestID == "" {
		return fmt.Errorf("%w: missing requestId", ErrInvalidRequest)
	}
	if r.ClientID == "" {
		return fmt.Errorf("%w: missing clientId", ErrInvalidRequest)
	}
	if !r.Channel.Valid() {
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidRequest, r.Channel)
	}
	if r.Payload() == nil {
		return fmt.Errorf("%w: missing %s payload", ErrInvalidRequest, r.Channel)
	}
	switch r.Channel {
	case ChannelPEC:
		if r.PEC.ReceiverAddress == "" || r.PEC.SenderAddress == "" {
			return fmt.Errorf("%w: pec payload needs sender and receiver addresses", ErrInvalidRequest)
		}
	case ChannelSMS:
		if r.SMS.ReceiverNumber == "" || r.SMS.MessageText == "" {
			return fmt.Errorf("%w: sms payload needs receiver number and message text", ErrInvalidRequest)
		}
	case ChannelPaper:
		if r.Paper.ReceiverAddress == "" || r.Paper.ReceiverName == "" {
			return fmt.Errorf("%w: paper payload needs receiver name and address", ErrInvalidRequest)
		}
	}
	return nil
}

// Payload returns the channel payload matching r.Channel, or nil when the
// payload for that channel is absent.
func (r *Request) Payload() any {
	switch r.Channel {
	case ChannelPEC:
		if r.PEC == nil {
			return nil
		}
		return r.PEC
	case ChannelSMS:
		if r.SMS == nil {
			return nil
		}
		return r.SMS
	case ChannelPaper:
		if r.Paper == nil {
			return nil
		}
		return r.Paper
	}
	return nil
}

// AttachmentRefs returns the attachment references carried by the payload.
// SMS requests never carry attachments.
func (r *Request) AttachmentRefs() []string {
	switch r.Channel {
	case ChannelPEC:
		if r.PEC != nil {
			return r.PEC.AttachmentURIs
		}
	case ChannelPaper:
		if r.Paper != nil {
			return r.Paper.AttachmentURIs
		}
	}
	return nil
}
