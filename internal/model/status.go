package model

import "time"

// Status is a request's lifecycle state. Transitions move forward except
// retry, which may be revisited until the request resolves to sent or a
// failure status.
type Status string

const (
	StatusBooked         Status = "booked"
	StatusSent           Status = "sent"
	StatusRetry          Status = "retry"
	StatusError          Status = "error"
	StatusDeliveryFailed Status = "deliveryFailed"

	// StatusToDelete marks a request cancelled by the client. Workers must
	// drop, not resend, anything carrying it.
	StatusToDelete Status = "toDelete"

	// Paper delivery outcome taxonomy reported by the consolidator.
	StatusPaperDelivered    Status = "delivered"
	StatusPaperNotFound     Status = "recipientNotFound"
	StatusPaperUnclaimed    Status = "unclaimed"
	StatusPaperDeathNotice  Status = "deceased"
	StatusPaperReturnedPost Status = "returnedToSender"
)

// Terminal reports whether s ends the lifecycle of a request.
func (s Status) Terminal() bool {
	switch s {
	case StatusSent, StatusError, StatusDeliveryFailed,
		StatusPaperDelivered, StatusPaperNotFound, StatusPaperUnclaimed,
		StatusPaperDeathNotice, StatusPaperReturnedPost:
		return true
	}
	return false
}

// GeneratedMessage identifies the artifact produced by a successful gateway
// call. It is embedded in sent events and absent from retry/error events.
type GeneratedMessage struct {
	ID       string `json:"id"`
	System   string `json:"system"`
	Location string `json:"location,omitempty"`
}

// RetryState is the durable cross-invocation retry cursor attached to a
// request's metadata. Step is nil until the first scheduled retry; it only
// increases afterwards.
type RetryState struct {
	Step        *int      `json:"retryStep,omitempty"`
	Policy      []int     `json:"retryPolicy,omitempty"` // backoff minutes, one per step
	LastAttempt time.Time `json:"lastRetryTimestamp,omitempty"`
}

// StatusEvent is one status-transition record published to the notification
// tracker. Exactly one event accompanies every transition.
type StatusEvent struct {
	EventID          string            `json:"eventId"`
	RequestID        string            `json:"requestId"`
	ClientID         string            `json:"clientId"`
	Timestamp        time.Time         `json:"timestamp"`
	ProcessID        string            `json:"processId"`
	CurrentStatus    Status            `json:"currentStatus"`
	NextStatus       Status            `json:"nextStatus"`
	EventDetails     string            `json:"eventDetails,omitempty"`
	GeneratedMessage *GeneratedMessage `json:"generatedMessage,omitempty"`
}

// ProcessID returns the tracker process identifier for a channel.
func ProcessID(c Channel) string {
	switch c {
	case ChannelPEC:
		return "pec-send"
	case ChannelSMS:
		return "sms-send"
	case ChannelPaper:
		return "paper-send"
	}
	return "unknown"
}
