// Package queue provides the queueing substrate shared by the dispatch,
// send-worker and retry-scheduler pipelines. Two backends are supported:
// AWS SQS and Redis Streams.
package queue

import "context"

// Disposition is the explicit commit decision a handler returns after its
// pipeline completes. The consumer acts on it only then; handlers never
// acknowledge messages themselves.
type Disposition int

const (
	// Ack removes the message from the queue.
	Ack Disposition = iota
	// Requeue leaves the message for a later redelivery pass. The queue's
	// own redelivery delay provides the wait; consumers never busy-loop.
	Requeue
)

// Enqueuer publishes payloads to named queues. The payload is serialized as
// JSON: channel queues carry *Message envelopes, the tracker queues carry
// status events.
type Enqueuer interface {
	// Enqueue serializes the payload and sends it to the named queue,
	// returning the backend's message ID.
	Enqueue(ctx context.Context, queueName string, payload any) (string, error)
}

// Consumer pulls messages from one queue and feeds them to a handler.
// Start launches the worker goroutines; Stop drains them.
type Consumer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Handler processes a single queue message and decides its fate. A returned
// error leaves the message untouched so the queue's at-least-once redelivery
// retries the whole step.
type Handler interface {
	HandleMessage(ctx context.Context, msg *Message) (Disposition, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg *Message) (Disposition, error)

// HandleMessage implements Handler.
func (f HandlerFunc) HandleMessage(ctx context.Context, msg *Message) (Disposition, error) {
	return f(ctx, msg)
}
