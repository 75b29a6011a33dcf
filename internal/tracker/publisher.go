// Package tracker publishes status-transition events to the notification
// tracker queues.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/evicertia/pn-ec/internal/model"
	"github.com/evicertia/pn-ec/internal/queue"
)

// ErrPublish wraps any failure to hand an event to the tracker queue. Callers
// route it to the error queue rather than dropping the transition.
var ErrPublish = errors.New("tracker: publish failed")

// Publisher builds status events and emits them on the per-channel tracker
// queue. It is stateless given its inputs.
type Publisher struct {
	enqueuer   queue.Enqueuer
	queueNames map[model.Channel]string
	log        zerolog.Logger
	now        func() time.Time
}

// New creates a Publisher. queueNames maps each channel to its tracker queue.
func New(enqueuer queue.Enqueuer, queueNames map[string]string, log zerolog.Logger) *Publisher {
	names := make(map[model.Channel]string, len(queueNames))
	for ch, q := range queueNames {
		names[model.Channel(ch)] = q
	}
	return &Publisher{
		enqueuer:   enqueuer,
		queueNames: names,
		log:        log,
		now:        time.Now,
	}
}

// Publish builds and emits one status-transition event. Exactly one event
// accompanies every transition; failures surface as ErrPublish.
func (p *Publisher) Publish(ctx context.Context, req *model.Request, current, next model.Status, details string, generated *model.GeneratedMessage) error {
	event := &model.StatusEvent{
		EventID:          uuid.New().String(),
		RequestID:        req.RequestID,
		ClientID:         req.ClientID,
		Timestamp:        p.now().UTC(),
		ProcessID:        model.ProcessID(req.Channel),
		CurrentStatus:    current,
		NextStatus:       next,
		EventDetails:     details,
		GeneratedMessage: generated,
	}
	return p.PublishEvent(ctx, req.Channel, event)
}

// PublishEvent emits an already-built event, used by the error-queue pass to
// flush a pending event without rebuilding it.
func (p *Publisher) PublishEvent(ctx context.Context, channel model.Channel, event *model.StatusEvent) error {
	queueName, ok := p.queueNames[channel]
	if !ok {
		return fmt.Errorf("%w: no tracker queue for channel %s", ErrPublish, channel)
	}

	if _, err := p.enqueuer.Enqueue(ctx, queueName, event); err != nil {
		return fmt.Errorf("%w: %s -> %s for %s: %v", ErrPublish, event.CurrentStatus, event.NextStatus, event.RequestID, err)
	}

	p.log.Debug().
		Str("request_id", event.RequestID).
		Str("client_id", event.ClientID).
		Str("current_status", string(event.CurrentStatus)).
		Str("next_status", string(event.NextStatus)).
		Msg("status event published")

	return nil
}
