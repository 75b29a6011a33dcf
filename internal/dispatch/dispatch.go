// Package dispatch implements take-in-charge: admission of a delivery
// request into the pipeline. Admission validates the request, verifies its
// attachments exist, persists it, publishes the booked transition, and
// routes the request to the channel send queue selected by its urgency
// class.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/evicertia/pn-ec/internal/attachment"
	"github.com/evicertia/pn-ec/internal/config"
	"github.com/evicertia/pn-ec/internal/model"
	"github.com/evicertia/pn-ec/internal/queue"
	"github.com/evicertia/pn-ec/internal/repository"
	"github.com/evicertia/pn-ec/internal/tracker"
)

// ErrRegistrationFailed wraps repository failures during admission. The
// caller must treat the request as not taken in charge.
var ErrRegistrationFailed = errors.New("dispatch: registration failed")

// ErrDuplicateRequest reports that the (requestID, clientID) pair was
// already admitted.
var ErrDuplicateRequest = errors.New("dispatch: duplicate request")

// ErrAttachmentUnavailable reports that a referenced attachment does not
// exist in the attachment store, so the request cannot be admitted.
var ErrAttachmentUnavailable = errors.New("dispatch: attachment unavailable")

// Dispatcher admits requests into the delivery pipeline.
type Dispatcher struct {
	repo      repository.Repository
	resolver  *attachment.Resolver
	publisher *tracker.Publisher
	enqueuer  queue.Enqueuer
	channels  map[model.Channel]config.ChannelConfig
	log       zerolog.Logger
}

// New creates a Dispatcher. channels maps each delivery channel to its send
// queue configuration.
func New(repo repository.Repository, resolver *attachment.Resolver, publisher *tracker.Publisher, enqueuer queue.Enqueuer, channels map[string]config.ChannelConfig, log zerolog.Logger) *Dispatcher {
	chs := make(map[model.Channel]config.ChannelConfig, len(channels))
	for name, cfg := range channels {
		chs[model.Channel(name)] = cfg
	}
	return &Dispatcher{
		repo:      repo,
		resolver:  resolver,
		publisher: publisher,
		enqueuer:  enqueuer,
		channels:  chs,
		log:       log,
	}
}

// TakeInCharge admits one request. On success the request is durable, the
// booked event is published, and the request is on its send queue (or
// nowhere, when the urgency class is absent or unknown). Any error means
// the request was NOT taken in charge and the caller may safely resubmit.
func (d *Dispatcher) TakeInCharge(ctx context.Context, req *model.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	if refs := req.AttachmentRefs(); len(refs) > 0 {
		if err := d.resolver.CheckExistence(ctx, refs, req.ClientID); err != nil {
			if errors.Is(err, attachment.ErrUnavailable) {
				return fmt.Errorf("%w: %v", ErrAttachmentUnavailable, err)
			}
			return fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
		}
	}

	if err := d.repo.InsertRequest(ctx, req); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateRequest, req.ClientID, req.RequestID)
		}
		return fmt.Errorf("%w: %v", ErrRegistrationFailed, err)
	}

	// The booked event is part of admission: if it cannot be published the
	// whole take-in-charge fails and the client retries the call.
	if err := d.publisher.Publish(ctx, req, "", model.StatusBooked, "", nil); err != nil {
		return err
	}

	queueName := d.sendQueueFor(req)
	if queueName == "" {
		// No urgency class selects no queue. The request stays booked until
		// a later instruction moves it.
		d.log.Info().
			Str("request_id", req.RequestID).
			Str("client_id", req.ClientID).
			Str("qos", string(req.QoS)).
			Msg("request booked without queue routing")
		return nil
	}

	if _, err := d.enqueuer.Enqueue(ctx, queueName, queue.NewMessage(req)); err != nil {
		return fmt.Errorf("enqueue to %s: %w", queueName, err)
	}

	d.log.Info().
		Str("request_id", req.RequestID).
		Str("client_id", req.ClientID).
		Str("channel", string(req.Channel)).
		Str("queue", queueName).
		Msg("request taken in charge")
	return nil
}

// sendQueueFor selects the send queue by channel and urgency class. Paper
// requests carry no urgency class and always use the batch queue.
func (d *Dispatcher) sendQueueFor(req *model.Request) string {
	ch := d.channels[req.Channel]
	if req.Channel == model.ChannelPaper {
		return ch.BatchQueue
	}
	switch req.QoS {
	case model.QoSInteractive:
		return ch.InteractiveQueue
	case model.QoSBatch:
		return ch.BatchQueue
	}
	return ""
}
