// Package retrysched implements the error-queue scheduler: the durable,
// wall-clock retry tier behind the channel send workers.
//
// Messages land on a channel's error queue when the in-flight retry tier
// gives up, or to carry a status event that could not be published. Each
// evaluation pass flushes any carried event, drops cancelled requests,
// advances the persisted retry cursor, and either reattempts the gateway
// send or puts the message back to sleep until its step is due.
package retrysched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/evicertia/pn-ec/internal/attachment"
	"github.com/evicertia/pn-ec/internal/gateway"
	"github.com/evicertia/pn-ec/internal/model"
	"github.com/evicertia/pn-ec/internal/queue"
	"github.com/evicertia/pn-ec/internal/repository"
	"github.com/evicertia/pn-ec/internal/retrypolicy"
	"github.com/evicertia/pn-ec/internal/tracker"
)

// Sender performs one direct gateway transmission for the scheduler.
// Scheduled retries are single attempts; the in-flight backoff tier never
// runs here.
type Sender interface {
	Send(ctx context.Context, req *model.Request, attachments []attachment.Resolved) (*model.GeneratedMessage, error)
	BaseSize(req *model.Request) int64
}

// Config holds the per-channel scheduler tuning.
type Config struct {
	// Channel is the delivery channel this scheduler serves.
	Channel model.Channel
	// ErrorQueue is the queue this scheduler consumes and re-enqueues to.
	ErrorQueue string
	// MaxMessageBytes is the composed-message ceiling; zero disables it.
	MaxMessageBytes int64
	// SizePolicy selects the attachment-inclusion strategy.
	SizePolicy attachment.SizePolicy
}

// Scheduler processes one channel's error queue.
type Scheduler struct {
	cfg       Config
	table     retrypolicy.Table
	sender    Sender
	resolver  *attachment.Resolver
	repo      repository.Repository
	publisher *tracker.Publisher
	enqueuer  queue.Enqueuer
	log       zerolog.Logger

	now func() time.Time
}

// New creates the error-queue scheduler for one channel.
func New(cfg Config, table retrypolicy.Table, sender Sender, resolver *attachment.Resolver, repo repository.Repository, publisher *tracker.Publisher, enqueuer queue.Enqueuer, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		table:     table,
		sender:    sender,
		resolver:  resolver,
		repo:      repo,
		publisher: publisher,
		enqueuer:  enqueuer,
		log:       log.With().Str("channel", string(cfg.Channel)).Logger(),
		now:       time.Now,
	}
}

// HandleMessage runs one evaluation pass over an error-queue message.
func (s *Scheduler) HandleMessage(ctx context.Context, msg *queue.Message) (queue.Disposition, error) {
	req := msg.Request
	if req == nil {
		s.log.Error().Str("message_id", msg.ID).Msg("error-queue message without request, dropping")
		return queue.Ack, nil
	}
	log := s.log.With().
		Str("request_id", req.RequestID).
		Str("client_id", req.ClientID).
		Logger()

	if msg.PendingEvent != nil {
		if err := s.publisher.PublishEvent(ctx, req.Channel, msg.PendingEvent); err != nil {
			// The carried event is the whole point of this message; try the
			// pass again later.
			log.Warn().Err(err).Msg("pending event flush failed")
			return queue.Requeue, nil
		}
		log.Info().
			Str("next_status", string(msg.PendingEvent.NextStatus)).
			Msg("pending event flushed")
		if msg.StatusBeforeRetry != model.StatusRetry {
			// Event-only parking (e.g. a sent transition): nothing to retry.
			return queue.Ack, nil
		}
		// The retry pass continues below; hand the cursor work to a clean
		// copy so a later requeue cannot flush the event twice.
		clean := *msg
		clean.PendingEvent = nil
		if _, err := s.enqueuer.Enqueue(ctx, s.cfg.ErrorQueue, &clean); err != nil {
			return queue.Ack, fmt.Errorf("re-enqueue after flush: %w", err)
		}
		return queue.Ack, nil
	}

	stored, err := s.repo.GetRequest(ctx, req.RequestID, req.ClientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Error().Msg("retrying request missing from repository, dropping")
			return queue.Ack, nil
		}
		return queue.Ack, fmt.Errorf("load request: %w", err)
	}
	if stored.Status == model.StatusToDelete {
		log.Info().Msg("request cancelled, leaving retry loop")
		retryOutcomesTotal.WithLabelValues(string(s.cfg.Channel), "cancelled").Inc()
		return queue.Ack, nil
	}

	rs := stored.Retry
	now := s.now()

	if rs.Step == nil {
		// First pass: open the cursor and persist it, then sleep out the
		// first interval.
		s.table.Advance(&rs, req.Channel, now)
		if err := s.repo.UpdateRetryState(ctx, req.RequestID, req.ClientID, &rs); err != nil {
			return queue.Ack, fmt.Errorf("persist retry cursor: %w", err)
		}
		log.Info().Int("retry_step", *rs.Step).Msg("retry cursor opened")
		return queue.Requeue, nil
	}

	if *rs.Step >= len(rs.Policy) {
		// Every scheduled step has been consumed.
		log.Warn().Int("retry_step", *rs.Step).Msg("retry policy exhausted")
		retryOutcomesTotal.WithLabelValues(string(s.cfg.Channel), "exhausted").Inc()
		if perr := s.publisher.Publish(ctx, req, msg.StatusBeforeRetry, model.StatusError, "retry attempts exhausted", nil); perr != nil {
			return queue.Ack, perr
		}
		return queue.Ack, nil
	}

	due, err := s.table.Due(&rs, now)
	if err != nil {
		return queue.Ack, fmt.Errorf("evaluate retry cursor: %w", err)
	}
	if !due {
		return queue.Requeue, nil
	}

	return s.attempt(ctx, msg, req, &rs, log)
}

// attempt performs the scheduled gateway send for a due cursor.
func (s *Scheduler) attempt(ctx context.Context, msg *queue.Message, req *model.Request, rs *model.RetryState, log zerolog.Logger) (queue.Disposition, error) {
	attachments, err := s.resolveAttachments(ctx, req)
	if err != nil {
		if errors.Is(err, attachment.ErrContentTooLarge) {
			retryOutcomesTotal.WithLabelValues(string(s.cfg.Channel), "too_large").Inc()
			if perr := s.publisher.Publish(ctx, req, msg.StatusBeforeRetry, model.StatusDeliveryFailed, err.Error(), nil); perr != nil {
				return queue.Ack, perr
			}
			return queue.Ack, nil
		}
		return queue.Ack, fmt.Errorf("resolve attachments: %w", err)
	}

	generated, sendErr := s.sender.Send(ctx, req, attachments)
	if sendErr == nil {
		if err := s.repo.SetGeneratedMessageID(ctx, req.RequestID, req.ClientID, generated); err != nil {
			log.Error().Err(err).Msg("failed to persist generated message id")
		}
		retryOutcomesTotal.WithLabelValues(string(s.cfg.Channel), "sent").Inc()
		if err := s.publisher.Publish(ctx, req, model.StatusRetry, model.StatusSent, "", generated); err != nil {
			// Park the sent event on this same queue rather than resending.
			parked := queue.NewMessage(req)
			parked.StatusBeforeRetry = model.StatusSent
			parked.PendingEvent = &model.StatusEvent{
				EventID:          uuid.New().String(),
				RequestID:        req.RequestID,
				ClientID:         req.ClientID,
				ProcessID:        model.ProcessID(req.Channel),
				CurrentStatus:    model.StatusRetry,
				NextStatus:       model.StatusSent,
				GeneratedMessage: generated,
				Timestamp:        s.now().UTC(),
			}
			if _, qerr := s.enqueuer.Enqueue(ctx, s.cfg.ErrorQueue, parked); qerr != nil {
				log.Error().Err(qerr).Msg("failed to park sent event after scheduled send")
				return queue.Ack, fmt.Errorf("publish sent event: %v; park: %w", err, qerr)
			}
		}
		log.Info().Str("generated_message_id", generated.ID).Msg("scheduled retry succeeded")
		return queue.Ack, nil
	}

	if gateway.IsPermanent(sendErr) {
		log.Warn().Err(sendErr).Msg("gateway rejected scheduled retry permanently")
		retryOutcomesTotal.WithLabelValues(string(s.cfg.Channel), "delivery_failed").Inc()
		if perr := s.publisher.Publish(ctx, req, model.StatusRetry, model.StatusDeliveryFailed, sendErr.Error(), nil); perr != nil {
			return queue.Ack, perr
		}
		return queue.Ack, nil
	}

	// Transient failure: consume this step and sleep out the next interval.
	s.table.Advance(rs, req.Channel, s.now())
	rs.LastAttempt = s.now()
	if err := s.repo.UpdateRetryState(ctx, req.RequestID, req.ClientID, rs); err != nil {
		return queue.Ack, fmt.Errorf("persist retry cursor: %w", err)
	}
	retryOutcomesTotal.WithLabelValues(string(s.cfg.Channel), "retry").Inc()
	if err := s.publisher.Publish(ctx, req, model.StatusRetry, model.StatusRetry, sendErr.Error(), nil); err != nil {
		log.Warn().Err(err).Msg("retry event publish failed")
	}
	log.Info().Int("retry_step", *rs.Step).Err(sendErr).Msg("scheduled retry failed, cursor advanced")
	return queue.Requeue, nil
}

// resolveAttachments mirrors the send worker's size-policy resolution.
func (s *Scheduler) resolveAttachments(ctx context.Context, req *model.Request) ([]attachment.Resolved, error) {
	refs := req.AttachmentRefs()
	baseSize := s.sender.BaseSize(req)
	if len(refs) == 0 {
		if s.cfg.MaxMessageBytes > 0 && baseSize >= s.cfg.MaxMessageBytes {
			return nil, fmt.Errorf("%w: base message %d bytes over ceiling %d", attachment.ErrContentTooLarge, baseSize, s.cfg.MaxMessageBytes)
		}
		return nil, nil
	}
	it := s.resolver.Content(ctx, refs, req.ClientID)
	return attachment.ApplySizePolicy(it, s.cfg.SizePolicy, baseSize, s.cfg.MaxMessageBytes)
}
