// Package sendworker implements the channel send worker: the queue handler
// that turns an admitted request into a gateway delivery.
//
// Each message runs the full pipeline before its queue acknowledgment:
// cancellation check, attachment resolution under the channel size policy,
// the gateway call wrapped in a short in-flight backoff, the repository
// update, and the tracker event. A message leaves the send queue only by
// finishing the pipeline or by being routed to the error queue for the
// scheduled-retry tier.
package sendworker

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
	"github.com/evicertia/pn-ec/internal/tracker"
)

// Config holds the per-channel worker tuning.
type Config struct {
	// Channel is the delivery channel this worker serves.
	Channel model.Channel
	// ErrorQueue receives messages handed to the scheduled-retry tier.
	ErrorQueue string
	// MaxMessageBytes is the composed-message ceiling; zero disables it.
	MaxMessageBytes int64
	// SizePolicy selects the attachment-inclusion strategy.
	SizePolicy attachment.SizePolicy

	// MaxAttempts bounds the in-flight retry loop around one gateway call.
	MaxAttempts int
	// InitialBackoff is the first in-flight retry delay; it doubles per
	// attempt.
	InitialBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	return c
}

// Worker processes one channel's send queue.
type Worker struct {
	cfg       Config
	sender    Sender
	resolver  *attachment.Resolver
	repo      repository.Repository
	publisher *tracker.Publisher
	enqueuer  queue.Enqueuer
	log       zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a channel send worker.
func New(cfg Config, sender Sender, resolver *attachment.Resolver, repo repository.Repository, publisher *tracker.Publisher, enqueuer queue.Enqueuer, log zerolog.Logger) *Worker {
	return &Worker{
		cfg:       cfg.withDefaults(),
		sender:    sender,
		resolver:  resolver,
		repo:      repo,
		publisher: publisher,
		enqueuer:  enqueuer,
		log:       log.With().Str("channel", string(cfg.Channel)).Logger(),
		sleep:     sleepCtx,
	}
}

// HandleMessage runs the send pipeline for one queued request. A returned
// error leaves the message on the queue for redelivery; Ack is returned only
// once the request has reached a terminal outcome or has been durably handed
// to the error queue.
func (w *Worker) HandleMessage(ctx context.Context, msg *queue.Message) (queue.Disposition, error) {
	req := msg.Request
	if req == nil {
		w.log.Error().Str("message_id", msg.ID).Msg("send-queue message without request, dropping")
		return queue.Ack, nil
	}
	log := w.log.With().
		Str("request_id", req.RequestID).
		Str("client_id", req.ClientID).
		Logger()

	stored, err := w.repo.GetRequest(ctx, req.RequestID, req.ClientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Error().Msg("queued request missing from repository, dropping")
			return queue.Ack, nil
		}
		return queue.Ack, fmt.Errorf("load request: %w", err)
	}
	if stored.Status == model.StatusToDelete {
		log.Info().Msg("request cancelled, dropping without send")
		sendOutcomesTotal.WithLabelValues(string(w.cfg.Channel), "cancelled").Inc()
		return queue.Ack, nil
	}

	attachments, err := w.resolveAttachments(ctx, req)
	if err != nil {
		if errors.Is(err, attachment.ErrContentTooLarge) {
			// The composed message can never fit, so no retry tier can help.
			log.Warn().Err(err).Msg("message exceeds channel size ceiling")
			sendOutcomesTotal.WithLabelValues(string(w.cfg.Channel), "too_large").Inc()
			if perr := w.publisher.Publish(ctx, req, stored.Status, model.StatusDeliveryFailed, err.Error(), nil); perr != nil {
				return queue.Ack, perr
			}
			return queue.Ack, nil
		}
		// Store outages and vanished attachments are worth a redelivery pass
		// before the scheduled tier gets involved.
		return queue.Ack, fmt.Errorf("resolve attachments: %w", err)
	}

	generated, err := w.sendWithBackoff(ctx, req, attachments)
	switch {
	case err == nil:
		return w.completeSent(ctx, req, stored.Status, generated, log)

	case gateway.IsPermanent(err):
		log.Warn().Err(err).Msg("gateway rejected request permanently")
		sendOutcomesTotal.WithLabelValues(string(w.cfg.Channel), "delivery_failed").Inc()
		if perr := w.publisher.Publish(ctx, req, stored.Status, model.StatusDeliveryFailed, err.Error(), nil); perr != nil {
			return queue.Ack, perr
		}
		return queue.Ack, nil

	default:
		return w.routeToRetry(ctx, req, stored.Status, err, log)
	}
}

// resolveAttachments downloads the request's attachments under the channel
// size policy. Requests without attachments resolve to nil, but are still
// rejected when the base message alone exceeds the ceiling.
func (w *Worker) resolveAttachments(ctx context.Context, req *model.Request) ([]attachment.Resolved, error) {
	refs := req.AttachmentRefs()
	baseSize := w.sender.BaseSize(req)
	if len(refs) == 0 {
		if w.cfg.MaxMessageBytes > 0 && baseSize >= w.cfg.MaxMessageBytes {
			return nil, fmt.Errorf("%w: base message %d bytes over ceiling %d", attachment.ErrContentTooLarge, baseSize, w.cfg.MaxMessageBytes)
		}
		return nil, nil
	}
	it := w.resolver.Content(ctx, refs, req.ClientID)
	return attachment.ApplySizePolicy(it, w.cfg.SizePolicy, baseSize, w.cfg.MaxMessageBytes)
}

// sendWithBackoff is the in-flight retry tier: a short exponential backoff
// around a single logical gateway call. It gives up immediately on permanent
// errors and after MaxAttempts transient ones.
func (w *Worker) sendWithBackoff(ctx context.Context, req *model.Request, attachments []attachment.Resolved) (*model.GeneratedMessage, error) {
	delay := w.cfg.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		generated, err := w.sender.Send(ctx, req, attachments)
		if err == nil {
			sendAttemptsTotal.WithLabelValues(string(w.cfg.Channel), "ok").Inc()
			return generated, nil
		}
		lastErr = err
		if !gateway.IsTransient(err) {
			sendAttemptsTotal.WithLabelValues(string(w.cfg.Channel), "permanent").Inc()
			return nil, err
		}
		sendAttemptsTotal.WithLabelValues(string(w.cfg.Channel), "transient").Inc()
		w.log.Debug().
			Str("request_id", req.RequestID).
			Int("attempt", attempt).
			Err(err).
			Msg("gateway attempt failed")

		if attempt == w.cfg.MaxAttempts {
			break
		}
		if err := w.sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay *= 2
	}
	return nil, lastErr
}

// completeSent records the delivery and publishes the sent transition. When
// the tracker publish fails after a successful send, the event is parked on
// the error queue so a later pass can flush it without resending.
func (w *Worker) completeSent(ctx context.Context, req *model.Request, current model.Status, generated *model.GeneratedMessage, log zerolog.Logger) (queue.Disposition, error) {
	if err := w.repo.SetGeneratedMessageID(ctx, req.RequestID, req.ClientID, generated); err != nil {
		// The gateway already delivered; the tracker event below remains the
		// authoritative record of the send.
		log.Error().Err(err).Msg("failed to persist generated message id")
	}

	sendOutcomesTotal.WithLabelValues(string(w.cfg.Channel), "sent").Inc()
	if err := w.publisher.Publish(ctx, req, current, model.StatusSent, "", generated); err != nil {
		event := &model.StatusEvent{
			EventID:          uuid.New().String(),
			RequestID:        req.RequestID,
			ClientID:         req.ClientID,
			ProcessID:        model.ProcessID(req.Channel),
			CurrentStatus:    current,
			NextStatus:       model.StatusSent,
			GeneratedMessage: generated,
			Timestamp:        time.Now().UTC(),
		}
		fallback := queue.NewMessage(req)
		fallback.PendingEvent = event
		fallback.StatusBeforeRetry = model.StatusSent
		if _, qerr := w.enqueuer.Enqueue(ctx, w.cfg.ErrorQueue, fallback); qerr != nil {
			// No durable record of the pending event; leave the message for
			// redelivery even though that risks a duplicate send.
			log.Error().Err(qerr).Msg("failed to park sent event on error queue")
			return queue.Ack, fmt.Errorf("publish sent event: %v; park on %s: %w", err, w.cfg.ErrorQueue, qerr)
		}
		log.Warn().Err(err).Msg("sent event parked on error queue")
		return queue.Ack, nil
	}

	log.Info().Str("generated_message_id", generated.ID).Msg("request sent")
	return queue.Ack, nil
}

// routeToRetry hands an exhausted message to the scheduled-retry tier:
// publish the retry transition and enqueue the request on the error queue,
// exactly once each.
func (w *Worker) routeToRetry(ctx context.Context, req *model.Request, current model.Status, sendErr error, log zerolog.Logger) (queue.Disposition, error) {
	retryMsg := queue.NewMessage(req)
	retryMsg.StatusBeforeRetry = model.StatusRetry

	if err := w.publisher.Publish(ctx, req, current, model.StatusRetry, sendErr.Error(), nil); err != nil {
		// Carry the unpublished transition with the retry message so the
		// scheduler flushes it before evaluating the cursor.
		retryMsg.PendingEvent = &model.StatusEvent{
			EventID:       uuid.New().String(),
			RequestID:     req.RequestID,
			ClientID:      req.ClientID,
			ProcessID:     model.ProcessID(req.Channel),
			CurrentStatus: current,
			NextStatus:    model.StatusRetry,
			EventDetails:  sendErr.Error(),
			Timestamp:     time.Now().UTC(),
		}
		log.Warn().Err(err).Msg("retry event publish failed, carrying it on the error queue")
	}

	if _, err := w.enqueuer.Enqueue(ctx, w.cfg.ErrorQueue, retryMsg); err != nil {
		return queue.Ack, fmt.Errorf("route to error queue %s: %w", w.cfg.ErrorQueue, err)
	}

	sendOutcomesTotal.WithLabelValues(string(w.cfg.Channel), "retry").Inc()
	log.Info().Err(sendErr).Msg("request routed to scheduled retry")
	return queue.Ack, nil
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
