package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SQSEnqueuer publishes messages to AWS SQS queues by name.
type SQSEnqueuer struct {
	client sqsAPI
	log    zerolog.Logger
}

// NewSQSEnqueuer creates an SQSEnqueuer backed by the given client.
func NewSQSEnqueuer(client sqsAPI, log zerolog.Logger) *SQSEnqueuer {
	return &SQSEnqueuer{client: client, log: log}
}

// Enqueue serializes the payload and sends it via SQS SendMessage.
func (e *SQSEnqueuer) Enqueue(ctx context.Context, queueName string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload for %s: %w", queueName, err)
	}

	url, err := e.client.GetQueueURL(ctx, queueName)
	if err != nil {
		return "", err
	}

	out, err := e.client.SendMessage(ctx, &sqsSendInput{
		QueueURL:    url,
		MessageBody: string(data),
	})
	if err != nil {
		return "", fmt.Errorf("sqs send to %s: %w", queueName, err)
	}

	MessagesEnqueuedTotal.WithLabelValues(queueName).Inc()

	return out.MessageID, nil
}

// SQSConsumer runs a pool of worker goroutines that long-poll one SQS queue
// and hand messages to a Handler. The handler's Disposition is the commit
// point: Ack deletes the message, Requeue shortens its visibility timeout to
// the redelivery delay, and a handler error leaves the message untouched so
// the visibility timeout redelivers it.
type SQSConsumer struct {
	client          sqsAPI
	queueName       string
	handler         Handler
	log             zerolog.Logger
	workerCount     int
	waitTime        int32
	visTimeout      int32
	redeliveryDelay time.Duration
	processTimeout  time.Duration
	shutdownTimeout time.Duration
	wg              sync.WaitGroup
	cancel          context.CancelFunc
}

// ConsumerConfig holds the tunables shared by both consumer backends.
type ConsumerConfig struct {
	WorkerCount     int
	ProcessTimeout  time.Duration
	ShutdownTimeout time.Duration
	RedeliveryDelay time.Duration

	SQSWaitTime   int32
	SQSVisTimeout int32

	BlockTimeout time.Duration
}

// withDefaults fills unset fields with working defaults.
func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.WorkerCount == 0 {
		c.WorkerCount = 10
	}
	if c.ProcessTimeout == 0 {
		c.ProcessTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.RedeliveryDelay == 0 {
		c.RedeliveryDelay = 60 * time.Second
	}
	if c.SQSWaitTime == 0 {
		c.SQSWaitTime = 20
	}
	if c.SQSVisTimeout == 0 {
		c.SQSVisTimeout = 90
	}
	if c.BlockTimeout == 0 {
		c.BlockTimeout = 5 * time.Second
	}
	return c
}

// NewSQSConsumer creates an SQSConsumer for the named queue.
func NewSQSConsumer(client sqsAPI, queueName string, handler Handler, cfg ConsumerConfig, log zerolog.Logger) *SQSConsumer {
	cfg = cfg.withDefaults()
	return &SQSConsumer{
		client:          client,
		queueName:       queueName,
		handler:         handler,
		log:             log.With().Str("queue", queueName).Logger(),
		workerCount:     cfg.WorkerCount,
		waitTime:        cfg.SQSWaitTime,
		visTimeout:      cfg.SQSVisTimeout,
		redeliveryDelay: cfg.RedeliveryDelay,
		processTimeout:  cfg.ProcessTimeout,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Start launches the worker goroutines.
func (c *SQSConsumer) Start(ctx context.Context) error {
	url, err := c.client.GetQueueURL(ctx, c.queueName)
	if err != nil {
		return err
	}

	ctx, c.cancel = context.WithCancel(ctx)

	for i := range c.workerCount {
		c.wg.Add(1)
		go c.runWorker(ctx, url, fmt.Sprintf("sqs-worker-%d", i))
	}

	c.log.Info().Int("worker_count", c.workerCount).Msg("sqs consumer started")
	return nil
}

// Stop cancels the workers and waits up to the shutdown timeout.
func (c *SQSConsumer) Stop(_ context.Context) error {
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.log.Info().Msg("sqs consumer stopped gracefully")
		return nil
	case <-time.After(c.shutdownTimeout):
		c.log.Warn().Msg("sqs consumer shutdown timed out")
		return fmt.Errorf("shutdown timed out after %s", c.shutdownTimeout)
	}
}

// runWorker long-polls the queue and processes received messages.
func (c *SQSConsumer) runWorker(ctx context.Context, queueURL, workerName string) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		out, err := c.client.ReceiveMessage(ctx, &sqsReceiveInput{
			QueueURL:            queueURL,
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     c.waitTime,
			VisibilityTimeout:   c.visTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error().Err(err).Str("worker", workerName).Msg("sqs receive error")
			continue
		}

		for _, sqsMsg := range out.Messages {
			c.processMessage(ctx, queueURL, sqsMsg)
		}
	}
}

// processMessage decodes the envelope, runs the handler, and commits its
// disposition.
func (c *SQSConsumer) processMessage(ctx context.Context, queueURL string, sqsMsg sqsReceivedMessage) {
	start := time.Now()

	msg, err := Decode([]byte(sqsMsg.Body))
	if err != nil {
		c.log.Error().Err(err).Str("sqs_message_id", sqsMsg.MessageID).Msg("malformed message, dropping")
		// Delete malformed messages to prevent infinite redelivery.
		_ = c.client.DeleteMessage(ctx, &sqsDeleteInput{QueueURL: queueURL, ReceiptHandle: sqsMsg.ReceiptHandle})
		return
	}

	processCtx, cancel := context.WithTimeout(ctx, c.processTimeout)
	disposition, err := c.handler.HandleMessage(processCtx, msg)
	cancel()

	MessageProcessingDuration.WithLabelValues(c.queueName).Observe(time.Since(start).Seconds())

	if err != nil {
		// Leave the message as-is: the visibility timeout expires and SQS
		// redelivers, retrying the whole step.
		c.log.Error().Err(err).Str("message_id", msg.ID).Msg("handler failed, leaving for redelivery")
		MessagesProcessedTotal.WithLabelValues(c.queueName, "redeliver").Inc()
		return
	}

	switch disposition {
	case Ack:
		if delErr := c.client.DeleteMessage(ctx, &sqsDeleteInput{
			QueueURL:      queueURL,
			ReceiptHandle: sqsMsg.ReceiptHandle,
		}); delErr != nil {
			c.log.Error().Err(delErr).Str("message_id", msg.ID).Msg("failed to delete acked message")
			return
		}
		MessagesProcessedTotal.WithLabelValues(c.queueName, "ack").Inc()
	case Requeue:
		if visErr := c.client.ChangeMessageVisibility(ctx, &sqsChangeVisibilityInput{
			QueueURL:          queueURL,
			ReceiptHandle:     sqsMsg.ReceiptHandle,
			VisibilityTimeout: int32(c.redeliveryDelay.Seconds()),
		}); visErr != nil {
			c.log.Error().Err(visErr).Str("message_id", msg.ID).Msg("failed to requeue message")
			return
		}
		MessagesProcessedTotal.WithLabelValues(c.queueName, "requeue").Inc()
	}
}
