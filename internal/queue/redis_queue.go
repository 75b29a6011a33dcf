package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// streamKey returns the Redis stream key for a queue name.
func streamKey(queueName string) string {
	return "queue:" + queueName
}

// RedisEnqueuer publishes messages to Redis Streams, one stream per queue.
type RedisEnqueuer struct {
	client *redis.Client
}

// NewRedisEnqueuer creates a RedisEnqueuer backed by the given client.
func NewRedisEnqueuer(client *redis.Client) *RedisEnqueuer {
	return &RedisEnqueuer{client: client}
}

// Enqueue adds a payload to the queue's stream using XADD.
func (e *RedisEnqueuer) Enqueue(ctx context.Context, queueName string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload for %s: %w", queueName, err)
	}

	entryID, err := e.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(queueName),
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd to stream %s: %w", streamKey(queueName), err)
	}

	MessagesEnqueuedTotal.WithLabelValues(queueName).Inc()

	return entryID, nil
}

// RedisConsumer runs a pool of worker goroutines that consume one queue's
// stream through a consumer group. Ack issues XACK+XDEL; Requeue and handler
// errors leave the entry pending so a reclaim pass redelivers it after the
// redelivery delay, the Streams equivalent of an SQS visibility timeout.
type RedisConsumer struct {
	client          *redis.Client
	queueName       string
	groupName       string
	handler         Handler
	log             zerolog.Logger
	workerCount     int
	blockTimeout    time.Duration
	processTimeout  time.Duration
	shutdownTimeout time.Duration
	redeliveryDelay time.Duration
	wg              sync.WaitGroup
	cancel          context.CancelFunc
}

// NewRedisConsumer creates a RedisConsumer for the named queue.
func NewRedisConsumer(client *redis.Client, queueName, groupName string, handler Handler, cfg ConsumerConfig, log zerolog.Logger) *RedisConsumer {
	cfg = cfg.withDefaults()
	return &RedisConsumer{
		client:          client,
		queueName:       queueName,
		groupName:       groupName,
		handler:         handler,
		log:             log.With().Str("queue", queueName).Logger(),
		workerCount:     cfg.WorkerCount,
		blockTimeout:    cfg.BlockTimeout,
		processTimeout:  cfg.ProcessTimeout,
		shutdownTimeout: cfg.ShutdownTimeout,
		redeliveryDelay: cfg.RedeliveryDelay,
	}
}

// Start creates the consumer group (if missing) and launches the workers.
func (c *RedisConsumer) Start(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, streamKey(c.queueName), c.groupName, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("create consumer group %s on stream %s: %w", c.groupName, streamKey(c.queueName), err)
	}

	ctx, c.cancel = context.WithCancel(ctx)

	for i := range c.workerCount {
		c.wg.Add(1)
		go c.runWorker(ctx, fmt.Sprintf("worker-%d", i))
	}

	c.log.Info().Int("worker_count", c.workerCount).Msg("redis consumer started")
	return nil
}

// Stop signals the workers and waits up to the shutdown timeout.
func (c *RedisConsumer) Stop(_ context.Context) error {
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.log.Info().Msg("redis consumer stopped gracefully")
		return nil
	case <-time.After(c.shutdownTimeout):
		c.log.Warn().Msg("redis consumer shutdown timed out")
		return fmt.Errorf("shutdown timed out after %s", c.shutdownTimeout)
	}
}

// runWorker is the main loop for a single worker goroutine. Each pass first
// reclaims entries whose previous processing died, then reads new entries.
func (c *RedisConsumer) runWorker(ctx context.Context, consumerName string) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.reclaimStale(ctx, consumerName)

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.groupName,
			Consumer: consumerName,
			Streams:  []string{streamKey(c.queueName), ">"},
			Count:    1,
			Block:    c.blockTimeout,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			c.log.Error().Err(err).Str("consumer", consumerName).Msg("xreadgroup error")
			continue
		}

		for _, stream := range streams {
			for _, xMsg := range stream.Messages {
				c.processEntry(ctx, xMsg)
			}
		}
	}
}

// reclaimStale takes over pending entries idle longer than the redelivery
// delay, giving crashed pipelines their at-least-once retry.
func (c *RedisConsumer) reclaimStale(ctx context.Context, consumerName string) {
	msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   streamKey(c.queueName),
		Group:    c.groupName,
		Consumer: consumerName,
		MinIdle:  c.redeliveryDelay,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil && err != redis.Nil && ctx.Err() == nil {
		c.log.Error().Err(err).Msg("xautoclaim error")
		return
	}
	for _, xMsg := range msgs {
		c.processEntry(ctx, xMsg)
	}
}

// processEntry decodes a stream entry, runs the handler, and commits its
// disposition.
func (c *RedisConsumer) processEntry(ctx context.Context, xMsg redis.XMessage) {
	start := time.Now()

	data, ok := xMsg.Values["data"].(string)
	if !ok {
		c.log.Error().Str("entry_id", xMsg.ID).Msg("invalid entry data type, dropping")
		c.ackEntry(ctx, xMsg.ID)
		return
	}

	msg, err := Decode([]byte(data))
	if err != nil {
		c.log.Error().Err(err).Str("entry_id", xMsg.ID).Msg("malformed message, dropping")
		c.ackEntry(ctx, xMsg.ID)
		return
	}

	processCtx, cancel := context.WithTimeout(ctx, c.processTimeout)
	disposition, err := c.handler.HandleMessage(processCtx, msg)
	cancel()

	MessageProcessingDuration.WithLabelValues(c.queueName).Observe(time.Since(start).Seconds())

	if err != nil {
		// Leave the entry pending; reclaimStale redelivers it after the
		// redelivery delay.
		c.log.Error().Err(err).Str("message_id", msg.ID).Msg("handler failed, leaving for redelivery")
		MessagesProcessedTotal.WithLabelValues(c.queueName, "redeliver").Inc()
		return
	}

	switch disposition {
	case Ack:
		c.ackEntry(ctx, xMsg.ID)
		MessagesProcessedTotal.WithLabelValues(c.queueName, "ack").Inc()
	case Requeue:
		// Leave the entry pending: the group's pending list is the durable
		// copy, and reclaimStale redelivers it once it has been idle for the
		// redelivery delay. Acknowledging first would make a crash before
		// redelivery lose the message.
		MessagesProcessedTotal.WithLabelValues(c.queueName, "requeue").Inc()
	}
}

// ackEntry acknowledges and trims a stream entry.
func (c *RedisConsumer) ackEntry(ctx context.Context, entryID string) {
	if err := c.client.XAck(ctx, streamKey(c.queueName), c.groupName, entryID).Err(); err != nil {
		c.log.Error().Err(err).Str("entry_id", entryID).Msg("xack failed")
		return
	}
	if err := c.client.XDel(ctx, streamKey(c.queueName), entryID).Err(); err != nil {
		c.log.Error().Err(err).Str("entry_id", entryID).Msg("xdel failed")
	}
}
