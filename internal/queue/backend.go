package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/evicertia/pn-ec/internal/config"
)

// redisGroupName is the consumer group shared by all worker processes on
// the Redis backend.
const redisGroupName = "pn-ec-workers"

// Backend bundles an Enqueuer and a consumer factory over one queueing
// substrate, selected by configuration.
type Backend struct {
	Enqueuer Enqueuer

	newConsumer func(queueName string, handler Handler) Consumer
	closeFn     func() error
}

// NewBackend connects the configured substrate: "redis" for Redis Streams,
// anything else for SQS.
func NewBackend(ctx context.Context, cfg config.QueueConfig, log zerolog.Logger) (*Backend, error) {
	consumerCfg := ConsumerConfig{
		WorkerCount:     cfg.WorkerCount,
		ProcessTimeout:  cfg.ProcessTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		RedeliveryDelay: cfg.RedeliveryDelay,
		SQSWaitTime:     cfg.SQSWaitTime,
		SQSVisTimeout:   cfg.SQSVisTimeout,
		BlockTimeout:    cfg.BlockTimeout,
	}

	switch cfg.Type {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		return &Backend{
			Enqueuer: NewRedisEnqueuer(client),
			newConsumer: func(queueName string, handler Handler) Consumer {
				return NewRedisConsumer(client, queueName, redisGroupName, handler, consumerCfg, log)
			},
			closeFn: client.Close,
		}, nil

	case "", "sqs":
		client, err := NewAWSSQSClient(ctx, cfg.SQSRegion, cfg.SQSEndpoint)
		if err != nil {
			return nil, fmt.Errorf("connect to sqs: %w", err)
		}
		return &Backend{
			Enqueuer: NewSQSEnqueuer(client, log),
			newConsumer: func(queueName string, handler Handler) Consumer {
				return NewSQSConsumer(client, queueName, handler, consumerCfg, log)
			},
			closeFn: func() error { return nil },
		}, nil

	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Type)
	}
}

// NewConsumer creates a consumer for the named queue.
func (b *Backend) NewConsumer(queueName string, handler Handler) Consumer {
	return b.newConsumer(queueName, handler)
}

// Close releases the underlying client.
func (b *Backend) Close() error {
	return b.closeFn()
}
