package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evicertia/pn-ec/internal/attachment"
	"github.com/evicertia/pn-ec/internal/config"
	"github.com/evicertia/pn-ec/internal/gateway"
	"github.com/evicertia/pn-ec/internal/logger"
	"github.com/evicertia/pn-ec/internal/model"
	"github.com/evicertia/pn-ec/internal/queue"
	"github.com/evicertia/pn-ec/internal/repository"
	"github.com/evicertia/pn-ec/internal/sendworker"
	"github.com/evicertia/pn-ec/internal/tracker"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromConfig(logger.Config{
		Level:     cfg.Logging.Level,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	})
	log.Info().Msg("starting channel workers")

	ctx := context.Background()

	backend, err := queue.NewBackend(ctx, cfg.Queue, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect queue backend")
	}
	defer backend.Close()

	repo, closeRepo, err := repository.NewFromConfig(ctx, cfg.Repository)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect repository")
	}
	defer closeRepo()

	store, err := attachment.NewStoreFromConfig(ctx, cfg.Attachment)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect attachment store")
	}
	resolver := attachment.NewResolver(store)
	publisher := tracker.New(backend.Enqueuer, cfg.Tracker.QueueNames, log)
	senders := buildSenders(cfg.Gateways)

	var consumers []queue.Consumer
	for name, chCfg := range cfg.Channels {
		channel := model.Channel(name)
		sender, ok := senders[channel]
		if !ok {
			log.Warn().Str("channel", name).Msg("no gateway for configured channel, skipping")
			continue
		}

		worker := sendworker.New(sendworker.Config{
			Channel:         channel,
			ErrorQueue:      chCfg.ErrorQueue,
			MaxMessageBytes: chCfg.MaxMessageBytes,
			SizePolicy:      attachment.SizePolicy(chCfg.SizePolicy),
		}, sender, resolver, repo, publisher, backend.Enqueuer, log)

		for _, queueName := range []string{chCfg.InteractiveQueue, chCfg.BatchQueue} {
			if queueName == "" {
				continue
			}
			consumers = append(consumers, backend.NewConsumer(queueName, worker))
			log.Info().Str("channel", name).Str("queue", queueName).Msg("send queue consumer configured")
		}
	}
	if len(consumers) == 0 {
		log.Fatal().Msg("no send queues configured")
	}

	for _, c := range consumers {
		if err := c.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start consumer")
		}
	}
	log.Info().Int("consumers", len(consumers)).Msg("channel workers started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down channel workers")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, c := range consumers {
		if err := c.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("consumer stop failed")
		}
	}

	log.Info().Msg("channel workers stopped")
}

// buildSenders wires one gateway adapter per delivery channel.
func buildSenders(cfg config.GatewaysConfig) map[model.Channel]sendworker.Sender {
	httpClient := gateway.NewHTTPClient(30 * time.Second)
	return map[model.Channel]sendworker.Sender{
		model.ChannelPEC:   sendworker.NewPECSender(gateway.NewPECSMTPGateway(cfg.PEC)),
		model.ChannelSMS:   sendworker.NewSMSSender(gateway.NewSMSHTTPGateway(cfg.SMS, httpClient)),
		model.ChannelPaper: sendworker.NewPaperSender(gateway.NewPaperHTTPGateway(cfg.Paper, httpClient)),
	}
}
