package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/example/envelope-streamer/internal/config"
	"github.com/example/envelope-streamer/internal/inspect"
	"github.com/example/envelope-streamer/internal/kafka/consumer"
	"github.com/example/envelope-streamer/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fail("config load", err)
	}

	fs := pflag.NewFlagSet("envelope-tail", pflag.ContinueOnError)
	fromOldest := fs.Bool("from-oldest", false, "start a new consumer group at the oldest retained message")
	group := fs.String("group", cfg.Kafka.ConsumerGroup, "consumer group id")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fail("flags", err)
	}

	if cfg.Kafka.Topic == "" {
		fail("config load", errors.New("KAFKA_TOPIC is required"))
	}

	baseLogger, err := logger.New(cfg.App.Env, cfg.App.LogLevel, "envelope-tail")
	if err != nil {
		fail("logger init", err)
	}
	log := *baseLogger

	opts := []consumer.Option{consumer.WithClientID(cfg.Kafka.ClientID + "-tail")}
	if *fromOldest {
		opts = append(opts, consumer.FromOldest())
	}
	cons, err := consumer.New(cfg.Kafka.Brokers, *group, log, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka consumer")
	}
	defer func() {
		if err := cons.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka consumer")
		}
	}()

	counters := &inspect.Counters{}
	handler := inspect.Handler(log, counters)

	errCh := make(chan error, 1)
	go func() {
		if err := cons.Consume(ctx, []string{cfg.Kafka.Topic}, handler); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info().Str("topic", cfg.Kafka.Topic).Str("group_id", *group).Msg("envelope tail started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("consumer terminated with error")
		}
	}

	log.Info().
		Int64("decoded", counters.Decoded()).
		Int64("failed", counters.Failed()).
		Msg("envelope tail stopped")
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger.Fatal().Err(err).Str("stage", stage).Msg("envelope tail init failed")
}
