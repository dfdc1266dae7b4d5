package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/example/envelope-streamer/internal/config"
	"github.com/example/envelope-streamer/internal/dispatcher"
	"github.com/example/envelope-streamer/internal/envelope"
	"github.com/example/envelope-streamer/internal/kafka/producer"
	kafkapublisher "github.com/example/envelope-streamer/internal/kafka/publisher"
	"github.com/example/envelope-streamer/internal/logger"
	"github.com/example/envelope-streamer/internal/source"
	"github.com/example/envelope-streamer/internal/stats"
	"github.com/example/envelope-streamer/internal/util"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fail("config load", err)
	}

	opts, fs, err := parseFlags(cfg, os.Args[1:])
	if err != nil {
		fail("flags", err)
	}
	if opts.help {
		fmt.Fprintln(os.Stderr, "Usage: envelope-loader [flags]")
		fs.PrintDefaults()
		return
	}

	baseLogger, err := logger.New(cfg.App.Env, cfg.App.LogLevel, "envelope-loader")
	if err != nil {
		fail("logger init", err)
	}
	log := *baseLogger

	if err := run(ctx, cfg, opts, log); err != nil {
		stop()
		log.Fatal().Err(err).Msg("envelope loader failed")
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, log zerolog.Logger) error {
	prod, err := producer.New(cfg.Kafka.Brokers, log,
		producer.WithClientID(cfg.Kafka.ClientID),
		producer.WithMetadataRefreshInterval(cfg.Kafka.MetadataRefresh()),
	)
	if err != nil {
		return fmt.Errorf("create kafka producer: %w", err)
	}
	defer func() {
		if err := prod.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka producer")
		}
	}()

	sink := kafkapublisher.NewBatchPublisher(prod, cfg.Kafka.Topic, log)
	if sink == nil {
		return errors.New("create batch publisher")
	}

	encoder, err := envelope.NewEncoder(util.RandomGenerator{}, cfg.Envelope.OrganizationIDs)
	if err != nil {
		return fmt.Errorf("create envelope encoder: %w", err)
	}

	agg := stats.New(cfg.Dispatch.StatsResetEvery, time.Now)
	disp, err := dispatcher.New(dispatcher.Config{
		MaxBatchSize:      cfg.Dispatch.MaxBatchSize,
		Concurrency:       cfg.Dispatch.Concurrency,
		CooldownOnFailure: cfg.Dispatch.CooldownOnFailure,
		Iterations:        cfg.Dispatch.Iterations,
		GroupingKey:       cfg.Dispatch.GroupingKey,
		ProgressAfter:     cfg.Dispatch.ProgressAfter,
	}, dispatcher.Dependencies{
		Sink:    sink,
		Encoder: encoder,
		Stats:   agg,
		Logger:  log,
		Now:     time.Now,
	})
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	open := func() (dispatcher.Source, error) {
		src, err := source.Open(cfg.Source.Path, cfg.Source.MaxLineBytes)
		if err != nil {
			return nil, err
		}
		return src, nil
	}

	log.Info().
		Str("source", cfg.Source.Path).
		Str("compression", string(source.DetectCompression(cfg.Source.Path))).
		Str("topic", cfg.Kafka.Topic).
		Bool("producer_ready", prod.IsReady()).
		Msg("envelope loader started")

	done := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(done)
		_, err := disp.RunIterations(gctx, open)
		return err
	})
	g.Go(func() error {
		report(gctx, done, agg, opts.reportEvery, log)
		return nil
	})

	err = g.Wait()
	final := agg.Snapshot()
	log.Info().Str("summary", final.String()).Msg("envelope loader finished")

	if errors.Is(err, context.Canceled) {
		log.Warn().Msg("run interrupted; completed batches are reflected in the summary")
		return nil
	}
	return err
}

// report logs a stats line every interval until the run finishes.
func report(ctx context.Context, done <-chan struct{}, agg *stats.Aggregator, every time.Duration, log zerolog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			log.Info().Str("stats", agg.Snapshot().String()).Msg("envelope loader progress")
		}
	}
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger.Fatal().Err(err).Str("stage", stage).Msg("envelope loader init failed")
}
