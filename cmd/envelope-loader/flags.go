package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/example/envelope-streamer/internal/config"
)

const defaultReportEvery = 10 * time.Second

type options struct {
	reportEvery time.Duration
	help        bool
}

// parseFlags applies command-line overrides on top of cfg. Only flags that
// were set explicitly replace the environment values.
func parseFlags(cfg *config.Config, args []string) (options, *pflag.FlagSet, error) {
	opts := options{reportEvery: defaultReportEvery}

	fs := pflag.NewFlagSet("envelope-loader", pflag.ContinueOnError)
	source := fs.String("source", cfg.Source.Path, "path to the record file (.gz, .zst and .lz4 are decompressed)")
	iterations := fs.Int("iterations", cfg.Dispatch.Iterations, "number of passes over the source")
	concurrency := fs.Int("concurrency", cfg.Dispatch.Concurrency, "maximum submissions in flight")
	batchSize := fs.Int("batch-size", cfg.Dispatch.MaxBatchSize, "maximum records per submission")
	groupKey := fs.String("group-key", cfg.Dispatch.GroupingKey, "JSON field whose value change closes a batch")
	cooldown := fs.Duration("cooldown", cfg.Dispatch.CooldownOnFailure, "pause on a submission slot after failures")
	topic := fs.String("topic", cfg.Kafka.Topic, "Kafka topic to publish envelopes to")
	fs.DurationVar(&opts.reportEvery, "report-every", defaultReportEvery, "interval between progress reports, 0 disables")
	fs.BoolVarP(&opts.help, "help", "h", false, "show help")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			opts.help = true
			return opts, fs, nil
		}
		return opts, fs, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return opts, fs, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	if fs.Changed("source") {
		cfg.Source.Path = *source
	}
	if fs.Changed("iterations") {
		cfg.Dispatch.Iterations = *iterations
	}
	if fs.Changed("concurrency") {
		cfg.Dispatch.Concurrency = *concurrency
	}
	if fs.Changed("batch-size") {
		cfg.Dispatch.MaxBatchSize = *batchSize
	}
	if fs.Changed("group-key") {
		cfg.Dispatch.GroupingKey = *groupKey
	}
	if fs.Changed("cooldown") {
		cfg.Dispatch.CooldownOnFailure = *cooldown
	}
	if fs.Changed("topic") {
		cfg.Kafka.Topic = *topic
	}

	switch {
	case cfg.Dispatch.Iterations < 1:
		return opts, fs, errors.New("--iterations must be >= 1")
	case cfg.Dispatch.Concurrency < 1:
		return opts, fs, errors.New("--concurrency must be >= 1")
	case cfg.Dispatch.MaxBatchSize < 1:
		return opts, fs, errors.New("--batch-size must be >= 1")
	case cfg.Dispatch.CooldownOnFailure < 0:
		return opts, fs, errors.New("--cooldown cannot be negative")
	case opts.reportEvery < 0:
		return opts, fs, errors.New("--report-every cannot be negative")
	case cfg.Kafka.Topic == "":
		return opts, fs, errors.New("kafka topic is required: set KAFKA_TOPIC or --topic")
	}
	return opts, fs, nil
}
