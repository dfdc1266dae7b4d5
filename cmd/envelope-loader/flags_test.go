package main

import (
	"testing"
	"time"

	"github.com/example/envelope-streamer/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Kafka.Topic = "envelopes"
	cfg.Source.Path = "./append.txt"
	cfg.Dispatch = config.DispatchConfig{
		MaxBatchSize:      500,
		Concurrency:       10,
		CooldownOnFailure: 5 * time.Second,
		Iterations:        1,
	}
	return cfg
}

func TestParseFlagsOverridesOnlyChangedValues(t *testing.T) {
	cfg := baseConfig()
	opts, _, err := parseFlags(cfg, []string{"--iterations", "3", "--group-key=bt", "--cooldown", "250ms", "--source", "data.txt.gz"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Dispatch.Iterations != 3 || cfg.Dispatch.GroupingKey != "bt" || cfg.Dispatch.CooldownOnFailure != 250*time.Millisecond {
		t.Fatalf("flags not applied: %+v", cfg.Dispatch)
	}
	if cfg.Source.Path != "data.txt.gz" {
		t.Fatalf("unexpected source %s", cfg.Source.Path)
	}
	if cfg.Dispatch.Concurrency != 10 || cfg.Dispatch.MaxBatchSize != 500 || cfg.Kafka.Topic != "envelopes" {
		t.Fatalf("unset flags must keep configured values: %+v", cfg)
	}
	if opts.reportEvery != defaultReportEvery || opts.help {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestParseFlagsRejectsInvalidValues(t *testing.T) {
	cases := map[string][]string{
		"zero concurrency":  {"--concurrency", "0"},
		"zero batch size":   {"--batch-size=0"},
		"negative cooldown": {"--cooldown=-1s"},
		"empty topic":       {"--topic="},
		"stray argument":    {"extra"},
		"unknown flag":      {"--nope"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			if _, _, err := parseFlags(baseConfig(), args); err == nil {
				t.Fatalf("expected error for %v", args)
			}
		})
	}
}

func TestParseFlagsSuppliesMissingTopic(t *testing.T) {
	cfg := baseConfig()
	cfg.Kafka.Topic = ""

	if _, _, err := parseFlags(cfg, nil); err == nil {
		t.Fatalf("expected error when no topic is configured")
	}

	cfg = baseConfig()
	cfg.Kafka.Topic = ""
	if _, _, err := parseFlags(cfg, []string{"--topic", "replay"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Kafka.Topic != "replay" {
		t.Fatalf("expected topic from flag, got %q", cfg.Kafka.Topic)
	}
}

func TestParseFlagsHelp(t *testing.T) {
	opts, fs, err := parseFlags(baseConfig(), []string{"--help"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !opts.help || fs == nil {
		t.Fatalf("expected help to be requested")
	}
}
