package config_test

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/example/envelope-streamer/internal/config"
	"github.com/example/envelope-streamer/internal/envelope"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("KAFKA_BROKERS", "broker-a:9092")
	t.Setenv("KAFKA_TOPIC", "envelopes")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.App.Env != "development" || cfg.App.LogLevel != "info" {
		t.Fatalf("unexpected app config %+v", cfg.App)
	}
	if cfg.Kafka.ClientID != "envelope-streamer" || cfg.Kafka.ConsumerGroup != "envelope-tail" {
		t.Fatalf("unexpected kafka defaults %+v", cfg.Kafka)
	}
	if cfg.Kafka.MetadataRefresh() != 30*time.Second {
		t.Fatalf("unexpected metadata refresh %s", cfg.Kafka.MetadataRefresh())
	}

	want := config.DispatchConfig{
		MaxBatchSize:      500,
		Concurrency:       10,
		CooldownOnFailure: 5 * time.Second,
		Iterations:        1,
		StatsResetEvery:   300,
		ProgressAfter:     100,
	}
	if cfg.Dispatch != want {
		t.Fatalf("dispatch defaults = %+v, want %+v", cfg.Dispatch, want)
	}
	if cfg.Source.Path != "./append.txt" || cfg.Source.MaxLineBytes != 1<<20 {
		t.Fatalf("unexpected source defaults %+v", cfg.Source)
	}
	if !reflect.DeepEqual(cfg.Envelope.OrganizationIDs, []string{envelope.DefaultOrganizationID}) {
		t.Fatalf("unexpected organization ids %v", cfg.Envelope.OrganizationIDs)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("KAFKA_BROKERS", "broker-a:9092, broker-b:9093")
	t.Setenv("DISPATCH_MAX_BATCH_SIZE", "250")
	t.Setenv("DISPATCH_CONCURRENCY", "4")
	t.Setenv("DISPATCH_COOLDOWN_ON_FAILURE", "750ms")
	t.Setenv("DISPATCH_ITERATIONS", "3")
	t.Setenv("DISPATCH_GROUPING_KEY", "bt")
	t.Setenv("DISPATCH_PROGRESS_AFTER", "-1")
	t.Setenv("SOURCE_PATH", "/data/append.txt.zst")
	t.Setenv("ENVELOPE_ORGANIZATION_IDS", "E24BF37C-353A-4C48-8FE6-46B6BD739E30, 9a0e4c52-1d7b-4f0e-8b59-3c1c7d1e2f30")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(cfg.Kafka.Brokers, []string{"broker-a:9092", "broker-b:9093"}) {
		t.Fatalf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	d := cfg.Dispatch
	if d.MaxBatchSize != 250 || d.Concurrency != 4 || d.CooldownOnFailure != 750*time.Millisecond ||
		d.Iterations != 3 || d.GroupingKey != "bt" || d.ProgressAfter != -1 {
		t.Fatalf("unexpected dispatch config %+v", d)
	}
	if cfg.Source.Path != "/data/append.txt.zst" {
		t.Fatalf("unexpected source path %s", cfg.Source.Path)
	}
	wantOrgs := []string{"e24bf37c-353a-4c48-8fe6-46b6bd739e30", "9a0e4c52-1d7b-4f0e-8b59-3c1c7d1e2f30"}
	if !reflect.DeepEqual(cfg.Envelope.OrganizationIDs, wantOrgs) {
		t.Fatalf("organization ids = %v, want %v", cfg.Envelope.OrganizationIDs, wantOrgs)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("KAFKA_TOPIC", "")

	_, err := config.Load()
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "KAFKA_BROKERS") {
		t.Fatalf("expected error to mention KAFKA_BROKERS, got %v", err)
	}
}

func TestLoadLeavesTopicToCommandLine(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker-a:9092")
	t.Setenv("KAFKA_TOPIC", "")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Kafka.Topic != "" {
		t.Fatalf("expected empty topic, got %q", cfg.Kafka.Topic)
	}
}

func TestLoadAccumulatesInvalidValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DISPATCH_CONCURRENCY", "0")
	t.Setenv("DISPATCH_MAX_BATCH_SIZE", "many")
	t.Setenv("DISPATCH_COOLDOWN_ON_FAILURE", "5 seconds")
	t.Setenv("ENVELOPE_ORGANIZATION_IDS", "not-a-uuid")

	_, err := config.Load()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{
		"DISPATCH_CONCURRENCY must be >= 1",
		"DISPATCH_MAX_BATCH_SIZE must be a valid integer",
		"DISPATCH_COOLDOWN_ON_FAILURE must be a valid duration",
		"ENVELOPE_ORGANIZATION_IDS",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}
