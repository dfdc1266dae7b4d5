package producer

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg, refresh := newConfig(nil)
	if refresh != defaultMetadataRefreshInterval || cfg.Metadata.RefreshFrequency != defaultMetadataRefreshInterval {
		t.Fatalf("unexpected refresh interval %s / %s", refresh, cfg.Metadata.RefreshFrequency)
	}
	if cfg.ClientID != "envelope-streamer" {
		t.Fatalf("unexpected client id %q", cfg.ClientID)
	}
	if cfg.Producer.RequiredAcks != sarama.WaitForAll || !cfg.Producer.Return.Successes || !cfg.Producer.Idempotent {
		t.Fatalf("unexpected producer settings %+v", cfg.Producer)
	}
}

func TestNewConfigAppliesOptions(t *testing.T) {
	cfg, refresh := newConfig([]Option{
		WithClientID("loader-1"),
		WithMetadataRefreshInterval(5 * time.Second),
		WithMetadataRefreshInterval(0),
		nil,
	})
	if cfg.ClientID != "loader-1" {
		t.Fatalf("unexpected client id %q", cfg.ClientID)
	}
	if refresh != 5*time.Second || cfg.Metadata.RefreshFrequency != 5*time.Second {
		t.Fatalf("unexpected refresh interval %s / %s", refresh, cfg.Metadata.RefreshFrequency)
	}
}
