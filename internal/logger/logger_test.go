package logger_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/example/envelope-streamer/internal/logger"
)

func restoreGlobalLevel(t *testing.T) {
	t.Helper()
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(prev)
	})
}

func TestNewSetsGlobalLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"debug":    zerolog.DebugLevel,
		"Warn":     zerolog.WarnLevel,
		"ERROR":    zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
	}

	for input, want := range cases {
		t.Run("level_"+input, func(t *testing.T) {
			restoreGlobalLevel(t)

			var buf bytes.Buffer
			if _, err := logger.New("production", input, "envelope-loader", &buf); err != nil {
				t.Fatalf("New returned error for level %q: %v", input, err)
			}
			if got := zerolog.GlobalLevel(); got != want {
				t.Fatalf("global level = %s, want %s", got, want)
			}
		})
	}
}

func TestNewTagsService(t *testing.T) {
	restoreGlobalLevel(t)

	var buf bytes.Buffer
	log, err := logger.New("production", "info", "envelope-tail", &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	log.Info().Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"service":"envelope-tail"`) || !strings.Contains(out, `"message":"hello"`) {
		t.Fatalf("unexpected log output %s", out)
	}
}

func TestNewInvalidLevel(t *testing.T) {
	restoreGlobalLevel(t)

	if _, err := logger.New("production", "not-a-level", ""); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}
