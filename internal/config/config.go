package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/envelope-streamer/internal/envelope"
	"github.com/example/envelope-streamer/internal/util"
)

// Config captures all runtime configuration for the envelope streamer.
type Config struct {
	App      AppConfig
	Kafka    KafkaConfig
	Dispatch DispatchConfig
	Source   SourceConfig
	Envelope EnvelopeConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	LogLevel string
}

// KafkaConfig defines broker information and the envelope topic.
type KafkaConfig struct {
	Brokers                []string
	Topic                  string
	ClientID               string
	ConsumerGroup          string
	MetadataRefreshSeconds int
}

// MetadataRefresh returns the producer metadata refresh interval.
func (k KafkaConfig) MetadataRefresh() time.Duration {
	return time.Duration(k.MetadataRefreshSeconds) * time.Second
}

// DispatchConfig controls batching, concurrency and failure handling.
type DispatchConfig struct {
	MaxBatchSize      int
	Concurrency       int
	CooldownOnFailure time.Duration
	Iterations        int
	GroupingKey       string
	StatsResetEvery   int
	ProgressAfter     int
}

// SourceConfig locates the record input.
type SourceConfig struct {
	Path         string
	MaxLineBytes int
}

// EnvelopeConfig holds the fixed values written into every envelope.
type EnvelopeConfig struct {
	OrganizationIDs []string
}

// Load reads environment variables, applies defaults, validates required
// values and returns a populated Config instance.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)

	cfg.Kafka.Brokers = ldr.getStringSlice("KAFKA_BROKERS", true)
	cfg.Kafka.Topic = ldr.getString("KAFKA_TOPIC", "", false)
	cfg.Kafka.ClientID = ldr.getString("KAFKA_CLIENT_ID", "envelope-streamer", false)
	cfg.Kafka.ConsumerGroup = ldr.getString("KAFKA_CONSUMER_GROUP", "envelope-tail", false)
	cfg.Kafka.MetadataRefreshSeconds = ldr.getPositiveInt("KAFKA_METADATA_REFRESH_SECONDS", 30)

	cfg.Dispatch.MaxBatchSize = ldr.getPositiveInt("DISPATCH_MAX_BATCH_SIZE", 500)
	cfg.Dispatch.Concurrency = ldr.getPositiveInt("DISPATCH_CONCURRENCY", 10)
	cfg.Dispatch.CooldownOnFailure = ldr.getDuration("DISPATCH_COOLDOWN_ON_FAILURE", 5*time.Second)
	cfg.Dispatch.Iterations = ldr.getPositiveInt("DISPATCH_ITERATIONS", 1)
	cfg.Dispatch.GroupingKey = ldr.getString("DISPATCH_GROUPING_KEY", "", false)
	cfg.Dispatch.StatsResetEvery = ldr.getPositiveInt("DISPATCH_STATS_RESET_EVERY", 300)
	cfg.Dispatch.ProgressAfter = ldr.getInt("DISPATCH_PROGRESS_AFTER", 100, false)

	cfg.Source.Path = ldr.getString("SOURCE_PATH", "./append.txt", false)
	cfg.Source.MaxLineBytes = ldr.getPositiveInt("SOURCE_MAX_LINE_BYTES", 1<<20)

	cfg.Envelope.OrganizationIDs = ldr.getIdentifiers("ENVELOPE_ORGANIZATION_IDS", []string{envelope.DefaultOrganizationID})

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

// lookup returns the trimmed value and whether a non-empty value was set.
func (l *envLoader) lookup(key string, required bool) (string, bool) {
	val, ok := os.LookupEnv(key)
	val = strings.TrimSpace(val)
	if !ok || val == "" {
		if required {
			l.addError(fmt.Sprintf("%s is required", key))
		}
		return "", false
	}
	return val, true
}

func (l *envLoader) getString(key, def string, required bool) string {
	if val, ok := l.lookup(key, required); ok {
		return val
	}
	return def
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid integer", key))
		return def
	}
	return i
}

func (l *envLoader) getPositiveInt(key string, def int) int {
	i := l.getInt(key, def, false)
	if i < 1 {
		l.addError(fmt.Sprintf("%s must be >= 1", key))
		return def
	}
	return i
}

func (l *envLoader) getDuration(key string, def time.Duration) time.Duration {
	val, ok := l.lookup(key, false)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid duration", key))
		return def
	}
	if d < 0 {
		l.addError(fmt.Sprintf("%s cannot be negative", key))
		return def
	}
	return d
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		if required {
			return nil
		}
		return []string{}
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

func (l *envLoader) getIdentifiers(key string, def []string) []string {
	values := l.getStringSlice(key, false)
	if len(values) == 0 {
		return def
	}
	ids, err := util.NormalizeIdentifiers(values, 1)
	if err != nil {
		l.addError(fmt.Sprintf("%s: %v", key, err))
		return def
	}
	return ids
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
