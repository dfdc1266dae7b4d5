package inspect

import (
	"context"
	"encoding/json"
	"reflect"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/example/envelope-streamer/internal/envelope"
	"github.com/example/envelope-streamer/internal/kafka/consumer"
	"github.com/example/envelope-streamer/internal/util"
)

// Counters tracks what the handler has seen. Safe for concurrent use.
type Counters struct {
	decoded atomic.Int64
	failed  atomic.Int64
}

// Decoded returns the number of envelopes decoded successfully.
func (c *Counters) Decoded() int64 { return c.decoded.Load() }

// Failed returns the number of values that could not be decoded.
func (c *Counters) Failed() int64 { return c.failed.Load() }

// Handler returns a consumer.Handler that decodes each record value as an
// envelope and logs a summary of it. Decode failures are logged and counted;
// the handler never returns an error so the offset is always marked.
func Handler(logger zerolog.Logger, counters *Counters) consumer.Handler {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "inspect").Logger()
	if counters == nil {
		counters = &Counters{}
	}

	return func(_ context.Context, rec *consumer.Record) error {
		if rec == nil {
			return nil
		}

		env, err := envelope.Decode(rec.Value)
		if err != nil {
			counters.failed.Add(1)
			logger.Warn().
				Err(err).
				Str("topic", rec.Topic).
				Int32("partition", rec.Partition).
				Int64("offset", rec.Offset).
				Int("bytes", len(rec.Value)).
				Msg("inspect: value is not a valid envelope")
			return nil
		}
		counters.decoded.Add(1)

		evt := logger.Info().
			Str("topic", rec.Topic).
			Int32("partition", rec.Partition).
			Int64("offset", rec.Offset).
			Uint8("header_version", env.HeaderVersion).
			Str("time_uuid", env.TimeUUID.String()).
			Str("source_name", env.SourceName).
			Str("target_name", env.TargetName).
			Str("entity_type", env.TargetProperties.EntityType)

		if lengths, err := envelope.ReadLengths(rec.Value); err == nil {
			evt = evt.Int("content_length", lengths.Content).
				Int("target_properties_length", lengths.TargetProperties)
		}
		if key := string(rec.Key); key != "" && key != env.TimeUUID.String() {
			evt = evt.Str("partition_key", key)
		}
		if preview, err := json.Marshal(env.ContentBody); err == nil {
			evt = evt.Str("content", util.Truncate(string(preview), util.DefaultPreviewLimit))
		}
		evt.Msg("inspect: envelope")
		return nil
	}
}
