package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/example/envelope-streamer/internal/models"
	"github.com/example/envelope-streamer/internal/stats"
	"github.com/example/envelope-streamer/internal/util"
)

// Default configuration values.
const (
	DefaultMaxBatchSize      = 500
	DefaultConcurrency       = 10
	DefaultCooldownOnFailure = 5 * time.Second
	DefaultIterations        = 1
	DefaultProgressAfter     = 100
)

// Config contains the runtime settings for a dispatch run.
type Config struct {
	// MaxBatchSize bounds the number of records per sink submission.
	MaxBatchSize int
	// Concurrency bounds the number of submissions in flight.
	Concurrency int
	// CooldownOnFailure is how long a submission slot is held after the sink
	// reports failures, before it accepts more work.
	CooldownOnFailure time.Duration
	// Iterations is the number of passes RunIterations makes over the input.
	// Counters accumulate across iterations.
	Iterations int
	// GroupingKey enables grouping-aware batching on the named JSON field.
	GroupingKey string
	// ProgressAfter is the number of processed batches after which progress
	// is logged for every batch. Negative disables progress logging.
	ProgressAfter int
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:      DefaultMaxBatchSize,
		Concurrency:       DefaultConcurrency,
		CooldownOnFailure: DefaultCooldownOnFailure,
		Iterations:        DefaultIterations,
		ProgressAfter:     DefaultProgressAfter,
	}
}

// Dependencies collects the collaborators required by the dispatcher.
type Dependencies struct {
	Sink    Sink
	Encoder Encoder
	Stats   *stats.Aggregator
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Dispatcher turns a sequence of raw records into batched sink submissions
// with bounded parallelism, tracking failures and throughput.
type Dispatcher struct {
	cfg     Config
	sink    Sink
	encoder Encoder
	stats   *stats.Aggregator
	logger  zerolog.Logger
	now     func() time.Time

	semaphore *semaphore.Weighted
}

// New constructs a dispatcher, validating configuration and dependencies.
func New(cfg Config, deps Dependencies) (*Dispatcher, error) {
	if cfg.MaxBatchSize < 1 {
		return nil, errors.New("dispatcher: max batch size must be >= 1")
	}
	if cfg.Concurrency < 1 {
		return nil, errors.New("dispatcher: concurrency must be >= 1")
	}
	if cfg.Iterations < 1 {
		return nil, errors.New("dispatcher: iterations must be >= 1")
	}
	if cfg.CooldownOnFailure < 0 {
		return nil, errors.New("dispatcher: cooldown on failure cannot be negative")
	}
	if deps.Sink == nil {
		return nil, errors.New("dispatcher: sink dependency is required")
	}
	if deps.Encoder == nil {
		return nil, errors.New("dispatcher: encoder dependency is required")
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "dispatcher").Logger()

	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}

	agg := deps.Stats
	if agg == nil {
		agg = stats.New(0, nowFunc)
	}

	return &Dispatcher{
		cfg:       cfg,
		sink:      deps.Sink,
		encoder:   deps.Encoder,
		stats:     agg,
		logger:    logger,
		now:       nowFunc,
		semaphore: semaphore.NewWeighted(int64(cfg.Concurrency)),
	}, nil
}

// Stats returns the aggregator the dispatcher reports into.
func (d *Dispatcher) Stats() *stats.Aggregator {
	return d.stats
}

// Run makes a single pass over src. It returns once every in-flight
// submission has settled. Submission failures never abort the run; a source
// failure returns an ErrPipeline error and cancellation returns ctx.Err().
// The snapshot reflects all batches completed before the run stopped.
func (d *Dispatcher) Run(ctx context.Context, src Source) (stats.Snapshot, error) {
	err := d.runPass(ctx, src)
	return d.stats.Snapshot(), err
}

// RunIterations repeats a full pass Iterations times, opening a fresh source
// for each pass. Counters accumulate across iterations.
func (d *Dispatcher) RunIterations(ctx context.Context, open SourceOpener) (stats.Snapshot, error) {
	d.logger.Info().
		Int("max_batch_size", d.cfg.MaxBatchSize).
		Int("concurrency", d.cfg.Concurrency).
		Str("grouping_key", d.cfg.GroupingKey).
		Int("iterations", d.cfg.Iterations).
		Msg("dispatcher: run starting")

	for i := 1; i <= d.cfg.Iterations; i++ {
		src, err := open()
		if err != nil {
			return d.stats.Snapshot(), WrapPipeline(fmt.Errorf("open source: %w", err))
		}

		if err := d.runPass(ctx, src); err != nil {
			d.logger.Warn().
				Int("iteration", i).
				Int("iterations", d.cfg.Iterations).
				Err(err).
				Msg("dispatcher: iteration aborted")
			return d.stats.Snapshot(), err
		}
		d.logger.Info().
			Int("iteration", i).
			Int("iterations", d.cfg.Iterations).
			Msg("dispatcher: iteration complete")
	}

	snap := d.stats.Snapshot()
	d.logger.Info().
		Int64("records", snap.Submitted).
		Int64("failed", snap.Failed).
		Dur("elapsed", snap.Elapsed).
		Float64("rate", snap.Rate).
		Msg("dispatcher: run complete")
	return snap, nil
}

func (d *Dispatcher) runPass(ctx context.Context, src Source) error {
	var inflight sync.WaitGroup
	defer func() {
		if closeErr := src.Close(); closeErr != nil {
			d.logger.Warn().Err(closeErr).Msg("dispatcher: failed to close source")
		}
	}()
	defer inflight.Wait()

	batcher := NewBatcher(d.cfg.MaxBatchSize, d.cfg.GroupingKey)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		record, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			d.logger.Error().Err(err).Msg("dispatcher: source failed; halting run")
			return WrapPipeline(err)
		}

		if len(bytes.TrimSpace(record)) == 0 {
			d.stats.RecordSkipped()
			continue
		}

		if batch := batcher.Add(record); batch != nil {
			if err := d.dispatch(ctx, &inflight, batch); err != nil {
				return err
			}
		}
	}

	if batch := batcher.Flush(); batch != nil {
		return d.dispatch(ctx, &inflight, batch)
	}
	return nil
}

// dispatch encodes batch synchronously and hands it to a submission slot.
// It blocks while all slots are busy.
func (d *Dispatcher) dispatch(ctx context.Context, inflight *sync.WaitGroup, batch [][]byte) error {
	records, encodeFailures := d.encodeBatch(batch)
	if len(records) == 0 {
		d.complete(stats.BatchOutcome{EncodeFailures: encodeFailures})
		return nil
	}

	if err := d.semaphore.Acquire(ctx, 1); err != nil {
		d.logger.Warn().
			Int("records", len(records)).
			Err(err).
			Msg("dispatcher: cancelled while waiting for a submission slot")
		return err
	}

	inflight.Add(1)
	go func() {
		defer inflight.Done()
		defer d.semaphore.Release(1)
		d.submit(ctx, records, encodeFailures)
	}()
	return nil
}

func (d *Dispatcher) encodeBatch(batch [][]byte) ([]models.Record, int) {
	records := make([]models.Record, 0, len(batch))
	failures := 0
	for idx, raw := range batch {
		data, id, err := d.encoder.Encode(raw)
		if err != nil {
			failures++
			d.logger.Debug().
				Int("batch_index", idx).
				Str("record", util.Truncate(string(raw), util.DefaultPreviewLimit)).
				Err(err).
				Msg("dispatcher: record failed to encode")
			continue
		}
		records = append(records, models.Record{Data: data, PartitionKey: id.String()})
	}
	if failures > 0 {
		d.logger.Warn().
			Int("failed", failures).
			Int("batch_size", len(batch)).
			Msg("dispatcher: records excluded from batch after encode failure")
	}
	return records, failures
}

// submit runs in a submission slot. In-flight submissions are detached from
// cancellation so a batch is never abandoned half way.
func (d *Dispatcher) submit(ctx context.Context, records []models.Record, encodeFailures int) {
	start := d.now()
	result, err := d.sink.Submit(context.WithoutCancel(ctx), records)
	duration := d.now().Sub(start)

	outcome := stats.BatchOutcome{Submitted: len(records), EncodeFailures: encodeFailures}
	if err != nil {
		outcome.Failed = len(records)
		outcome.SubmissionError = true
		d.logger.Error().
			Int("records", len(records)).
			Dur("duration", duration).
			Err(WrapSubmission(err)).
			Msg("dispatcher: batch submission failed")
	} else if result.FailedCount > 0 {
		outcome.Failed = result.FailedCount
		evt := d.logger.Warn().
			Int("records", len(records)).
			Int("failed", result.FailedCount).
			Dur("duration", duration)
		if first, ok := result.FirstFailure(); ok {
			evt = evt.
				Int("record_index", first.RecordIndex).
				Str("partition_key", first.PartitionKey).
				Str("error_code", first.ErrorCode).
				Str("error_message", util.Truncate(first.ErrorMessage, util.DefaultPreviewLimit))
		}
		evt.Msg("dispatcher: sink reported record failures")
	}

	d.complete(outcome)

	if outcome.Failed > 0 && d.cfg.CooldownOnFailure > 0 {
		d.logger.Info().Dur("cooldown", d.cfg.CooldownOnFailure).Msg("dispatcher: cooling down submission slot after failures")
		d.wait(ctx, d.cfg.CooldownOnFailure)
	}
}

func (d *Dispatcher) complete(outcome stats.BatchOutcome) {
	snap := d.stats.RecordBatch(outcome)
	if d.cfg.ProgressAfter < 0 || snap.Batches <= int64(d.cfg.ProgressAfter) {
		return
	}
	d.logger.Info().
		Int64("batches", snap.Batches).
		Dur("elapsed", snap.Elapsed).
		Int64("records", snap.Submitted).
		Float64("interval_rate", snap.IntervalRate).
		Int64("failed", snap.Failed).
		Msg("dispatcher: progress")
}

// wait blocks for dur or until ctx is done.
func (d *Dispatcher) wait(ctx context.Context, dur time.Duration) {
	if dur <= 0 {
		return
	}

	timer := time.NewTimer(dur)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
