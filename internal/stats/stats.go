package stats

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

const defaultResetEvery = 300

// BatchOutcome is everything learned from processing one batch. It is
// applied to the aggregate counters in a single update.
type BatchOutcome struct {
	// Submitted is the number of records handed to the sink.
	Submitted int
	// Failed is the number of submitted records the sink did not accept.
	Failed int
	// EncodeFailures is the number of records dropped before submission.
	EncodeFailures int
	// SubmissionError marks a batch the sink rejected wholesale.
	SubmissionError bool
}

// Aggregator accumulates dispatch counters and an interval window used for
// instantaneous throughput. It is safe for concurrent use.
type Aggregator struct {
	mu  sync.Mutex
	now func() time.Time

	resetEvery int
	started    time.Time

	batches          int64
	submitted        int64
	failed           int64
	encodeFailures   int64
	submissionErrors int64
	skipped          int64

	intervalCount int64
	intervalStart time.Time
}

// New constructs an Aggregator whose interval window restarts every
// resetEvery processed batches.
func New(resetEvery int, now func() time.Time) *Aggregator {
	if resetEvery <= 0 {
		resetEvery = defaultResetEvery
	}
	if now == nil {
		now = time.Now
	}
	start := now()
	return &Aggregator{
		now:           now,
		resetEvery:    resetEvery,
		started:       start,
		intervalStart: start,
	}
}

// RecordBatch applies the outcome of one processed batch.
func (a *Aggregator) RecordBatch(o BatchOutcome) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.batches++
	a.submitted += int64(o.Submitted)
	a.failed += int64(o.Failed + o.EncodeFailures)
	a.encodeFailures += int64(o.EncodeFailures)
	if o.SubmissionError {
		a.submissionErrors++
	}
	a.intervalCount += int64(o.Submitted)

	snap := a.snapshotLocked()
	if a.batches%int64(a.resetEvery) == 0 {
		a.intervalCount = 0
		a.intervalStart = a.now()
	}
	return snap
}

// RecordSkipped counts a blank source entry.
func (a *Aggregator) RecordSkipped() {
	a.mu.Lock()
	a.skipped++
	a.mu.Unlock()
}

// Snapshot returns a consistent copy of the counters.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Aggregator) snapshotLocked() Snapshot {
	now := a.now()
	elapsed := now.Sub(a.started)
	return Snapshot{
		Batches:          a.batches,
		Submitted:        a.submitted,
		Failed:           a.failed,
		EncodeFailures:   a.encodeFailures,
		SubmissionErrors: a.submissionErrors,
		Skipped:          a.skipped,
		Elapsed:          elapsed,
		Rate:             perSecond(a.submitted, elapsed),
		IntervalRate:     perSecond(a.intervalCount, now.Sub(a.intervalStart)),
	}
}

func perSecond(count int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(count) / d.Seconds()
}

// Snapshot is a point-in-time view of the dispatch counters.
type Snapshot struct {
	Batches          int64
	Submitted        int64
	Failed           int64
	EncodeFailures   int64
	SubmissionErrors int64
	Skipped          int64
	Elapsed          time.Duration
	// Rate is records submitted per second since the aggregator started.
	Rate float64
	// IntervalRate is records submitted per second in the current window.
	IntervalRate float64
}

// String renders the snapshot as a single human readable line.
func (s Snapshot) String() string {
	return fmt.Sprintf(
		"batches=%s records=%s failed=%s encode_failures=%s submission_errors=%s skipped=%s elapsed=%s rate=%s/s interval_rate=%s/s",
		humanize.Comma(s.Batches),
		humanize.Comma(s.Submitted),
		humanize.Comma(s.Failed),
		humanize.Comma(s.EncodeFailures),
		humanize.Comma(s.SubmissionErrors),
		humanize.Comma(s.Skipped),
		s.Elapsed.Round(time.Millisecond),
		humanize.Comma(int64(s.Rate)),
		humanize.Comma(int64(s.IntervalRate)),
	)
}
