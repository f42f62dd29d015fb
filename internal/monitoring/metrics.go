// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - passes:        Total compaction passes and compacted passes
//   - noop reasons:  Per-reason no-op counts
//   - chars:         Original and compacted character totals
//   - summarizer:    External call and failure counts
//
// For production, export these to Prometheus or similar.
package monitoring

import (
	"sync/atomic"
	"time"

	"github.com/notewell/context-engine/internal/compaction"
)

// MetricsCollector collects operational metrics. Safe for concurrent use.
type MetricsCollector struct {
	startedAt time.Time

	passes          atomic.Int64
	compactedPasses atomic.Int64

	noopNoItems         atomic.Int64
	noopNoCandidates    atomic.Int64
	noopHighFailureRate atomic.Int64
	noopNoReduction     atomic.Int64

	originalChars  atomic.Int64
	compactedChars atomic.Int64

	summarizerCalls    atomic.Int64
	summarizerFailures atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startedAt: time.Now()}
}

// RecordCompaction records the outcome of one compaction pass.
func (mc *MetricsCollector) RecordCompaction(res compaction.Result) {
	mc.passes.Add(1)
	if res.WasCompacted {
		mc.compactedPasses.Add(1)
		mc.originalChars.Add(int64(res.OriginalCharCount))
		mc.compactedChars.Add(int64(res.CompactedCharCount))
		return
	}
	switch res.NoOpReason {
	case compaction.NoOpNoItems:
		mc.noopNoItems.Add(1)
	case compaction.NoOpNoCandidates:
		mc.noopNoCandidates.Add(1)
	case compaction.NoOpHighFailureRate:
		mc.noopHighFailureRate.Add(1)
	case compaction.NoOpNoReduction:
		mc.noopNoReduction.Add(1)
	}
}

// RecordSummarizerCall records one external summarizer call.
func (mc *MetricsCollector) RecordSummarizerCall(err error) {
	mc.summarizerCalls.Add(1)
	if err != nil {
		mc.summarizerFailures.Add(1)
	}
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Uptime time.Duration `json:"uptime"`

	Passes          int64 `json:"passes"`
	CompactedPasses int64 `json:"compacted_passes"`

	NoOpNoItems         int64 `json:"noop_no_items"`
	NoOpNoCandidates    int64 `json:"noop_no_candidates"`
	NoOpHighFailureRate int64 `json:"noop_high_failure_rate"`
	NoOpNoReduction     int64 `json:"noop_no_reduction"`

	OriginalChars  int64 `json:"original_chars"`
	CompactedChars int64 `json:"compacted_chars"`
	CharsSaved     int64 `json:"chars_saved"`

	SummarizerCalls    int64 `json:"summarizer_calls"`
	SummarizerFailures int64 `json:"summarizer_failures"`
}

// Snapshot returns the current counter values.
func (mc *MetricsCollector) Snapshot() Snapshot {
	orig := mc.originalChars.Load()
	comp := mc.compactedChars.Load()
	return Snapshot{
		Uptime:              time.Since(mc.startedAt),
		Passes:              mc.passes.Load(),
		CompactedPasses:     mc.compactedPasses.Load(),
		NoOpNoItems:         mc.noopNoItems.Load(),
		NoOpNoCandidates:    mc.noopNoCandidates.Load(),
		NoOpHighFailureRate: mc.noopHighFailureRate.Load(),
		NoOpNoReduction:     mc.noopNoReduction.Load(),
		OriginalChars:       orig,
		CompactedChars:      comp,
		CharsSaved:          orig - comp,
		SummarizerCalls:     mc.summarizerCalls.Load(),
		SummarizerFailures:  mc.summarizerFailures.Load(),
	}
}
