// Package compaction decides which parsed context items to summarize, runs
// summarization with partial-failure tolerance, and reassembles the payload.
//
// FLOW:
//  1. Filter items down to candidates worth a summarizer call
//  2. Rank candidates by size, largest first (greedy size reduction)
//  3. Summarize sequentially, one retry per candidate, abort on systemic failure
//  4. Splice summaries back into their original offsets, end to start
//  5. Report a structured Result; the original content is always a safe fallback
//
// Compaction is advisory: a failed or fruitless pass yields a no-op Result,
// never an error to the caller, so the surrounding chat request always
// proceeds with the best available content.
package compaction

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/notewell/context-engine/internal/block"
)

// DefaultMinCandidateChars is the minimum item content size worth
// summarizing. Summarizing a three-line block wastes a model call for no
// size benefit.
const DefaultMinCandidateChars = 400

// DefaultFailureTolerance is the fraction of failed summarizer calls, across
// attempted candidates, beyond which the pass aborts as systemic failure.
const DefaultFailureTolerance = 0.5

// NoOpReason explains why a pass produced no change. Distinguishes "nothing
// to do" from "tried and failed" from "tried and it didn't help", so callers
// and telemetry can tell tuning problems from transient failures.
type NoOpReason string

const (
	NoOpNoItems         NoOpReason = "no_items"
	NoOpNoCandidates    NoOpReason = "no_candidates"
	NoOpHighFailureRate NoOpReason = "high_failure_rate"
	NoOpNoReduction     NoOpReason = "no_reduction"
)

// Summarizer is the external collaborator that produces summaries. Calls may
// fail or time out; failures must be returned, never panic.
// targetChars > 0 is a hint for the desired output length.
type Summarizer interface {
	Summarize(ctx context.Context, text string, targetChars int) (string, error)
}

// SummarizerFunc adapts a function to the Summarizer interface.
type SummarizerFunc func(ctx context.Context, text string, targetChars int) (string, error)

func (f SummarizerFunc) Summarize(ctx context.Context, text string, targetChars int) (string, error) {
	return f(ctx, text, targetChars)
}

// PassRecorder receives each finished pass, typically for metrics or a
// persistent ledger.
type PassRecorder interface {
	RecordCompaction(res Result)
}

// Options tune one compaction pass.
type Options struct {
	// TargetCharCount is the desired size of the compacted payload.
	// Zero means no target; summarizer calls then get no length hint.
	TargetCharCount int

	// MinCandidateChars overrides DefaultMinCandidateChars when > 0.
	MinCandidateChars int

	// FailureTolerance overrides DefaultFailureTolerance when > 0.
	FailureTolerance float64
}

func (o Options) minCandidateChars() int {
	if o.MinCandidateChars > 0 {
		return o.MinCandidateChars
	}
	return DefaultMinCandidateChars
}

func (o Options) failureTolerance() float64 {
	if o.FailureTolerance > 0 {
		return o.FailureTolerance
	}
	return DefaultFailureTolerance
}

// Result is the structured outcome of one pass.
//
// Invariants: NoOpReason is set exactly when WasCompacted is false;
// WasCompacted implies CompactedCharCount < OriginalCharCount;
// 0 <= ItemsSummarized <= ItemsProcessed.
type Result struct {
	// Content is the final payload: compacted on success, the original on
	// every no-op path.
	Content      string
	WasCompacted bool

	OriginalCharCount  int
	CompactedCharCount int

	ItemsProcessed  int
	ItemsSummarized int

	// TargetCharCount echoes the requested target; zero when none was set.
	// TargetMet is only meaningful when TargetCharCount > 0.
	TargetCharCount int
	TargetMet       bool

	NoOpReason NoOpReason
}

// Planner orchestrates compaction passes. Each Compact call is independent
// and holds no state beyond the call, so a Planner may serve concurrent
// requests without coordination.
type Planner struct {
	summarizer Summarizer
	recorder   PassRecorder
}

// NewPlanner creates a Planner around the given summarizer.
func NewPlanner(s Summarizer) *Planner {
	return &Planner{summarizer: s}
}

// SetRecorder registers an optional recorder notified after every pass.
func (p *Planner) SetRecorder(r PassRecorder) {
	p.recorder = r
}

// Compact runs one compaction pass over content whose parsed items are
// given. Summarization is sequential, one call in flight, so the failure
// tally and size ranking stay consistent without locking. The caller bounds
// the whole pass with ctx; cancellation mid-pass yields the original content
// unmodified, never a partial splice.
func (p *Planner) Compact(ctx context.Context, content string, items []block.ParsedContextItem, opts Options) Result {
	passID := uuid.NewString()
	res := Result{
		Content:            content,
		OriginalCharCount:  len(content),
		CompactedCharCount: len(content),
		ItemsProcessed:     len(items),
		TargetCharCount:    opts.TargetCharCount,
	}

	if len(items) == 0 {
		return p.finish(passID, res, NoOpNoItems)
	}

	candidates := make([]block.ParsedContextItem, 0, len(items))
	for _, it := range items {
		if len(it.Content) > opts.minCandidateChars() {
			candidates = append(candidates, it)
		}
	}
	if len(candidates) == 0 {
		return p.finish(passID, res, NoOpNoCandidates)
	}

	// Largest blocks first: greedy size reduction, not recency or type
	// priority.
	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i].Content) > len(candidates[j].Content)
	})

	var replacements []block.Replacement
	attempted := 0
	failed := 0
	for _, cand := range candidates {
		if ctx.Err() != nil {
			// The caller's deadline expired; behave as systemic failure.
			log.Warn().Str("pass_id", passID).Err(ctx.Err()).
				Msg("compaction: pass deadline hit, discarding partial work")
			return p.finish(passID, res, NoOpHighFailureRate)
		}

		attempted++
		summary, err := p.summarizeOnce(ctx, passID, cand, opts.TargetCharCount)
		if err != nil {
			failed++
			// A single data point is not systemic; require a second
			// attempted candidate before aborting early.
			if attempted >= 2 && overTolerance(failed, attempted, opts.failureTolerance()) {
				log.Warn().Str("pass_id", passID).
					Int("attempted", attempted).Int("failed", failed).
					Msg("compaction: summarizer failure rate over tolerance, aborting pass")
				return p.finish(passID, res, NoOpHighFailureRate)
			}
			continue
		}

		replacements = append(replacements, block.Replacement{
			StartOffset: cand.StartOffset,
			EndOffset:   cand.EndOffset,
			Text:        cand.Render(summary),
		})
	}

	if failed > 0 && overTolerance(failed, attempted, opts.failureTolerance()) {
		log.Warn().Str("pass_id", passID).
			Int("attempted", attempted).Int("failed", failed).
			Msg("compaction: summarizer failure rate over tolerance, discarding pass")
		return p.finish(passID, res, NoOpHighFailureRate)
	}

	compacted, err := block.Splice(content, replacements)
	if err != nil {
		// Offsets come straight from the parser, so this indicates a caller
		// passing items from a different source string.
		log.Error().Str("pass_id", passID).Err(err).
			Msg("compaction: splice rejected replacements, returning original")
		return p.finish(passID, res, NoOpHighFailureRate)
	}

	if len(compacted) >= len(content) {
		return p.finish(passID, res, NoOpNoReduction)
	}

	res.Content = compacted
	res.WasCompacted = true
	res.CompactedCharCount = len(compacted)
	res.ItemsSummarized = len(replacements)
	if opts.TargetCharCount > 0 {
		res.TargetMet = res.CompactedCharCount <= opts.TargetCharCount
	}

	log.Debug().Str("pass_id", passID).
		Int("original_chars", res.OriginalCharCount).
		Int("compacted_chars", res.CompactedCharCount).
		Int("items_processed", res.ItemsProcessed).
		Int("items_summarized", res.ItemsSummarized).
		Msg("compaction: pass compacted payload")
	p.record(res)
	return res
}

// summarizeOnce calls the summarizer for one candidate with at most one
// retry and no backoff; the summarizer is assumed fast. An empty summary
// counts as a failure.
func (p *Planner) summarizeOnce(ctx context.Context, passID string, cand block.ParsedContextItem, targetChars int) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		summary, err := p.summarizer.Summarize(ctx, cand.Content, targetChars)
		if err == nil && summary != "" {
			return summary, nil
		}
		if err == nil {
			err = errEmptySummary
		}
		lastErr = err
		log.Debug().Str("pass_id", passID).Str("path", cand.Path).
			Int("attempt", attempt+1).Err(err).
			Msg("compaction: summarizer call failed")
		if ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

func overTolerance(failed, attempted int, tolerance float64) bool {
	return float64(failed)/float64(attempted) > tolerance
}

func (p *Planner) finish(passID string, res Result, reason NoOpReason) Result {
	res.NoOpReason = reason
	log.Debug().Str("pass_id", passID).Str("noop_reason", string(reason)).
		Int("items_processed", res.ItemsProcessed).
		Msg("compaction: pass was a no-op")
	p.record(res)
	return res
}

func (p *Planner) record(res Result) {
	if p.recorder != nil {
		p.recorder.RecordCompaction(res)
	}
}
