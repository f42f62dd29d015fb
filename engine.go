package contextengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/notewell/context-engine/external"
	"github.com/notewell/context-engine/internal/block"
	"github.com/notewell/context-engine/internal/budget"
	"github.com/notewell/context-engine/internal/compaction"
	"github.com/notewell/context-engine/internal/config"
	"github.com/notewell/context-engine/internal/monitoring"
	"github.com/notewell/context-engine/internal/retrieval"
	"github.com/notewell/context-engine/internal/usage"
)

// Engine wires the budget resolver, block parser, compaction planner, and
// monitoring together behind one entry point for the chat-request pipeline.
// An Engine is safe for concurrent use; each compaction pass is independent.
type Engine struct {
	cfg       *config.Config
	resolver  budget.Resolver
	estimator usage.Estimator
	planner   *compaction.Planner
	metrics   *monitoring.MetricsCollector
	ledger    *monitoring.Ledger
}

// Option customizes Engine construction.
type Option func(*engineOptions)

type engineOptions struct {
	summarizer compaction.Summarizer
}

// WithSummarizer replaces the built-in LLM summarizer client, e.g. with the
// host application's own provider binding.
func WithSummarizer(s compaction.Summarizer) Option {
	return func(o *engineOptions) { o.summarizer = s }
}

// New builds an Engine from validated configuration.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}

	summarizer := o.summarizer
	if summarizer == nil {
		s, err := external.NewLLMSummarizer(external.SummarizerParams{
			Provider:  cfg.Summarizer.Provider,
			Endpoint:  cfg.Summarizer.Endpoint,
			APISecret: cfg.Summarizer.APISecret,
			Model:     cfg.Summarizer.Model,
			MaxTokens: cfg.Summarizer.MaxTokens,
			Timeout:   cfg.Summarizer.Timeout.Std(),
		})
		if err != nil {
			return nil, fmt.Errorf("build summarizer: %w", err)
		}
		summarizer = s
	}

	e := &Engine{
		cfg:       cfg,
		estimator: usage.NewTiktokenCounter(cfg.Model),
		metrics:   monitoring.NewMetricsCollector(),
	}

	if cfg.Monitoring.LedgerPath != "" {
		ledger, err := monitoring.OpenLedger(cfg.Monitoring.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("open compaction ledger: %w", err)
		}
		e.ledger = ledger
	}

	e.planner = compaction.NewPlanner(&measuredSummarizer{
		inner:   summarizer,
		metrics: e.metrics,
	})
	e.planner.SetRecorder(&fanoutRecorder{
		metrics: e.metrics,
		ledger:  e.ledger,
	})
	return e, nil
}

// Close releases the ledger, if one is open.
func (e *Engine) Close() error {
	if e.ledger == nil {
		return nil
	}
	return e.ledger.Close()
}

// CompactionThresholdTokens returns the token count at which compaction
// triggers for the current configuration; +Inf when disabled.
func (e *Engine) CompactionThresholdTokens() float64 {
	return e.resolver.ResolveCompactionThresholdTokens(e.cfg.Budget)
}

// LocalSearchContextCharBudget returns the character budget for injected
// similarity-search context.
func (e *Engine) LocalSearchContextCharBudget() int {
	return e.resolver.ResolveLocalSearchContextCharBudget(e.cfg.Budget)
}

// ShouldCompact reports whether the last response's token usage crossed the
// compaction threshold. Unavailable usage never triggers.
func (e *Engine) ShouldCompact(u usage.TokenUsage) bool {
	if u.TotalTokens == nil {
		return false
	}
	return float64(*u.TotalTokens) >= e.CompactionThresholdTokens()
}

// EstimateTokens estimates the token count of text under the configured
// chat model, for gauging context pressure before a response reports usage.
func (e *Engine) EstimateTokens(text string) int {
	return e.estimator.Estimate(text)
}

// SelectEmbeddings bounds a note's embeddings to the configured similarity
// query budget.
func (e *Engine) SelectEmbeddings(embeddings []retrieval.Embedding) []retrieval.Embedding {
	return retrieval.SelectEmbeddingsForSimilaritySearch(embeddings, e.cfg.Retrieval.MaxSimilarityQueries)
}

// CompactPayload parses the composed payload and runs one compaction pass
// against the configured target. The pass is bounded by the configured
// timeout on top of whatever deadline ctx already carries; on any failure
// path the returned Result holds the original content.
func (e *Engine) CompactPayload(ctx context.Context, content string, targetChars int) compaction.Result {
	if timeout := e.cfg.Planner.PassTimeout.Std(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	items := block.Parse(content)
	return e.planner.Compact(ctx, content, items, compaction.Options{
		TargetCharCount:   targetChars,
		MinCandidateChars: e.cfg.Planner.MinCandidateChars,
		FailureTolerance:  e.cfg.Planner.FailureTolerance,
	})
}

// Metrics returns a snapshot of the engine's counters.
func (e *Engine) Metrics() monitoring.Snapshot {
	return e.metrics.Snapshot()
}

// RecentPasses returns up to limit ledger rows, newest first. Returns nil
// when no ledger is configured.
func (e *Engine) RecentPasses(limit int) ([]monitoring.PassRecord, error) {
	if e.ledger == nil {
		return nil, nil
	}
	return e.ledger.RecentPasses(limit)
}

// measuredSummarizer counts summarizer calls and failures around the real
// summarizer.
type measuredSummarizer struct {
	inner   compaction.Summarizer
	metrics *monitoring.MetricsCollector
}

func (m *measuredSummarizer) Summarize(ctx context.Context, text string, targetChars int) (string, error) {
	summary, err := m.inner.Summarize(ctx, text, targetChars)
	m.metrics.RecordSummarizerCall(err)
	return summary, err
}

// fanoutRecorder forwards each pass to the metrics collector and, when
// configured, the ledger.
type fanoutRecorder struct {
	metrics *monitoring.MetricsCollector
	ledger  *monitoring.Ledger
}

func (r *fanoutRecorder) RecordCompaction(res compaction.Result) {
	r.metrics.RecordCompaction(res)
	if r.ledger != nil {
		r.ledger.RecordCompaction(res)
	}
	log.Trace().Bool("was_compacted", res.WasCompacted).
		Str("noop_reason", string(res.NoOpReason)).
		Msg("engine: compaction pass recorded")
}
