// Package budget converts model and compaction configuration into concrete
// numeric ceilings (tokens and characters).
//
// DESIGN: Everything in this package is a pure function of its inputs. No
// state, no I/O, no logging. Derived budgets are computed fresh per request
// so a model switch mid-session is picked up immediately.
package budget

import "math"

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultSafetyRatio reserves headroom below the model's context window for
// the model's own output and protocol overhead.
const DefaultSafetyRatio = 0.65

// DefaultCharsPerToken is the approximate number of characters per token.
// An approximation, not tokenizer-exact; see usage.CharEstimator.
const DefaultCharsPerToken = 4

// DefaultMinimumBudgetTokens is the floor below which a retrieval budget
// would be useless even on tiny-window models.
const DefaultMinimumBudgetTokens = 2000

// =============================================================================
// CONFIG
// =============================================================================

// Config is an immutable per-request snapshot of the user's compaction and
// budgeting settings. Owned and persisted by settings storage outside this
// engine; treated as read-only here.
type Config struct {
	// EnableAutoCompaction gates automatic compaction entirely.
	EnableAutoCompaction bool `yaml:"enable_auto_compaction"`

	// ConfiguredThresholdTokens is the user-configured token count at which
	// compaction triggers. Must be > 0.
	ConfiguredThresholdTokens int `yaml:"compaction_threshold_tokens"`

	// ContextWindowTokens is the active model's context window. Must be > 0.
	ContextWindowTokens int `yaml:"context_window_tokens"`

	// ContextWindowRatio is the fraction of the context window granted to
	// local-search context. Must be in (0, 1].
	ContextWindowRatio float64 `yaml:"context_window_ratio"`

	// HardMaxChars is an absolute character ceiling independent of model
	// size, protecting memory and latency regardless of how generous the
	// ratio computation is. Must be > 0.
	HardMaxChars int `yaml:"hard_max_chars"`

	// MinimumBudgetTokens floors the retrieval token budget. Zero means
	// DefaultMinimumBudgetTokens.
	MinimumBudgetTokens int `yaml:"minimum_budget_tokens"`
}

// =============================================================================
// RESOLVER
// =============================================================================

// Resolver computes budget ceilings. The heuristic constants are fields
// rather than package constants because they are approximations observed in
// behavior, not protocol guarantees. The zero value uses the defaults above.
type Resolver struct {
	// SafetyRatio caps the compaction threshold at this fraction of the
	// context window. Zero means DefaultSafetyRatio.
	SafetyRatio float64

	// CharsPerToken converts token budgets to character budgets. Zero means
	// DefaultCharsPerToken.
	CharsPerToken int
}

func (r Resolver) safetyRatio() float64 {
	if r.SafetyRatio > 0 {
		return r.SafetyRatio
	}
	return DefaultSafetyRatio
}

func (r Resolver) charsPerToken() int {
	if r.CharsPerToken > 0 {
		return r.CharsPerToken
	}
	return DefaultCharsPerToken
}

// ResolveCompactionThresholdTokens returns the token count at which
// compaction should trigger for the given config.
//
// Returns +Inf when auto-compaction is disabled, so comparisons against any
// finite usage never trigger. Otherwise the user-configured threshold is
// silently tightened to floor(window * SafetyRatio): the configured value
// must never exceed what the active model can actually support, and model
// context windows change as the user switches models mid-session, so
// tightening beats erroring.
//
// Non-positive window or threshold is a caller contract violation; the
// numeric result is undefined. config.Validate catches these at load time.
func (r Resolver) ResolveCompactionThresholdTokens(cfg Config) float64 {
	if !cfg.EnableAutoCompaction {
		return math.Inf(1)
	}
	windowCap := math.Floor(float64(cfg.ContextWindowTokens) * r.safetyRatio())
	return math.Min(float64(cfg.ConfiguredThresholdTokens), windowCap)
}

// ResolveLocalSearchContextCharBudget returns the character budget for
// similarity-search context injected into a request.
//
// The token budget is window * ratio, floored at MinimumBudgetTokens so
// retrieval never starves completely on tiny-window models, converted to
// characters at CharsPerToken, and clamped to HardMaxChars.
func (r Resolver) ResolveLocalSearchContextCharBudget(cfg Config) int {
	minTokens := cfg.MinimumBudgetTokens
	if minTokens <= 0 {
		minTokens = DefaultMinimumBudgetTokens
	}

	tokenBudget := float64(cfg.ContextWindowTokens) * cfg.ContextWindowRatio
	if tokenBudget < float64(minTokens) {
		tokenBudget = float64(minTokens)
	}

	chars := int(tokenBudget) * r.charsPerToken()
	if chars > cfg.HardMaxChars {
		return cfg.HardMaxChars
	}
	return chars
}
