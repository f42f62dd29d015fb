// Package config loads and validates engine configuration.
//
// DESIGN: The engine itself treats configuration as read-only per-call
// input. Validation happens here, at load time, so the pure resolver and
// planner code never has to defend against non-positive windows or ratios.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/notewell/context-engine/internal/budget"
)

// Config is the engine's full configuration.
type Config struct {
	// Model is the active chat model, used for exact token counting when
	// its tokenizer is known.
	Model string `yaml:"model"`

	Budget     budget.Config    `yaml:"budget"`
	Planner    PlannerConfig    `yaml:"planner"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// PlannerConfig tunes compaction passes.
type PlannerConfig struct {
	// MinCandidateChars is the minimum block size worth a summarizer call.
	MinCandidateChars int `yaml:"min_candidate_chars"`

	// FailureTolerance is the failed-call fraction beyond which a pass
	// aborts as systemic failure.
	FailureTolerance float64 `yaml:"failure_tolerance"`

	// PassTimeout bounds one whole compaction pass.
	PassTimeout Duration `yaml:"pass_timeout"`
}

// RetrievalConfig tunes similarity search sampling.
type RetrievalConfig struct {
	// MaxSimilarityQueries bounds how many embeddings of a single note are
	// queried, regardless of note length.
	MaxSimilarityQueries int `yaml:"max_similarity_queries"`
}

// SummarizerConfig configures the external summarizer client.
type SummarizerConfig struct {
	Provider  string   `yaml:"provider"` // anthropic | openai | bedrock
	Endpoint  string   `yaml:"endpoint"`
	APISecret string   `yaml:"api_secret"`
	Model     string   `yaml:"model"`
	MaxTokens int      `yaml:"max_tokens"`
	Timeout   Duration `yaml:"timeout"`
}

// MonitoringConfig configures metrics and the compaction ledger.
type MonitoringConfig struct {
	// LedgerPath is the sqlite file recording compaction passes. Empty
	// disables the ledger.
	LedgerPath string `yaml:"ledger_path"`
}

// DefaultConfig returns the engine defaults. Model-dependent fields
// (context window) must still be supplied by the caller.
func DefaultConfig() *Config {
	return &Config{
		Model: "claude-sonnet-4-5",
		Budget: budget.Config{
			EnableAutoCompaction:      true,
			ConfiguredThresholdTokens: 96000,
			ContextWindowTokens:       200000,
			ContextWindowRatio:        0.12,
			HardMaxChars:              448000,
			MinimumBudgetTokens:       budget.DefaultMinimumBudgetTokens,
		},
		Planner: PlannerConfig{
			MinCandidateChars: 400,
			FailureTolerance:  0.5,
			PassTimeout:       Duration(90 * time.Second),
		},
		Retrieval: RetrievalConfig{
			MaxSimilarityQueries: 30,
		},
		Summarizer: SummarizerConfig{
			Provider:  "anthropic",
			Model:     "claude-haiku-4-5",
			MaxTokens: 2048,
			Timeout:   Duration(60 * time.Second),
		},
	}
}

// Load reads YAML configuration from path over the defaults. A .env file in
// the working directory is honored before ${VAR} references in the YAML are
// expanded, so secrets stay out of the config file itself.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Debug().Err(err).Msg("config: no .env loaded")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	expanded := os.ExpandEnv(string(raw))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate enforces the numeric contracts the engine's pure functions rely
// on. Violations here are caller errors, caught before any request runs.
func (c *Config) Validate() error {
	b := c.Budget
	if b.ContextWindowTokens <= 0 {
		return fmt.Errorf("budget.context_window_tokens must be positive, got %d", b.ContextWindowTokens)
	}
	if b.ConfiguredThresholdTokens <= 0 {
		return fmt.Errorf("budget.compaction_threshold_tokens must be positive, got %d", b.ConfiguredThresholdTokens)
	}
	if b.ContextWindowRatio <= 0 || b.ContextWindowRatio > 1 {
		return fmt.Errorf("budget.context_window_ratio must be in (0,1], got %g", b.ContextWindowRatio)
	}
	if b.HardMaxChars <= 0 {
		return fmt.Errorf("budget.hard_max_chars must be positive, got %d", b.HardMaxChars)
	}
	if b.MinimumBudgetTokens < 0 {
		return fmt.Errorf("budget.minimum_budget_tokens must not be negative, got %d", b.MinimumBudgetTokens)
	}

	if c.Planner.FailureTolerance < 0 || c.Planner.FailureTolerance > 1 {
		return fmt.Errorf("planner.failure_tolerance must be in [0,1], got %g", c.Planner.FailureTolerance)
	}
	if c.Retrieval.MaxSimilarityQueries < 0 {
		return fmt.Errorf("retrieval.max_similarity_queries must not be negative, got %d", c.Retrieval.MaxSimilarityQueries)
	}
	return nil
}
