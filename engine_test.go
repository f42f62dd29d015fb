package contextengine

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notewell/context-engine/internal/compaction"
	"github.com/notewell/context-engine/internal/config"
	"github.com/notewell/context-engine/internal/retrieval"
	"github.com/notewell/context-engine/internal/usage"
)

func intp(n int) *int { return &n }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Budget.ContextWindowTokens = 32000
	cfg.Budget.ConfiguredThresholdTokens = 128000
	cfg.Budget.ContextWindowRatio = 0.12
	cfg.Budget.HardMaxChars = 448000
	cfg.Planner.MinCandidateChars = 100
	cfg.Retrieval.MaxSimilarityQueries = 5
	cfg.Monitoring.LedgerPath = filepath.Join(t.TempDir(), "ledger.db")
	return cfg
}

func okSummarizer() compaction.Summarizer {
	return compaction.SummarizerFunc(func(context.Context, string, int) (string, error) {
		return "condensed", nil
	})
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Budget.ContextWindowTokens = 0
	_, err := New(cfg, WithSummarizer(okSummarizer()))
	assert.Error(t, err)

	_, err = New(nil)
	assert.Error(t, err)
}

func TestEngine_BudgetResolution(t *testing.T) {
	e, err := New(testConfig(t), WithSummarizer(okSummarizer()))
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, float64(20800), e.CompactionThresholdTokens())
	assert.Equal(t, 15360, e.LocalSearchContextCharBudget())
}

func TestEngine_ThresholdDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Budget.EnableAutoCompaction = false
	e, err := New(cfg, WithSummarizer(okSummarizer()))
	require.NoError(t, err)
	defer e.Close()

	assert.True(t, math.IsInf(e.CompactionThresholdTokens(), 1))
	assert.False(t, e.ShouldCompact(usage.TokenUsage{TotalTokens: intp(1 << 30)}))
}

func TestEngine_ShouldCompact(t *testing.T) {
	e, err := New(testConfig(t), WithSummarizer(okSummarizer()))
	require.NoError(t, err)
	defer e.Close()

	assert.False(t, e.ShouldCompact(usage.TokenUsage{}))
	assert.False(t, e.ShouldCompact(usage.TokenUsage{TotalTokens: intp(20799)}))
	assert.True(t, e.ShouldCompact(usage.TokenUsage{TotalTokens: intp(20800)}))
}

func TestEngine_SelectEmbeddings(t *testing.T) {
	e, err := New(testConfig(t), WithSummarizer(okSummarizer()))
	require.NoError(t, err)
	defer e.Close()

	embeddings := make([]retrieval.Embedding, 50)
	for i := range embeddings {
		embeddings[i] = retrieval.Embedding{float32(i)}
	}
	got := e.SelectEmbeddings(embeddings)
	require.Len(t, got, 5)
	assert.Equal(t, float32(0), got[0][0])
	assert.Equal(t, float32(49), got[4][0])
}

func TestEngine_EstimateTokens(t *testing.T) {
	e, err := New(testConfig(t), WithSummarizer(okSummarizer()))
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, 0, e.EstimateTokens(""))
	assert.Greater(t, e.EstimateTokens(strings.Repeat("note text ", 40)), 0)
}

func TestEngine_CompactPayloadEndToEnd(t *testing.T) {
	e, err := New(testConfig(t), WithSummarizer(okSummarizer()))
	require.NoError(t, err)
	defer e.Close()

	payload := "Question.\n<context_block type=\"note-context\" path=\"n.md\" title=\"N\">\n" +
		strings.Repeat("note text ", 100) +
		"\n</context_block>\nMore question."

	res := e.CompactPayload(context.Background(), payload, 0)

	assert.True(t, res.WasCompacted)
	assert.Equal(t, 1, res.ItemsProcessed)
	assert.Equal(t, 1, res.ItemsSummarized)
	assert.Contains(t, res.Content, "condensed")
	assert.Contains(t, res.Content, "Question.")
	assert.Contains(t, res.Content, "More question.")

	// Metrics and ledger both observed the pass.
	snap := e.Metrics()
	assert.Equal(t, int64(1), snap.Passes)
	assert.Equal(t, int64(1), snap.CompactedPasses)
	assert.Equal(t, int64(1), snap.SummarizerCalls)

	records, err := e.RecentPasses(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].WasCompacted)
}

func TestEngine_CompactPayloadNoBlocks(t *testing.T) {
	e, err := New(testConfig(t), WithSummarizer(okSummarizer()))
	require.NoError(t, err)
	defer e.Close()

	content := "a plain question with no injected context"
	res := e.CompactPayload(context.Background(), content, 0)

	assert.False(t, res.WasCompacted)
	assert.Equal(t, compaction.NoOpNoItems, res.NoOpReason)
	assert.Equal(t, content, res.Content)
}

func TestEngine_SummarizerFailureIsAdvisory(t *testing.T) {
	failing := compaction.SummarizerFunc(func(context.Context, string, int) (string, error) {
		return "", errors.New("provider outage")
	})
	e, err := New(testConfig(t), WithSummarizer(failing))
	require.NoError(t, err)
	defer e.Close()

	payload := "Q.\n<context_block type=\"note-context\" path=\"n.md\" title=\"N\">\n" +
		strings.Repeat("x", 500) +
		"\n</context_block>\n"

	res := e.CompactPayload(context.Background(), payload, 0)

	assert.False(t, res.WasCompacted)
	assert.Equal(t, compaction.NoOpHighFailureRate, res.NoOpReason)
	assert.Equal(t, payload, res.Content)

	snap := e.Metrics()
	assert.Equal(t, int64(2), snap.SummarizerCalls, "one attempt plus one retry")
	assert.Equal(t, int64(2), snap.SummarizerFailures)
}

func TestEngine_NoLedgerConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.Monitoring.LedgerPath = ""
	e, err := New(cfg, WithSummarizer(okSummarizer()))
	require.NoError(t, err)
	defer e.Close()

	records, err := e.RecentPasses(5)
	require.NoError(t, err)
	assert.Nil(t, records)
}
