package compaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notewell/context-engine/internal/block"
)

// buildPayload composes a payload with one block per body, separated by gap
// text, and returns it parsed.
func buildPayload(t *testing.T, bodies ...string) (string, []block.ParsedContextItem) {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("User question preamble.\n")
	for i, body := range bodies {
		fmt.Fprintf(&sb, "\n<context_block type=\"note-context\" path=\"notes/n%d.md\" title=\"N%d\">\n%s\n</context_block>\n", i, i, body)
	}
	sb.WriteString("\nTrailing user question.")
	payload := sb.String()
	items := block.Parse(payload)
	require.Len(t, items, len(bodies))
	return payload, items
}

// stubSummarizer scripts per-call behavior and records the order and content
// of calls.
type stubSummarizer struct {
	mu      sync.Mutex
	calls   []string
	targets []int
	// failFirst counts how many leading calls fail before success.
	failFirst int
	failAll   bool
	summary   string
}

func (s *stubSummarizer) Summarize(_ context.Context, text string, targetChars int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, text)
	s.targets = append(s.targets, targetChars)
	if s.failAll {
		return "", errors.New("provider outage")
	}
	if len(s.calls) <= s.failFirst {
		return "", errors.New("transient failure")
	}
	if s.summary != "" {
		return s.summary, nil
	}
	return "short summary", nil
}

func assertNoOp(t *testing.T, res Result, content string, reason NoOpReason) {
	t.Helper()
	assert.False(t, res.WasCompacted)
	assert.Equal(t, reason, res.NoOpReason)
	assert.Equal(t, content, res.Content)
	assert.Equal(t, len(content), res.OriginalCharCount)
	assert.Equal(t, res.OriginalCharCount, res.CompactedCharCount)
	assert.Zero(t, res.ItemsSummarized)
}

func TestCompact_NoItems(t *testing.T) {
	p := NewPlanner(&stubSummarizer{})
	content := "nothing injected here"

	res := p.Compact(context.Background(), content, nil, Options{})

	assertNoOp(t, res, content, NoOpNoItems)
	assert.Zero(t, res.ItemsProcessed)
}

func TestCompact_NoCandidates(t *testing.T) {
	stub := &stubSummarizer{}
	p := NewPlanner(stub)
	content, items := buildPayload(t, "tiny", "also tiny")

	res := p.Compact(context.Background(), content, items, Options{MinCandidateChars: 100})

	assertNoOp(t, res, content, NoOpNoCandidates)
	assert.Equal(t, 2, res.ItemsProcessed)
	assert.Empty(t, stub.calls, "no summarizer call should be spent on tiny blocks")
}

func TestCompact_Success(t *testing.T) {
	stub := &stubSummarizer{}
	p := NewPlanner(stub)
	big := strings.Repeat("alpha beta gamma ", 50)
	bigger := strings.Repeat("delta epsilon ", 100)
	content, items := buildPayload(t, big, "tiny gap block", bigger)

	res := p.Compact(context.Background(), content, items, Options{MinCandidateChars: 100})

	assert.True(t, res.WasCompacted)
	assert.Empty(t, res.NoOpReason)
	assert.Equal(t, 3, res.ItemsProcessed)
	assert.Equal(t, 2, res.ItemsSummarized)
	assert.Less(t, res.CompactedCharCount, res.OriginalCharCount)
	assert.Equal(t, len(res.Content), res.CompactedCharCount)

	// Largest candidate is attempted first.
	require.Len(t, stub.calls, 2)
	assert.Equal(t, bigger, stub.calls[0])
	assert.Equal(t, big, stub.calls[1])

	// Untouched text and the small block survive verbatim, in order.
	assert.Contains(t, res.Content, "User question preamble.")
	assert.Contains(t, res.Content, "tiny gap block")
	assert.Contains(t, res.Content, "Trailing user question.")

	// Summarized blocks are still parseable with their identity intact.
	reparsed := block.Parse(res.Content)
	require.Len(t, reparsed, 3)
	assert.Equal(t, "notes/n0.md", reparsed[0].Path)
	assert.Equal(t, "short summary", reparsed[0].Content)
	assert.Equal(t, "tiny gap block", reparsed[1].Content)
	assert.Equal(t, "short summary", reparsed[2].Content)
}

func TestCompact_TargetHintForwarded(t *testing.T) {
	stub := &stubSummarizer{}
	p := NewPlanner(stub)
	content, items := buildPayload(t, strings.Repeat("x", 500))

	res := p.Compact(context.Background(), content, items, Options{
		MinCandidateChars: 100,
		TargetCharCount:   300,
	})

	require.Len(t, stub.targets, 1)
	assert.Equal(t, 300, stub.targets[0])
	assert.Equal(t, 300, res.TargetCharCount)
	assert.True(t, res.TargetMet)
}

func TestCompact_TargetNotMet(t *testing.T) {
	stub := &stubSummarizer{summary: strings.Repeat("s", 120)}
	p := NewPlanner(stub)
	content, items := buildPayload(t, strings.Repeat("x", 500))

	res := p.Compact(context.Background(), content, items, Options{
		MinCandidateChars: 100,
		TargetCharCount:   10,
	})

	assert.True(t, res.WasCompacted)
	assert.False(t, res.TargetMet)
}

func TestCompact_RetriesOnceThenSucceeds(t *testing.T) {
	stub := &stubSummarizer{failFirst: 1}
	p := NewPlanner(stub)
	content, items := buildPayload(t, strings.Repeat("x", 500))

	res := p.Compact(context.Background(), content, items, Options{MinCandidateChars: 100})

	assert.True(t, res.WasCompacted)
	assert.Equal(t, 1, res.ItemsSummarized)
	assert.Len(t, stub.calls, 2, "one failure, one retry")
}

func TestCompact_SystemicFailureAborts(t *testing.T) {
	stub := &stubSummarizer{failAll: true}
	p := NewPlanner(stub)
	content, items := buildPayload(t,
		strings.Repeat("x", 500),
		strings.Repeat("y", 600),
		strings.Repeat("z", 700))

	res := p.Compact(context.Background(), content, items, Options{MinCandidateChars: 100})

	assertNoOp(t, res, content, NoOpHighFailureRate)
	// First two candidates fail both attempts each; the rate hits 2/2 > 0.5
	// and the third candidate is never attempted.
	assert.Len(t, stub.calls, 4)
}

func TestCompact_PartialFailureUnderTolerance(t *testing.T) {
	// First candidate (the largest) fails both attempts; the other two
	// succeed. Tolerance is loose enough to keep going.
	stub := &stubSummarizer{failFirst: 2}
	p := NewPlanner(stub)
	content, items := buildPayload(t,
		strings.Repeat("x", 900),
		strings.Repeat("y", 600),
		strings.Repeat("z", 500))

	res := p.Compact(context.Background(), content, items, Options{
		MinCandidateChars: 100,
		FailureTolerance:  0.9,
	})

	assert.True(t, res.WasCompacted)
	assert.Equal(t, 2, res.ItemsSummarized)
	assert.Contains(t, res.Content, strings.Repeat("x", 900), "failed candidate keeps its original text")
}

func TestCompact_EmptySummaryIsFailure(t *testing.T) {
	calls := 0
	sum := SummarizerFunc(func(context.Context, string, int) (string, error) {
		calls++
		return "", nil
	})
	p := NewPlanner(sum)
	content, items := buildPayload(t, strings.Repeat("x", 500))

	res := p.Compact(context.Background(), content, items, Options{MinCandidateChars: 100})

	assertNoOp(t, res, content, NoOpHighFailureRate)
	assert.Equal(t, 2, calls)
}

func TestCompact_NoReduction(t *testing.T) {
	stub := &stubSummarizer{summary: strings.Repeat("long ", 200)}
	p := NewPlanner(stub)
	content, items := buildPayload(t, strings.Repeat("x", 500))

	res := p.Compact(context.Background(), content, items, Options{MinCandidateChars: 100})

	assertNoOp(t, res, content, NoOpNoReduction)
}

func TestCompact_CancelledContext(t *testing.T) {
	stub := &stubSummarizer{}
	p := NewPlanner(stub)
	content, items := buildPayload(t, strings.Repeat("x", 500))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := p.Compact(ctx, content, items, Options{MinCandidateChars: 100})

	assertNoOp(t, res, content, NoOpHighFailureRate)
	assert.Empty(t, stub.calls)
}

func TestCompact_NeverGrowsWhenCompacted(t *testing.T) {
	for _, summaryLen := range []int{1, 50, 400, 800} {
		stub := &stubSummarizer{summary: strings.Repeat("s", summaryLen)}
		p := NewPlanner(stub)
		content, items := buildPayload(t, strings.Repeat("x", 500))

		res := p.Compact(context.Background(), content, items, Options{MinCandidateChars: 100})
		if res.WasCompacted {
			assert.Less(t, res.CompactedCharCount, res.OriginalCharCount, "summaryLen=%d", summaryLen)
		} else {
			assert.Equal(t, NoOpNoReduction, res.NoOpReason, "summaryLen=%d", summaryLen)
		}
	}
}

type recordingRecorder struct {
	results []Result
}

func (r *recordingRecorder) RecordCompaction(res Result) {
	r.results = append(r.results, res)
}

func TestCompact_RecorderSeesEveryPass(t *testing.T) {
	rec := &recordingRecorder{}
	p := NewPlanner(&stubSummarizer{})
	p.SetRecorder(rec)

	p.Compact(context.Background(), "plain", nil, Options{})
	content, items := buildPayload(t, strings.Repeat("x", 500))
	p.Compact(context.Background(), content, items, Options{MinCandidateChars: 100})

	require.Len(t, rec.results, 2)
	assert.Equal(t, NoOpNoItems, rec.results[0].NoOpReason)
	assert.True(t, rec.results[1].WasCompacted)
}
