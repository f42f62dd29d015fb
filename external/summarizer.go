package external

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// SystemPromptSummarize instructs the model to shrink one context block
// while keeping the details a later turn is most likely to need.
const SystemPromptSummarize = `You are a context compression assistant for a note-taking application. Your task is to summarize one injected context block so it uses less space in the prompt.

Guidelines:
1. PRESERVE facts, names, dates, numbers, and links
2. PRESERVE the note's own headings and structure where possible
3. REMOVE repetition, filler, and boilerplate
4. USE bullet points for long lists (show first 3 + "... and N more")
5. OUTPUT only the summary - no explanations or meta-commentary`

// LLMSummarizer produces summaries through an LLM provider. It implements
// the compaction planner's Summarizer boundary.
type LLMSummarizer struct {
	params SummarizerParams
	client *http.Client
}

// SummarizerParams configures the summarizer client.
type SummarizerParams struct {
	Provider  string
	Endpoint  string
	APISecret string
	Model     string
	MaxTokens int
	Timeout   time.Duration

	// Region selects the AWS region for Bedrock signing; empty falls back
	// to the environment.
	Region string
}

// NewLLMSummarizer builds a summarizer client. For Bedrock a SigV4 signing
// HTTP client is created up front so credential problems surface at
// construction, not mid-pass.
func NewLLMSummarizer(params SummarizerParams) (*LLMSummarizer, error) {
	s := &LLMSummarizer{params: params}
	if params.Provider == ProviderBedrock {
		transport, err := NewBedrockSigningTransport(params.Region, nil)
		if err != nil {
			return nil, fmt.Errorf("create bedrock transport: %w", err)
		}
		s.client = &http.Client{Transport: transport}
	}
	return s, nil
}

// Summarize produces a summary of text, hinting the desired output size
// when targetChars is positive.
func (s *LLMSummarizer) Summarize(ctx context.Context, text string, targetChars int) (string, error) {
	userPrompt := fmt.Sprintf("Summarize the following content:\n\n%s", text)
	if targetChars > 0 {
		userPrompt = fmt.Sprintf("Summarize the following content in roughly %d characters or fewer:\n\n%s", targetChars, text)
	}

	result, err := CallLLM(ctx, CallLLMParams{
		Provider:     s.params.Provider,
		Endpoint:     s.params.Endpoint,
		APISecret:    s.params.APISecret,
		Model:        s.params.Model,
		SystemPrompt: SystemPromptSummarize,
		UserPrompt:   userPrompt,
		MaxTokens:    s.params.MaxTokens,
		Timeout:      s.params.Timeout,
		HTTPClient:   s.client,
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return result.Content, nil
}
