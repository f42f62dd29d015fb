// Package external calls out to LLM providers. It is the engine's only
// network surface and exists to back the compaction planner's Summarizer
// boundary; nothing in here is required when the host application supplies
// its own summarizer.
package external

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/notewell/context-engine/internal/usage"
	"github.com/notewell/context-engine/internal/utils"
)

// Provider names accepted by CallLLM.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderBedrock   = "bedrock"
)

// Default endpoints per provider.
const (
	DefaultAnthropicEndpoint = "https://api.anthropic.com/v1/messages"
	DefaultOpenAIEndpoint    = "https://api.openai.com/v1/chat/completions"

	anthropicVersion = "2023-06-01"

	maxErrorBodyLogLen = 500
)

// CallLLMParams describes one provider call.
type CallLLMParams struct {
	Provider     string
	Endpoint     string // empty uses the provider default
	APISecret    string
	Model        string
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Timeout      time.Duration

	// HTTPClient overrides the default client, e.g. for Bedrock SigV4
	// signing. Nil uses http.DefaultClient with the call timeout.
	HTTPClient *http.Client
}

// CallLLMResult is the normalized provider response.
type CallLLMResult struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// CallLLM issues one chat completion and normalizes the response. Bedrock
// calls speak the Anthropic body format through a signing HTTP client.
func CallLLM(ctx context.Context, params CallLLMParams) (*CallLLMResult, error) {
	body, endpoint, err := buildRequest(params)
	if err != nil {
		return nil, err
	}

	if params.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, params.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setAuthHeaders(req, params)

	log.Debug().
		Str("provider", params.Provider).
		Str("model", params.Model).
		Str("endpoint", endpoint).
		Str("api_key", utils.MaskKey(params.APISecret)).
		Msg("external: calling LLM provider")

	client := params.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", params.Provider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", params.Provider, err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Warn().
			Str("provider", params.Provider).
			Int("status", resp.StatusCode).
			Str("body", utils.TruncateForLog(string(respBody), maxErrorBodyLogLen)).
			Msg("external: provider returned error status")
		return nil, fmt.Errorf("%s returned status %d", params.Provider, resp.StatusCode)
	}

	return parseResponse(params.Provider, respBody)
}

// buildRequest assembles the provider-specific JSON body and endpoint.
func buildRequest(params CallLLMParams) ([]byte, string, error) {
	switch params.Provider {
	case ProviderAnthropic, ProviderBedrock:
		body, err := buildAnthropicBody(params)
		endpoint := params.Endpoint
		if endpoint == "" {
			if params.Provider == ProviderBedrock {
				return nil, "", fmt.Errorf("bedrock requires an explicit endpoint")
			}
			endpoint = DefaultAnthropicEndpoint
		}
		return body, endpoint, err
	case ProviderOpenAI:
		body, err := buildOpenAIBody(params)
		endpoint := params.Endpoint
		if endpoint == "" {
			endpoint = DefaultOpenAIEndpoint
		}
		return body, endpoint, err
	default:
		return nil, "", fmt.Errorf("unsupported provider %q", params.Provider)
	}
}

func buildAnthropicBody(params CallLLMParams) ([]byte, error) {
	body := "{}"
	var err error
	for _, set := range []struct {
		path  string
		value interface{}
	}{
		{"model", params.Model},
		{"max_tokens", params.MaxTokens},
		{"system", params.SystemPrompt},
		{"messages.0.role", "user"},
		{"messages.0.content", params.UserPrompt},
	} {
		body, err = sjson.Set(body, set.path, set.value)
		if err != nil {
			return nil, fmt.Errorf("build anthropic body: %w", err)
		}
	}
	return []byte(body), nil
}

func buildOpenAIBody(params CallLLMParams) ([]byte, error) {
	body := "{}"
	var err error
	for _, set := range []struct {
		path  string
		value interface{}
	}{
		{"model", params.Model},
		{"max_completion_tokens", params.MaxTokens},
		{"messages.0.role", "system"},
		{"messages.0.content", params.SystemPrompt},
		{"messages.1.role", "user"},
		{"messages.1.content", params.UserPrompt},
	} {
		body, err = sjson.Set(body, set.path, set.value)
		if err != nil {
			return nil, fmt.Errorf("build openai body: %w", err)
		}
	}
	return []byte(body), nil
}

func setAuthHeaders(req *http.Request, params CallLLMParams) {
	switch params.Provider {
	case ProviderAnthropic:
		req.Header.Set("x-api-key", params.APISecret)
		req.Header.Set("anthropic-version", anthropicVersion)
	case ProviderOpenAI:
		req.Header.Set("Authorization", "Bearer "+params.APISecret)
	case ProviderBedrock:
		// SigV4 signing happens in the transport; no static auth header.
	}
}

// parseResponse extracts content and usage from a 200 response.
func parseResponse(provider string, body []byte) (*CallLLMResult, error) {
	var content string
	switch provider {
	case ProviderAnthropic, ProviderBedrock:
		content = gjson.GetBytes(body, "content.0.text").String()
	case ProviderOpenAI:
		content = gjson.GetBytes(body, "choices.0.message.content").String()
	}
	if content == "" {
		if msg := gjson.GetBytes(body, "error.message").String(); msg != "" {
			return nil, fmt.Errorf("%s error: %s", provider, msg)
		}
		return nil, fmt.Errorf("%s response contained no content", provider)
	}

	result := &CallLLMResult{Content: content}
	u := usage.ReadTokenUsage(body)
	if u.InputTokens != nil {
		result.InputTokens = *u.InputTokens
	}
	if u.OutputTokens != nil {
		result.OutputTokens = *u.OutputTokens
	}
	return result, nil
}
