// Package usage normalizes token accounting from LLM provider responses and
// estimates token counts for text the provider has not seen yet.
package usage

import "github.com/tidwall/gjson"

// TokenUsage is a read-only record extracted from a provider response. A nil
// field means the provider did not report that count (or reported garbage);
// populated fields are always non-negative. Consumed, never mutated.
type TokenUsage struct {
	InputTokens  *int
	OutputTokens *int
	TotalTokens  *int
}

// Available reports whether any count was extracted.
func (u TokenUsage) Available() bool {
	return u.InputTokens != nil || u.OutputTokens != nil || u.TotalTokens != nil
}

// ReadTokenUsage extracts normalized usage from a raw provider response
// body. Anthropic and OpenAI field layouts are both recognized; anything
// absent, negative, or non-integral is left unavailable rather than guessed.
func ReadTokenUsage(body []byte) TokenUsage {
	var u TokenUsage

	// Anthropic: usage.input_tokens / usage.output_tokens.
	u.InputTokens = readCount(body, "usage.input_tokens")
	u.OutputTokens = readCount(body, "usage.output_tokens")

	// OpenAI: usage.prompt_tokens / usage.completion_tokens / usage.total_tokens.
	if u.InputTokens == nil {
		u.InputTokens = readCount(body, "usage.prompt_tokens")
	}
	if u.OutputTokens == nil {
		u.OutputTokens = readCount(body, "usage.completion_tokens")
	}
	u.TotalTokens = readCount(body, "usage.total_tokens")

	// Derive the total when the provider reports only the parts.
	if u.TotalTokens == nil && u.InputTokens != nil && u.OutputTokens != nil {
		total := *u.InputTokens + *u.OutputTokens
		u.TotalTokens = &total
	}
	return u
}

// readCount returns the value at path if it is a non-negative integer.
func readCount(body []byte, path string) *int {
	v := gjson.GetBytes(body, path)
	if v.Type != gjson.Number {
		return nil
	}
	f := v.Float()
	n := int(f)
	if f < 0 || f != float64(n) {
		return nil
	}
	return &n
}
