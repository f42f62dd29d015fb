package usage

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// DefaultCharsPerToken is the approximate number of characters per token
// used when no exact tokenizer is available.
const DefaultCharsPerToken = 4.0

// Estimator estimates the token count of a string.
type Estimator interface {
	Estimate(text string) int
}

// CharEstimator estimates tokens from a characters-per-token ratio. Cheap
// and tokenizer-agnostic; within ~20% for English prose.
type CharEstimator struct {
	CharsPerToken float64
}

// NewCharEstimator returns a CharEstimator with the given ratio, defaulting
// to DefaultCharsPerToken when the ratio is non-positive.
func NewCharEstimator(charsPerToken float64) *CharEstimator {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return &CharEstimator{CharsPerToken: charsPerToken}
}

// Estimate rounds up so budgets are never underestimated.
func (e *CharEstimator) Estimate(text string) int {
	if len(text) == 0 {
		return 0
	}
	return int(float64(len(text))/e.CharsPerToken) + 1
}

// TiktokenCounter counts tokens exactly with the model's encoding. The
// encoder is resolved lazily on first use; if the model is unknown to
// tiktoken the counter degrades to a CharEstimator instead of failing.
type TiktokenCounter struct {
	model    string
	once     sync.Once
	enc      *tiktoken.Tiktoken
	fallback *CharEstimator
}

// NewTiktokenCounter returns a counter for the given model name.
func NewTiktokenCounter(model string) *TiktokenCounter {
	return &TiktokenCounter{
		model:    model,
		fallback: NewCharEstimator(0),
	}
}

func (c *TiktokenCounter) Estimate(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.EncodingForModel(c.model)
		if err != nil {
			log.Debug().Str("model", c.model).Err(err).
				Msg("usage: no tiktoken encoding for model, using char estimate")
			return
		}
		c.enc = enc
	})
	if c.enc == nil {
		return c.fallback.Estimate(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}
