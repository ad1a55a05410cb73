package conversation

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// TokenCounter counts tokens for trimming decisions.
type TokenCounter interface {
	Count(text string) int
}

// tiktokenEncoding is the BPE used by current OpenAI chat models.
const tiktokenEncoding = "cl100k_base"

// tiktokenCounter counts with a real BPE encoding. The encoding is loaded
// lazily; if loading fails (offline environments), it degrades to the
// heuristic counter so history trimming still works.
type tiktokenCounter struct {
	once     sync.Once
	encoding *tiktoken.Tiktoken
	fallback HeuristicCounter
	logger   *zap.Logger
}

// NewTokenCounter returns the default token counter.
func NewTokenCounter(logger *zap.Logger) TokenCounter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &tiktokenCounter{logger: logger}
}

// Count implements TokenCounter.
func (c *tiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktokenEncoding)
		if err != nil {
			c.logger.Warn("tiktoken encoding unavailable, using heuristic token counts",
				zap.Error(err))
			return
		}
		c.encoding = enc
	})
	if c.encoding == nil {
		return c.fallback.Count(text)
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// HeuristicCounter approximates tokens as len/4, the usual rule of thumb
// for English text. Used as the offline fallback and in tests.
type HeuristicCounter struct{}

// Count implements TokenCounter.
func (HeuristicCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
