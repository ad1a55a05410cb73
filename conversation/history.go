// Package conversation manages the per-session message history that feeds
// response generation: at most one system prompt pinned at the front,
// followed by alternating user/assistant turns, trimmed to a token budget.
package conversation

import (
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/voicebridge/types"
)

// History holds the ordered conversation messages for one session.
// All methods are safe for concurrent use.
type History struct {
	mu        sync.RWMutex
	messages  []types.Message
	maxTokens int
	counter   TokenCounter
	logger    *zap.Logger
}

// Option configures a History.
type Option func(*History)

// WithTokenCounter overrides the token counter used for trimming.
func WithTokenCounter(counter TokenCounter) Option {
	return func(h *History) {
		if counter != nil {
			h.counter = counter
		}
	}
}

// WithMaxTokens sets the token budget the history is trimmed to.
// Zero disables trimming.
func WithMaxTokens(maxTokens int) Option {
	return func(h *History) {
		h.maxTokens = maxTokens
	}
}

// NewHistory creates a history seeded with the given system prompt.
// An empty prompt starts the history with no system entry.
func NewHistory(systemPrompt string, logger *zap.Logger, opts ...Option) *History {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &History{
		messages: make([]types.Message, 0, 16),
		counter:  NewTokenCounter(logger),
		logger:   logger.With(zap.String("component", "conversation")),
	}
	for _, opt := range opts {
		opt(h)
	}
	if systemPrompt != "" {
		h.messages = append(h.messages, types.NewSystemMessage(systemPrompt))
	}
	return h
}

// SetSystemPrompt replaces the system entry in place, or inserts one at the
// front when the history has none. Non-system messages are untouched.
func (h *History) SetSystemPrompt(prompt string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg := types.NewSystemMessage(prompt)
	if len(h.messages) > 0 && h.messages[0].IsSystem() {
		h.messages[0] = msg
		return
	}
	h.messages = append([]types.Message{msg}, h.messages...)
}

// SystemPrompt returns the current system prompt, or "" when none is set.
func (h *History) SystemPrompt() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.messages) > 0 && h.messages[0].IsSystem() {
		return h.messages[0].Content
	}
	return ""
}

// AddUser appends a user message and trims to the token budget.
func (h *History) AddUser(content string) {
	h.append(types.NewUserMessage(content))
}

// AddAssistant appends an assistant message and trims to the token budget.
func (h *History) AddAssistant(content string) {
	h.append(types.NewAssistantMessage(content))
}

// Append adds an arbitrary message and trims to the token budget.
// System messages are routed through SetSystemPrompt to keep the
// at-most-one-system-entry invariant.
func (h *History) Append(msg types.Message) {
	if msg.IsSystem() {
		h.SetSystemPrompt(msg.Content)
		return
	}
	h.append(msg)
}

func (h *History) append(msg types.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
	h.trimLocked()
}

// Clear removes conversation messages. When keepSystem is true the system
// entry (if present) survives; otherwise the history is emptied entirely.
func (h *History) Clear(keepSystem bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if keepSystem && len(h.messages) > 0 && h.messages[0].IsSystem() {
		h.messages = h.messages[:1]
		return
	}
	h.messages = h.messages[:0]
}

// Messages returns a copy of the current messages. Callers may mutate the
// returned slice freely.
func (h *History) Messages() []types.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]types.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of messages, including the system entry.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// TokenCount returns the current token total across all messages.
func (h *History) TokenCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.tokenCountLocked()
}

func (h *History) tokenCountLocked() int {
	total := 0
	for _, m := range h.messages {
		total += h.counter.Count(m.Content) + tokensPerMessage
	}
	return total
}

// tokensPerMessage accounts for per-message framing overhead in the
// chat-completions wire format.
const tokensPerMessage = 4

// trimLocked drops the oldest non-system messages until the history fits
// the token budget. The system entry and the newest message always survive.
func (h *History) trimLocked() {
	if h.maxTokens <= 0 {
		return
	}
	start := 0
	if len(h.messages) > 0 && h.messages[0].IsSystem() {
		start = 1
	}
	for h.tokenCountLocked() > h.maxTokens && len(h.messages) > start+1 {
		dropped := h.messages[start]
		h.messages = append(h.messages[:start], h.messages[start+1:]...)
		h.logger.Debug("trimmed history message",
			zap.String("role", string(dropped.Role)),
			zap.Int("remaining", len(h.messages)))
	}
}
