package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/voicebridge/types"
)

func TestHistorySystemFirst(t *testing.T) {
	h := NewHistory("you are a helpful assistant", nil)

	h.AddUser("hello")
	h.AddAssistant("hi there")

	msgs := h.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, types.RoleSystem, msgs[0].Role)
	assert.Equal(t, types.RoleUser, msgs[1].Role)
	assert.Equal(t, types.RoleAssistant, msgs[2].Role)
}

func TestHistoryNoSystemPrompt(t *testing.T) {
	h := NewHistory("", nil)
	h.AddUser("hello")

	assert.Equal(t, "", h.SystemPrompt())
	assert.Equal(t, 1, h.Len())
}

func TestHistorySetSystemPromptReplacesInPlace(t *testing.T) {
	h := NewHistory("old prompt", nil)
	h.AddUser("hello")
	h.AddAssistant("hi")

	h.SetSystemPrompt("new prompt")

	msgs := h.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "new prompt", msgs[0].Content)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.Equal(t, "hi", msgs[2].Content)
}

func TestHistorySetSystemPromptInsertsWhenMissing(t *testing.T) {
	h := NewHistory("", nil)
	h.AddUser("hello")

	h.SetSystemPrompt("be brief")

	msgs := h.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, types.RoleSystem, msgs[0].Role)
	assert.Equal(t, "be brief", msgs[0].Content)
	assert.Equal(t, "hello", msgs[1].Content)
}

func TestHistoryClearKeepsSystem(t *testing.T) {
	h := NewHistory("system prompt", nil)
	h.AddUser("hello")
	h.AddAssistant("hi")

	h.Clear(true)

	msgs := h.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, types.RoleSystem, msgs[0].Role)
	assert.Equal(t, "system prompt", msgs[0].Content)
}

func TestHistoryClearAll(t *testing.T) {
	h := NewHistory("system prompt", nil)
	h.AddUser("hello")

	h.Clear(false)

	assert.Equal(t, 0, h.Len())
}

func TestHistoryAppendSystemKeepsSingleEntry(t *testing.T) {
	h := NewHistory("first", nil)
	h.AddUser("hello")

	h.Append(types.NewSystemMessage("second"))

	msgs := h.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "second", msgs[0].Content)
	assert.Equal(t, types.RoleSystem, msgs[0].Role)
}

func TestHistoryMessagesReturnsCopy(t *testing.T) {
	h := NewHistory("system", nil)
	h.AddUser("hello")

	msgs := h.Messages()
	msgs[0].Content = "mutated"

	assert.Equal(t, "system", h.Messages()[0].Content)
}

func TestHistoryTrimDropsOldestNonSystem(t *testing.T) {
	// 20 chars -> 5 tokens + 4 framing = 9 per message, system included.
	h := NewHistory("aaaaaaaaaaaaaaaaaaaa", nil,
		WithTokenCounter(HeuristicCounter{}),
		WithMaxTokens(30))

	h.AddUser("bbbbbbbbbbbbbbbbbbbb")
	h.AddAssistant("cccccccccccccccccccc")
	h.AddUser("dddddddddddddddddddd")

	msgs := h.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, types.RoleSystem, msgs[0].Role)
	assert.Equal(t, "cccccccccccccccccccc", msgs[1].Content)
	assert.Equal(t, "dddddddddddddddddddd", msgs[2].Content)
	assert.LessOrEqual(t, h.TokenCount(), 30)
}

func TestHistoryTrimNeverDropsNewest(t *testing.T) {
	h := NewHistory("", nil,
		WithTokenCounter(HeuristicCounter{}),
		WithMaxTokens(1))

	h.AddUser("this message alone exceeds the budget")

	require.Equal(t, 1, h.Len())
	assert.Equal(t, "this message alone exceeds the budget", h.Messages()[0].Content)
}

func TestHeuristicCounter(t *testing.T) {
	c := HeuristicCounter{}
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 1, c.Count("abc"))
	assert.Equal(t, 1, c.Count("abcd"))
	assert.Equal(t, 2, c.Count("abcde"))
}
