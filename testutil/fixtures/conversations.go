// =============================================================================
// 📦 测试数据: 对话与转写样本
// =============================================================================
package fixtures

import "github.com/BaSui01/voicebridge/types"

// InterimSequence 是一段语音的典型中间转写序列（逐步细化）。
func InterimSequence() []string {
	return []string{"he", "hell", "hello"}
}

// FinalTranscript 是与 InterimSequence 对应的最终转写。
const FinalTranscript = "hello there"

// ShortConversation 返回一段两轮的对话样本。
func ShortConversation() []types.Message {
	return []types.Message{
		types.NewSystemMessage("You are a concise voice assistant."),
		types.NewUserMessage("hello there"),
		types.NewAssistantMessage("Hi! How can I help you today?"),
		types.NewUserMessage("what time is it"),
	}
}
