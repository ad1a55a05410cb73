// =============================================================================
// 🎭 Mock LLM Provider
// =============================================================================
// 基于可注入回调的 Provider Mock，便于在测试中构造任意行为
// =============================================================================
package mocks

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/BaSui01/voicebridge/llm"
	"github.com/BaSui01/voicebridge/types"
)

// MockProvider 是 llm.Provider 的可配置 Mock 实现。
// 未设置回调时返回合理的默认值。
type MockProvider struct {
	// NameValue 是 Name() 的返回值，默认 "mock"
	NameValue string

	// CompletionFunc 自定义 Completion 行为
	CompletionFunc func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

	// HealthCheckFunc 自定义 HealthCheck 行为
	HealthCheckFunc func(ctx context.Context) (*llm.HealthStatus, error)

	completionCalls atomic.Int64
}

var _ llm.Provider = (*MockProvider)(nil)

// NewMockProvider 创建返回固定文本的 Mock Provider。
func NewMockProvider(response string) *MockProvider {
	return &MockProvider{
		NameValue: "mock",
		CompletionFunc: func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
			return &llm.ChatResponse{
				Model: req.Model,
				Choices: []llm.ChatChoice{
					{Index: 0, Message: types.NewAssistantMessage(response), FinishReason: "stop"},
				},
			}, nil
		},
	}
}

// Completion 实现 llm.Provider。
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.completionCalls.Add(1)
	if m.CompletionFunc != nil {
		return m.CompletionFunc(ctx, req)
	}
	return &llm.ChatResponse{Model: req.Model}, nil
}

// HealthCheck 实现 llm.Provider。
func (m *MockProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	if m.HealthCheckFunc != nil {
		return m.HealthCheckFunc(ctx)
	}
	return &llm.HealthStatus{Healthy: true, Latency: time.Millisecond}, nil
}

// Name 实现 llm.Provider。
func (m *MockProvider) Name() string {
	if m.NameValue != "" {
		return m.NameValue
	}
	return "mock"
}

// CompletionCalls 返回 Completion 被调用的次数。
func (m *MockProvider) CompletionCalls() int64 {
	return m.completionCalls.Load()
}
