// =============================================================================
// 🎭 Mock TTS Provider
// =============================================================================
// 基于可注入回调的 TTSProvider Mock
// =============================================================================
package mocks

import (
	"context"
	"sync/atomic"

	"github.com/BaSui01/voicebridge/speech"
)

// MockSynthesizer 是 speech.TTSProvider 的可配置 Mock 实现。
// 默认流式合成按固定块大小产出 Audio 中的字节。
type MockSynthesizer struct {
	// NameValue 是 Name() 的返回值，默认 "mock-tts"
	NameValue string

	// Audio 是默认合成输出的音频字节
	Audio []byte

	// ChunkSize 是默认流式输出的块大小，默认 4
	ChunkSize int

	// SynthesizeFunc 自定义 Synthesize 行为
	SynthesizeFunc func(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error)

	// StreamFunc 自定义 SynthesizeStream 行为
	StreamFunc func(ctx context.Context, req *speech.TTSRequest) (<-chan speech.AudioChunk, error)

	streamCalls atomic.Int64
}

var _ speech.TTSProvider = (*MockSynthesizer)(nil)

// NewMockSynthesizer 创建输出固定音频的 Mock 合成器。
func NewMockSynthesizer(audio []byte) *MockSynthesizer {
	return &MockSynthesizer{NameValue: "mock-tts", Audio: audio, ChunkSize: 4}
}

// Synthesize 实现 speech.TTSProvider。
func (m *MockSynthesizer) Synthesize(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, req)
	}
	return &speech.TTSResponse{Provider: m.Name(), AudioData: m.Audio}, nil
}

// SynthesizeStream 实现 speech.TTSProvider。
func (m *MockSynthesizer) SynthesizeStream(ctx context.Context, req *speech.TTSRequest) (<-chan speech.AudioChunk, error) {
	m.streamCalls.Add(1)
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}

	size := m.ChunkSize
	if size <= 0 {
		size = 4
	}
	ch := make(chan speech.AudioChunk, len(m.Audio)/size+1)
	go func() {
		defer close(ch)
		for off := 0; off < len(m.Audio); off += size {
			end := off + size
			if end > len(m.Audio) {
				end = len(m.Audio)
			}
			select {
			case ch <- speech.AudioChunk{Data: m.Audio[off:end]}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// ListVoices 实现 speech.TTSProvider。
func (m *MockSynthesizer) ListVoices(ctx context.Context) ([]speech.Voice, error) {
	return []speech.Voice{{ID: "mock-voice", Name: "Mock Voice"}}, nil
}

// Name 实现 speech.TTSProvider。
func (m *MockSynthesizer) Name() string {
	if m.NameValue != "" {
		return m.NameValue
	}
	return "mock-tts"
}

// StreamCalls 返回 SynthesizeStream 被调用的次数。
func (m *MockSynthesizer) StreamCalls() int64 {
	return m.streamCalls.Load()
}
