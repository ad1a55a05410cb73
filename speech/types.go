// Package speech 提供文本转语音（TTS）的统一接口与 ElevenLabs 实现。
package speech

import (
	"context"
	"time"
)

// TTSRequest 表示一次语音合成请求。
type TTSRequest struct {
	Text         string            `json:"text"`                    // 要合成的文本
	Model        string            `json:"model,omitempty"`         // 模型 ID
	Voice        string            `json:"voice,omitempty"`         // 声音 ID
	OutputFormat string            `json:"output_format,omitempty"` // 输出格式，如 pcm_16000
	Language     string            `json:"language,omitempty"`      // 语言代码
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// TTSResponse 表示一次完整合成的结果。
type TTSResponse struct {
	Provider  string        `json:"provider"`
	Model     string        `json:"model"`
	AudioData []byte        `json:"-"`      // 完整音频数据
	Format    string        `json:"format"` // 实际输出格式
	CharCount int           `json:"char_count"`
	Duration  time.Duration `json:"duration"` // 合成耗时
	CreatedAt time.Time     `json:"created_at"`
}

// AudioChunk 是流式合成的增量结果。Err 非空表示流已失败并随即关闭。
type AudioChunk struct {
	Data []byte
	Err  error
}

// Voice 描述一个可用声音。
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Language string `json:"language,omitempty"`
}

// TTSProvider 定义 TTS 提供商的统一接口。
type TTSProvider interface {
	// Synthesize 合成完整音频并一次性返回
	Synthesize(ctx context.Context, req *TTSRequest) (*TTSResponse, error)

	// SynthesizeStream 流式合成，按到达顺序产出原始音频块；
	// 通道在流结束或失败后关闭
	SynthesizeStream(ctx context.Context, req *TTSRequest) (<-chan AudioChunk, error)

	// ListVoices 列出可用声音
	ListVoices(ctx context.Context) ([]Voice, error)

	// Name 返回提供商标识
	Name() string
}
