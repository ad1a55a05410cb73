package speech

import "time"

// ElevenLabsConfig 配置 ElevenLabs TTS 提供商。
type ElevenLabsConfig struct {
	APIKey       string        `yaml:"api_key" json:"api_key"`
	BaseURL      string        `yaml:"base_url" json:"base_url"`
	Model        string        `yaml:"model" json:"model"`
	VoiceID      string        `yaml:"voice_id" json:"voice_id"`
	OutputFormat string        `yaml:"output_format" json:"output_format"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultElevenLabsConfig 返回默认配置。
// 输出格式 pcm_16000 与链路的 16kHz s16le 单声道音频对齐。
func DefaultElevenLabsConfig() ElevenLabsConfig {
	return ElevenLabsConfig{
		BaseURL:      "https://api.elevenlabs.io",
		Model:        "eleven_multilingual_v2",
		VoiceID:      "21m00Tcm4TlvDq8ikWAM", // Rachel
		OutputFormat: "pcm_16000",
		Timeout:      60 * time.Second,
	}
}
