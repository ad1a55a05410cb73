// =============================================================================
// 📦 VoiceBridge 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/voicebridge/speech"
	"github.com/BaSui01/voicebridge/voice"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Assistant:  DefaultAssistantConfig(),
		Voice:      voice.DefaultConfig(),
		Deepgram:   voice.DefaultDeepgramConfig(),
		ElevenLabs: speech.DefaultElevenLabsConfig(),
		LLM:        DefaultLLMConfig(),
		Redis:      DefaultRedisConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:         8080,
		MetricsPort:      9091,
		ReadTimeout:      30 * time.Second,
		WriteTimeout:     30 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		RateLimitRPS:     100,
		RateLimitBurst:   200,
		AllowQueryAPIKey: true,
	}
}

// DefaultAssistantConfig 返回默认助手配置
func DefaultAssistantConfig() AssistantConfig {
	return AssistantConfig{
		Name:             "voicebridge",
		SystemPrompt:     "You are a helpful voice assistant. Keep your answers short and conversational.",
		Model:            "gpt-4o-mini",
		MaxHistoryTokens: 8000,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		DefaultProvider: "openai",
		APIKey:          "",
		BaseURL:         "",
		Timeout:         60 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:     false,
		Addr:        "localhost:6379",
		Password:    "",
		DB:          0,
		ResponseTTL: 10 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "voicebridge",
		SampleRate:   0.1,
	}
}
