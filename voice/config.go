// 软件包 voice 实现实时语音桥接的核心会话管线：
// 转写链路、转写终结追踪、轮次控制与音频桥接。
package voice

import "time"

// Config 配置语音会话管线。
type Config struct {
	// 音频参数
	SampleRate int `yaml:"sample_rate" json:"sample_rate"` // PCM 采样率
	Channels   int `yaml:"channels" json:"channels"`       // 声道数

	// 转写链路
	KeepAlivePeriod time.Duration `yaml:"keep_alive_period" json:"keep_alive_period"` // KeepAlive 发送间隔
	ConnectRetries  int           `yaml:"connect_retries" json:"connect_retries"`     // 连接重试预算
	ConnectRetryGap time.Duration `yaml:"connect_retry_gap" json:"connect_retry_gap"` // 重试间隔
	OpenSettle      time.Duration `yaml:"open_settle" json:"open_settle"`             // 连接后确认等待
	UtteranceEndMS  int           `yaml:"utterance_end_ms" json:"utterance_end_ms"`   // 上游断句窗口

	// 终结协议
	FinalizeSettle  time.Duration `yaml:"finalize_settle" json:"finalize_settle"`   // Finalize 后等待最终转写的窗口
	InterimMaxAge   time.Duration `yaml:"interim_max_age" json:"interim_max_age"`   // 中间转写回退的最大年龄
	InactivityReset time.Duration `yaml:"inactivity_reset" json:"inactivity_reset"` // 静默后重置去重标记

	// 桥接
	QueueSize    int           `yaml:"queue_size" json:"queue_size"`         // 队列容量
	PollTimeout  time.Duration `yaml:"poll_timeout" json:"poll_timeout"`     // 排空循环的轮询上限
	ChunkSize    int           `yaml:"chunk_size" json:"chunk_size"`         // 出站音频块目标大小
	MaxTurnLimit time.Duration `yaml:"max_turn_limit" json:"max_turn_limit"` // 单轮生成与播报的总时限
}

// DefaultConfig 返回默认会话配置。
// FinalizeSettle 必须大于 UtteranceEndMS 对应的窗口，
// 以便上游有机会先交付原生最终转写。
func DefaultConfig() Config {
	return Config{
		SampleRate:      16000,
		Channels:        1,
		KeepAlivePeriod: 8 * time.Second,
		ConnectRetries:  3,
		ConnectRetryGap: 1 * time.Second,
		OpenSettle:      500 * time.Millisecond,
		UtteranceEndMS:  1000,
		FinalizeSettle:  1500 * time.Millisecond,
		InterimMaxAge:   3 * time.Second,
		InactivityReset: 3 * time.Second,
		QueueSize:       100,
		PollTimeout:     100 * time.Millisecond,
		ChunkSize:       3200, // 100ms @ 16kHz s16le mono
		MaxTurnLimit:    60 * time.Second,
	}
}
