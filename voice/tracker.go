package voice

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Tracker 追踪单个语音段的转写终结状态。
// 保存最近一次非空中间转写及其时间，并保证每个语音段
// 至多产生一次已终结文本（原生最终转写或中间转写回退）。
type Tracker struct {
	mu            sync.Mutex
	lastInterim   string
	lastInterimAt time.Time
	resolved      bool

	interimMaxAge   time.Duration
	inactivityReset time.Duration

	now    func() time.Time
	logger *zap.Logger
}

// NewTracker 创建转写终结追踪器。
func NewTracker(cfg Config, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		interimMaxAge:   cfg.InterimMaxAge,
		inactivityReset: cfg.InactivityReset,
		now:             time.Now,
		logger:          logger.With(zap.String("component", "tracker")),
	}
}

// RecordInterim 记录一条中间转写。空文本被忽略。
func (t *Tracker) RecordInterim(text string) {
	if text == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastInterim = text
	t.lastInterimAt = t.now()
}

// RecordFinal 消费一条最终转写。
// 空文本或本段已终结时返回 false；成功消费恰好一次并清空中间状态。
func (t *Tracker) RecordFinal(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.resolved {
		t.logger.Debug("duplicate final transcript ignored", zap.String("text", text))
		return "", false
	}
	t.resolved = true
	t.lastInterim = ""
	return text, true
}

// ConsumeFallback 在最终转写缺席时消费最近的中间转写。
// 仅当本段尚未终结、存在中间转写且其年龄小于 InterimMaxAge 时成功。
func (t *Tracker) ConsumeFallback() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.resolved || t.lastInterim == "" {
		return "", false
	}
	age := t.now().Sub(t.lastInterimAt)
	if age >= t.interimMaxAge {
		t.logger.Debug("interim too old for fallback",
			zap.Duration("age", age),
			zap.Duration("max_age", t.interimMaxAge))
		return "", false
	}

	text := t.lastInterim
	t.resolved = true
	t.lastInterim = ""
	t.logger.Info("using interim transcript as fallback",
		zap.String("text", text),
		zap.Duration("age", age))
	return text, true
}

// ObserveAudio 在每个入站音频块上调用。
// 距最近中间转写超过 InactivityReset 的静默视为新语音段开始，
// 清除去重标记。
func (t *Tracker) ObserveAudio() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.resolved {
		return
	}
	if t.now().Sub(t.lastInterimAt) > t.inactivityReset {
		t.resolved = false
	}
}

// Resolved 返回本段是否已终结。
func (t *Tracker) Resolved() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resolved
}

// HasInterim 返回是否持有待回退的中间转写。
func (t *Tracker) HasInterim() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastInterim != ""
}
