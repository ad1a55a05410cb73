package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/voicebridge/types"
)

// =============================================================================
// 💬 LLM 响应缓存
// =============================================================================

// responseKeyPrefix 是响应缓存键的命名空间前缀。
const responseKeyPrefix = "vb:llm:resp:"

// defaultKeyWindow 是参与缓存键计算的消息窗口大小。
// 只取最近几条消息，使同一问题在不同会话阶段仍可命中。
const defaultKeyWindow = 4

// ResponseCache 按消息窗口哈希缓存 LLM 响应文本。
// 缓存故障不影响主流程：读写失败仅记录日志。
type ResponseCache struct {
	manager *Manager
	ttl     time.Duration
	window  int
	logger  *zap.Logger
}

// NewResponseCache 创建响应缓存。ttl<=0 时使用 Manager 的默认 TTL。
func NewResponseCache(manager *Manager, ttl time.Duration, logger *zap.Logger) *ResponseCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResponseCache{
		manager: manager,
		ttl:     ttl,
		window:  defaultKeyWindow,
		logger:  logger.With(zap.String("component", "response_cache")),
	}
}

// Key 计算模型与消息窗口的缓存键。
// 取最近 window 条消息的 role+content 做 SHA-256。
func (c *ResponseCache) Key(model string, msgs []types.Message) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})

	start := 0
	if len(msgs) > c.window {
		start = len(msgs) - c.window
	}
	for _, m := range msgs[start:] {
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
		h.Write([]byte{0})
	}
	return responseKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Get 查询缓存的响应文本。未命中或缓存不可用时返回 false。
func (c *ResponseCache) Get(ctx context.Context, model string, msgs []types.Message) (string, bool) {
	if c == nil || c.manager == nil {
		return "", false
	}
	key := c.Key(model, msgs)
	val, err := c.manager.Get(ctx, key)
	if err != nil {
		if !IsCacheMiss(err) {
			c.logger.Warn("response cache get failed", zap.Error(err))
		}
		return "", false
	}
	return val, true
}

// Set 写入响应文本。失败仅记录日志。
func (c *ResponseCache) Set(ctx context.Context, model string, msgs []types.Message, response string) {
	if c == nil || c.manager == nil || response == "" {
		return
	}
	key := c.Key(model, msgs)
	if err := c.manager.Set(ctx, key, response, c.ttl); err != nil {
		c.logger.Warn("response cache set failed", zap.Error(err))
	}
}
