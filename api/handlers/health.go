package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// KeyReport 报告上游服务凭据是否已配置。
type KeyReport struct {
	Deepgram   bool `json:"deepgram"`
	ElevenLabs bool `json:"elevenlabs"`
	LLM        bool `json:"llm"`
}

// Configured 报告是否所有必需凭据均已配置。
func (k KeyReport) Configured() bool {
	return k.Deepgram && k.ElevenLabs && k.LLM
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger *zap.Logger
	keys   KeyReport
	active func() int // 活跃语音会话计数
	checks []HealthCheck
	mu     sync.RWMutex
}

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status            string                 `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp         time.Time              `json:"timestamp"`
	Version           string                 `json:"version,omitempty"`
	APIKeysConfigured KeyReport              `json:"api_keys_configured"`
	ActiveConnections int                    `json:"active_connections"`
	Checks            map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status  string `json:"status"` // "pass", "fail"
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// NewHealthHandler 创建健康检查处理器。
// active 为活跃会话计数回调，可为 nil。
func NewHealthHandler(keys KeyReport, active func() int, logger *zap.Logger) *HealthHandler {
	if active == nil {
		active = func() int { return 0 }
	}
	return &HealthHandler{
		logger: logger,
		keys:   keys,
		active: active,
		checks: make([]HealthCheck, 0),
	}
}

// RegisterCheck 注册健康检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 处理 /health 请求。
// 任一上游凭据缺失时服务降级，返回 503。
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:            "healthy",
		Timestamp:         time.Now(),
		APIKeysConfigured: h.keys,
		ActiveConnections: h.active(),
	}

	if !h.keys.Configured() {
		status.Status = "degraded"
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}

	WriteJSON(w, http.StatusOK, status)
}

// HandleHealthz 处理 /healthz 请求（Kubernetes 活跃度探针）。
// 只检查进程是否存活，不看上游凭据。
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:            "healthy",
		Timestamp:         time.Now(),
		APIKeysConfigured: h.keys,
		ActiveConnections: h.active(),
	}

	WriteJSON(w, http.StatusOK, status)
}

// HandleReady 处理 /ready 请求（就绪检查），运行全部注册的检查。
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:            "healthy",
		Timestamp:         time.Now(),
		APIKeysConfigured: h.keys,
		ActiveConnections: h.active(),
		Checks:            make(map[string]CheckResult),
	}

	allHealthy := h.keys.Configured()
	if !allHealthy {
		status.Status = "degraded"
	}

	for _, check := range checks {
		start := time.Now()
		err := check.Check(ctx)
		latency := time.Since(start)

		result := CheckResult{
			Status:  "pass",
			Latency: latency.String(),
		}

		if err != nil {
			result.Status = "fail"
			result.Message = err.Error()
			allHealthy = false

			h.logger.Warn("health check failed",
				zap.String("check", check.Name()),
				zap.Error(err),
				zap.Duration("latency", latency),
			)
		}

		status.Checks[check.Name()] = result
	}

	if !allHealthy {
		if status.Status == "healthy" {
			status.Status = "unhealthy"
		}
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	}

	WriteJSON(w, http.StatusOK, status)
}

// HandleVersion 处理 /version 请求
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info := map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		}

		WriteSuccess(w, info)
	}
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

// PingHealthCheck 包装一个 ping 函数作为健康检查，
// 用于 Redis 等带连接探活的依赖。
type PingHealthCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingHealthCheck 创建 ping 健康检查
func NewPingHealthCheck(name string, ping func(ctx context.Context) error) *PingHealthCheck {
	return &PingHealthCheck{
		name: name,
		ping: ping,
	}
}

func (c *PingHealthCheck) Name() string {
	return c.name
}

func (c *PingHealthCheck) Check(ctx context.Context) error {
	return c.ping(ctx)
}
