package handlers

import (
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/voicebridge/voice"
)

// =============================================================================
// 🎤 语音 WebSocket Handler
// =============================================================================

// VoiceHandler 接入客户端 WebSocket 并为每条连接运行一个语音会话。
type VoiceHandler struct {
	cfg    voice.SessionConfig
	deps   voice.SessionDeps
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*voice.Session
}

// NewVoiceHandler 创建语音处理器。
func NewVoiceHandler(cfg voice.SessionConfig, deps voice.SessionDeps, logger *zap.Logger) *VoiceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VoiceHandler{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.With(zap.String("component", "voice_handler")),
		sessions: make(map[string]*voice.Session),
	}
}

// ActiveSessions 返回当前活跃会话数。
func (h *VoiceHandler) ActiveSessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// HandleWebSocket 处理 /ws 升级请求。
// 会话在连接的生命周期内独占一条 goroutine。
func (h *VoiceHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	session, err := voice.NewSession(conn, h.cfg, h.deps)
	if err != nil {
		h.logger.Error("session setup failed", zap.Error(err))
		_ = conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}

	h.register(session)
	defer h.unregister(session)
	// Run 返回后连接可能仍处于半开状态，统一由 Close 收尾
	defer session.Close()

	if err := session.Run(r.Context()); err != nil {
		h.logger.Warn("session ended with error",
			zap.String("session_id", session.ID()), zap.Error(err))
	}
}

func (h *VoiceHandler) register(s *voice.Session) {
	h.mu.Lock()
	h.sessions[s.ID()] = s
	h.mu.Unlock()
}

func (h *VoiceHandler) unregister(s *voice.Session) {
	h.mu.Lock()
	delete(h.sessions, s.ID())
	h.mu.Unlock()
}

// CloseAll 主动终止全部活跃会话，用于优雅关闭。
func (h *VoiceHandler) CloseAll() {
	h.mu.Lock()
	sessions := make([]*voice.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// =============================================================================
// ℹ️ 服务信息
// =============================================================================

// ServiceInfo 是根端点的服务描述。
type ServiceInfo struct {
	Service   string            `json:"service"`
	Websocket string            `json:"websocket"`
	Audio     map[string]any    `json:"audio"`
	Endpoints map[string]string `json:"endpoints"`
}

// HandleInfo 处理根路径请求，返回服务描述。
func (h *VoiceHandler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		WriteJSON(w, http.StatusNotFound, Response{Success: false})
		return
	}

	info := ServiceInfo{
		Service:   "voicebridge",
		Websocket: "/ws",
		Audio: map[string]any{
			"encoding":    "linear16",
			"sample_rate": h.cfg.Voice.SampleRate,
			"channels":    h.cfg.Voice.Channels,
		},
		Endpoints: map[string]string{
			"health":  "/health",
			"ready":   "/ready",
			"version": "/version",
			"ws":      "/ws",
		},
	}
	WriteSuccess(w, info)
}
