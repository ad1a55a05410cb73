package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/voicebridge/conversation"
	"github.com/BaSui01/voicebridge/internal/cache"
	"github.com/BaSui01/voicebridge/internal/metrics"
	"github.com/BaSui01/voicebridge/llm"
	"github.com/BaSui01/voicebridge/speech"
)

// clientConn 抽象面向客户端的 WebSocket 连接，便于测试注入。
// *websocket.Conn 天然满足该接口。
type clientConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// clientMessage 是客户端控制消息的线格式。
type clientMessage struct {
	Type   string `json:"type"`
	Prompt string `json:"prompt,omitempty"`
}

// serverMessage 是服务端事件消息的线格式。
type serverMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// SessionDeps 聚合会话的外部依赖。Cache 与 Metrics 可为 nil。
type SessionDeps struct {
	Provider llm.Provider
	TTS      speech.TTSProvider
	Cache    *cache.ResponseCache
	Metrics  *metrics.Collector
	Logger   *zap.Logger
}

// SessionConfig 是单个会话的完整配置。
// MaxHistoryTokens 为 0 时不做历史裁剪。
type SessionConfig struct {
	Voice            Config
	Deepgram         DeepgramConfig
	SystemPrompt     string
	Model            string
	MaxHistoryTokens int
}

// Session 将一条客户端 WebSocket 连接与完整的语音管线绑定：
// 入站音频经桥接送往转写链路，轮次控制器消费已终结转写
// 并把合成音频经桥接写回客户端。每条连接一个会话。
type Session struct {
	id   string
	conn clientConn
	cfg  SessionConfig
	deps SessionDeps

	link    *DeepgramLink
	tracker *Tracker
	bridge  *Bridge
	history *conversation.History
	turns   *TurnController

	ctx    context.Context
	cancel context.CancelFunc

	writeMu   sync.Mutex
	closeOnce sync.Once

	logger *zap.Logger
}

// NewSession 装配一个会话的全部管线组件。此时尚未建立上游链路。
func NewSession(conn clientConn, cfg SessionConfig, deps SessionDeps) (*Session, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	logger = logger.With(zap.String("session_id", id))

	s := &Session{
		id:     id,
		conn:   conn,
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(zap.String("component", "session")),
	}

	s.tracker = NewTracker(cfg.Voice, logger)
	s.history = conversation.NewHistory(cfg.SystemPrompt, logger,
		conversation.WithMaxTokens(cfg.MaxHistoryTokens))

	link, err := NewDeepgramLink(cfg.Voice, cfg.Deepgram, LinkHandlers{
		OnOpen:          s.onLinkOpen,
		OnTranscript:    s.onTranscript,
		OnError:         s.onLinkError,
		OnMetadata:      s.onMetadata,
		OnSpeechStarted: s.onSpeechStarted,
		OnUtteranceEnd:  s.onUtteranceEnd,
		OnClose:         s.onLinkClose,
	}, deps.Metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("build transcription link: %w", err)
	}
	s.link = link

	s.bridge = NewBridge(cfg.Voice, s.forwardInbound, s.emitOutbound, deps.Metrics, logger)
	s.turns = NewTurnController(cfg.Voice, cfg.Model, TurnDeps{
		History:   s.history,
		Provider:  deps.Provider,
		TTS:       deps.TTS,
		Tracker:   s.tracker,
		Finalizer: s.link,
		Emit:      s.bridge.EnqueueOutbound,
		Cache:     deps.Cache,
		Metrics:   deps.Metrics,
		Logger:    logger,
	})
	return s, nil
}

// ID 返回会话标识。
func (s *Session) ID() string {
	return s.id
}

// Run 驱动会话直至客户端断开或上下文取消。
// 上游链路建立失败是致命错误；之后的链路中断由链路自身重连，
// 会话保持存活。
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.ctx = ctx
	s.cancel = cancel
	defer cancel()

	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordSessionStart()
		defer s.deps.Metrics.RecordSessionEnd()
	}
	s.logger.Info("session started")

	if err := s.link.Connect(ctx); err != nil {
		s.logger.Error("transcription link unavailable", zap.Error(err))
		s.sendEvent(ctx, serverMessage{Type: "error", Message: "transcription service unavailable"})
		_ = s.conn.Close(websocket.StatusInternalError, "transcription unavailable")
		return fmt.Errorf("connect transcription link: %w", err)
	}

	s.bridge.Start(ctx)
	s.sendEvent(ctx, serverMessage{Type: "ready", Message: "Voice session ready"})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readClient(gctx) })
	err := g.Wait()

	s.teardown()
	s.logger.Info("session ended", zap.Error(err))
	return err
}

// Close 主动终止会话。
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
}

// teardown 按依赖顺序收尾：先取消会话上下文让在途轮次尽快退出，
// 再停入站链路，等轮次收敛后冲刷出站。
func (s *Session) teardown() {
	if s.cancel != nil {
		s.cancel()
	}
	_ = s.link.Close()
	s.turns.Wait()
	s.bridge.Close()
}

// readClient 消费客户端帧：二进制帧是音频，文本帧是控制消息。
func (s *Session) readClient(ctx context.Context) error {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read client frame: %w", err)
		}

		switch typ {
		case websocket.MessageBinary:
			s.bridge.EnqueueInbound(data)
		case websocket.MessageText:
			s.handleControl(ctx, data)
		}
	}
}

// handleControl 分发客户端控制消息。未知类型仅记录，不中断会话。
func (s *Session) handleControl(ctx context.Context, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("malformed control message", zap.Error(err))
		return
	}

	switch msg.Type {
	case "ping":
		s.sendEvent(ctx, serverMessage{Type: "pong"})
	case "user_started_speaking":
		s.turns.OnSpeechStarted()
	case "user_stopped_speaking":
		s.turns.OnStopSpeaking(ctx)
	case "clear":
		s.history.Clear(true)
		s.sendEvent(ctx, serverMessage{Type: "cleared", Message: "Conversation cleared"})
	case "set_prompt":
		s.history.SetSystemPrompt(msg.Prompt)
		s.sendEvent(ctx, serverMessage{Type: "prompt_updated"})
	default:
		s.logger.Warn("unknown control message", zap.String("type", msg.Type))
	}
}

// forwardInbound 是桥接的入站处理：记录活动并送往转写链路。
func (s *Session) forwardInbound(ctx context.Context, pcm []byte) error {
	s.tracker.ObserveAudio()
	s.turns.OnAudio()
	return s.link.SendAudio(ctx, pcm)
}

// emitOutbound 是桥接的出站写回：合成音频以二进制帧发往客户端。
func (s *Session) emitOutbound(ctx context.Context, pcm []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(ctx, websocket.MessageBinary, pcm)
}

// sendEvent 向客户端发送一条 JSON 事件消息。
func (s *Session) sendEvent(ctx context.Context, msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("marshal server message", zap.Error(err))
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.logger.Warn("send event failed", zap.String("type", msg.Type), zap.Error(err))
	}
}

func (s *Session) onLinkOpen() {
	s.logger.Info("transcription link open")
}

func (s *Session) onTranscript(ev TranscriptEvent) {
	if ev.IsFinal {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordTranscriptEvent("final")
		}
		if text, ok := s.tracker.RecordFinal(ev.Text); ok {
			s.turns.Resolve(s.ctx, text)
		}
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordTranscriptEvent("interim")
	}
	s.tracker.RecordInterim(ev.Text)
}

func (s *Session) onLinkError(err error) {
	s.logger.Warn("transcription link error", zap.Error(err))
	if s.ctx != nil {
		s.sendEvent(s.ctx, serverMessage{Type: "error", Message: "transcription error"})
	}
}

func (s *Session) onMetadata(raw json.RawMessage) {
	s.logger.Debug("transcription metadata", zap.Int("bytes", len(raw)))
}

func (s *Session) onSpeechStarted() {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordTranscriptEvent("speech_started")
	}
	s.turns.OnSpeechStarted()
}

func (s *Session) onUtteranceEnd() {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordTranscriptEvent("utterance_end")
	}
	if s.ctx != nil {
		s.turns.OnStopSpeaking(s.ctx)
	}
}

func (s *Session) onLinkClose() {
	s.logger.Info("transcription link closed")
}
