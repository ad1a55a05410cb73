package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/voicebridge/internal/metrics"
	"github.com/BaSui01/voicebridge/internal/tlsutil"
)

// TranscriptEvent 是链路产出的一条转写结果。
type TranscriptEvent struct {
	Text        string  `json:"text"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Confidence  float64 `json:"confidence"`
}

// LinkHandlers 是链路事件的固定回调集合，构造时绑定。
// 未设置的回调按空操作处理。
type LinkHandlers struct {
	OnOpen          func()
	OnTranscript    func(TranscriptEvent)
	OnError         func(error)
	OnMetadata      func(raw json.RawMessage)
	OnSpeechStarted func()
	OnUtteranceEnd  func()
	OnClose         func()
}

// TranscriptionLink 是上游流式转写链路的统一接口。
type TranscriptionLink interface {
	// Connect 建立链路，带重试与打开确认
	Connect(ctx context.Context) error

	// SendAudio 发送一块 PCM 音频；断开期间静默丢弃，不返回错误
	SendAudio(ctx context.Context, pcm []byte) error

	// Finalize 请求上游冲刷缓冲音频并等待一个固定的结算窗口
	Finalize(ctx context.Context) error

	// Connected 返回链路当前是否可用
	Connected() bool

	// Close 主动关闭链路，不触发重连
	Close() error
}

// DeepgramConfig 配置 Deepgram 直连链路。
type DeepgramConfig struct {
	APIKey   string        `yaml:"api_key" json:"api_key"`
	BaseURL  string        `yaml:"base_url" json:"base_url"`
	Model    string        `yaml:"model" json:"model"`
	Language string        `yaml:"language" json:"language"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultDeepgramConfig 返回默认配置。
func DefaultDeepgramConfig() DeepgramConfig {
	return DeepgramConfig{
		BaseURL:  "wss://api.deepgram.com",
		Model:    "nova-2",
		Language: "en-US",
		Timeout:  120 * time.Second,
	}
}

// wsConn 抽象底层 WebSocket 连接，便于测试注入。
// *websocket.Conn 直接满足该接口。
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// dialFunc 建立一条到上游的 WebSocket 连接。
type dialFunc func(ctx context.Context) (wsConn, error)

// DeepgramLink 是基于 Deepgram /v1/listen 的 TranscriptionLink 实现。
type DeepgramLink struct {
	cfg      Config
	dgCfg    DeepgramConfig
	handlers LinkHandlers
	dial     dialFunc
	metrics  *metrics.Collector
	logger   *zap.Logger

	mu           sync.Mutex
	conn         wsConn
	connGen      int // 递增代号，标识当前连接
	connected    bool
	closed       bool
	dialing      bool // 打开确认进行中，断开由拨号方负责重试
	attemptsLeft int
	reconnecting bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewDeepgramLink 创建 Deepgram 链路。collector 可为 nil。
func NewDeepgramLink(cfg Config, dgCfg DeepgramConfig, handlers LinkHandlers, collector *metrics.Collector, logger *zap.Logger) (*DeepgramLink, error) {
	if dgCfg.APIKey == "" {
		return nil, fmt.Errorf("deepgram: api key is required")
	}
	def := DefaultDeepgramConfig()
	if dgCfg.BaseURL == "" {
		dgCfg.BaseURL = def.BaseURL
	}
	if dgCfg.Model == "" {
		dgCfg.Model = def.Model
	}
	if dgCfg.Language == "" {
		dgCfg.Language = def.Language
	}
	if dgCfg.Timeout <= 0 {
		dgCfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &DeepgramLink{
		cfg:          cfg,
		dgCfg:        dgCfg,
		handlers:     handlers,
		metrics:      collector,
		logger:       logger.With(zap.String("component", "deepgram_link")),
		attemptsLeft: cfg.ConnectRetries,
		done:         make(chan struct{}),
	}
	l.dial = l.dialUpstream
	return l, nil
}

// listenURL 构造 /v1/listen 连接地址。
func (l *DeepgramLink) listenURL() string {
	q := url.Values{}
	q.Set("model", l.dgCfg.Model)
	q.Set("language", l.dgCfg.Language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(l.cfg.SampleRate))
	q.Set("channels", strconv.Itoa(l.cfg.Channels))
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("vad_events", "true")
	q.Set("utterance_end_ms", strconv.Itoa(l.cfg.UtteranceEndMS))
	return strings.TrimRight(l.dgCfg.BaseURL, "/") + "/v1/listen?" + q.Encode()
}

func (l *DeepgramLink) dialUpstream(ctx context.Context) (wsConn, error) {
	header := http.Header{}
	header.Set("Authorization", "Token "+l.dgCfg.APIKey)

	conn, _, err := websocket.Dial(ctx, l.listenURL(), &websocket.DialOptions{
		HTTPClient: tlsutil.SecureHTTPClient(l.dgCfg.Timeout),
		HTTPHeader: header,
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 20)
	return conn, nil
}

// Connect 建立链路：按重试预算逐次拨号，成功后等待一个
// 打开确认窗口，确认读取循环没有立刻失败。
func (l *DeepgramLink) Connect(ctx context.Context) error {
	var lastErr error
	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return fmt.Errorf("deepgram: link closed")
		}
		if l.attemptsLeft <= 0 {
			l.mu.Unlock()
			if lastErr != nil {
				return fmt.Errorf("deepgram: connect retries exhausted: %w", lastErr)
			}
			return fmt.Errorf("deepgram: connect retries exhausted")
		}
		l.attemptsLeft--
		attemptsLeft := l.attemptsLeft
		l.mu.Unlock()

		if err := l.connectOnce(ctx); err != nil {
			lastErr = err
			l.logger.Warn("connect attempt failed",
				zap.Error(err),
				zap.Int("attempts_left", attemptsLeft))
			select {
			case <-time.After(l.cfg.ConnectRetryGap):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return nil
	}
}

// connectOnce 执行单次拨号与打开确认。
func (l *DeepgramLink) connectOnce(ctx context.Context) error {
	conn, err := l.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "link closed")
		return fmt.Errorf("deepgram: link closed")
	}
	prev := l.conn
	l.conn = conn
	l.connGen++
	gen := l.connGen
	l.connected = true
	l.dialing = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.dialing = false
		l.mu.Unlock()
	}()

	if prev != nil {
		// 被替换的旧连接可能仍处于半开状态
		_ = prev.Close(websocket.StatusNormalClosure, "superseded")
	}

	l.wg.Add(2)
	go l.readLoop(ctx, conn, gen)
	go l.keepAliveLoop(ctx, gen)

	// 打开确认：等待一个结算窗口，确认连接没有立刻被对端关闭
	select {
	case <-time.After(l.cfg.OpenSettle):
	case <-ctx.Done():
		return ctx.Err()
	}

	if !l.isCurrent(gen) {
		return fmt.Errorf("connection dropped during open settle")
	}

	l.logger.Info("transcription link established",
		zap.String("model", l.dgCfg.Model),
		zap.Int("sample_rate", l.cfg.SampleRate))
	if l.handlers.OnOpen != nil {
		l.handlers.OnOpen()
	}
	return nil
}

// isCurrent 检查代号 gen 的连接是否仍是当前活跃连接。
func (l *DeepgramLink) isCurrent(gen int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected && l.connGen == gen
}

// Connected 返回链路当前是否可用。
func (l *DeepgramLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected && !l.closed
}

// SendAudio 发送一块 PCM 音频。断开期间记录日志并丢弃，不报错。
func (l *DeepgramLink) SendAudio(ctx context.Context, pcm []byte) error {
	l.mu.Lock()
	conn := l.conn
	ok := l.connected && !l.closed
	l.mu.Unlock()

	if !ok {
		l.logger.Debug("dropping audio while disconnected", zap.Int("bytes", len(pcm)))
		return nil
	}
	if err := conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
		// 写失败视同断开征兆；读取循环负责善后
		l.logger.Warn("audio write failed, dropping chunk", zap.Error(err))
	}
	return nil
}

// controlMessage 是发往上游的 JSON 控制消息。
type controlMessage struct {
	Type string `json:"type"`
}

func (l *DeepgramLink) writeControl(ctx context.Context, msgType string) error {
	l.mu.Lock()
	conn := l.conn
	ok := l.connected && !l.closed
	l.mu.Unlock()

	if !ok {
		return fmt.Errorf("deepgram: not connected")
	}
	data, _ := json.Marshal(controlMessage{Type: msgType})
	return conn.Write(ctx, websocket.MessageText, data)
}

// Finalize 发送原生 Finalize 并等待结算窗口，给上游交付
// 最终转写的机会。结算后的回退决策由调用方执行。
func (l *DeepgramLink) Finalize(ctx context.Context) error {
	if err := l.writeControl(ctx, "Finalize"); err != nil {
		l.logger.Warn("finalize message not sent", zap.Error(err))
	}

	select {
	case <-time.After(l.cfg.FinalizeSettle):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 主动关闭链路；不会触发重连。
func (l *DeepgramLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.connected = false
	conn := l.conn
	close(l.done)
	l.mu.Unlock()

	if conn != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		data, _ := json.Marshal(controlMessage{Type: "CloseStream"})
		_ = conn.Write(closeCtx, websocket.MessageText, data)
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "session ended")
	}
	l.wg.Wait()
	l.logger.Info("transcription link closed")
	return nil
}

// =============================================================================
// 🌐 读取循环与事件分发
// =============================================================================

// deepgramMessage 覆盖 /v1/listen 下行 JSON 消息的公共字段。
type deepgramMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	SpeechFinal bool `json:"speech_final"`
}

func (l *DeepgramLink) readLoop(ctx context.Context, conn wsConn, gen int) {
	defer l.wg.Done()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			l.handleDisconnect(ctx, gen, err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		l.dispatch(data)
	}
}

// dispatch 解析下行消息并调用对应回调。
func (l *DeepgramLink) dispatch(data []byte) {
	var msg deepgramMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		l.logger.Warn("unparseable upstream message", zap.Error(err))
		return
	}

	switch msg.Type {
	case "Results":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}
		if l.handlers.OnTranscript != nil {
			l.handlers.OnTranscript(TranscriptEvent{
				Text:        alt.Transcript,
				IsFinal:     msg.IsFinal,
				SpeechFinal: msg.SpeechFinal,
				Confidence:  alt.Confidence,
			})
		}
	case "UtteranceEnd":
		if l.handlers.OnUtteranceEnd != nil {
			l.handlers.OnUtteranceEnd()
		}
	case "SpeechStarted":
		if l.handlers.OnSpeechStarted != nil {
			l.handlers.OnSpeechStarted()
		}
	case "Metadata":
		if l.handlers.OnMetadata != nil {
			l.handlers.OnMetadata(json.RawMessage(data))
		}
	case "Error":
		err := fmt.Errorf("deepgram: upstream error: %s", string(data))
		l.logger.Error("upstream error message", zap.String("payload", string(data)))
		if l.handlers.OnError != nil {
			l.handlers.OnError(err)
		}
	default:
		l.logger.Debug("unhandled upstream message", zap.String("type", msg.Type))
	}
}

// handleDisconnect 处理连接意外断开：标记不可用、通知回调，
// 并在重试预算允许时安排一次重连。
func (l *DeepgramLink) handleDisconnect(ctx context.Context, gen int, cause error) {
	l.mu.Lock()
	if l.closed || l.connGen != gen {
		// 主动关闭或已被新连接替换
		l.mu.Unlock()
		return
	}
	l.connected = false
	if l.dialing {
		// 打开确认期间的断开由正在进行的拨号方按预算重试，
		// 这里不再并行安排重连
		l.mu.Unlock()
		l.logger.Warn("transcription link lost during open settle", zap.Error(cause))
		if l.handlers.OnClose != nil {
			l.handlers.OnClose()
		}
		return
	}
	canRetry := l.attemptsLeft > 0 && !l.reconnecting && ctx.Err() == nil
	if canRetry {
		l.reconnecting = true
	}
	l.mu.Unlock()

	l.logger.Warn("transcription link lost", zap.Error(cause))
	if l.handlers.OnClose != nil {
		l.handlers.OnClose()
	}

	if !canRetry {
		if l.handlers.OnError != nil {
			l.handlers.OnError(fmt.Errorf("deepgram: link lost without retry budget: %w", cause))
		}
		return
	}

	// 每次断开至多安排一次重连，与连接重试共享预算
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			l.mu.Lock()
			l.reconnecting = false
			l.mu.Unlock()
		}()

		select {
		case <-time.After(l.cfg.ConnectRetryGap):
		case <-l.done:
			return
		case <-ctx.Done():
			return
		}

		if l.metrics != nil {
			l.metrics.RecordLinkReconnect()
		}
		l.logger.Info("attempting transcription link reconnect")

		l.mu.Lock()
		if l.closed || l.attemptsLeft <= 0 {
			l.mu.Unlock()
			return
		}
		l.attemptsLeft--
		l.mu.Unlock()

		if err := l.connectOnce(ctx); err != nil {
			l.logger.Error("reconnect failed", zap.Error(err))
			if l.handlers.OnError != nil {
				l.handlers.OnError(fmt.Errorf("deepgram: reconnect failed: %w", err))
			}
		}
	}()
}

// keepAliveLoop 周期性发送 KeepAlive，防止上游空闲超时断开。
func (l *DeepgramLink) keepAliveLoop(ctx context.Context, gen int) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.KeepAlivePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-ticker.C:
			if !l.isCurrent(gen) {
				return
			}
			if err := l.writeControl(ctx, "KeepAlive"); err != nil {
				l.logger.Debug("keep-alive not sent", zap.Error(err))
				return
			}
		}
	}
}
