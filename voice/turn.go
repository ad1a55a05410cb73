package voice

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/BaSui01/voicebridge/conversation"
	"github.com/BaSui01/voicebridge/internal/cache"
	"github.com/BaSui01/voicebridge/internal/metrics"
	"github.com/BaSui01/voicebridge/llm"
	"github.com/BaSui01/voicebridge/speech"
	"github.com/BaSui01/voicebridge/types"
)

// 用户消息的来源标注：正常终结转写 vs 中间转写回退。
const (
	sourceTranscript      = "transcript"
	sourceInterimFallback = "fallback_interim"
)

// TurnState 是轮次控制器的状态。
type TurnState string

const (
	TurnIdle       TurnState = "idle"       // 等待语音
	TurnListening  TurnState = "listening"  // 正在接收音频
	TurnFinalizing TurnState = "finalizing" // 等待转写终结
	TurnGenerating TurnState = "generating" // 正在生成回复
	TurnSpeaking   TurnState = "speaking"   // 正在播报回复
)

// Finalizer 触发上游转写终结。
type Finalizer interface {
	Finalize(ctx context.Context) error
}

// TurnDeps 聚合轮次控制器的协作者。Cache 与 Metrics 可为 nil。
type TurnDeps struct {
	History   *conversation.History
	Provider  llm.Provider
	TTS       speech.TTSProvider
	Tracker   *Tracker
	Finalizer Finalizer
	Emit      func(Frame) // 出站帧入队
	Cache     *cache.ResponseCache
	Metrics   *metrics.Collector
	Logger    *zap.Logger
}

// TurnController 驱动单个会话的对话轮次状态机：
// Idle → Listening → Finalizing → Generating → Speaking → Idle。
// 每个已终结语音段恰好生成一次回复；播报期间不响应打断，
// 新语音开启下一段但不取消在途工作。
type TurnController struct {
	cfg   Config
	model string
	deps  TurnDeps

	mu    sync.Mutex
	state TurnState

	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewTurnController 创建轮次控制器。model 为空时由 Provider 选默认模型。
func NewTurnController(cfg Config, model string, deps TurnDeps) *TurnController {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TurnController{
		cfg:    cfg,
		model:  model,
		deps:   deps,
		state:  TurnIdle,
		logger: logger.With(zap.String("component", "turn")),
	}
}

// State 返回当前状态。
func (c *TurnController) State() TurnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *TurnController) setState(s TurnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// OnSpeechStarted 处理语音开始信号。空闲时进入 Listening；
// 生成或播报期间忽略（不打断在途轮次）。
func (c *TurnController) OnSpeechStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == TurnIdle {
		c.state = TurnListening
	}
}

// OnAudio 处理入站音频：空闲时视为语音开始。
func (c *TurnController) OnAudio() {
	c.OnSpeechStarted()
}

// OnStopSpeaking 处理语音结束信号：触发终结协议并等待终结转写。
// 结算窗口结束后若上游未交付最终转写，消费追踪器的中间转写回退；
// 两者皆空则本轮为空轮，直接回到空闲。
func (c *TurnController) OnStopSpeaking(ctx context.Context) {
	c.mu.Lock()
	if c.state != TurnIdle && c.state != TurnListening {
		c.mu.Unlock()
		return
	}
	c.state = TurnFinalizing
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		if err := c.deps.Finalizer.Finalize(ctx); err != nil {
			c.logger.Warn("finalize interrupted", zap.Error(err))
		}

		if text, ok := c.deps.Tracker.ConsumeFallback(); ok {
			if c.deps.Metrics != nil {
				c.deps.Metrics.RecordTranscriptEvent("fallback")
			}
			c.resolve(ctx, text, sourceInterimFallback)
			return
		}

		// 结算窗口内可能已有最终转写把状态推进到 Generating
		c.mu.Lock()
		if c.state == TurnFinalizing {
			c.state = TurnIdle
			c.mu.Unlock()
			c.logger.Debug("turn resolved empty")
			if c.deps.Metrics != nil {
				c.deps.Metrics.RecordTurn("empty", 0)
			}
			return
		}
		c.mu.Unlock()
	}()
}

// Resolve 消费一条已终结的用户转写并驱动一轮生成与播报。
// 在途轮次存在时调用无效（追踪器的段内去重已保证至多一次）。
func (c *TurnController) Resolve(ctx context.Context, text string) {
	c.resolve(ctx, text, sourceTranscript)
}

// resolve 记录转写来源后启动轮次。
func (c *TurnController) resolve(ctx context.Context, text, source string) {
	if text == "" {
		return
	}
	c.mu.Lock()
	if c.state == TurnGenerating || c.state == TurnSpeaking {
		c.mu.Unlock()
		c.logger.Warn("resolution ignored, turn already in flight", zap.String("text", text))
		return
	}
	c.state = TurnGenerating
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runTurn(ctx, text, source)
	}()
}

// Wait 等待所有在途轮次结束。
func (c *TurnController) Wait() {
	c.wg.Wait()
}

// runTurn 执行一轮完整的生成与播报。任何失败都只终止本轮，
// 状态回到空闲，会话继续存活。
func (c *TurnController) runTurn(ctx context.Context, text, source string) {
	start := time.Now()
	outcome := "completed"
	defer func() {
		c.setState(TurnIdle)
		if c.deps.Metrics != nil {
			c.deps.Metrics.RecordTurn(outcome, time.Since(start))
		}
	}()

	if c.cfg.MaxTurnLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.MaxTurnLimit)
		defer cancel()
	}

	tracer := otel.Tracer("voicebridge/voice")
	ctx, span := tracer.Start(ctx, "turn")
	span.SetAttributes(attribute.Int("transcript.chars", len(text)))
	defer span.End()

	c.logger.Info("turn started",
		zap.String("transcript", text), zap.String("source", source))
	c.deps.History.Append(types.NewUserMessage(text).WithSource(source))

	response, err := c.generate(ctx)
	if err != nil {
		c.logger.Error("generation failed, recovering to idle", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		outcome = "failed"
		return
	}
	if response == "" {
		c.logger.Warn("empty response from model")
		outcome = "empty"
		return
	}
	c.deps.History.AddAssistant(response)

	c.setState(TurnSpeaking)
	if err := c.speak(ctx, response); err != nil {
		c.logger.Error("speech synthesis failed, recovering to idle", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		outcome = "failed"
		return
	}

	c.logger.Info("turn completed",
		zap.Duration("duration", time.Since(start)),
		zap.Int("response_chars", len(response)))
}

// generate 产出回复文本，优先命中响应缓存。
func (c *TurnController) generate(ctx context.Context) (string, error) {
	msgs := c.deps.History.Messages()

	cacheModel := c.model
	if cacheModel == "" {
		cacheModel = c.deps.Provider.Name()
	}
	if cached, ok := c.deps.Cache.Get(ctx, cacheModel, msgs); ok {
		if c.deps.Metrics != nil {
			c.deps.Metrics.RecordCacheHit("llm_response")
		}
		c.logger.Debug("response served from cache")
		return cached, nil
	}
	if c.deps.Cache != nil && c.deps.Metrics != nil {
		c.deps.Metrics.RecordCacheMiss("llm_response")
	}

	start := time.Now()
	resp, err := c.deps.Provider.Completion(ctx, &llm.ChatRequest{
		Model:    c.model,
		Messages: msgs,
	})
	if err != nil {
		if c.deps.Metrics != nil {
			c.deps.Metrics.RecordLLMRequest(c.deps.Provider.Name(), c.model, "error", time.Since(start), 0, 0)
		}
		return "", err
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordLLMRequest(c.deps.Provider.Name(), resp.Model, "success",
			time.Since(start), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}

	response := resp.Text()
	c.deps.Cache.Set(ctx, cacheModel, msgs, response)
	return response, nil
}

// speak 流式合成回复并将音频帧送入出站队列，
// 结束时追加一次冲刷信号保证尾部字节写出。
func (c *TurnController) speak(ctx context.Context, response string) error {
	start := time.Now()
	stream, err := c.deps.TTS.SynthesizeStream(ctx, &speech.TTSRequest{Text: response})
	if err != nil {
		return err
	}

	total := 0
	for chunk := range stream {
		if chunk.Err != nil {
			c.deps.Emit(FlushFrame())
			return chunk.Err
		}
		total += len(chunk.Data)
		c.deps.Emit(AudioFrame(chunk.Data))
	}
	c.deps.Emit(FlushFrame())

	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordTTSSynthesis(c.deps.TTS.Name(), time.Since(start), total)
	}
	return nil
}
