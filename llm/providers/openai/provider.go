// Package openai 实现基于 OpenAI Chat Completions API 的 llm.Provider。
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/voicebridge/internal/tlsutil"
	"github.com/BaSui01/voicebridge/llm"
	"github.com/BaSui01/voicebridge/types"
)

// Config 配置 OpenAI Provider。
type Config struct {
	APIKey       string        // API 密钥
	BaseURL      string        // 基础 URL，默认 https://api.openai.com
	DefaultModel string        // 默认模型
	Timeout      time.Duration // HTTP 超时
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		BaseURL:      "https://api.openai.com",
		DefaultModel: "gpt-4o-mini",
		Timeout:      60 * time.Second,
	}
}

const (
	providerName  = "openai"
	chatEndpoint  = "/v1/chat/completions"
	modelEndpoint = "/v1/models"
)

// Provider 是 OpenAI Chat Completions 的 llm.Provider 实现。
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New 创建一个新的 OpenAI Provider。
func New(cfg Config, logger *zap.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultConfig().DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("component", "llm.openai")),
	}, nil
}

// Name 返回 Provider 标识。
func (p *Provider) Name() string { return providerName }

// wireMessage 是 OpenAI 聊天消息的线格式。
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// wireRequest 是 Chat Completions 请求的线格式。
type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	TopP        float32       `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

// wireResponse 是 Chat Completions 响应的线格式。
type wireResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		FinishReason string      `json:"finish_reason"`
		Message      wireMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Created int64 `json:"created,omitempty"`
}

func (p *Provider) endpoint(path string) string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + path
}

func (p *Provider) buildHeaders(r *http.Request) {
	r.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	r.Header.Set("Content-Type", "application/json")
}

// Completion 发起同步聊天请求，返回完整响应。
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, &llm.Error{
			Code:       llm.ErrInvalidRequest,
			Message:    "empty request",
			HTTPStatus: http.StatusBadRequest,
			Provider:   providerName,
		}
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}

	wire := wireRequest{
		Model:       model,
		Messages:    toWireMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(chatEndpoint), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	p.buildHeaders(httpReq)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &llm.Error{
				Code:       llm.ErrUpstreamTimeout,
				Message:    err.Error(),
				HTTPStatus: http.StatusGatewayTimeout,
				Retryable:  true,
				Provider:   providerName,
			}
		}
		return nil, &llm.Error{
			Code:       llm.ErrUpstreamError,
			Message:    err.Error(),
			HTTPStatus: http.StatusBadGateway,
			Retryable:  true,
			Provider:   providerName,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body))
	}

	var wireResp wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wireResp); err != nil {
		return nil, &llm.Error{
			Code:       llm.ErrUpstreamError,
			Message:    fmt.Sprintf("decode response: %v", err),
			HTTPStatus: http.StatusBadGateway,
			Retryable:  true,
			Provider:   providerName,
		}
	}

	p.logger.Debug("completion finished",
		zap.String("model", wireResp.Model),
		zap.Duration("latency", time.Since(start)),
		zap.Int("choices", len(wireResp.Choices)))

	return toChatResponse(wireResp), nil
}

// HealthCheck 通过模型列表端点做轻量级探活。
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(modelEndpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	p.buildHeaders(httpReq)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return &llm.HealthStatus{
		Healthy: resp.StatusCode < 400,
		Latency: latency,
	}, nil
}

func toWireMessages(msgs []types.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, wireMessage{
			Role:    string(m.Role),
			Content: m.Content,
			Name:    m.Name,
		})
	}
	return out
}

func toChatResponse(wire wireResponse) *llm.ChatResponse {
	choices := make([]llm.ChatChoice, 0, len(wire.Choices))
	for _, c := range wire.Choices {
		choices = append(choices, llm.ChatChoice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Message:      types.NewAssistantMessage(c.Message.Content),
		})
	}
	resp := &llm.ChatResponse{
		ID:       wire.ID,
		Provider: providerName,
		Model:    wire.Model,
		Choices:  choices,
	}
	if wire.Usage != nil {
		resp.Usage = llm.ChatUsage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		}
	}
	if wire.Created > 0 {
		resp.CreatedAt = time.Unix(wire.Created, 0)
	}
	return resp
}

// mapHTTPError 将 HTTP 状态码映射为带有合适重试标记的 llm.Error。
func mapHTTPError(status int, msg string) *llm.Error {
	e := &llm.Error{
		Message:    msg,
		HTTPStatus: status,
		Provider:   providerName,
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Code = llm.ErrUnauthorized
	case http.StatusTooManyRequests:
		e.Code = llm.ErrRateLimited
		e.Retryable = true
	case http.StatusBadRequest:
		e.Code = llm.ErrInvalidRequest
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		e.Code = llm.ErrUpstreamError
		e.Retryable = true
	default:
		e.Code = llm.ErrUpstreamError
		e.Retryable = status >= 500
	}
	return e
}

// readErrorMessage 读取响应体中的错误消息，优先解析 JSON 错误结构。
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return "failed to read error response"
	}
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return string(data)
}
