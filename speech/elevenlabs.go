package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/voicebridge/internal/pool"
	"github.com/BaSui01/voicebridge/internal/tlsutil"
)

// streamReadSize 是流式响应单次读取的最大字节数。
const streamReadSize = 4096

// ElevenLabsProvider 是 ElevenLabs 的 TTSProvider 实现。
type ElevenLabsProvider struct {
	cfg    ElevenLabsConfig
	client *http.Client
	logger *zap.Logger
}

// NewElevenLabsProvider 创建一个新的 ElevenLabs 提供商。
func NewElevenLabsProvider(cfg ElevenLabsConfig, logger *zap.Logger) (*ElevenLabsProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("elevenlabs: api key is required")
	}
	def := DefaultElevenLabsConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = def.VoiceID
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = def.OutputFormat
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ElevenLabsProvider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("component", "speech.elevenlabs")),
	}, nil
}

// Name 返回提供商标识。
func (p *ElevenLabsProvider) Name() string { return "elevenlabs" }

// ttsBody 是合成请求的线格式。
type ttsBody struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

func (p *ElevenLabsProvider) synthesisURL(voice, format string, stream bool) string {
	base := strings.TrimRight(p.cfg.BaseURL, "/")
	path := fmt.Sprintf("%s/v1/text-to-speech/%s", base, url.PathEscape(voice))
	if stream {
		path += "/stream"
	}
	return path + "?output_format=" + url.QueryEscape(format)
}

func (p *ElevenLabsProvider) newRequest(ctx context.Context, req *TTSRequest, stream bool) (*http.Request, string, error) {
	if req == nil || req.Text == "" {
		return nil, "", fmt.Errorf("elevenlabs: empty text")
	}
	voice := req.Voice
	if voice == "" {
		voice = p.cfg.VoiceID
	}
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	format := req.OutputFormat
	if format == "" {
		format = p.cfg.OutputFormat
	}

	body, err := json.Marshal(ttsBody{Text: req.Text, ModelID: model})
	if err != nil {
		return nil, "", fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.synthesisURL(voice, format, stream), bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("elevenlabs: create request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, format, nil
}

// Synthesize 合成完整音频并一次性返回。
func (p *ElevenLabsProvider) Synthesize(ctx context.Context, req *TTSRequest) (*TTSResponse, error) {
	httpReq, format, err := p.newRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("elevenlabs error: status=%d body=%s", resp.StatusCode, string(body))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read audio: %w", err)
	}

	return &TTSResponse{
		Provider:  p.Name(),
		Model:     p.cfg.Model,
		AudioData: audio,
		Format:    format,
		CharCount: len(req.Text),
		Duration:  time.Since(start),
		CreatedAt: time.Now(),
	}, nil
}

// SynthesizeStream 流式合成，音频块按到达顺序写入返回通道。
// 上下文取消会终止读取并关闭通道。
func (p *ElevenLabsProvider) SynthesizeStream(ctx context.Context, req *TTSRequest) (<-chan AudioChunk, error) {
	httpReq, _, err := p.newRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("elevenlabs error: status=%d body=%s", resp.StatusCode, string(body))
	}

	out := make(chan AudioChunk, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		buf := pool.GetByteBuffer()
		defer pool.PutByteBuffer(buf)
		scratch := buf[:streamReadSize]

		total := 0
		for {
			n, err := resp.Body.Read(scratch)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, scratch[:n])
				total += n
				select {
				case out <- AudioChunk{Data: chunk}:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if err != io.EOF && ctx.Err() == nil {
					select {
					case out <- AudioChunk{Err: fmt.Errorf("elevenlabs: stream read: %w", err)}:
					case <-ctx.Done():
					}
				}
				p.logger.Debug("synthesis stream finished", zap.Int("bytes", total))
				return
			}
		}
	}()
	return out, nil
}

// elevenLabsVoice 是声音列表响应的线格式。
type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// ListVoices 列出可用声音。
func (p *ElevenLabsProvider) ListVoices(ctx context.Context) ([]Voice, error) {
	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/voices"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("elevenlabs error: status=%d body=%s", resp.StatusCode, string(body))
	}

	var listResp struct {
		Voices []elevenLabsVoice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode voices: %w", err)
	}

	voices := make([]Voice, 0, len(listResp.Voices))
	for _, v := range listResp.Voices {
		voices = append(voices, Voice{
			ID:       v.VoiceID,
			Name:     v.Name,
			Category: v.Category,
			Language: v.Labels["language"],
		})
	}
	return voices, nil
}
