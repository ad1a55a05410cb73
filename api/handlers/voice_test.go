package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/voicebridge/testutil"
	"github.com/BaSui01/voicebridge/voice"
)

func newVoiceHandler(t *testing.T) *VoiceHandler {
	t.Helper()
	cfg := voice.SessionConfig{
		Voice:        voice.DefaultConfig(),
		Deepgram:     voice.DeepgramConfig{APIKey: "test-key"},
		SystemPrompt: "You are a concise voice assistant.",
	}
	return NewVoiceHandler(cfg, voice.SessionDeps{}, zap.NewNop())
}

func TestVoiceHandlerNoActiveSessions(t *testing.T) {
	h := newVoiceHandler(t)
	assert.Equal(t, 0, h.ActiveSessions())
}

func TestVoiceHandlerRejectsPlainHTTP(t *testing.T) {
	h := newVoiceHandler(t)

	// 缺少升级头的普通 GET 不产生会话
	rec := httptest.NewRecorder()
	h.HandleWebSocket(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))

	assert.NotEqual(t, http.StatusSwitchingProtocols, rec.Code)
	assert.Equal(t, 0, h.ActiveSessions())
}

// fakeUpstreamServer 模拟转写上游：接受 WebSocket 并保持读取直至对端关闭。
func fakeUpstreamServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		for {
			if _, _, err := c.Read(r.Context()); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVoiceHandlerSessionLifecycle(t *testing.T) {
	upstream := fakeUpstreamServer(t)

	cfg := voice.SessionConfig{
		Voice: voice.DefaultConfig(),
		Deepgram: voice.DeepgramConfig{
			APIKey:  "test-key",
			BaseURL: "ws" + strings.TrimPrefix(upstream.URL, "http"),
		},
		SystemPrompt: "You are a concise voice assistant.",
	}
	cfg.Voice.OpenSettle = 20 * time.Millisecond
	cfg.Voice.ConnectRetryGap = 10 * time.Millisecond
	h := NewVoiceHandler(cfg, voice.SessionDeps{}, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	testutil.AssertEventuallyTrue(t, func() bool {
		return h.ActiveSessions() == 1
	}, 2*time.Second, "session not registered")

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)
	assert.Contains(t, string(data), `"ready"`)

	// 客户端正常关闭后服务端收尾会话并释放连接
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "done"))
	testutil.AssertEventuallyTrue(t, func() bool {
		return h.ActiveSessions() == 0
	}, 2*time.Second, "session not released after client close")
}

func TestVoiceHandlerInfo(t *testing.T) {
	h := newVoiceHandler(t)

	rec := httptest.NewRecorder()
	h.HandleInfo(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "voicebridge", data["service"])
	assert.Equal(t, "/ws", data["websocket"])
}

func TestVoiceHandlerInfoNotFound(t *testing.T) {
	h := newVoiceHandler(t)

	rec := httptest.NewRecorder()
	h.HandleInfo(rec, httptest.NewRequest(http.MethodGet, "/bogus", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
