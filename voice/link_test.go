package voice

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/voicebridge/testutil"
)

// fakeFrame 是一帧测试数据。
type fakeFrame struct {
	typ  websocket.MessageType
	data []byte
}

// fakeWSConn 是可编排的 wsConn 测试替身。
type fakeWSConn struct {
	mu       sync.Mutex
	incoming chan fakeFrame
	writes   []fakeFrame
	closed   chan struct{}
	once     sync.Once
}

func newFakeWSConn() *fakeWSConn {
	return &fakeWSConn{
		incoming: make(chan fakeFrame, 16),
		closed:   make(chan struct{}),
	}
}

func (c *fakeWSConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	case f := <-c.incoming:
		return f.typ, f.data, nil
	}
}

func (c *fakeWSConn) Write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	data := make([]byte, len(p))
	copy(data, p)
	c.mu.Lock()
	c.writes = append(c.writes, fakeFrame{typ: typ, data: data})
	c.mu.Unlock()
	return nil
}

func (c *fakeWSConn) Close(code websocket.StatusCode, reason string) error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// dropFromServer 模拟对端断开。
func (c *fakeWSConn) dropFromServer() {
	c.once.Do(func() { close(c.closed) })
}

func (c *fakeWSConn) serverSend(t *testing.T, payload string) {
	t.Helper()
	select {
	case c.incoming <- fakeFrame{typ: websocket.MessageText, data: []byte(payload)}:
	case <-time.After(time.Second):
		t.Fatal("fake conn inbox full")
	}
}

func (c *fakeWSConn) controlWrites(msgType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, f := range c.writes {
		if f.typ != websocket.MessageText {
			continue
		}
		var msg controlMessage
		if json.Unmarshal(f.data, &msg) == nil && msg.Type == msgType {
			count++
		}
	}
	return count
}

func (c *fakeWSConn) binaryWrites() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out [][]byte
	for _, f := range c.writes {
		if f.typ == websocket.MessageBinary {
			out = append(out, f.data)
		}
	}
	return out
}

// fastLinkConfig 返回适合测试的快速时间参数。
func fastLinkConfig() Config {
	cfg := DefaultConfig()
	cfg.OpenSettle = 10 * time.Millisecond
	cfg.ConnectRetryGap = 10 * time.Millisecond
	cfg.KeepAlivePeriod = 25 * time.Millisecond
	cfg.FinalizeSettle = 20 * time.Millisecond
	return cfg
}

func newTestLink(t *testing.T, cfg Config, handlers LinkHandlers, dial dialFunc) *DeepgramLink {
	t.Helper()
	l, err := NewDeepgramLink(cfg, DeepgramConfig{APIKey: "test-key"}, handlers, nil, nil)
	require.NoError(t, err)
	l.dial = dial
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func singleConnDial(conn *fakeWSConn) dialFunc {
	return func(ctx context.Context) (wsConn, error) {
		return conn, nil
	}
}

func TestLinkRequiresAPIKey(t *testing.T) {
	_, err := NewDeepgramLink(DefaultConfig(), DeepgramConfig{}, LinkHandlers{}, nil, nil)
	require.Error(t, err)
}

func TestLinkListenURL(t *testing.T) {
	l, err := NewDeepgramLink(DefaultConfig(), DeepgramConfig{APIKey: "k"}, LinkHandlers{}, nil, nil)
	require.NoError(t, err)

	u := l.listenURL()
	assert.Contains(t, u, "wss://api.deepgram.com/v1/listen?")
	assert.Contains(t, u, "model=nova-2")
	assert.Contains(t, u, "language=en-US")
	assert.Contains(t, u, "encoding=linear16")
	assert.Contains(t, u, "sample_rate=16000")
	assert.Contains(t, u, "channels=1")
	assert.Contains(t, u, "interim_results=true")
	assert.Contains(t, u, "utterance_end_ms=1000")
	assert.Contains(t, u, "vad_events=true")
}

func TestLinkConnectFiresOnOpen(t *testing.T) {
	opened := make(chan struct{}, 1)
	conn := newFakeWSConn()
	l := newTestLink(t, fastLinkConfig(), LinkHandlers{
		OnOpen: func() { opened <- struct{}{} },
	}, singleConnDial(conn))

	ctx := testutil.TestContext(t)
	require.NoError(t, l.Connect(ctx))
	assert.True(t, l.Connected())
	testutil.WaitForChannel(t, opened, time.Second, "OnOpen not fired")
}

func TestLinkConnectRetriesExhausted(t *testing.T) {
	cfg := fastLinkConfig()
	dials := 0
	l := newTestLink(t, cfg, LinkHandlers{}, func(ctx context.Context) (wsConn, error) {
		dials++
		return nil, errors.New("dial refused")
	})

	ctx := testutil.TestContext(t)
	err := l.Connect(ctx)
	require.Error(t, err)
	assert.Equal(t, cfg.ConnectRetries, dials)
	assert.False(t, l.Connected())
}

func TestLinkTranscriptDispatch(t *testing.T) {
	events := make(chan TranscriptEvent, 8)
	utteranceEnds := make(chan struct{}, 8)
	speechStarts := make(chan struct{}, 8)
	metadata := make(chan json.RawMessage, 8)

	conn := newFakeWSConn()
	l := newTestLink(t, fastLinkConfig(), LinkHandlers{
		OnTranscript:    func(ev TranscriptEvent) { events <- ev },
		OnUtteranceEnd:  func() { utteranceEnds <- struct{}{} },
		OnSpeechStarted: func() { speechStarts <- struct{}{} },
		OnMetadata:      func(raw json.RawMessage) { metadata <- raw },
	}, singleConnDial(conn))

	ctx := testutil.TestContext(t)
	require.NoError(t, l.Connect(ctx))

	conn.serverSend(t, `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hello","confidence":0.8}]}}`)
	ev := testutil.WaitForChannel(t, events, time.Second, "interim transcript not dispatched")
	assert.Equal(t, "hello", ev.Text)
	assert.False(t, ev.IsFinal)

	conn.serverSend(t, `{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"hello there","confidence":0.97}]}}`)
	ev = testutil.WaitForChannel(t, events, time.Second, "final transcript not dispatched")
	assert.Equal(t, "hello there", ev.Text)
	assert.True(t, ev.IsFinal)
	assert.True(t, ev.SpeechFinal)

	// 空转写被忽略
	conn.serverSend(t, `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":""}]}}`)
	conn.serverSend(t, `{"type":"UtteranceEnd"}`)
	testutil.WaitForChannel(t, utteranceEnds, time.Second, "utterance end not dispatched")
	select {
	case <-events:
		t.Fatal("empty transcript should be ignored")
	default:
	}

	conn.serverSend(t, `{"type":"SpeechStarted"}`)
	testutil.WaitForChannel(t, speechStarts, time.Second, "speech started not dispatched")

	conn.serverSend(t, `{"type":"Metadata","request_id":"abc"}`)
	raw := testutil.WaitForChannel(t, metadata, time.Second, "metadata not dispatched")
	assert.Contains(t, string(raw), "request_id")
}

func TestLinkSendAudio(t *testing.T) {
	conn := newFakeWSConn()
	l := newTestLink(t, fastLinkConfig(), LinkHandlers{}, singleConnDial(conn))

	ctx := testutil.TestContext(t)
	require.NoError(t, l.Connect(ctx))

	pcm := []byte{0x00, 0x01, 0x02, 0x03}
	require.NoError(t, l.SendAudio(ctx, pcm))

	testutil.AssertEventuallyTrue(t, func() bool {
		return len(conn.binaryWrites()) == 1
	}, time.Second, "audio frame not written")
	assert.Equal(t, pcm, conn.binaryWrites()[0])
}

func TestLinkSendAudioWhileDisconnectedDrops(t *testing.T) {
	cfg := fastLinkConfig()
	cfg.ConnectRetries = 1 // 无重连预算
	conn := newFakeWSConn()
	l := newTestLink(t, cfg, LinkHandlers{}, singleConnDial(conn))

	ctx := testutil.TestContext(t)
	require.NoError(t, l.Connect(ctx))

	conn.dropFromServer()
	testutil.AssertEventuallyTrue(t, func() bool {
		return !l.Connected()
	}, time.Second, "link did not observe disconnect")

	// 断开期间的音频被丢弃且不报错
	require.NoError(t, l.SendAudio(ctx, []byte{0x00, 0x01}))
}

func TestLinkFinalizeSendsControlAndSettles(t *testing.T) {
	conn := newFakeWSConn()
	l := newTestLink(t, fastLinkConfig(), LinkHandlers{}, singleConnDial(conn))

	ctx := testutil.TestContext(t)
	require.NoError(t, l.Connect(ctx))

	start := time.Now()
	require.NoError(t, l.Finalize(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, 1, conn.controlWrites("Finalize"))
}

func TestLinkKeepAlive(t *testing.T) {
	conn := newFakeWSConn()
	l := newTestLink(t, fastLinkConfig(), LinkHandlers{}, singleConnDial(conn))

	ctx := testutil.TestContext(t)
	require.NoError(t, l.Connect(ctx))

	testutil.AssertEventuallyTrue(t, func() bool {
		return conn.controlWrites("KeepAlive") >= 2
	}, time.Second, "keep-alive messages not sent")
}

func TestLinkReconnectAfterUnexpectedClose(t *testing.T) {
	closes := make(chan struct{}, 4)
	var mu sync.Mutex
	conns := []*fakeWSConn{}
	dial := func(ctx context.Context) (wsConn, error) {
		mu.Lock()
		defer mu.Unlock()
		c := newFakeWSConn()
		conns = append(conns, c)
		return c, nil
	}

	l := newTestLink(t, fastLinkConfig(), LinkHandlers{
		OnClose: func() { closes <- struct{}{} },
	}, dial)

	ctx := testutil.TestContext(t)
	require.NoError(t, l.Connect(ctx))

	mu.Lock()
	first := conns[0]
	mu.Unlock()
	first.dropFromServer()

	testutil.WaitForChannel(t, closes, time.Second, "OnClose not fired")
	testutil.AssertEventuallyTrue(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(conns) >= 2 && l.Connected()
	}, 2*time.Second, "link did not reconnect")
}

func TestLinkDropDuringOpenSettleRetriesOnce(t *testing.T) {
	var mu sync.Mutex
	conns := []*fakeWSConn{}
	dial := func(ctx context.Context) (wsConn, error) {
		mu.Lock()
		defer mu.Unlock()
		c := newFakeWSConn()
		conns = append(conns, c)
		if len(conns) == 1 {
			// 第一条连接在打开确认窗口内被对端立即断开
			c.dropFromServer()
		}
		return c, nil
	}

	cfg := fastLinkConfig()
	l := newTestLink(t, cfg, LinkHandlers{}, dial)

	ctx := testutil.TestContext(t)
	require.NoError(t, l.Connect(ctx))
	assert.True(t, l.Connected())

	// 确认期内的断开只由 Connect 的重试循环恢复，
	// 不能再并行安排一次重连（否则这里会出现第三次拨号）
	time.Sleep(3 * cfg.ConnectRetryGap)
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, conns, 2)
}

func TestLinkCloseIsIdempotent(t *testing.T) {
	conn := newFakeWSConn()
	l := newTestLink(t, fastLinkConfig(), LinkHandlers{}, singleConnDial(conn))

	ctx := testutil.TestContext(t)
	require.NoError(t, l.Connect(ctx))

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.False(t, l.Connected())

	// 主动关闭发送 CloseStream
	assert.Equal(t, 1, conn.controlWrites("CloseStream"))
}

func TestLinkCloseSuppressesReconnect(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	dial := func(ctx context.Context) (wsConn, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		return newFakeWSConn(), nil
	}
	l := newTestLink(t, fastLinkConfig(), LinkHandlers{}, dial)

	ctx := testutil.TestContext(t)
	require.NoError(t, l.Connect(ctx))
	require.NoError(t, l.Close())

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, dials)
}
