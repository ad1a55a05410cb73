package voice

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/voicebridge/testutil"
)

// sink 收集出站写出的块。
type sink struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (s *sink) emit(_ context.Context, pcm []byte) error {
	data := make([]byte, len(pcm))
	copy(data, pcm)
	s.mu.Lock()
	s.chunks = append(s.chunks, data)
	s.mu.Unlock()
	return nil
}

func (s *sink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.chunks {
		n += len(c)
	}
	return n
}

func (s *sink) joined() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Join(s.chunks, nil)
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

func fastBridgeConfig() Config {
	cfg := DefaultConfig()
	cfg.PollTimeout = 10 * time.Millisecond
	cfg.ChunkSize = 8
	return cfg
}

func noopForward(context.Context, []byte) error { return nil }

func TestBridgeInboundForwarding(t *testing.T) {
	var mu sync.Mutex
	var got [][]byte
	forward := func(_ context.Context, pcm []byte) error {
		mu.Lock()
		got = append(got, pcm)
		mu.Unlock()
		return nil
	}

	b := NewBridge(fastBridgeConfig(), forward, (&sink{}).emit, nil, nil)
	ctx := testutil.TestContext(t)
	b.Start(ctx)
	defer b.Close()

	b.EnqueueInbound([]byte{1, 2})
	b.EnqueueInbound([]byte{3, 4, 5, 6})

	testutil.AssertEventuallyTrue(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, "inbound chunks not forwarded")
	assert.Equal(t, int64(6), b.Stats().BytesIn)
}

func TestBridgeOutboundAlignment(t *testing.T) {
	out := &sink{}
	b := NewBridge(fastBridgeConfig(), noopForward, out.emit, nil, nil)
	ctx := testutil.TestContext(t)
	b.Start(ctx)

	// 20 字节经 8 字节块写出：两整块，余 4 字节待冲刷
	b.EnqueueOutbound(AudioFrame([]byte{0, 1, 2, 3, 4, 5}))
	b.EnqueueOutbound(AudioFrame([]byte{6, 7, 8, 9, 10, 11, 12, 13}))
	b.EnqueueOutbound(AudioFrame([]byte{14, 15, 16, 17, 18, 19}))

	testutil.AssertEventuallyTrue(t, func() bool {
		return out.total() == 16
	}, time.Second, "aligned chunks not written")
	require.Equal(t, 2, out.count())
	assert.Len(t, out.chunks[0], 8)
	assert.Len(t, out.chunks[1], 8)

	// 冲刷信号写出剩余部分块
	b.EnqueueOutbound(FlushFrame())
	testutil.AssertEventuallyTrue(t, func() bool {
		return out.total() == 20
	}, time.Second, "flush did not write partial chunk")

	b.Close()
	want := make([]byte, 20)
	for i := range want {
		want[i] = byte(i)
	}
	assert.Equal(t, want, out.joined())
	assert.Equal(t, int64(20), b.Stats().BytesOut)
}

func TestBridgeInputSmallerThanChunk(t *testing.T) {
	out := &sink{}
	b := NewBridge(fastBridgeConfig(), noopForward, out.emit, nil, nil)
	ctx := testutil.TestContext(t)
	b.Start(ctx)

	b.EnqueueOutbound(AudioFrame([]byte{1, 2, 3}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, out.count())

	// 关闭时无条件冲刷，总字节数保持不变
	b.Close()
	assert.Equal(t, []byte{1, 2, 3}, out.joined())
}

func TestBridgeCloseFlushesQueuedFrames(t *testing.T) {
	out := &sink{}
	cfg := fastBridgeConfig()
	b := NewBridge(cfg, noopForward, out.emit, nil, nil)
	ctx := testutil.TestContext(t)
	b.Start(ctx)

	payload := bytes.Repeat([]byte{0xAA}, 37) // 非对齐长度
	b.EnqueueOutbound(AudioFrame(payload))
	b.Close()

	// 字节总数在对齐缓冲与最终冲刷间守恒
	assert.Equal(t, payload, out.joined())
}

func TestBridgeEnqueueAfterCloseIsNoop(t *testing.T) {
	out := &sink{}
	b := NewBridge(fastBridgeConfig(), noopForward, out.emit, nil, nil)
	ctx := testutil.TestContext(t)
	b.Start(ctx)
	b.Close()

	b.EnqueueInbound([]byte{1})
	b.EnqueueOutbound(AudioFrame([]byte{2}))

	assert.Equal(t, int64(0), b.Stats().BytesIn)
	assert.Equal(t, 0, out.total())
}

func TestBridgeQueueOverflowDrops(t *testing.T) {
	cfg := fastBridgeConfig()
	cfg.QueueSize = 1
	b := NewBridge(cfg, noopForward, (&sink{}).emit, nil, nil)
	// 未启动循环：队列不被消费

	b.EnqueueInbound([]byte{1})
	b.EnqueueInbound([]byte{2})
	b.EnqueueInbound([]byte{3})

	assert.GreaterOrEqual(t, b.Stats().DroppedIn, int64(1))
	b.Close()
}
