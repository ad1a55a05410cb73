package voice

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/voicebridge/internal/metrics"
)

// FrameKind 标识出站帧的变体。
type FrameKind int

const (
	// FrameAudio 携带一段原始 PCM 音频
	FrameAudio FrameKind = iota
	// FrameControl 携带一个控制信号
	FrameControl
)

// ControlKind 是出站控制信号的种类。
type ControlKind string

const (
	// ControlFlush 要求立即冲刷出站对齐缓冲（无条件，含不完整样本）
	ControlFlush ControlKind = "flush"
)

// Frame 是出站队列的带标签变体：音频块或控制信号，二者取一。
type Frame struct {
	Kind   FrameKind
	Audio  []byte
	Signal ControlKind
}

// AudioFrame 构造音频帧。
func AudioFrame(pcm []byte) Frame {
	return Frame{Kind: FrameAudio, Audio: pcm}
}

// FlushFrame 构造冲刷控制帧。
func FlushFrame() Frame {
	return Frame{Kind: FrameControl, Signal: ControlFlush}
}

// sampleWidth 是 s16le 单个样本的字节宽度。
const sampleWidth = 2

// BridgeStats 是桥接的字节计数快照。
type BridgeStats struct {
	BytesIn    int64 `json:"bytes_in"`
	BytesOut   int64 `json:"bytes_out"`
	DroppedIn  int64 `json:"dropped_in"`
	DroppedOut int64 `json:"dropped_out"`
}

// Bridge 在客户端与管线之间搬运音频：
// 入站队列送往转写链路，出站队列按块对齐后写回客户端。
// 每个方向由一个排空循环独占消费。
type Bridge struct {
	cfg     Config
	forward func(ctx context.Context, pcm []byte) error // 入站处理
	emit    func(ctx context.Context, pcm []byte) error // 出站写回

	inbound  chan []byte
	outbound chan Frame

	metrics *metrics.Collector
	logger  *zap.Logger

	bytesIn    atomic.Int64
	bytesOut   atomic.Int64
	droppedIn  atomic.Int64
	droppedOut atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewBridge 创建音频桥接。collector 可为 nil。
func NewBridge(cfg Config, forward, emit func(ctx context.Context, pcm []byte) error, collector *metrics.Collector, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		cfg:      cfg,
		forward:  forward,
		emit:     emit,
		inbound:  make(chan []byte, cfg.QueueSize),
		outbound: make(chan Frame, cfg.QueueSize),
		metrics:  collector,
		logger:   logger.With(zap.String("component", "bridge")),
		done:     make(chan struct{}),
	}
}

// Start 启动两个排空循环。
func (b *Bridge) Start(ctx context.Context) {
	b.wg.Add(2)
	go b.inboundLoop(ctx)
	go b.outboundLoop(ctx)
}

// EnqueueInbound 入队一块客户端音频。队列满时丢弃并计数。
func (b *Bridge) EnqueueInbound(pcm []byte) {
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.inbound <- pcm:
	default:
		b.droppedIn.Add(1)
		b.logger.Warn("inbound queue full, dropping audio", zap.Int("bytes", len(pcm)))
	}
}

// EnqueueOutbound 入队一个出站帧。队列满时丢弃并计数。
func (b *Bridge) EnqueueOutbound(f Frame) {
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.outbound <- f:
	default:
		b.droppedOut.Add(1)
		b.logger.Warn("outbound queue full, dropping frame")
	}
}

// Stats 返回字节计数快照。
func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		BytesIn:    b.bytesIn.Load(),
		BytesOut:   b.bytesOut.Load(),
		DroppedIn:  b.droppedIn.Load(),
		DroppedOut: b.droppedOut.Load(),
	}
}

// Close 停止排空循环并等待其退出。出站循环退出前会
// 无条件冲刷对齐缓冲中的剩余字节。
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
	})
	b.wg.Wait()
}

// inboundLoop 消费入站队列并转发给链路。
// 轮询上限保证关闭信号在有界时间内被观察到。
func (b *Bridge) inboundLoop(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case <-ctx.Done():
			return
		case pcm := <-b.inbound:
			b.bytesIn.Add(int64(len(pcm)))
			if b.metrics != nil {
				b.metrics.RecordAudioBytes("inbound", len(pcm))
			}
			if err := b.forward(ctx, pcm); err != nil {
				b.logger.Warn("inbound forward failed", zap.Error(err))
			}
		case <-time.After(b.cfg.PollTimeout):
		}
	}
}

// outboundLoop 消费出站队列：音频帧进入对齐缓冲并按块写出，
// 冲刷信号与关闭各自触发一次无条件冲刷。
func (b *Bridge) outboundLoop(ctx context.Context) {
	defer b.wg.Done()

	var pending []byte

	flush := func() {
		if len(pending) == 0 {
			return
		}
		b.write(ctx, pending)
		pending = nil
	}

	emitAligned := func() {
		chunk := b.cfg.ChunkSize
		chunk -= chunk % sampleWidth
		if chunk <= 0 {
			chunk = sampleWidth
		}
		for len(pending) >= chunk {
			b.write(ctx, pending[:chunk])
			pending = pending[chunk:]
		}
	}

	for {
		select {
		case <-b.done:
			// 排空已入队的帧后冲刷剩余字节
			for {
				select {
				case f := <-b.outbound:
					if f.Kind == FrameAudio {
						pending = append(pending, f.Audio...)
					}
				default:
					emitAligned()
					flush()
					return
				}
			}
		case <-ctx.Done():
			flush()
			return
		case f := <-b.outbound:
			switch f.Kind {
			case FrameAudio:
				pending = append(pending, f.Audio...)
				emitAligned()
			case FrameControl:
				if f.Signal == ControlFlush {
					flush()
				}
			}
		case <-time.After(b.cfg.PollTimeout):
		}
	}
}

func (b *Bridge) write(ctx context.Context, pcm []byte) {
	if err := b.emit(ctx, pcm); err != nil {
		b.logger.Warn("outbound write failed", zap.Error(err))
		return
	}
	b.bytesOut.Add(int64(len(pcm)))
	if b.metrics != nil {
		b.metrics.RecordAudioBytes("outbound", len(pcm))
	}
}
