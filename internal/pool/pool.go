// Package pool provides object pooling for the hot audio path using sync.Pool.
package pool

import (
	"sync"
	"sync/atomic"
)

// Pool is a generic object pool.
type Pool[T any] struct {
	pool    sync.Pool
	newFunc func() T
	reset   func(*T)

	// Metrics
	gets   atomic.Int64
	puts   atomic.Int64
	news   atomic.Int64
	resets atomic.Int64
}

// NewPool creates a new object pool.
func NewPool[T any](newFunc func() T, resetFunc func(*T)) *Pool[T] {
	p := &Pool[T]{
		newFunc: newFunc,
		reset:   resetFunc,
	}
	p.pool.New = func() any {
		p.news.Add(1)
		return newFunc()
	}
	return p
}

// Get retrieves an object from the pool.
func (p *Pool[T]) Get() T {
	p.gets.Add(1)
	return p.pool.Get().(T)
}

// Put returns an object to the pool.
func (p *Pool[T]) Put(obj T) {
	p.puts.Add(1)
	if p.reset != nil {
		p.resets.Add(1)
		p.reset(&obj)
	}
	p.pool.Put(obj)
}

// Stats returns pool statistics.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Gets:   p.gets.Load(),
		Puts:   p.puts.Load(),
		News:   p.news.Load(),
		Resets: p.resets.Load(),
	}
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Gets   int64 `json:"gets"`
	Puts   int64 `json:"puts"`
	News   int64 `json:"news"`
	Resets int64 `json:"resets"`
}

// HitRate returns the cache hit rate.
func (s PoolStats) HitRate() float64 {
	if s.Gets == 0 {
		return 0
	}
	return float64(s.Gets-s.News) / float64(s.Gets)
}

// AudioBufferSize is the capacity of pooled audio scratch buffers. Large
// enough for a WebSocket audio frame or one streamed TTS read.
const AudioBufferSize = 8192

// audioBufferPool provides pooled scratch buffers for audio reads.
var audioBufferPool = NewPool(
	func() []byte {
		return make([]byte, AudioBufferSize)
	},
	nil,
)

// GetByteBuffer retrieves a scratch buffer of length AudioBufferSize.
func GetByteBuffer() []byte {
	return audioBufferPool.Get()
}

// PutByteBuffer returns a scratch buffer to the pool. The buffer must not be
// used after this call.
func PutByteBuffer(buf []byte) {
	if cap(buf) < AudioBufferSize {
		return
	}
	audioBufferPool.Put(buf[:AudioBufferSize])
}

// AudioBufferStats reports scratch buffer pool statistics.
func AudioBufferStats() PoolStats {
	return audioBufferPool.Stats()
}
