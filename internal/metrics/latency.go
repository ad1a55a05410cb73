package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// =============================================================================
// ⏱️ 延迟统计
// =============================================================================

// maxSamplesPerOperation 限制每个操作保留的样本数，超出后丢弃最旧样本。
const maxSamplesPerOperation = 1000

// LatencyStats 是某个操作的延迟统计快照，时间单位为毫秒。
type LatencyStats struct {
	Operation string  `json:"operation"`
	Count     int     `json:"count"`
	MeanMS    float64 `json:"mean_ms"`
	MedianMS  float64 `json:"median_ms"`
	P90MS     float64 `json:"p90_ms"`
	P95MS     float64 `json:"p95_ms"`
	P99MS     float64 `json:"p99_ms"`
	MinMS     float64 `json:"min_ms"`
	MaxMS     float64 `json:"max_ms"`
}

// LatencyTracker 按操作名累积延迟样本并提供百分位查询。
type LatencyTracker struct {
	mu      sync.RWMutex
	samples map[string][]float64 // 毫秒
}

// NewLatencyTracker 创建延迟追踪器
func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{
		samples: make(map[string][]float64),
	}
}

// Record 记录一次操作延迟
func (t *LatencyTracker) Record(operation string, d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0
	t.mu.Lock()
	defer t.mu.Unlock()
	s := append(t.samples[operation], ms)
	if len(s) > maxSamplesPerOperation {
		s = s[len(s)-maxSamplesPerOperation:]
	}
	t.samples[operation] = s
}

// Stats 返回某个操作的统计快照；无样本时 ok 为 false。
func (t *LatencyTracker) Stats(operation string) (LatencyStats, bool) {
	t.mu.RLock()
	src, exists := t.samples[operation]
	if !exists || len(src) == 0 {
		t.mu.RUnlock()
		return LatencyStats{}, false
	}
	sorted := make([]float64, len(src))
	copy(sorted, src)
	t.mu.RUnlock()

	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	n := len(sorted)
	return LatencyStats{
		Operation: operation,
		Count:     n,
		MeanMS:    round2(sum / float64(n)),
		MedianMS:  round2(percentile(sorted, 0.50)),
		P90MS:     round2(percentile(sorted, 0.90)),
		P95MS:     round2(percentile(sorted, 0.95)),
		P99MS:     round2(percentile(sorted, 0.99)),
		MinMS:     round2(sorted[0]),
		MaxMS:     round2(sorted[n-1]),
	}, true
}

// Summary 返回所有操作的统计快照
func (t *LatencyTracker) Summary() map[string]LatencyStats {
	t.mu.RLock()
	ops := make([]string, 0, len(t.samples))
	for op := range t.samples {
		ops = append(ops, op)
	}
	t.mu.RUnlock()

	out := make(map[string]LatencyStats, len(ops))
	for _, op := range ops {
		if stats, ok := t.Stats(op); ok {
			out[op] = stats
		}
	}
	return out
}

// Reset 清空某个操作的样本；operation 为空时清空全部。
func (t *LatencyTracker) Reset(operation string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if operation == "" {
		t.samples = make(map[string][]float64)
		return
	}
	delete(t.samples, operation)
}

// percentile 返回已排序样本的 q 分位值。
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
