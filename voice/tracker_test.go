package voice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock 提供可手动推进的时钟。
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker(clock *fakeClock) *Tracker {
	tr := NewTracker(DefaultConfig(), nil)
	tr.now = clock.Now
	return tr
}

func TestTrackerFinalConsumedOnce(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	text, ok := tr.RecordFinal("hello there")
	require.True(t, ok)
	assert.Equal(t, "hello there", text)
	assert.True(t, tr.Resolved())

	// 重复的最终转写不得再次触发
	_, ok = tr.RecordFinal("hello there")
	assert.False(t, ok)
}

func TestTrackerEmptyFinalIgnored(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	_, ok := tr.RecordFinal("")
	assert.False(t, ok)
	assert.False(t, tr.Resolved())
}

func TestTrackerFinalClearsInterim(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	tr.RecordInterim("hello")
	_, ok := tr.RecordFinal("hello there")
	require.True(t, ok)

	assert.False(t, tr.HasInterim())
	_, ok = tr.ConsumeFallback()
	assert.False(t, ok)
}

func TestTrackerFallbackYoungInterim(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	tr.RecordInterim("he")
	tr.RecordInterim("hell")
	tr.RecordInterim("hello")
	clock.Advance(time.Second)

	text, ok := tr.ConsumeFallback()
	require.True(t, ok)
	assert.Equal(t, "hello", text)
	assert.True(t, tr.Resolved())

	// 回退同样至多一次
	_, ok = tr.ConsumeFallback()
	assert.False(t, ok)
}

func TestTrackerFallbackStaleInterim(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	tr.RecordInterim("hello")
	clock.Advance(3 * time.Second)

	_, ok := tr.ConsumeFallback()
	assert.False(t, ok)
	assert.False(t, tr.Resolved())
}

func TestTrackerFallbackWithoutInterim(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	_, ok := tr.ConsumeFallback()
	assert.False(t, ok)
}

func TestTrackerFallbackBlockedAfterFinal(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	tr.RecordInterim("hello")
	_, ok := tr.RecordFinal("hello there")
	require.True(t, ok)

	tr.RecordInterim("leftover")
	_, ok = tr.ConsumeFallback()
	assert.False(t, ok)
}

func TestTrackerInactivityResetReopens(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	tr.RecordInterim("first utterance")
	_, ok := tr.RecordFinal("first utterance")
	require.True(t, ok)

	// 静默窗口内的音频不解除去重标记
	clock.Advance(2 * time.Second)
	tr.ObserveAudio()
	assert.True(t, tr.Resolved())

	// 超过静默窗口的新音频开启新语音段
	clock.Advance(2 * time.Second)
	tr.ObserveAudio()
	assert.False(t, tr.Resolved())

	text, ok := tr.RecordFinal("second utterance")
	require.True(t, ok)
	assert.Equal(t, "second utterance", text)
}

func TestTrackerEmptyInterimIgnored(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)

	tr.RecordInterim("")
	assert.False(t, tr.HasInterim())
}
