package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func newTestManager(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)

	manager, err := NewManager(Config{
		Addr:       mr.Addr(),
		DefaultTTL: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	return mr, manager
}

func TestNewManager(t *testing.T) {
	_, manager := newTestManager(t)

	assert.NotNil(t, manager)
	assert.NotNil(t, manager.redis)
	assert.NotNil(t, manager.logger)
}

func TestManagerSetAndGet(t *testing.T) {
	_, manager := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "session:greeting", "Hi! How can I help you today?", time.Minute))

	value, err := manager.Get(ctx, "session:greeting")
	require.NoError(t, err)
	assert.Equal(t, "Hi! How can I help you today?", value)
}

func TestManagerGetMissingKey(t *testing.T) {
	_, manager := newTestManager(t)

	value, err := manager.Get(context.Background(), "session:absent")
	assert.Error(t, err)
	assert.Empty(t, value)
}

func TestManagerDelete(t *testing.T) {
	_, manager := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "session:greeting", "hello", time.Minute))
	require.NoError(t, manager.Delete(ctx, "session:greeting"))

	_, err := manager.Get(ctx, "session:greeting")
	assert.Error(t, err)
}

func TestManagerJSONRoundTrip(t *testing.T) {
	_, manager := newTestManager(t)
	ctx := context.Background()

	type cachedReply struct {
		Model string `json:"model"`
		Text  string `json:"text"`
	}
	in := cachedReply{Model: "gpt-4o-mini", Text: "Hi! How can I help you today?"}

	require.NoError(t, manager.SetJSON(ctx, "response:abc", in, time.Minute))

	var out cachedReply
	require.NoError(t, manager.GetJSON(ctx, "response:abc", &out))
	assert.Equal(t, in, out)
}

func TestManagerGetJSONMissingKey(t *testing.T) {
	_, manager := newTestManager(t)

	var out map[string]any
	err := manager.GetJSON(context.Background(), "response:absent", &out)
	assert.Error(t, err)
}

func TestManagerSetJSONUnmarshalableValue(t *testing.T) {
	_, manager := newTestManager(t)

	// chan 无法 JSON 序列化
	err := manager.SetJSON(context.Background(), "response:bad", make(chan int), time.Minute)
	assert.Error(t, err)
}

func TestManagerGetJSONCorruptPayload(t *testing.T) {
	_, manager := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "response:corrupt", "not a json", time.Minute))

	var out map[string]any
	err := manager.GetJSON(ctx, "response:corrupt", &out)
	assert.Error(t, err)
}

func TestManagerTTLExpiry(t *testing.T) {
	mr, manager := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "response:ttl", "value", 100*time.Millisecond))

	value, err := manager.Get(ctx, "response:ttl")
	require.NoError(t, err)
	assert.Equal(t, "value", value)

	mr.FastForward(200 * time.Millisecond)

	_, err = manager.Get(ctx, "response:ttl")
	assert.Error(t, err)
}

func TestManagerPing(t *testing.T) {
	_, manager := newTestManager(t)
	assert.NoError(t, manager.Ping(context.Background()))
}

func TestManagerUnreachableRedis(t *testing.T) {
	manager, err := NewManager(Config{Addr: "127.0.0.1:1"}, zap.NewNop())
	assert.Nil(t, manager)
	assert.Error(t, err)
}

func TestManagerConcurrentAccess(t *testing.T) {
	_, manager := newTestManager(t)
	ctx := context.Background()

	const workers = 10
	done := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func(id int) {
			done <- manager.Set(ctx, fmt.Sprintf("concurrent:%d", id), "value", time.Minute)
		}(i)
	}
	for i := 0; i < workers; i++ {
		require.NoError(t, <-done)
	}

	for i := 0; i < workers; i++ {
		go func(id int) {
			value, err := manager.Get(ctx, fmt.Sprintf("concurrent:%d", id))
			if err == nil && value != "value" {
				err = fmt.Errorf("unexpected value %q", value)
			}
			done <- err
		}(i)
	}
	for i := 0; i < workers; i++ {
		require.NoError(t, <-done)
	}
}
