package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions(t *testing.T) {
	opts := options(ClientConfig{Addr: "cache:6379", Password: "pw", DB: 2, PoolSize: 5, MaxRetries: 1})
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 5, opts.PoolSize)
	assert.Nil(t, opts.TLSConfig)

	opts = options(ClientConfig{Addr: "cache:6380", TLSEnabled: true})
	require.NotNil(t, opts.TLSConfig)
}

func TestNew_UnreachableServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := New(ctx, ClientConfig{Addr: "127.0.0.1:1", MaxRetries: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: ping 127.0.0.1:1")
}

func TestStreamArgs(t *testing.T) {
	args := streamArgs("stream:alerts", DefaultStreamMaxLen, []byte(`{"id":"a"}`))
	assert.Equal(t, "stream:alerts", args.Stream)
	assert.Equal(t, int64(10000), args.MaxLen)
	assert.True(t, args.Approx)
	assert.Equal(t, []byte(`{"id":"a"}`), args.Values.(map[string]interface{})["payload"])
}

func TestSlidingWindowScript(t *testing.T) {
	assert.Equal(t, "ratelimit:price_gap:pair-1", rateLimitKey("price_gap:pair-1"))
	assert.Contains(t, slidingWindowLua, "ZREMRANGEBYSCORE")
	assert.Contains(t, slidingWindowLua, "return {1, count + 1}")
}

func TestRateLimiter_ZeroLimitDenies(t *testing.T) {
	rl := &RateLimiter{now: time.Now}
	ok, err := rl.Allow(context.Background(), "k", 0, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
