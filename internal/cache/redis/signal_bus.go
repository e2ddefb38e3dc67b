package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// DefaultStreamMaxLen caps streams via XADD MAXLEN ~.
const DefaultStreamMaxLen int64 = 10000

// SignalBus implements domain.SignalBus using Redis Pub/Sub for live
// consumers and Redis Streams for a bounded, replayable alert history.
type SignalBus struct {
	rdb    redis.Cmdable
	maxLen int64
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying(), maxLen: DefaultStreamMaxLen}
}

// Publish sends a payload to a Pub/Sub channel. Having no subscribers is not
// an error.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// StreamAppend appends a payload to a stream, trimming it to roughly maxLen
// entries.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	if err := sb.rdb.XAdd(ctx, streamArgs(stream, sb.maxLen, payload)).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

func streamArgs(stream string, maxLen int64, payload []byte) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}
}

var _ domain.SignalBus = (*SignalBus)(nil)
