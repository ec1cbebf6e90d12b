package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/notifyhub/service-notification-processor/pkg/logger"
)

// RedisMirror implements Mirror[T] by serializing the snapshot to a single
// Redis key. It is a warm-start convenience only: a miss or error here
// never fails a refresh, it just means Start falls through to the
// authoritative catalog fetch with an empty prior snapshot.
type RedisMirror[T any] struct {
	client redis.UniversalClient
	key    string
	log    *logger.Logger
}

// NewRedisMirror builds a mirror that stores snapshots under key.
func NewRedisMirror[T any](client redis.UniversalClient, key string, log *logger.Logger) *RedisMirror[T] {
	return &RedisMirror[T]{client: client, key: key, log: log}
}

func (m *RedisMirror[T]) Load(ctx context.Context) (T, bool) {
	var zero T
	data, err := m.client.Get(ctx, m.key).Bytes()
	if err != nil {
		return zero, false
	}
	v, err := unmarshalSnapshot[T](data)
	if err != nil {
		m.log.Warn("mirror: failed to decode snapshot, ignoring", zap.String("key", m.key), zap.Error(err))
		return zero, false
	}
	return v, true
}

func (m *RedisMirror[T]) Save(ctx context.Context, snapshot T, ttl time.Duration) {
	data, err := marshalSnapshot(snapshot)
	if err != nil {
		m.log.Warn("mirror: failed to encode snapshot", zap.String("key", m.key), zap.Error(err))
		return
	}
	if err := m.client.Set(ctx, m.key, data, ttl).Err(); err != nil {
		m.log.Warn("mirror: failed to write snapshot", zap.String("key", m.key), zap.Error(err))
	}
}
