// Package cache implements the self-updating cache contract shared by the
// Capability Cache and Webhook Cache: an atomically swapped,
// lock-free-on-read snapshot refreshed on a timer, where the first refresh
// must succeed before Start returns.
package cache

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/notifyhub/service-notification-processor/pkg/logger"
	"github.com/notifyhub/service-notification-processor/pkg/metrics"
)

// Fetcher retrieves a fresh full snapshot from the upstream catalog.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Mirror is the optional Redis warm-start side-channel (a
// supplemented features): a best-effort read on Start and best-effort
// write after every successful refresh. It never gates success or failure
// of the authoritative catalog refresh.
type Mirror[T any] interface {
	Load(ctx context.Context) (T, bool)
	Save(ctx context.Context, snapshot T, ttl time.Duration)
}

// SelfUpdatingCache holds an immutable snapshot of type T, refreshed on its
// own timer, readable without locking.
type SelfUpdatingCache[T any] struct {
	name     string
	fetch    Fetcher[T]
	interval time.Duration
	mirror   Mirror[T]
	mirrorTTL time.Duration
	log      *logger.Logger
	metrics  *metrics.Metrics

	snapshot atomic.Pointer[T]
	sf       singleflight.Group

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a cache named name (used as the metrics/log label), refreshed
// every interval via fetch. mirror may be nil to disable the Redis
// warm-start mirror.
func New[T any](name string, fetch Fetcher[T], interval time.Duration, mirror Mirror[T], mirrorTTL time.Duration, log *logger.Logger, m *metrics.Metrics) *SelfUpdatingCache[T] {
	return &SelfUpdatingCache[T]{
		name:      name,
		fetch:     fetch,
		interval:  interval,
		mirror:    mirror,
		mirrorTTL: mirrorTTL,
		log:       log,
		metrics:   m,
	}
}

// Start performs a best-effort warm start from the Redis mirror, then
// blocks on one authoritative catalog refresh. If that refresh fails,
// Start returns an error and the cache must be considered unusable
// "If the very first refresh fails, start() fails"). On success it
// launches the background refresh loop and returns nil.
func (c *SelfUpdatingCache[T]) Start(ctx context.Context) error {
	if c.mirror != nil {
		if snap, ok := c.mirror.Load(ctx); ok {
			c.snapshot.Store(&snap)
			c.log.Debug("cache warm-started from mirror", zap.String("cache", c.name))
		}
	}

	if err := c.refresh(ctx); err != nil {
		return fmt.Errorf("cache %s: initial refresh: %w", c.name, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go c.loop(loopCtx)
	return nil
}

// Stop cancels the refresh loop, including the context of any in-flight
// refresh, and waits for the loop to exit.
func (c *SelfUpdatingCache[T]) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// ServiceData returns the latest installed snapshot. Lock-free: a single
// atomic pointer load.
func (c *SelfUpdatingCache[T]) ServiceData() T {
	p := c.snapshot.Load()
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

// Refresh triggers an out-of-band refresh (used by the ops
// POST /debug/refresh endpoint). Concurrent callers de-dupe onto a single
// in-flight fetch via singleflight.
func (c *SelfUpdatingCache[T]) Refresh(ctx context.Context) error {
	return c.refresh(ctx)
}

func (c *SelfUpdatingCache[T]) loop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.refresh(ctx); err != nil {
				c.log.Error("cache refresh failed, keeping previous snapshot",
					zap.String("cache", c.name), zap.Error(err))
			}
		}
	}
}

func (c *SelfUpdatingCache[T]) refresh(ctx context.Context) error {
	start := time.Now()
	v, err, _ := c.sf.Do(c.name, func() (interface{}, error) {
		return c.fetch(ctx)
	})

	if c.metrics != nil {
		c.metrics.CacheRefreshDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		if c.metrics != nil {
			c.metrics.CacheRefreshTotal.WithLabelValues(c.name, "failure").Inc()
		}
		return err
	}

	snap := v.(T)
	c.snapshot.Store(&snap)

	if c.metrics != nil {
		c.metrics.CacheRefreshTotal.WithLabelValues(c.name, "success").Inc()
	}

	if c.mirror != nil {
		c.mirror.Save(ctx, snap, jitter(c.mirrorTTL))
	}
	return nil
}

// jitter spreads mirror TTL expiry by up to ±10% to avoid a thundering
// herd of cache misses all landing on the same tick.
func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return base
	}
	spread := int64(base) / 10
	if spread <= 0 {
		return base
	}
	n, err := rand.Int(rand.Reader, big.NewInt(spread*2))
	if err != nil {
		return base
	}
	return base - time.Duration(spread) + time.Duration(n.Int64())
}

// marshalSnapshot/unmarshalSnapshot are shared by the Redis mirror
// implementations in redis_mirror.go.
func marshalSnapshot[T any](v T) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalSnapshot[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
