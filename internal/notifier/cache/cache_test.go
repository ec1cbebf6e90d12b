package cache_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/service-notification-processor/internal/notifier/cache"
	"github.com/notifyhub/service-notification-processor/pkg/logger"
)

func TestStart_FirstRefreshFailureIsFatal(t *testing.T) {
	fetch := func(ctx context.Context) (map[string]int, error) {
		return nil, errors.New("catalog unreachable")
	}

	c := cache.New("test", fetch, time.Hour, nil, 0, logger.NewTestLogger(), nil)
	err := c.Start(context.Background())
	require.Error(t, err)
}

func TestStart_FirstRefreshSuccessInstallsSnapshot(t *testing.T) {
	fetch := func(ctx context.Context) (map[string]int, error) {
		return map[string]int{"a": 1}, nil
	}

	c := cache.New("test", fetch, time.Hour, nil, 0, logger.NewTestLogger(), nil)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	assert.Equal(t, map[string]int{"a": 1}, c.ServiceData())
}

func TestRefresh_FailureAfterSuccessKeepsPriorSnapshot(t *testing.T) {
	var calls int32

	fetch := func(ctx context.Context) (map[string]int, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return map[string]int{"a": 1}, nil
		}
		return nil, errors.New("transient upstream error")
	}

	c := cache.New("test", fetch, time.Hour, nil, 0, logger.NewTestLogger(), nil)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	err := c.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, map[string]int{"a": 1}, c.ServiceData())
}
