package monitoring

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestHealthChecker_AllHealthy(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("always", func(ctx context.Context) (bool, error) { return true, nil }, 0, time.Second)
	h.AddStorageCheck(t.TempDir(), 0, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, map[string]string{"always": "healthy", "storage": "healthy"}, status.Checks)
	assert.True(t, h.IsReady(context.Background()))
}

func TestHealthChecker_FailingChecks(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("broken", func(ctx context.Context) (bool, error) { return false, errors.New("boom") }, 0, time.Second)
	h.AddCheck("false", func(ctx context.Context) (bool, error) { return false, nil }, 0, time.Second)
	h.AddStorageCheck(filepath.Join(t.TempDir(), "missing"), 0, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "boom", status.Checks["broken"])
	assert.Equal(t, "check failed", status.Checks["false"])
	assert.NotEqual(t, "healthy", status.Checks["storage"])
	assert.False(t, h.IsReady(context.Background()))
}

func TestHealthChecker_ListenerCheck(t *testing.T) {
	var bound atomic.Bool
	h := NewHealthChecker()
	h.AddListenerCheck("control", bound.Load)

	assert.False(t, h.IsReady(context.Background()))
	bound.Store(true)
	assert.True(t, h.IsReady(context.Background()))
}

func TestHealthChecker_CheckTimesOut(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) (bool, error) {
		<-ctx.Done()
		return false, ctx.Err()
	}, 0, 20*time.Millisecond)

	status := h.CheckAll(context.Background())
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"])
}

func TestHealthChecker_BackgroundChecks(t *testing.T) {
	var runs atomic.Int32
	h := NewHealthChecker()
	h.AddCheck("ticker", func(ctx context.Context) (bool, error) {
		runs.Add(1)
		return true, nil
	}, 5*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.StartBackgroundChecks(ctx)

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestHealthChecker_LogsTransitionsOnce(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	var healthy atomic.Bool
	h := NewHealthChecker(WithHealthLogger(zap.New(core).Sugar()))
	h.AddCheck("flappy", func(ctx context.Context) (bool, error) { return healthy.Load(), nil }, 0, time.Second)

	h.CheckAll(context.Background())
	h.CheckAll(context.Background())
	assert.Equal(t, 1, logs.FilterMessage("health check failing").Len())

	healthy.Store(true)
	h.CheckAll(context.Background())
	h.CheckAll(context.Background())
	assert.Equal(t, 1, logs.FilterMessage("health check recovered").Len())
}
