package monitoring

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddListenerCheck reports unhealthy while serving() is false, both before bind and after close.
func (h *HealthChecker) AddListenerCheck(name string, serving func() bool) {
	h.AddCheck(name, func(ctx context.Context) (bool, error) {
		if !serving() {
			return false, fmt.Errorf("%s listener not serving", name)
		}
		return true, nil
	}, 0, time.Second)
}

// AddStorageCheck verifies the upload directory still exists.
func (h *HealthChecker) AddStorageCheck(dir string, interval, timeout time.Duration) {
	h.AddCheck("storage", func(ctx context.Context) (bool, error) {
		info, err := os.Stat(dir)
		if err != nil {
			return false, err
		}
		if !info.IsDir() {
			return false, fmt.Errorf("%s is not a directory", dir)
		}
		return true, nil
	}, interval, timeout)
}
