package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// HealthChecker runs named readiness probes. Background probes keep the last
// result of each check so that transitions are logged once.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []HealthCheck
	last   map[string]string
	logger *zap.SugaredLogger
}

type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) (bool, error)
	Interval time.Duration
	Timeout  time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

type HealthOption func(*HealthChecker)

// WithHealthLogger logs every change of a check's result.
func WithHealthLogger(logger *zap.SugaredLogger) HealthOption {
	return func(h *HealthChecker) { h.logger = logger.With("component", "health") }
}

func NewHealthChecker(opts ...HealthOption) *HealthChecker {
	h := &HealthChecker{
		last:   make(map[string]string),
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddCheck registers a probe. A zero interval means the probe only runs on
// CheckAll.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) (bool, error), interval, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, HealthCheck{Name: name, Check: check, Interval: interval, Timeout: timeout})
}

// CheckAll runs every probe concurrently and reports unhealthy if any fails.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := make([]string, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		i, check := i, check
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = runCheck(ctx, check)
		}()
	}
	wg.Wait()

	status := HealthStatus{
		Status:    statusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(checks)),
	}
	for i, check := range checks {
		status.Checks[check.Name] = results[i]
		if results[i] != statusHealthy {
			status.Status = statusUnhealthy
		}
		h.record(check.Name, results[i])
	}
	return status
}

func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == statusHealthy
}

// StartBackgroundChecks runs every probe that has an interval on its own
// ticker until ctx is cancelled.
func (h *HealthChecker) StartBackgroundChecks(ctx context.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, check := range h.checks {
		if check.Interval > 0 {
			go h.runPeriodically(ctx, check)
		}
	}
}

func (h *HealthChecker) runPeriodically(ctx context.Context, check HealthCheck) {
	ticker := time.NewTicker(check.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.record(check.Name, runCheck(ctx, check))
		}
	}
}

func (h *HealthChecker) record(name, result string) {
	h.mu.Lock()
	prev, seen := h.last[name]
	h.last[name] = result
	h.mu.Unlock()

	if seen && prev == result {
		return
	}
	if result == statusHealthy {
		if seen {
			h.logger.Infow("health check recovered", "check", name)
		}
		return
	}
	h.logger.Warnw("health check failing", "check", name, "result", result)
}

func runCheck(ctx context.Context, check HealthCheck) string {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	healthy, err := check.Check(checkCtx)
	switch {
	case err != nil:
		return err.Error()
	case !healthy:
		return "check failed"
	}
	return statusHealthy
}
