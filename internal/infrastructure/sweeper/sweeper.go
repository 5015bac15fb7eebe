package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"lanrelay/internal/core/domain"
	"lanrelay/internal/core/ports"
	"lanrelay/internal/infrastructure/monitoring"
	"lanrelay/pkg/config"
	"lanrelay/pkg/tracing"
)

// Config contains sweeper configuration
type Config struct {
	Interval       time.Duration
	SessionTimeout time.Duration
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Interval:       cfg.Sweeper.Interval,
		SessionTimeout: cfg.Sweeper.SessionTimeout,
	}
}

// Sweeper periodically terminates sessions whose last activity is older than
// the session timeout. Expired sessions go through the terminator, so they
// are announced exactly like an explicit LEAVE. The terminator rechecks
// idleness when it removes, so a session that becomes active mid-sweep
// survives.
type Sweeper struct {
	registry   ports.SessionRegistry
	terminator ports.IdleTerminator
	cfg        Config
	metrics    *monitoring.PrometheusCollector
	logger     *zap.SugaredLogger
	now        func() time.Time
}

type Option func(*Sweeper)

// WithClock replaces time.Now when computing the idle cutoff.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

func New(
	registry ports.SessionRegistry,
	terminator ports.IdleTerminator,
	cfg Config,
	metrics *monitoring.PrometheusCollector,
	logger *zap.SugaredLogger,
	opts ...Option,
) *Sweeper {
	s := &Sweeper{
		registry:   registry,
		terminator: terminator,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Infow("liveness sweeper started", "interval", s.cfg.Interval, "session_timeout", s.cfg.SessionTimeout)
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-ctx.Done():
			return nil
		}
	}
}

// Sweep runs a single pass and returns the sessions it terminated. A session
// already removed by another path, or active again by the time it is
// terminated, is not counted.
func (s *Sweeper) Sweep() []domain.SessionID {
	ctx, span := tracing.TraceSweep(context.Background(), s.cfg.SessionTimeout)
	defer span.End()

	cutoff := s.now().Add(-s.cfg.SessionTimeout)
	idle := s.registry.IdleSince(cutoff)

	expired := make([]domain.SessionID, 0, len(idle))
	for _, id := range idle {
		if s.terminator.TerminateIdle(id, cutoff) {
			expired = append(expired, id)
			s.logger.Infow("session expired", "session_id", id, "idle_cutoff", cutoff)
		}
	}
	s.metrics.RecordSweep(len(expired))
	tracing.AddSpanAttributes(ctx, tracing.ExpiredKey.Int(len(expired)))
	if len(expired) > 0 {
		s.logger.Infow("sweep finished", "expired", len(expired), "remaining", s.registry.Count())
	}
	return expired
}
