package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"lanrelay/internal/core/domain"
	"lanrelay/internal/core/ports"
	"lanrelay/pkg/circuitbreaker"
)

// Event is the JSON document published for every presence change.
type Event struct {
	Type        domain.ChangeKind    `json:"type"`
	InstanceID  string               `json:"instance_id"`
	Timestamp   time.Time            `json:"timestamp"`
	Participant domain.Participant   `json:"participant"`
	Reason      domain.LeaveReason   `json:"reason,omitempty"`
	Snapshot    []domain.Participant `json:"snapshot"`
}

// Publisher is the transport the bus writes to.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// StoreSnapshot keeps the latest roster of an instance readable by key
	// until ttl elapses.
	StoreSnapshot(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

type BusConfig struct {
	Channel        string
	InstanceID     string
	Buffer         int
	PublishTimeout time.Duration
	SnapshotTTL    time.Duration
	Breaker        circuitbreaker.Config
}

func DefaultBusConfig() BusConfig {
	return BusConfig{
		Channel:        "lanrelay:presence",
		Buffer:         1024,
		PublishTimeout: 2 * time.Second,
		SnapshotTTL:    10 * time.Minute,
		Breaker:        circuitbreaker.DefaultConfig(),
	}
}

type BusStats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
	Breaker   string `json:"breaker"`
}

// PresenceBus republishes presence events to Redis. OnPresence only enqueues;
// a single goroutine started by Run does the network I/O, so a slow or
// unreachable Redis never stalls the control channel.
type PresenceBus struct {
	pub     Publisher
	cfg     BusConfig
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger

	queue     chan Event
	closeOnce sync.Once
	done      chan struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

var _ ports.PresenceObserver = (*PresenceBus)(nil)

func NewPresenceBus(pub Publisher, cfg BusConfig, logger *zap.SugaredLogger) *PresenceBus {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBusConfig().Buffer
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultBusConfig().PublishTimeout
	}
	b := &PresenceBus{
		pub:     pub,
		cfg:     cfg,
		breaker: circuitbreaker.New(cfg.Breaker),
		logger:  logger,
		queue:   make(chan Event, cfg.Buffer),
		done:    make(chan struct{}),
	}
	b.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("presence bus breaker changed state", "from", from.String(), "to", to.String())
	})
	return b
}

// OnPresence enqueues ev for publishing. Events are dropped when the queue is
// full.
func (b *PresenceBus) OnPresence(_ context.Context, ev domain.PresenceEvent) {
	event := Event{
		Type:        ev.Type,
		InstanceID:  b.cfg.InstanceID,
		Timestamp:   ev.Timestamp,
		Participant: ev.Participant,
		Reason:      ev.Reason,
		Snapshot:    ev.Snapshot,
	}
	select {
	case <-b.done:
		b.dropped.Add(1)
	case b.queue <- event:
	default:
		b.dropped.Add(1)
	}
}

// Run publishes queued events until ctx is cancelled or Close is called.
func (b *PresenceBus) Run(ctx context.Context) error {
	b.logger.Infow("presence bus started", "channel", b.cfg.Channel, "instance_id", b.cfg.InstanceID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.done:
			return nil
		case ev := <-b.queue:
			b.publish(ctx, ev)
		}
	}
}

func (b *PresenceBus) publish(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.failed.Add(1)
		b.logger.Errorw("failed to marshal presence event", "type", ev.Type, "error", err)
		return
	}

	err = b.breaker.Execute(func() error {
		pctx, cancel := context.WithTimeout(ctx, b.cfg.PublishTimeout)
		defer cancel()
		if err := b.pub.Publish(pctx, b.cfg.Channel, data); err != nil {
			return err
		}
		if b.cfg.SnapshotTTL <= 0 {
			return nil
		}
		snap, err := json.Marshal(ev.Snapshot)
		if err != nil {
			return err
		}
		return b.pub.StoreSnapshot(pctx, b.snapshotKey(), snap, b.cfg.SnapshotTTL)
	})
	switch {
	case err == nil:
		b.published.Add(1)
		b.logger.Debugw("published presence event", "type", ev.Type, "session_id", ev.Participant.ID)
	case errors.Is(err, circuitbreaker.ErrOpen):
		b.dropped.Add(1)
	default:
		b.failed.Add(1)
		b.logger.Warnw("failed to publish presence event", "type", ev.Type, "error", err)
	}
}

func (b *PresenceBus) snapshotKey() string {
	return fmt.Sprintf("%s:snapshot:%s", b.cfg.Channel, b.cfg.InstanceID)
}

func (b *PresenceBus) Stats() BusStats {
	return BusStats{
		Published: b.published.Load(),
		Dropped:   b.dropped.Load(),
		Failed:    b.failed.Load(),
		Breaker:   b.breaker.State().String(),
	}
}

func (b *PresenceBus) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}
