package monitoring

import (
	"context"
	"time"

	"lanrelay/internal/core/domain"
	"lanrelay/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Media packet outcomes.
const (
	MediaRelayed       = "relayed"
	MediaUnknownType   = "unknown_type"
	MediaMalformed     = "malformed"
	MediaUnknownSender = "unknown_sender"
	MediaSendFailed    = "send_failed"
)

// PrometheusCollector holds every relay metric. A nil collector is valid and
// records nothing.
type PrometheusCollector struct {
	sessionsActive  prometheus.Gauge
	sessionsJoined  prometheus.Counter
	sessionsRemoved *prometheus.CounterVec

	controlMessages *prometheus.CounterVec
	controlErrors   *prometheus.CounterVec
	broadcasts      *prometheus.CounterVec
	deliveries      prometheus.Counter

	mediaPackets *prometheus.CounterVec
	mediaBytes   prometheus.Counter

	transfers        *prometheus.CounterVec
	transferBytes    *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
	workersInUse     prometheus.Gauge
	workersQueued    prometheus.Gauge

	sweeperExpired prometheus.Counter
	sweeperRuns    prometheus.Counter
}

// NewPrometheusCollector registers the relay metrics on reg. Passing
// prometheus.DefaultRegisterer exposes them on the default /metrics handler.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	f := promauto.With(reg)
	return &PrometheusCollector{
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "lanrelay_sessions_active",
			Help: "Number of registered sessions",
		}),
		sessionsJoined: f.NewCounter(prometheus.CounterOpts{
			Name: "lanrelay_sessions_joined_total",
			Help: "Total number of successful registrations",
		}),
		sessionsRemoved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lanrelay_sessions_removed_total",
			Help: "Total number of removed sessions by reason",
		}, []string{"reason"}),

		controlMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lanrelay_control_messages_total",
			Help: "Control messages received by command",
		}, []string{"command"}),
		controlErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lanrelay_control_errors_total",
			Help: "Error replies sent on the control channel by code",
		}, []string{"code"}),
		broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lanrelay_broadcasts_total",
			Help: "Control broadcasts by message kind",
		}, []string{"kind"}),
		deliveries: f.NewCounter(prometheus.CounterOpts{
			Name: "lanrelay_control_deliveries_total",
			Help: "Control frames queued to participants",
		}),

		mediaPackets: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lanrelay_media_packets_total",
			Help: "Media datagrams by outcome",
		}, []string{"outcome"}),
		mediaBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "lanrelay_media_relayed_bytes_total",
			Help: "Media bytes written to recipients",
		}),

		transfers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lanrelay_file_transfers_total",
			Help: "File transfers by direction and outcome",
		}, []string{"direction", "outcome"}),
		transferBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lanrelay_file_transfer_bytes_total",
			Help: "File transfer payload bytes by direction",
		}, []string{"direction"}),
		transferDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lanrelay_file_transfer_duration_seconds",
			Help:    "Duration of file transfers",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"direction"}),
		workersInUse: f.NewGauge(prometheus.GaugeOpts{
			Name: "lanrelay_file_workers_in_use",
			Help: "File transfer workers currently busy",
		}),
		workersQueued: f.NewGauge(prometheus.GaugeOpts{
			Name: "lanrelay_file_workers_queued",
			Help: "File transfer connections waiting for a worker",
		}),

		sweeperExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "lanrelay_sweeper_expired_total",
			Help: "Sessions removed by the liveness sweeper",
		}),
		sweeperRuns: f.NewCounter(prometheus.CounterOpts{
			Name: "lanrelay_sweeper_runs_total",
			Help: "Liveness sweeper passes",
		}),
	}
}

var _ ports.PresenceObserver = (*PrometheusCollector)(nil)

// OnPresence keeps the session metrics in step with the registry.
func (p *PrometheusCollector) OnPresence(_ context.Context, ev domain.PresenceEvent) {
	if p == nil {
		return
	}
	switch ev.Type {
	case domain.ChangeJoined:
		p.sessionsJoined.Inc()
	case domain.ChangeLeft:
		p.sessionsRemoved.WithLabelValues(string(ev.Reason)).Inc()
	}
	p.sessionsActive.Set(float64(len(ev.Snapshot)))
}

func (p *PrometheusCollector) RecordControlMessage(command string) {
	if p == nil {
		return
	}
	p.controlMessages.WithLabelValues(command).Inc()
}

func (p *PrometheusCollector) RecordControlError(code string) {
	if p == nil {
		return
	}
	p.controlErrors.WithLabelValues(code).Inc()
}

func (p *PrometheusCollector) RecordBroadcast(kind string, recipients int) {
	if p == nil {
		return
	}
	p.broadcasts.WithLabelValues(kind).Inc()
	p.deliveries.Add(float64(recipients))
}

func (p *PrometheusCollector) RecordMediaPacket(outcome string) {
	if p == nil {
		return
	}
	p.mediaPackets.WithLabelValues(outcome).Inc()
}

func (p *PrometheusCollector) RecordMediaBytes(n int) {
	if p == nil {
		return
	}
	p.mediaBytes.Add(float64(n))
}

func (p *PrometheusCollector) RecordTransfer(direction, outcome string, bytes int64, duration time.Duration) {
	if p == nil {
		return
	}
	p.transfers.WithLabelValues(direction, outcome).Inc()
	p.transferBytes.WithLabelValues(direction).Add(float64(bytes))
	p.transferDuration.WithLabelValues(direction).Observe(duration.Seconds())
}

func (p *PrometheusCollector) WorkerAcquired() {
	if p == nil {
		return
	}
	p.workersInUse.Inc()
}

func (p *PrometheusCollector) WorkerReleased() {
	if p == nil {
		return
	}
	p.workersInUse.Dec()
}

func (p *PrometheusCollector) QueueEntered() {
	if p == nil {
		return
	}
	p.workersQueued.Inc()
}

func (p *PrometheusCollector) QueueLeft() {
	if p == nil {
		return
	}
	p.workersQueued.Dec()
}

func (p *PrometheusCollector) RecordSweep(expired int) {
	if p == nil {
		return
	}
	p.sweeperRuns.Inc()
	p.sweeperExpired.Add(float64(expired))
}
