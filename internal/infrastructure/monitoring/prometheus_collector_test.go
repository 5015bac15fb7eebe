package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanrelay/internal/core/domain"
)

// value returns the value of the metric name whose labels match labels.
func value(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !labelsMatch(m, labels) {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestPrometheusCollector_Presence(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)
	ctx := context.Background()

	alice := domain.Participant{ID: "a", Name: "alice"}
	bob := domain.Participant{ID: "b", Name: "bob"}

	c.OnPresence(ctx, domain.PresenceEvent{Type: domain.ChangeJoined, Participant: alice, Snapshot: []domain.Participant{alice}})
	c.OnPresence(ctx, domain.PresenceEvent{Type: domain.ChangeJoined, Participant: bob, Snapshot: []domain.Participant{alice, bob}})
	c.OnPresence(ctx, domain.PresenceEvent{Type: domain.ChangeLeft, Participant: alice, Reason: domain.LeaveTimeout, Snapshot: []domain.Participant{bob}})

	assert.Equal(t, 2.0, value(t, reg, "lanrelay_sessions_joined_total", nil))
	assert.Equal(t, 1.0, value(t, reg, "lanrelay_sessions_active", nil))
	assert.Equal(t, 1.0, value(t, reg, "lanrelay_sessions_removed_total", map[string]string{"reason": "timeout"}))
}

func TestPrometheusCollector_Transfers(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.RecordTransfer("upload", "ok", 1024, 20*time.Millisecond)
	c.RecordTransfer("upload", "interrupted", 10, time.Millisecond)
	c.RecordTransfer("download", "not_found", 0, time.Millisecond)

	assert.Equal(t, 1.0, value(t, reg, "lanrelay_file_transfers_total", map[string]string{"direction": "upload", "outcome": "ok"}))
	assert.Equal(t, 1034.0, value(t, reg, "lanrelay_file_transfer_bytes_total", map[string]string{"direction": "upload"}))
	assert.Equal(t, 2.0, value(t, reg, "lanrelay_file_transfer_duration_seconds", map[string]string{"direction": "upload"}))

	c.QueueEntered()
	c.QueueEntered()
	c.QueueLeft()
	c.WorkerAcquired()
	assert.Equal(t, 1.0, value(t, reg, "lanrelay_file_workers_queued", nil))
	assert.Equal(t, 1.0, value(t, reg, "lanrelay_file_workers_in_use", nil))
}

func TestPrometheusCollector_MediaAndSweeper(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.RecordMediaPacket(MediaRelayed)
	c.RecordMediaPacket(MediaUnknownType)
	c.RecordMediaBytes(300)
	c.RecordSweep(0)
	c.RecordSweep(2)

	assert.Equal(t, 1.0, value(t, reg, "lanrelay_media_packets_total", map[string]string{"outcome": MediaUnknownType}))
	assert.Equal(t, 300.0, value(t, reg, "lanrelay_media_relayed_bytes_total", nil))
	assert.Equal(t, 2.0, value(t, reg, "lanrelay_sweeper_runs_total", nil))
	assert.Equal(t, 2.0, value(t, reg, "lanrelay_sweeper_expired_total", nil))
}

func TestPrometheusCollector_NilIsNoop(t *testing.T) {
	var c *PrometheusCollector
	assert.NotPanics(t, func() {
		c.OnPresence(context.Background(), domain.PresenceEvent{Type: domain.ChangeJoined})
		c.RecordControlMessage("CHAT")
		c.RecordBroadcast("USERS", 3)
		c.RecordTransfer("upload", "ok", 1, time.Second)
		c.RecordSweep(1)
	})
}
