package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "lanrelay", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	tp, err := Init(DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func TestTraceTransfer(t *testing.T) {
	sr := withRecorder(t)

	ctx, span := TraceTransfer(context.Background(), "upload", "t-1", "127.0.0.1:5000")
	AddSpanAttributes(ctx, BytesKey.Int64(42))
	MeasureDuration(ctx, time.Now().Add(-time.Second))
	RecordError(ctx, errors.New("boom"))
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	s := spans[0]
	assert.Equal(t, "transfer.upload", s.Name())
	assert.Equal(t, codes.Error, s.Status().Code)

	attrs := map[string]interface{}{}
	for _, kv := range s.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "t-1", attrs["relay.transfer_id"])
	assert.Equal(t, int64(42), attrs["relay.bytes"])
	assert.GreaterOrEqual(t, attrs["duration_ms"], int64(1000))
}

func TestHelpersWithoutRecordingSpan(t *testing.T) {
	ctx := context.Background()
	AddSpanAttributes(ctx, StatusKey.String("ok"))
	RecordError(ctx, errors.New("ignored"))

	_, span := TraceHTTPRequest(ctx, "GET", "/health")
	require.NotNil(t, span)
	span.End()
}

func TestTraceSessionAndSweep(t *testing.T) {
	sr := withRecorder(t)

	ctx, span := TraceSession(context.Background(), "10.0.0.7:41000")
	AddSpanAttributes(ctx, SessionIDKey.String("abc"))
	span.End()

	ctx, span = TraceSweep(context.Background(), 5*time.Minute)
	AddSpanAttributes(ctx, ExpiredKey.Int(3))
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "control.session", spans[0].Name())
	assert.Equal(t, "sweeper.sweep", spans[1].Name())

	attrs := map[string]interface{}{}
	for _, kv := range spans[1].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, int64(300000), attrs["relay.session_timeout_ms"])
	assert.Equal(t, int64(3), attrs["relay.expired"])
}
