package media

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lanrelay/internal/core/domain"
	"lanrelay/internal/infrastructure/monitoring"
	"lanrelay/internal/infrastructure/repositories/memory"
	"lanrelay/pkg/client"
	"lanrelay/pkg/protocol"
)

func startRelay(t *testing.T) (*Relay, *memory.SessionRegistry, string) {
	t.Helper()
	reg := memory.NewSessionRegistry()
	metrics := monitoring.NewPrometheusCollector(prometheus.NewRegistry())
	r := NewRelay(reg, Config{MaxPacket: 2048, SendTimeout: 50 * time.Millisecond}, metrics, zap.NewNop().Sugar())
	require.NoError(t, r.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return r, reg, r.Addr().String()
}

func sender(t *testing.T, addr, name string) *client.MediaSender {
	t.Helper()
	s, err := client.NewMediaSender(addr, name)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func receive(t *testing.T, s *client.MediaSender) protocol.MediaPacket {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	buf := make([]byte, 2048)
	p, err := s.Receive(ctx, buf)
	require.NoError(t, err)
	return p
}

func assertSilent(t *testing.T, s *client.MediaSender) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err := s.Receive(ctx, make([]byte, 2048))
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())
}

// waitMediaAddress blocks until the relay has learned id's address.
func waitMediaAddress(t *testing.T, reg *memory.SessionRegistry, id domain.SessionID) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, target := range reg.MediaTargets("") {
			if target.ID == id {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func registerNamed(t *testing.T, reg *memory.SessionRegistry, name string) domain.SessionID {
	t.Helper()
	ch, err := reg.Register(name)
	require.NoError(t, err)
	return ch.Participant.ID
}

func TestRelay_FansOutToOthers(t *testing.T) {
	r, reg, addr := startRelay(t)
	a := registerNamed(t, reg, "A")
	b := registerNamed(t, reg, "B")
	c := registerNamed(t, reg, "C")

	sa, sb, sc := sender(t, addr, "A"), sender(t, addr, "B"), sender(t, addr, "C")

	require.NoError(t, sb.Send(domain.MediaAudio, []byte("hello from b")))
	waitMediaAddress(t, reg, b)
	require.NoError(t, sc.Send(domain.MediaAudio, []byte("hello from c")))
	waitMediaAddress(t, reg, c)
	got := receive(t, sb)
	assert.Equal(t, "C", string(got.Sender))

	payload := []byte{0x00, 0x01, 0xfe, 0xff}
	require.NoError(t, sa.Send(domain.MediaVideo, payload))
	waitMediaAddress(t, reg, a)

	for _, s := range []*client.MediaSender{sb, sc} {
		p := receive(t, s)
		assert.Equal(t, domain.MediaVideo, p.Type)
		assert.Equal(t, "A", string(p.Sender))
		assert.Equal(t, payload, p.Payload)
	}
	assertSilent(t, sa)
	assert.Equal(t, uint64(3), r.Stats().Received)
}

func TestRelay_SenderResolvedByID(t *testing.T) {
	_, reg, addr := startRelay(t)
	reg.Register("same")
	dupID := registerNamed(t, reg, "same")
	listener := registerNamed(t, reg, "L")

	sl := sender(t, addr, string(listener))
	require.NoError(t, sl.Send(domain.MediaScreen, nil))
	waitMediaAddress(t, reg, listener)

	sd := sender(t, addr, string(dupID))
	require.NoError(t, sd.Send(domain.MediaScreen, []byte("frame")))
	waitMediaAddress(t, reg, dupID)

	p := receive(t, sl)
	assert.Equal(t, string(dupID), string(p.Sender))
	assert.Equal(t, []byte("frame"), p.Payload)
}

func TestRelay_UnknownTypeDroppedSilently(t *testing.T) {
	r, reg, addr := startRelay(t)
	a := registerNamed(t, reg, "A")
	b := registerNamed(t, reg, "B")
	sa, sb := sender(t, addr, "A"), sender(t, addr, "B")

	require.NoError(t, sb.Send(domain.MediaAudio, nil))
	waitMediaAddress(t, reg, b)
	require.NoError(t, sa.Send(domain.MediaAudio, nil))
	waitMediaAddress(t, reg, a)
	receive(t, sb)

	require.NoError(t, sa.Send(domain.MediaType(9), []byte("bogus")))
	require.NoError(t, sa.Send(domain.MediaVideo, []byte("valid")))

	p := receive(t, sb)
	assert.Equal(t, domain.MediaVideo, p.Type)
	assert.Equal(t, []byte("valid"), p.Payload)
	assert.Equal(t, uint64(1), r.Stats().Dropped)
}

func TestRelay_MalformedAndUnknownSender(t *testing.T) {
	r, reg, addr := startRelay(t)
	b := registerNamed(t, reg, "B")
	sb := sender(t, addr, "B")
	require.NoError(t, sb.Send(domain.MediaAudio, nil))
	waitMediaAddress(t, reg, b)

	raw, err := net.Dial("udp", addr)
	require.NoError(t, err)
	defer raw.Close()

	_, err = raw.Write([]byte{1, 0xff, 0xff, 'x'})
	require.NoError(t, err)
	pkt, err := protocol.EncodeMedia(domain.MediaAudio, "ghost", []byte("boo"))
	require.NoError(t, err)
	_, err = raw.Write(pkt)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return r.Stats().Dropped == 2 }, 2*time.Second, 5*time.Millisecond)
	assertSilent(t, sb)
}

func TestRelay_SendFailureDoesNotStopFanOut(t *testing.T) {
	_, reg, addr := startRelay(t)
	broken := registerNamed(t, reg, "broken")
	require.NoError(t, reg.SetMediaAddress(broken, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}))
	a := registerNamed(t, reg, "A")
	b := registerNamed(t, reg, "B")

	sa, sb := sender(t, addr, "A"), sender(t, addr, "B")
	require.NoError(t, sb.Send(domain.MediaAudio, nil))
	waitMediaAddress(t, reg, b)

	require.NoError(t, sa.Send(domain.MediaAudio, []byte("x")))
	waitMediaAddress(t, reg, a)
	assert.Equal(t, []byte("x"), receive(t, sb).Payload)
}

func TestRelay_ServingTracksClose(t *testing.T) {
	unbound := NewRelay(memory.NewSessionRegistry(), Config{}, nil, zap.NewNop().Sugar())
	assert.False(t, unbound.Serving())

	r, _, _ := startRelay(t)
	assert.True(t, r.Serving())

	require.NoError(t, r.Close())
	assert.False(t, r.Serving())
	assert.NotNil(t, r.Addr())
}
