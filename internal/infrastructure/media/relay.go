package media

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"

	"lanrelay/internal/core/ports"
	"lanrelay/internal/infrastructure/monitoring"
	"lanrelay/pkg/config"
	"lanrelay/pkg/protocol"
)

type Config struct {
	ReadBuffer  int
	WriteBuffer int
	MaxPacket   int
	SendTimeout time.Duration
	DSCP        int
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		ReadBuffer:  cfg.Media.ReadBuffer,
		WriteBuffer: cfg.Media.WriteBuffer,
		MaxPacket:   cfg.Media.MaxPacket,
		SendTimeout: cfg.Media.SendTimeout,
		DSCP:        cfg.Media.DSCP,
	}
}

// Stats are cumulative packet counters.
type Stats struct {
	Received uint64 `json:"received"`
	Relayed  uint64 `json:"relayed"`
	Dropped  uint64 `json:"dropped"`
	Bytes    uint64 `json:"bytes"`
}

// Relay fans media datagrams out to every other session with a known media
// address. Reception and fan-out run on a single goroutine.
type Relay struct {
	registry ports.SessionRegistry
	cfg      Config
	metrics  *monitoring.PrometheusCollector
	logger   *zap.SugaredLogger

	conn   *net.UDPConn
	closed atomic.Bool

	received atomic.Uint64
	relayed  atomic.Uint64
	dropped  atomic.Uint64
	bytes    atomic.Uint64
}

func NewRelay(registry ports.SessionRegistry, cfg Config, metrics *monitoring.PrometheusCollector, logger *zap.SugaredLogger) *Relay {
	if cfg.MaxPacket <= 0 {
		cfg.MaxPacket = 65535
	}
	return &Relay{
		registry: registry,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.With("component", "media"),
	}
}

// Listen binds the media socket and applies buffer sizes and DSCP marking.
func (r *Relay) Listen(address string) error {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return fmt.Errorf("media listener: resolve %s: %w", address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("media listener: bind %s: %w", address, err)
	}
	r.conn = conn

	if r.cfg.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(r.cfg.ReadBuffer); err != nil {
			r.logger.Warnw("failed to set media read buffer", "size", r.cfg.ReadBuffer, "error", err)
		}
	}
	if r.cfg.WriteBuffer > 0 {
		if err := conn.SetWriteBuffer(r.cfg.WriteBuffer); err != nil {
			r.logger.Warnw("failed to set media write buffer", "size", r.cfg.WriteBuffer, "error", err)
		}
	}
	if r.cfg.DSCP > 0 {
		// TOS carries DSCP in its upper six bits.
		if err := ipv4.NewPacketConn(conn).SetTOS(r.cfg.DSCP << 2); err != nil {
			r.logger.Debugw("DSCP marking unavailable", "dscp", r.cfg.DSCP, "error", err)
		}
	}

	r.logger.Infow("media listener bound", "address", conn.LocalAddr().String())
	return nil
}

func (r *Relay) Addr() net.Addr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Serve runs the receive loop until ctx is cancelled.
func (r *Relay) Serve(ctx context.Context) error {
	if r.conn == nil {
		return errors.New("media listener not bound")
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = r.Close()
		case <-stop:
		}
	}()

	buf := make([]byte, r.cfg.MaxPacket)
	for {
		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s := r.Stats()
				r.logger.Infow("media listener stopped",
					"received", s.Received,
					"relayed", s.Relayed,
					"dropped", s.Dropped,
				)
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			// ICMP port-unreachable from a departed recipient surfaces
			// here on some platforms; keep serving.
			r.logger.Debugw("media read failed", "error", err)
			continue
		}
		r.handlePacket(buf[:n], from)
	}
}

func (r *Relay) handlePacket(pkt []byte, from *net.UDPAddr) {
	r.received.Add(1)

	p, err := protocol.DecodeMedia(pkt)
	if err != nil {
		r.drop(outcomeFor(err))
		return
	}

	sender, ok := r.registry.ResolveMediaSender(string(p.Sender))
	if !ok {
		r.drop(monitoring.MediaUnknownSender)
		return
	}
	if err := r.registry.SetMediaAddress(sender, from); err != nil {
		r.drop(monitoring.MediaUnknownSender)
		return
	}

	for _, target := range r.registry.MediaTargets(sender) {
		if r.cfg.SendTimeout > 0 {
			_ = r.conn.SetWriteDeadline(time.Now().Add(r.cfg.SendTimeout))
		}
		n, err := r.conn.WriteToUDP(pkt, target.Addr)
		if err != nil {
			r.metrics.RecordMediaPacket(monitoring.MediaSendFailed)
			r.logger.Debugw("media send failed", "session_id", target.ID, "addr", target.Addr.String(), "error", err)
			continue
		}
		r.relayed.Add(1)
		r.bytes.Add(uint64(n))
		r.metrics.RecordMediaPacket(monitoring.MediaRelayed)
		r.metrics.RecordMediaBytes(n)
	}
}

func (r *Relay) drop(outcome string) {
	r.dropped.Add(1)
	r.metrics.RecordMediaPacket(outcome)
}

func outcomeFor(err error) string {
	if errors.Is(err, protocol.ErrUnknownMedia) {
		return monitoring.MediaUnknownType
	}
	return monitoring.MediaMalformed
}

// Serving reports whether the socket is bound and not closed.
func (r *Relay) Serving() bool {
	return r.conn != nil && !r.closed.Load()
}

// Close releases the media socket; a running Serve returns nil.
func (r *Relay) Close() error {
	if r.conn == nil {
		return nil
	}
	r.closed.Store(true)
	err := r.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (r *Relay) Stats() Stats {
	return Stats{
		Received: r.received.Load(),
		Relayed:  r.relayed.Load(),
		Dropped:  r.dropped.Load(),
		Bytes:    r.bytes.Load(),
	}
}
