package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"lanrelay/internal/core/domain"
	"lanrelay/internal/core/ports"
	"lanrelay/internal/infrastructure/monitoring"
	"lanrelay/pkg/config"
	rerrors "lanrelay/pkg/errors"
	"lanrelay/pkg/protocol"
)

type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxFrameBytes    int
	SendQueue        int

	RateLimit         bool
	MessagesPerSecond float64
	Burst             int
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		HandshakeTimeout:  cfg.Control.HandshakeTimeout,
		WriteTimeout:      cfg.Control.WriteTimeout,
		MaxFrameBytes:     cfg.Control.MaxFrameBytes,
		SendQueue:         cfg.Control.SendQueue,
		RateLimit:         cfg.RateLimiting.Enabled,
		MessagesPerSecond: cfg.RateLimiting.MessagesPerSecond,
		Burst:             cfg.RateLimiting.Burst,
	}
}

// Server accepts control connections and routes their commands.
//
// Every registry mutation that leads to a broadcast, and every broadcast,
// happens under hub. Recipients therefore observe events in the order the
// server applied them. Sends under hub only enqueue; socket writes happen in
// each connection's writePump.
type Server struct {
	registry ports.SessionRegistry
	cfg      Config
	logger   *zap.SugaredLogger
	metrics  *monitoring.PrometheusCollector

	observersMu sync.RWMutex
	observers   []ports.PresenceObserver

	hub   sync.Mutex
	conns map[domain.SessionID]*conn

	listener net.Listener
	wg       sync.WaitGroup
	closing  atomic.Bool

	// Every open socket, registered or not, so shutdown can unblock readers
	// still in the handshake.
	socketsMu sync.Mutex
	sockets   map[net.Conn]struct{}
}

func NewServer(registry ports.SessionRegistry, cfg Config, metrics *monitoring.PrometheusCollector, logger *zap.SugaredLogger) *Server {
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = 256
	}
	return &Server{
		registry: registry,
		cfg:      cfg,
		logger:   logger.With("component", "control"),
		metrics:  metrics,
		conns:    make(map[domain.SessionID]*conn),
		sockets:  make(map[net.Conn]struct{}),
	}
}

// AddObserver registers a presence observer. Observers are invoked while the
// broadcast lock is held and must not block.
func (s *Server) AddObserver(o ports.PresenceObserver) {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	s.observers = append(s.observers, o)
}

// Listen binds the control listener.
func (s *Server) Listen(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("control listener: bind %s: %w", address, err)
	}
	s.listener = ln
	s.logger.Infow("control listener bound", "address", ln.Addr().String())
	return nil
}

func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("control listener not bound")
	}

	go func() {
		<-ctx.Done()
		s.shutdown()
	}()

	var tempDelay time.Duration
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if s.closing.Load() {
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else if tempDelay *= 2; tempDelay > time.Second {
					tempDelay = time.Second
				}
				s.logger.Warnw("accept failed, retrying", "error", err, "delay", tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return fmt.Errorf("control accept: %w", err)
		}
		tempDelay = 0

		s.track(nc, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(nc, false)
			s.handleConn(ctx, nc)
		}()
	}
}

func (s *Server) shutdown() {
	if !s.closing.CompareAndSwap(false, true) {
		return
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.hub.Lock()
	ids := make([]domain.SessionID, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	s.hub.Unlock()

	for _, id := range ids {
		s.Terminate(id, domain.LeaveShutdown)
	}

	s.socketsMu.Lock()
	for nc := range s.sockets {
		_ = nc.SetReadDeadline(time.Now())
	}
	s.socketsMu.Unlock()
	s.logger.Infow("control listener stopped", "sessions_closed", len(ids))
}

// Serving reports whether the listener is bound and not shut down.
func (s *Server) Serving() bool {
	return s.listener != nil && !s.closing.Load()
}

// Close stops the listener and disconnects every session. Serve, if running,
// returns nil.
func (s *Server) Close() error {
	s.shutdown()
	return nil
}

func (s *Server) track(nc net.Conn, add bool) {
	s.socketsMu.Lock()
	defer s.socketsMu.Unlock()
	if add {
		s.sockets[nc] = struct{}{}
	} else {
		delete(s.sockets, nc)
	}
}

// ConnectionCount returns the number of registered control connections.
func (s *Server) ConnectionCount() int {
	s.hub.Lock()
	defer s.hub.Unlock()
	return len(s.conns)
}

// Terminate removes the session and, if it was still live, broadcasts the
// new snapshot to the remaining participants and closes its connection.
// It reports whether this call performed the removal.
func (s *Server) Terminate(id domain.SessionID, reason domain.LeaveReason) bool {
	s.hub.Lock()
	change, removed := s.registry.Remove(id)
	return s.finishTerminate(id, reason, change, removed)
}

// TerminateIdle expires the session only if it has had no activity since
// cutoff. The check and the removal happen atomically, so traffic that
// arrives after a sweep picked the session keeps it alive.
func (s *Server) TerminateIdle(id domain.SessionID, cutoff time.Time) bool {
	s.hub.Lock()
	change, removed := s.registry.RemoveIfIdle(id, cutoff)
	if !removed {
		s.hub.Unlock()
		return false
	}
	return s.finishTerminate(id, domain.LeaveTimeout, change, true)
}

// finishTerminate is entered with hub held and releases it.
func (s *Server) finishTerminate(id domain.SessionID, reason domain.LeaveReason, change domain.Change, removed bool) bool {
	c := s.conns[id]
	delete(s.conns, id)

	var slow []domain.SessionID
	if removed {
		slow = s.broadcastSnapshotLocked()
		s.notifyLocked(change, reason)
	}
	s.hub.Unlock()

	if c != nil {
		if reason == domain.LeaveSlowConsumer || reason == domain.LeaveConnectionLost {
			c.abort()
		} else {
			c.close()
		}
	}
	if removed {
		s.logger.Infow("session removed", "session_id", id, "reason", reason)
	}
	s.dropSlow(slow)
	return removed
}

var (
	_ ports.SessionTerminator = (*Server)(nil)
	_ ports.IdleTerminator    = (*Server)(nil)
)

// join registers the connection and sends CONNECTED to it followed by the
// snapshot to everyone.
func (s *Server) join(c *conn, displayName string) (domain.Change, error) {
	s.hub.Lock()
	change, err := s.registry.Register(displayName)
	if err != nil {
		s.hub.Unlock()
		return change, err
	}
	p := change.Participant
	c.id, c.name = p.ID, p.Name
	c.logger = c.logger.With("session_id", p.ID)
	s.conns[p.ID] = c

	var slow []domain.SessionID
	if err := c.trySend(protocol.Connected(p.ID, p.Name)); err != nil {
		slow = append(slow, p.ID)
	}
	slow = append(slow, s.broadcastSnapshotLocked()...)
	s.notifyLocked(change, "")
	s.hub.Unlock()

	s.dropSlow(slow)
	return change, nil
}

func (s *Server) broadcastSnapshotLocked() []domain.SessionID {
	msg, err := protocol.Users(s.registry.Snapshot())
	if err != nil {
		s.logger.Errorw("encode snapshot failed", "error", err)
		return nil
	}
	return s.broadcastLocked(protocol.MsgUsers, msg)
}

// broadcastLocked queues msg to every registered connection and returns the
// ids whose queues were full.
func (s *Server) broadcastLocked(kind, msg string) []domain.SessionID {
	var slow []domain.SessionID
	for id, c := range s.conns {
		if err := c.trySend(msg); errors.Is(err, ErrBackpressure) {
			slow = append(slow, id)
		}
	}
	s.metrics.RecordBroadcast(kind, len(s.conns)-len(slow))
	return slow
}

func (s *Server) sendToLocked(id domain.SessionID, msg string) (found bool, slow bool) {
	c, ok := s.conns[id]
	if !ok {
		return false, false
	}
	return true, errors.Is(c.trySend(msg), ErrBackpressure)
}

func (s *Server) dropSlow(ids []domain.SessionID) {
	for _, id := range ids {
		s.logger.Warnw("disconnecting slow consumer", "session_id", id)
		s.Terminate(id, domain.LeaveSlowConsumer)
	}
}

func (s *Server) notifyLocked(change domain.Change, reason domain.LeaveReason) {
	s.observersMu.RLock()
	observers := s.observers
	s.observersMu.RUnlock()
	if len(observers) == 0 {
		return
	}

	ev := domain.PresenceEvent{
		Type:        change.Kind,
		Participant: change.Participant,
		Reason:      reason,
		Snapshot:    s.registry.Snapshot(),
		Timestamp:   time.Now(),
	}
	for _, o := range observers {
		o.OnPresence(context.Background(), ev)
	}
}

func (s *Server) newLimiter() *rate.Limiter {
	if !s.cfg.RateLimit || s.cfg.MessagesPerSecond <= 0 {
		return nil
	}
	burst := s.cfg.Burst
	if burst <= 0 {
		burst = int(s.cfg.MessagesPerSecond)
	}
	return rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), burst)
}

// reply sends an error frame to a single connection.
func (s *Server) reply(c *conn, err error) {
	code := rerrors.CodeOf(err)
	s.metrics.RecordControlError(string(code))
	msg := err.Error()
	var re *rerrors.RelayError
	if errors.As(err, &re) {
		msg = re.Message
	}
	if sendErr := c.trySend(protocol.Error(string(code), msg)); errors.Is(sendErr, ErrBackpressure) && c.registered() {
		s.Terminate(c.id, domain.LeaveSlowConsumer)
	}
}
