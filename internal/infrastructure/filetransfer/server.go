package filetransfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"lanrelay/internal/core/domain"
	"lanrelay/internal/core/ports"
	"lanrelay/internal/infrastructure/monitoring"
	"lanrelay/pkg/config"
	"lanrelay/pkg/optimize"
)

const copyBufferSize = 64 * 1024

type Config struct {
	Workers      int
	IOTimeout    time.Duration
	MaxFilename  int
	MaxFileBytes int64
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Workers:      cfg.FileTransfer.Workers,
		IOTimeout:    cfg.FileTransfer.IOTimeout,
		MaxFilename:  cfg.FileTransfer.MaxFilename,
		MaxFileBytes: cfg.FileTransfer.MaxFileBytes,
	}
}

// PoolStats describes worker pool occupancy.
type PoolStats struct {
	Workers int   `json:"workers"`
	InUse   int64 `json:"in_use"`
	Queued  int64 `json:"queued"`
}

type activeTransfer struct {
	ticket domain.FileTransferTicket
	conn   net.Conn
}

// Server accepts any number of transfer connections and runs the byte
// copying of at most cfg.Workers of them at a time. Connections beyond that
// wait for a free worker.
type Server struct {
	registry ports.SessionRegistry
	store    ports.FileStore
	cfg      Config
	metrics  *monitoring.PrometheusCollector
	logger   *zap.SugaredLogger

	pool    *optimize.BytePool
	workers *semaphore.Weighted
	inUse   atomic.Int64
	queued  atomic.Int64

	mu     sync.Mutex
	active map[string]*activeTransfer

	listener net.Listener
	wg       sync.WaitGroup
	closing  atomic.Bool
}

func NewServer(registry ports.SessionRegistry, store ports.FileStore, cfg Config, metrics *monitoring.PrometheusCollector, logger *zap.SugaredLogger) *Server {
	if cfg.Workers <= 0 {
		cfg.Workers = 20
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = 30 * time.Second
	}
	return &Server{
		registry: registry,
		store:    store,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.With("component", "file_transfer"),
		pool:     optimize.NewBytePool(copyBufferSize),
		workers:  semaphore.NewWeighted(int64(cfg.Workers)),
		active:   make(map[string]*activeTransfer),
	}
}

func (s *Server) Listen(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("file transfer listener: bind %s: %w", address, err)
	}
	s.listener = ln
	s.logger.Infow("file transfer listener bound", "address", ln.Addr().String(), "workers", s.cfg.Workers)
	return nil
}

func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts transfer connections until ctx is cancelled. In-flight
// transfers are interrupted on shutdown and their partial uploads discarded.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("file transfer listener not bound")
	}

	go func() {
		<-ctx.Done()
		s.shutdown()
	}()

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if s.closing.Load() {
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return fmt.Errorf("file transfer accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer nc.Close()
			s.serveConn(ctx, nc)
		}()
	}
}

// Serving reports whether the listener is bound and not shut down.
func (s *Server) Serving() bool {
	return s.listener != nil && !s.closing.Load()
}

// Close stops accepting transfers and interrupts the ones in flight.
func (s *Server) Close() error {
	s.shutdown()
	return nil
}

func (s *Server) shutdown() {
	if !s.closing.CompareAndSwap(false, true) {
		return
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.mu.Lock()
	for _, at := range s.active {
		_ = at.conn.SetDeadline(time.Now())
	}
	s.mu.Unlock()
	s.logger.Info("file transfer listener stopped")
}

// serveConn waits for a worker, then runs the transfer.
func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	s.queued.Add(1)
	s.metrics.QueueEntered()
	err := s.workers.Acquire(ctx, 1)
	s.queued.Add(-1)
	s.metrics.QueueLeft()
	if err != nil {
		return
	}
	defer s.workers.Release(1)

	s.inUse.Add(1)
	s.metrics.WorkerAcquired()
	defer func() {
		s.inUse.Add(-1)
		s.metrics.WorkerReleased()
	}()

	s.handle(ctx, nc)
}

func (s *Server) track(t domain.FileTransferTicket, nc net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[t.ID] = &activeTransfer{ticket: t, conn: nc}
	if s.closing.Load() {
		_ = nc.SetDeadline(time.Now())
	}
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}

// ActiveTransfers lists transfers currently holding a worker.
func (s *Server) ActiveTransfers() []domain.FileTransferTicket {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.FileTransferTicket, 0, len(s.active))
	for _, at := range s.active {
		out = append(out, at.ticket)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (s *Server) PoolStats() PoolStats {
	return PoolStats{
		Workers: s.cfg.Workers,
		InUse:   s.inUse.Load(),
		Queued:  s.queued.Load(),
	}
}

func newTicketID() string {
	return uuid.NewString()
}
