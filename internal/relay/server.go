// Package relay assembles the session registry, the three listeners, the
// liveness sweeper and the admin surface into one process.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httphandlers "lanrelay/internal/handlers/http"
	"lanrelay/internal/infrastructure/control"
	"lanrelay/internal/infrastructure/distributed"
	"lanrelay/internal/infrastructure/filetransfer"
	"lanrelay/internal/infrastructure/media"
	"lanrelay/internal/infrastructure/middleware"
	"lanrelay/internal/infrastructure/monitoring"
	"lanrelay/internal/infrastructure/repositories/memory"
	"lanrelay/internal/infrastructure/signal"
	"lanrelay/internal/infrastructure/storage"
	"lanrelay/internal/infrastructure/sweeper"
	"lanrelay/pkg/config"
	"lanrelay/pkg/retry"
	"lanrelay/pkg/tracing"
)

type Server struct {
	cfg        *config.Config
	logger     *zap.SugaredLogger
	instanceID string
	startTime  time.Time

	registry *memory.SessionRegistry
	store    *storage.FileStore
	metrics  *monitoring.PrometheusCollector
	gatherer prometheus.Gatherer
	health   *monitoring.HealthChecker

	control *control.Server
	media   *media.Relay
	files   *filetransfer.Server
	sweeper *sweeper.Sweeper
	hub     *signal.PresenceHub

	redis *redis.Client
	bus   *distributed.PresenceBus

	admin   *http.Server
	adminLn net.Listener
	tracer  *tracing.TracerProvider
}

// New wires every component. Nothing is bound until Start.
func New(cfg *config.Config, logger *zap.SugaredLogger) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logger,
		instanceID: uuid.NewString(),
		startTime:  time.Now(),
		registry:   memory.NewSessionRegistry(),
		health:     monitoring.NewHealthChecker(monitoring.WithHealthLogger(logger)),
	}

	if cfg.Monitoring.PrometheusEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		s.metrics = monitoring.NewPrometheusCollector(reg)
		s.gatherer = reg
	}

	store, err := storage.NewFileStore(cfg.FileTransfer.StorageDir, cfg.FileTransfer.MaxFilename, cfg.FileTransfer.PurgeOnStart, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare storage: %w", err)
	}
	s.store = store

	s.control = control.NewServer(s.registry, control.ConfigFrom(cfg), s.metrics, logger)
	s.media = media.NewRelay(s.registry, media.ConfigFrom(cfg), s.metrics, logger)
	s.files = filetransfer.NewServer(s.registry, store, filetransfer.ConfigFrom(cfg), s.metrics, logger)
	s.sweeper = sweeper.New(s.registry, s.control, sweeper.ConfigFrom(cfg), s.metrics, logger.With("component", "sweeper"))
	s.hub = signal.NewPresenceHub(s.registry, signal.DefaultHubConfig(), logger.With("component", "presence"))

	if s.metrics != nil {
		s.control.AddObserver(s.metrics)
	}
	s.control.AddObserver(s.hub)

	s.health.AddListenerCheck("control", s.control.Serving)
	s.health.AddListenerCheck("media", s.media.Serving)
	s.health.AddListenerCheck("file_transfer", s.files.Serving)
	s.health.AddStorageCheck(store.BasePath(), 30*time.Second, time.Second)

	return s, nil
}

// Start binds every listener and connects optional backends. A bind failure
// releases whatever was already bound and is returned.
func (s *Server) Start(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			s.closeListeners()
		}
	}()

	if err := s.control.Listen(s.cfg.Control.Address); err != nil {
		return err
	}
	if err := s.media.Listen(s.cfg.Media.Address); err != nil {
		return err
	}
	if err := s.files.Listen(s.cfg.FileTransfer.Address); err != nil {
		return err
	}

	if s.cfg.Admin.Enabled {
		ln, err := net.Listen("tcp", s.cfg.Admin.Address)
		if err != nil {
			return fmt.Errorf("admin listener: bind %s: %w", s.cfg.Admin.Address, err)
		}
		s.adminLn = ln
		s.admin = &http.Server{
			Handler:           s.router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		s.logger.Infow("admin listener bound", "address", ln.Addr().String())
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     s.cfg.Tracing.Enabled,
		ServiceName: s.cfg.Tracing.ServiceName,
		JaegerURL:   s.cfg.Tracing.JaegerURL,
		Environment: s.cfg.Tracing.Environment,
		SampleRate:  s.cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.tracer = tp

	if s.cfg.Redis.Enabled {
		s.connectRedis(ctx)
	}
	return nil
}

// connectRedis enables the presence bus. An unreachable Redis is logged and
// the relay runs without it.
func (s *Server) connectRedis(ctx context.Context) {
	client, err := distributed.NewRedisClient(ctx, s.cfg, retry.DefaultConfig(), s.logger)
	if err != nil {
		s.logger.Warnw("presence bus disabled", "error", err)
		return
	}
	s.redis = client

	busCfg := distributed.DefaultBusConfig()
	busCfg.Channel = s.cfg.Redis.Channel
	busCfg.InstanceID = s.instanceID
	s.bus = distributed.NewPresenceBus(distributed.NewRedisPublisher(client), busCfg, s.logger.With("component", "presence_bus"))
	s.control.AddObserver(s.bus)
	s.health.AddRedisCheck(client, 30*time.Second, 2*time.Second)
}

func (s *Server) router() *gin.Engine {
	if s.cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(s.logger),
		middleware.TracingMiddleware(s.logger),
		middleware.ErrorHandlerMiddleware(s.logger),
		middleware.NewHTTPRateLimitMiddleware(s.cfg),
	)

	opts := []httphandlers.AdminOption{httphandlers.WithPresenceFeed(s.hub.HandleWebSocket)}
	if s.gatherer != nil {
		opts = append(opts, httphandlers.WithMetrics(s.gatherer))
	}
	httphandlers.NewAdminHandler(s.registry, s.control, s.store, s, s.health, opts...).SetupRoutes(router)
	return router
}

// Run serves until ctx is cancelled or a component fails, then shuts
// everything down.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.control.Serve(gctx) })
	g.Go(func() error { return s.media.Serve(gctx) })
	g.Go(func() error { return s.files.Serve(gctx) })
	g.Go(func() error { return s.sweeper.Run(gctx) })
	if s.bus != nil {
		g.Go(func() error { return s.bus.Run(gctx) })
	}
	s.health.StartBackgroundChecks(gctx)

	if s.admin != nil {
		g.Go(func() error {
			if err := s.admin.Serve(s.adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			s.hub.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Admin.ShutdownTimeout)
			defer cancel()
			if err := s.admin.Shutdown(shutdownCtx); err != nil {
				s.logger.Warnw("admin server shutdown", "error", err)
				return s.admin.Close()
			}
			return nil
		})
	}

	s.logger.Infow("relay running",
		"instance_id", s.instanceID,
		"control", s.ControlAddr(),
		"media", s.MediaAddr(),
		"file_transfer", s.FileAddr(),
		"admin", s.AdminAddr(),
	)

	err := g.Wait()
	s.cleanup()
	return err
}

func (s *Server) cleanup() {
	s.hub.Close()
	if s.bus != nil {
		_ = s.bus.Close()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warnw("failed to close redis client", "error", err)
		}
	}
	if s.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.tracer.Shutdown(ctx); err != nil {
			s.logger.Warnw("failed to flush traces", "error", err)
		}
	}
	s.logger.Infow("relay stopped", "uptime", time.Since(s.startTime))
}

func (s *Server) closeListeners() {
	_ = s.control.Close()
	_ = s.media.Close()
	_ = s.files.Close()
	if s.adminLn != nil {
		_ = s.adminLn.Close()
	}
}

// Stats implements httphandlers.StatsProvider.
func (s *Server) Stats() httphandlers.RelayStats {
	return httphandlers.RelayStats{
		Sessions:           s.registry.Count(),
		ControlConnections: s.control.ConnectionCount(),
		Media:              s.media.Stats(),
		FileWorkers:        s.files.PoolStats(),
		ActiveTransfers:    s.files.ActiveTransfers(),
		StoredFiles:        len(s.store.List()),
		PresenceFeeds:      s.hub.SubscriberCount(),
	}
}

func (s *Server) ControlAddr() string { return addrString(s.control.Addr()) }
func (s *Server) MediaAddr() string   { return addrString(s.media.Addr()) }
func (s *Server) FileAddr() string    { return addrString(s.files.Addr()) }

func (s *Server) AdminAddr() string {
	if s.adminLn == nil {
		return ""
	}
	return s.adminLn.Addr().String()
}

func (s *Server) InstanceID() string { return s.instanceID }

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
