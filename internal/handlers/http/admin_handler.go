package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lanrelay/internal/core/domain"
	"lanrelay/internal/core/ports"
	"lanrelay/internal/infrastructure/filetransfer"
	"lanrelay/internal/infrastructure/media"
	"lanrelay/internal/infrastructure/monitoring"
	"lanrelay/pkg/errors"
	"lanrelay/pkg/validation"
)

// RelayStats is the body of GET /api/v1/stats.
type RelayStats struct {
	Sessions           int                         `json:"sessions"`
	ControlConnections int                         `json:"control_connections"`
	Media              media.Stats                 `json:"media"`
	FileWorkers        filetransfer.PoolStats      `json:"file_workers"`
	ActiveTransfers    []domain.FileTransferTicket `json:"active_transfers"`
	StoredFiles        int                         `json:"stored_files"`
	PresenceFeeds      int                         `json:"presence_subscribers"`
	Uptime             string                      `json:"uptime"`
}

// StatsProvider is implemented by the relay process.
type StatsProvider interface {
	Stats() RelayStats
}

type AdminHandler struct {
	registry   ports.SessionRegistry
	terminator ports.SessionTerminator
	files      ports.FileStore
	stats      StatsProvider
	health     *monitoring.HealthChecker
	gatherer   prometheus.Gatherer
	presence   http.HandlerFunc
	startTime  time.Time
}

type AdminOption func(*AdminHandler)

// WithMetrics exposes g on GET /metrics.
func WithMetrics(g prometheus.Gatherer) AdminOption {
	return func(h *AdminHandler) { h.gatherer = g }
}

// WithPresenceFeed serves the websocket presence feed on GET /ws/presence.
func WithPresenceFeed(fn http.HandlerFunc) AdminOption {
	return func(h *AdminHandler) { h.presence = fn }
}

func NewAdminHandler(
	registry ports.SessionRegistry,
	terminator ports.SessionTerminator,
	files ports.FileStore,
	stats StatsProvider,
	health *monitoring.HealthChecker,
	opts ...AdminOption,
) *AdminHandler {
	h := &AdminHandler{
		registry:   registry,
		terminator: terminator,
		files:      files,
		stats:      stats,
		health:     health,
		startTime:  time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *AdminHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
	if h.presence != nil {
		router.GET("/ws/presence", gin.WrapF(h.presence))
	}

	api := router.Group("/api/v1")
	{
		api.GET("/participants", h.ListParticipants)
		api.GET("/participants/:id", h.GetParticipant)
		api.DELETE("/participants/:id", h.DisconnectParticipant)
		api.GET("/files", h.ListFiles)
		api.GET("/stats", h.GetStats)
	}
}

func (h *AdminHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startTime).String(),
	})
}

func (h *AdminHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := h.health.CheckAll(ctx)
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *AdminHandler) ListParticipants(c *gin.Context) {
	snapshot := h.registry.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"participants": snapshot,
		"count":        len(snapshot),
	})
}

func (h *AdminHandler) GetParticipant(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	p, err := h.registry.Get(id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participant": p})
}

// DisconnectParticipant removes a session exactly as if it had sent LEAVE.
func (h *AdminHandler) DisconnectParticipant(c *gin.Context) {
	id, ok := sessionParam(c)
	if !ok {
		return
	}
	if !h.terminator.Terminate(id, domain.LeaveKicked) {
		_ = c.Error(domain.ErrUnknownSession)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminHandler) ListFiles(c *gin.Context) {
	files := h.files.List()
	c.JSON(http.StatusOK, gin.H{
		"files": files,
		"count": len(files),
	})
}

func (h *AdminHandler) GetStats(c *gin.Context) {
	stats := h.stats.Stats()
	stats.Uptime = time.Since(h.startTime).String()
	c.JSON(http.StatusOK, stats)
}

func sessionParam(c *gin.Context) (domain.SessionID, bool) {
	id := domain.SessionID(c.Param("id"))
	if err := validation.ValidateSessionID(string(id)); err != nil {
		_ = c.Error(errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid session id"))
		return "", false
	}
	return id, true
}
