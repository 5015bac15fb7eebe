package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lanrelay/internal/core/domain"
	"lanrelay/internal/core/ports"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // admin surface is LAN-only
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// FeedMessage is the JSON frame sent to websocket subscribers. The first
// frame of every connection has type "snapshot".
type FeedMessage struct {
	Type        string               `json:"type"`
	Participant *domain.Participant  `json:"participant,omitempty"`
	Reason      domain.LeaveReason   `json:"reason,omitempty"`
	Snapshot    []domain.Participant `json:"snapshot"`
	Timestamp   time.Time            `json:"timestamp"`
}

const feedSnapshot = "snapshot"

type HubConfig struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		SendBuffer:   64,
	}
}

type subscriber struct {
	conn   *websocket.Conn
	send   chan []byte
	remote string
}

// PresenceHub streams presence events to websocket subscribers.
type PresenceHub struct {
	registry ports.SessionRegistry
	cfg      HubConfig
	logger   *zap.SugaredLogger

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	closed      bool
}

var _ ports.PresenceObserver = (*PresenceHub)(nil)

func NewPresenceHub(registry ports.SessionRegistry, cfg HubConfig, logger *zap.SugaredLogger) *PresenceHub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultHubConfig().SendBuffer
	}
	return &PresenceHub{
		registry:    registry,
		cfg:         cfg,
		logger:      logger,
		subscribers: make(map[*subscriber]struct{}),
	}
}

func (h *PresenceHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{
		conn:   conn,
		send:   make(chan []byte, h.cfg.SendBuffer),
		remote: r.RemoteAddr,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(h.cfg.WriteTimeout))
		_ = conn.Close()
		return
	}
	// The snapshot is queued under the hub lock so that no event can be
	// delivered ahead of it.
	first, err := json.Marshal(FeedMessage{Type: feedSnapshot, Snapshot: h.registry.Snapshot(), Timestamp: time.Now()})
	if err == nil {
		sub.send <- first
	}
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	h.logger.Infow("presence subscriber connected", "remote_addr", sub.remote)
	go h.writePump(sub)
	h.readPump(sub)
}

// readPump discards client frames; it exists to process pongs and notice
// the peer going away.
func (h *PresenceHub) readPump(sub *subscriber) {
	defer func() {
		h.remove(sub)
		_ = sub.conn.Close()
		h.logger.Infow("presence subscriber disconnected", "remote_addr", sub.remote)
	}()

	_ = sub.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Infow("presence subscriber read error", "remote_addr", sub.remote, "error", err)
			}
			return
		}
	}
}

func (h *PresenceHub) writePump(sub *subscriber) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = sub.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debugw("presence write failed", "remote_addr", sub.remote, "error", err)
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// remove closes the subscriber's queue once.
func (h *PresenceHub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *PresenceHub) removeLocked(sub *subscriber) {
	if _, ok := h.subscribers[sub]; !ok {
		return
	}
	delete(h.subscribers, sub)
	close(sub.send)
}

// OnPresence fans ev out to every subscriber without blocking. A subscriber
// whose queue is full is disconnected.
func (h *PresenceHub) OnPresence(_ context.Context, ev domain.PresenceEvent) {
	p := ev.Participant
	msg, err := json.Marshal(FeedMessage{
		Type:        string(ev.Type),
		Participant: &p,
		Reason:      ev.Reason,
		Snapshot:    ev.Snapshot,
		Timestamp:   ev.Timestamp,
	})
	if err != nil {
		h.logger.Errorw("failed to marshal presence event", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		select {
		case sub.send <- msg:
		default:
			h.logger.Warnw("presence subscriber too slow, disconnecting", "remote_addr", sub.remote)
			h.removeLocked(sub)
		}
	}
}

func (h *PresenceHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close disconnects every subscriber and refuses new ones.
func (h *PresenceHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subscribers {
		h.removeLocked(sub)
	}
}
