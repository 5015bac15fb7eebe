package control

import (
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"lanrelay/internal/core/domain"
	"lanrelay/pkg/protocol"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// conn is one control connection. Frames are queued with trySend and
// written by writePump so that no caller ever blocks on a peer's socket.
type conn struct {
	netConn net.Conn
	send    chan []byte
	limiter *rate.Limiter
	logger  *zap.SugaredLogger

	// Set once under the server's hub lock by join.
	id   domain.SessionID
	name string

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func newConn(nc net.Conn, queue int, limiter *rate.Limiter, logger *zap.SugaredLogger) *conn {
	return &conn{
		netConn: nc,
		send:    make(chan []byte, queue),
		limiter: limiter,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

func (c *conn) registered() bool {
	return c.id != ""
}

func (c *conn) trySend(msg string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- protocol.EncodeFrame(msg):
		return nil
	default:
		return ErrBackpressure
	}
}

// close stops accepting frames. Queued frames are still flushed by
// writePump, which then closes the socket.
func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// abort drops anything still queued and closes the socket immediately.
func (c *conn) abort() {
	c.close()
	_ = c.netConn.Close()
}

func (c *conn) writePump(writeTimeout time.Duration) {
	defer close(c.done)
	defer c.netConn.Close()

	for frame := range c.send {
		if writeTimeout > 0 {
			if err := c.netConn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				c.logger.Debugw("set write deadline failed", "error", err)
				return
			}
		}
		if _, err := c.netConn.Write(frame); err != nil {
			c.logger.Debugw("control write failed", "error", err)
			c.drain()
			return
		}
	}
}

// drain empties the queue after a write failure so that close() never
// races with a blocked sender.
func (c *conn) drain() {
	c.close()
	for range c.send {
	}
}

func (c *conn) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}
