// Package client is a Go client for the relay's control, media and file
// transfer endpoints.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"lanrelay/internal/core/domain"
	"lanrelay/pkg/protocol"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultMaxFrame     = 1 << 20
	defaultInbox        = 256
)

var ErrClosed = errors.New("client closed")

// ServerError is an ERROR frame received in place of an expected reply.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

type Options struct {
	WriteTimeout time.Duration
	MaxFrame     int
	Inbox        int
}

// Client is a registered control connection.
type Client struct {
	conn net.Conn
	opts Options

	id   domain.SessionID
	name string

	writeMu  sync.Mutex
	incoming chan protocol.Message
	errMu    sync.Mutex
	readErr  error
	closed   chan struct{}
	once     sync.Once
}

// Dial connects to the control endpoint and registers under name.
func Dial(ctx context.Context, addr, name string) (*Client, error) {
	return DialWithOptions(ctx, addr, name, Options{})
}

func DialWithOptions(ctx context.Context, addr, name string, opts Options) (*Client, error) {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.MaxFrame <= 0 {
		opts.MaxFrame = defaultMaxFrame
	}
	if opts.Inbox <= 0 {
		opts.Inbox = defaultInbox
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial control %s: %w", addr, err)
	}

	c := &Client{
		conn:     nc,
		opts:     opts,
		incoming: make(chan protocol.Message, opts.Inbox),
		closed:   make(chan struct{}),
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = nc.SetDeadline(deadline)
	}
	if err := c.write(protocol.Register(name)); err != nil {
		nc.Close()
		return nil, err
	}
	frame, err := protocol.ReadFrame(nc, opts.MaxFrame)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("read registration reply: %w", err)
	}
	_ = nc.SetDeadline(time.Time{})

	msg, err := protocol.ParseMessage(frame)
	if err != nil {
		nc.Close()
		return nil, err
	}
	switch msg.Kind {
	case protocol.MsgConnected:
		c.id, c.name = msg.SessionID, msg.Name
	case protocol.MsgError:
		nc.Close()
		return nil, &ServerError{Code: msg.ErrorCode, Message: msg.ErrorText}
	default:
		nc.Close()
		return nil, fmt.Errorf("unexpected registration reply %q", msg.Kind)
	}

	go c.readPump()
	return c, nil
}

func (c *Client) ID() domain.SessionID { return c.id }

func (c *Client) Name() string { return c.name }

// Messages delivers every frame received after CONNECTED. The channel is
// closed when the connection ends; Err then reports why.
func (c *Client) Messages() <-chan protocol.Message {
	return c.incoming
}

func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

func (c *Client) readPump() {
	defer close(c.incoming)
	for {
		frame, err := protocol.ReadFrame(c.conn, c.opts.MaxFrame)
		if err != nil {
			c.errMu.Lock()
			c.readErr = err
			c.errMu.Unlock()
			c.shutdown()
			return
		}
		msg, err := protocol.ParseMessage(frame)
		if err != nil {
			// Newer servers may send kinds this client does not know.
			continue
		}
		c.incoming <- msg
	}
}

func (c *Client) write(msg string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return protocol.WriteFrame(c.conn, msg)
}

func (c *Client) Chat(text string) error {
	return c.write(protocol.Chat(text))
}

func (c *Client) SetFlag(flag domain.Flag, on bool) error {
	return c.write(protocol.Control(domain.FlagDelta{Flag: flag, Value: on}))
}

// SendFileMeta announces a file. An empty target or domain.TargetEveryone
// addresses every participant.
func (c *Client) SendFileMeta(meta domain.FileMeta) error {
	msg, err := protocol.FileMeta(meta)
	if err != nil {
		return err
	}
	return c.write(msg)
}

func (c *Client) Ping() error {
	return c.write(protocol.CmdPing)
}

// SendRaw writes an arbitrary frame.
func (c *Client) SendRaw(frame string) error {
	return c.write(frame)
}

// Leave asks the server to remove the session and waits for it to close
// the connection.
func (c *Client) Leave(ctx context.Context) error {
	if err := c.write(protocol.CmdLeave); err != nil {
		return err
	}
	select {
	case <-c.closed:
		return nil
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	}
}

func (c *Client) Close() error {
	c.shutdown()
	return nil
}

func (c *Client) shutdown() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}
