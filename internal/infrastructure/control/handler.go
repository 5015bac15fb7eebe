package control

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"lanrelay/internal/core/domain"
	rerrors "lanrelay/pkg/errors"
	"lanrelay/pkg/logger"
	"lanrelay/pkg/protocol"
	"lanrelay/pkg/tracing"
)

func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	remote := nc.RemoteAddr().String()
	ctx = logger.WithRemoteAddr(ctx, remote)
	log := logger.NewContextLogger(s.logger).FromContext(ctx)

	ctx, span := tracing.TraceSession(ctx, remote)
	defer span.End()

	c := newConn(nc, s.cfg.SendQueue, s.newLimiter(), log)
	go c.writePump(s.cfg.WriteTimeout)

	if !s.handshake(c) {
		c.close()
		<-c.done
		return
	}
	tracing.AddSpanAttributes(ctx, tracing.SessionIDKey.String(string(c.id)))

	for {
		frame, err := protocol.ReadFrame(nc, s.cfg.MaxFrameBytes)
		if err != nil {
			s.readFailed(c, err)
			return
		}
		if !s.handleFrame(c, frame) {
			return
		}
	}
}

// handshake reads the REGISTER frame. It returns false when the connection
// must be closed.
func (s *Server) handshake(c *conn) bool {
	if s.cfg.HandshakeTimeout > 0 {
		_ = c.netConn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	}
	frame, err := protocol.ReadFrame(c.netConn, s.cfg.MaxFrameBytes)
	if err != nil {
		if errors.Is(err, domain.ErrProtocolViolation) {
			s.reply(c, rerrors.ProtocolViolation(err.Error()))
		}
		c.logger.Debugw("handshake failed", "error", err)
		return false
	}
	_ = c.netConn.SetReadDeadline(time.Time{})

	cmd, err := protocol.ParseCommand(frame)
	if err != nil || cmd.Name != protocol.CmdRegister {
		s.metrics.RecordControlMessage("invalid_handshake")
		s.reply(c, rerrors.ProtocolViolation("first message must be REGISTER"))
		c.logger.Infow("rejected connection without REGISTER", "command", cmd.Name)
		return false
	}
	s.metrics.RecordControlMessage(protocol.CmdRegister)

	change, err := s.join(c, cmd.Body)
	if err != nil {
		s.reply(c, rerrors.Wrap(err, rerrors.ErrCodeInvalidInput, "invalid display name"))
		c.logger.Infow("registration rejected", "error", err)
		return false
	}
	c.logger.Infow("session registered", "name", change.Participant.Name)
	return true
}

func (s *Server) readFailed(c *conn, err error) {
	switch {
	case errors.Is(err, domain.ErrProtocolViolation):
		c.logger.Warnw("protocol violation", "error", err)
		s.reply(c, rerrors.ProtocolViolation(err.Error()))
		s.Terminate(c.id, domain.LeaveProtocol)
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		s.Terminate(c.id, domain.LeaveConnectionLost)
	default:
		c.logger.Debugw("control read failed", "error", err)
		s.Terminate(c.id, domain.LeaveConnectionLost)
	}
}

// handleFrame processes one frame from a registered connection. It returns
// false once the connection has been terminated.
func (s *Server) handleFrame(c *conn, frame string) bool {
	if !c.allow() {
		s.metrics.RecordControlMessage("rate_limited")
		s.reply(c, rerrors.New(rerrors.ErrCodeRateLimit, "too many messages"))
		return true
	}

	cmd, err := protocol.ParseCommand(frame)
	if err != nil {
		s.metrics.RecordControlMessage("unrecognized")
		c.logger.Infow("ignoring unrecognized command", "error", err)
		_ = s.registry.Touch(c.id)
		return true
	}
	s.metrics.RecordControlMessage(cmd.Name)

	if err := s.registry.Touch(c.id); err != nil {
		// Removed concurrently (sweeper or slow-consumer path).
		c.logger.Debugw("dropping message for removed session", "command", cmd.Name)
		return false
	}

	switch cmd.Name {
	case protocol.CmdRegister:
		c.logger.Warnw("duplicate REGISTER")
		s.reply(c, rerrors.Wrap(domain.ErrAlreadyRegistered, rerrors.ErrCodeProtocolViolation, "already registered"))
		s.Terminate(c.id, domain.LeaveProtocol)
		return false
	case protocol.CmdChat:
		s.handleChat(c, cmd.Body)
	case protocol.CmdControl:
		s.handleControl(c, cmd.Body)
	case protocol.CmdFileMeta:
		s.handleFileMeta(c, cmd.Body)
	case protocol.CmdPing:
		s.send(c, protocol.MsgPong)
	case protocol.CmdLeave:
		s.Terminate(c.id, domain.LeaveExplicit)
		return false
	}
	return true
}

func (s *Server) handleChat(c *conn, text string) {
	s.hub.Lock()
	p, err := s.registry.Get(c.id)
	if err != nil {
		s.hub.Unlock()
		return
	}
	slow := s.broadcastLocked(protocol.MsgChat, protocol.ChatBroadcast(p, text))
	s.hub.Unlock()

	c.logger.Debugw("chat relayed", "bytes", len(text))
	s.dropSlow(slow)
}

func (s *Server) handleControl(c *conn, body string) {
	delta, err := protocol.ParseControl(body)
	if err != nil {
		c.logger.Infow("ignoring unrecognized control", "error", err)
		return
	}

	s.hub.Lock()
	change, err := s.registry.UpdateFlags(c.id, delta)
	if err != nil {
		s.hub.Unlock()
		return
	}
	msg, err := protocol.StatusMessage(change.Participant)
	if err != nil {
		s.hub.Unlock()
		s.logger.Errorw("encode status failed", "error", err)
		return
	}
	slow := s.broadcastLocked(protocol.MsgStatus, msg)
	s.notifyLocked(change, "")
	s.hub.Unlock()

	c.logger.Debugw("flags updated", "flag", delta.Flag, "value", delta.Value, "modified", change.Modified)
	s.dropSlow(slow)
}

func (s *Server) handleFileMeta(c *conn, body string) {
	meta, err := protocol.ParseFileMeta(body)
	if err != nil {
		s.reply(c, rerrors.InvalidInput(err.Error()))
		return
	}

	s.hub.Lock()
	p, err := s.registry.Get(c.id)
	if err != nil {
		s.hub.Unlock()
		return
	}
	target := meta.Target
	if meta.Broadcast() {
		target = domain.TargetEveryone
	}
	msg, err := protocol.FileOffer(domain.FileOffer{
		From:     p.ID,
		FromName: p.Name,
		Filename: meta.Filename,
		Size:     meta.Size,
		Target:   target,
	})
	if err != nil {
		s.hub.Unlock()
		s.logger.Errorw("encode file offer failed", "error", err)
		return
	}

	var slow []domain.SessionID
	if meta.Broadcast() {
		slow = s.broadcastLocked(protocol.MsgFileMeta, msg)
	} else {
		targetID := domain.SessionID(meta.Target)
		found, targetSlow := s.sendToLocked(targetID, msg)
		if !found {
			s.hub.Unlock()
			c.logger.Infow("file offer to unknown recipient", "target", meta.Target)
			s.reply(c, rerrors.UnknownRecipient(meta.Target))
			return
		}
		if targetSlow {
			slow = append(slow, targetID)
		}
		if targetID != c.id {
			if _, senderSlow := s.sendToLocked(c.id, msg); senderSlow {
				slow = append(slow, c.id)
			}
		}
		s.metrics.RecordBroadcast(protocol.MsgFileMeta, 2-len(slow))
	}
	s.hub.Unlock()

	c.logger.Infow("file offer routed", "filename", meta.Filename, "size", meta.Size, "target", target)
	s.dropSlow(slow)
}

func (s *Server) send(c *conn, msg string) {
	if err := c.trySend(msg); errors.Is(err, ErrBackpressure) {
		s.Terminate(c.id, domain.LeaveSlowConsumer)
	}
}
