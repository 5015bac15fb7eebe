package filetransfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"lanrelay/internal/core/domain"
	"lanrelay/pkg/logger"
	"lanrelay/pkg/protocol"
	"lanrelay/pkg/tracing"
)

// Transfer outcomes used in metrics.
const (
	outcomeOK             = "ok"
	outcomeNotFound       = "not_found"
	outcomeUnknownSession = "unknown_session"
	outcomeInvalid        = "invalid"
	outcomeInterrupted    = "interrupted"
	outcomeError          = "error"
)

func (s *Server) handle(ctx context.Context, nc net.Conn) {
	started := time.Now()
	remote := nc.RemoteAddr().String()

	_ = nc.SetReadDeadline(time.Now().Add(s.cfg.IOTimeout))
	req, err := protocol.ReadTransferRequest(nc, protocol.Limits{
		MaxClientID: 128,
		MaxFilename: s.cfg.MaxFilename * 4,
	})
	if err != nil {
		s.logger.Infow("invalid transfer request", "remote_addr", remote, "error", err)
		if !isNetErr(err) {
			s.reply(nc, protocol.StatusInvalidRequest)
		}
		return
	}

	ticket := domain.FileTransferTicket{
		ID:        newTicketID(),
		Command:   req.Command,
		ClientID:  domain.SessionID(req.ClientID),
		Filename:  req.Filename,
		Remote:    remote,
		StartedAt: started,
	}
	s.track(ticket, nc)
	defer s.untrack(ticket.ID)

	ctx = logger.WithTransferID(logger.WithRemoteAddr(ctx, remote), ticket.ID)
	ctx = logger.WithSessionID(ctx, req.ClientID)
	log := logger.NewContextLogger(s.logger).FromContext(ctx)

	direction := req.Command.String()
	ctx, span := tracing.TraceTransfer(ctx, direction, ticket.ID, remote)
	defer span.End()
	tracing.AddSpanAttributes(ctx,
		tracing.SessionIDKey.String(req.ClientID),
		tracing.FilenameKey.String(req.Filename),
	)

	var n int64
	var outcome string
	switch req.Command {
	case domain.CommandUpload:
		n, outcome, err = s.upload(nc, &ticket, log)
	case domain.CommandDownload:
		n, outcome, err = s.download(nc, &ticket, log)
	}

	tracing.AddSpanAttributes(ctx, tracing.BytesKey.Int64(n), attribute.String("relay.outcome", outcome))
	tracing.MeasureDuration(ctx, started)
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	s.metrics.RecordTransfer(direction, outcome, n, time.Since(started))
}

func (s *Server) upload(nc net.Conn, t *domain.FileTransferTicket, log *zap.SugaredLogger) (int64, string, error) {
	size, err := protocol.ReadSize(nc)
	if err != nil {
		log.Infow("upload aborted before size", "error", err)
		return 0, outcomeInterrupted, err
	}
	t.Size = size

	if !s.registry.Exists(t.ClientID) {
		log.Infow("upload from unknown session")
		s.reject(nc, protocol.StatusUnknownSession, size)
		return 0, outcomeUnknownSession, domain.ErrUnknownSession
	}
	if s.cfg.MaxFileBytes > 0 && size > s.cfg.MaxFileBytes {
		log.Infow("upload too large", "size", size, "max", s.cfg.MaxFileBytes)
		s.reject(nc, protocol.StatusInvalidRequest, size)
		return 0, outcomeInvalid, fmt.Errorf("upload of %d bytes exceeds limit", size)
	}

	up, err := s.store.Create(t.ClientID, t.Filename)
	if err != nil {
		log.Infow("upload rejected", "filename", t.Filename, "error", err)
		s.reject(nc, statusFor(err), size)
		return 0, outcomeInvalid, err
	}

	n, err := s.copyIn(up, nc, size)
	if err != nil {
		if abortErr := up.Abort(); abortErr != nil {
			log.Warnw("failed to discard partial upload", "error", abortErr)
		}
		log.Infow("upload interrupted", "filename", t.Filename, "received", n, "expected", size, "error", err)
		s.reply(nc, protocol.StatusTransferInterrupted)
		return n, outcomeInterrupted, fmt.Errorf("%w: %v", domain.ErrTransferInterrupted, err)
	}

	stored, err := up.Commit()
	if err != nil {
		log.Errorw("failed to store upload", "filename", t.Filename, "error", err)
		s.reply(nc, protocol.StatusInternalError)
		return n, outcomeError, err
	}
	_ = s.registry.Touch(t.ClientID)

	s.reply(nc, protocol.StatusOK)
	log.Infow("upload stored", "filename", stored.Filename, "size", stored.Size, "duration", time.Since(t.StartedAt))
	return n, outcomeOK, nil
}

func (s *Server) download(nc net.Conn, t *domain.FileTransferTicket, log *zap.SugaredLogger) (int64, string, error) {
	rc, stored, err := s.store.Open(t.ClientID, t.Filename)
	if err != nil {
		status := statusFor(err)
		if errors.Is(err, domain.ErrUnknownSession) {
			// Files outlive their owner's session; a malformed owner id
			// simply names no file.
			status = protocol.StatusFileNotFound
		}
		log.Infow("download failed", "filename", t.Filename, "status", status.String())
		s.reply(nc, status)
		if status == protocol.StatusFileNotFound {
			return 0, outcomeNotFound, domain.ErrFileNotFound
		}
		return 0, outcomeInvalid, err
	}
	defer rc.Close()
	t.Size = stored.Size

	_ = nc.SetWriteDeadline(time.Now().Add(s.cfg.IOTimeout))
	if err := protocol.WriteStatus(nc, protocol.StatusOK); err != nil {
		return 0, outcomeInterrupted, err
	}
	if err := protocol.WriteSize(nc, stored.Size); err != nil {
		return 0, outcomeInterrupted, err
	}

	n, err := s.copyOut(nc, rc, stored.Size)
	if err != nil {
		log.Infow("download interrupted", "filename", stored.Filename, "sent", n, "size", stored.Size, "error", err)
		return n, outcomeInterrupted, fmt.Errorf("%w: %v", domain.ErrTransferInterrupted, err)
	}
	log.Infow("download served", "filename", stored.Filename, "size", n, "duration", time.Since(t.StartedAt))
	return n, outcomeOK, nil
}

// copyIn reads exactly n bytes from nc, refreshing the read deadline before
// every chunk.
func (s *Server) copyIn(dst io.Writer, nc net.Conn, n int64) (int64, error) {
	buf := s.pool.Get()
	defer s.pool.Put(buf)

	var written int64
	for written < n {
		chunk := buf
		if rem := n - written; rem < int64(len(chunk)) {
			chunk = chunk[:rem]
		}
		if err := nc.SetReadDeadline(time.Now().Add(s.cfg.IOTimeout)); err != nil {
			return written, err
		}
		r, err := nc.Read(chunk)
		if r > 0 {
			if _, werr := dst.Write(chunk[:r]); werr != nil {
				return written, werr
			}
			written += int64(r)
		}
		if err != nil {
			if errors.Is(err, io.EOF) && written == n {
				break
			}
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return written, err
		}
	}
	return written, nil
}

// copyOut writes exactly n bytes from src to nc, refreshing the write
// deadline before every chunk.
func (s *Server) copyOut(nc net.Conn, src io.Reader, n int64) (int64, error) {
	buf := s.pool.Get()
	defer s.pool.Put(buf)

	var written int64
	for written < n {
		chunk := buf
		if rem := n - written; rem < int64(len(chunk)) {
			chunk = chunk[:rem]
		}
		r, err := io.ReadFull(src, chunk)
		if r > 0 {
			if derr := nc.SetWriteDeadline(time.Now().Add(s.cfg.IOTimeout)); derr != nil {
				return written, derr
			}
			w, werr := nc.Write(chunk[:r])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
		}
		if err != nil {
			return written, fmt.Errorf("stored file shorter than recorded size: %w", err)
		}
	}
	return written, nil
}

func (s *Server) reply(nc net.Conn, status protocol.Status) {
	_ = nc.SetWriteDeadline(time.Now().Add(s.cfg.IOTimeout))
	if err := protocol.WriteStatus(nc, status); err != nil {
		s.logger.Debugw("failed to send transfer status", "status", status.String(), "error", err)
	}
}

// rejectDrainLimit bounds how much of a rejected upload is read and
// discarded so that closing the socket does not reset the status reply.
const rejectDrainLimit = 1 << 20

// reject answers an upload before its payload was read.
func (s *Server) reject(nc net.Conn, status protocol.Status, size int64) {
	s.reply(nc, status)
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
	if size > rejectDrainLimit {
		size = rejectDrainLimit
	}
	_ = nc.SetReadDeadline(time.Now().Add(time.Second))
	_, _ = io.CopyN(io.Discard, nc, size)
}

func statusFor(err error) protocol.Status {
	switch {
	case errors.Is(err, domain.ErrFileNotFound):
		return protocol.StatusFileNotFound
	case errors.Is(err, domain.ErrUnknownSession):
		return protocol.StatusUnknownSession
	case errors.Is(err, domain.ErrInvalidFilename), errors.Is(err, domain.ErrProtocolViolation):
		return protocol.StatusInvalidRequest
	case errors.Is(err, domain.ErrTransferInterrupted):
		return protocol.StatusTransferInterrupted
	}
	return protocol.StatusInternalError
}

func isNetErr(err error) bool {
	var ne net.Error
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.As(err, &ne)
}
