package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey string

const (
	sessionIDKey  ctxKey = "session_id"
	remoteAddrKey ctxKey = "remote_addr"
	transferIDKey ctxKey = "transfer_id"
)

// WithSessionID stores the session id so that FromContext can attach it.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey, addr)
}

func WithTransferID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, transferIDKey, id)
}

// ContextLogger provides context-aware logging
type ContextLogger struct {
	logger *zap.SugaredLogger
}

// NewContextLogger creates a new context logger
func NewContextLogger(logger *zap.SugaredLogger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// FromContext returns the base logger decorated with whatever connection
// fields ctx carries.
func (cl *ContextLogger) FromContext(ctx context.Context) *zap.SugaredLogger {
	var fields []interface{}
	for _, key := range []ctxKey{sessionIDKey, remoteAddrKey, transferIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, string(key), v)
		}
	}
	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

// Base returns the undecorated logger
func (cl *ContextLogger) Base() *zap.SugaredLogger {
	return cl.logger
}
