package ports

import (
	"context"
	"io"
	"net"
	"time"

	"lanrelay/internal/core/domain"
)

// SessionRegistry is the single owner of participant state. Every method is
// atomic with respect to the others.
type SessionRegistry interface {
	Register(displayName string) (domain.Change, error)
	UpdateFlags(id domain.SessionID, delta domain.FlagDelta) (domain.Change, error)
	Touch(id domain.SessionID) error
	SetMediaAddress(id domain.SessionID, addr *net.UDPAddr) error
	// Remove is idempotent; ok is false when the session was already gone.
	Remove(id domain.SessionID) (change domain.Change, ok bool)
	Snapshot() []domain.Participant

	Get(id domain.SessionID) (domain.Participant, error)
	Exists(id domain.SessionID) bool
	ResolveMediaSender(key string) (domain.SessionID, bool)
	MediaTargets(exclude domain.SessionID) []domain.MediaTarget
	IdleSince(cutoff time.Time) []domain.SessionID
	// RemoveIfIdle removes the session only if its last activity is still
	// before cutoff.
	RemoveIfIdle(id domain.SessionID, cutoff time.Time) (change domain.Change, ok bool)
	Count() int
}

// SessionTerminator tears down a session through the same path as an
// explicit disconnect.
type SessionTerminator interface {
	Terminate(id domain.SessionID, reason domain.LeaveReason) bool
}

// IdleTerminator expires a session only if it is still idle at removal time.
type IdleTerminator interface {
	TerminateIdle(id domain.SessionID, cutoff time.Time) bool
}

// PresenceObserver is notified after a registry change has been broadcast.
type PresenceObserver interface {
	OnPresence(ctx context.Context, ev domain.PresenceEvent)
}

// FileStore holds completed uploads.
type FileStore interface {
	// Create returns a writer for an upload in progress. Nothing is visible to
	// Open until Commit succeeds; Abort discards the partial artifact.
	Create(owner domain.SessionID, filename string) (Upload, error)
	Open(owner domain.SessionID, filename string) (io.ReadCloser, domain.StoredFile, error)
	List() []domain.StoredFile
}

type Upload interface {
	io.Writer
	Commit() (domain.StoredFile, error)
	Abort() error
}
