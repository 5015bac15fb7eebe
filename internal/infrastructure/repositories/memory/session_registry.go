package memory

import (
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"lanrelay/internal/core/domain"
	"lanrelay/internal/core/ports"
	"lanrelay/pkg/validation"
)

// SessionRegistry is the in-process session table. All mutations are
// serialized by mu; readers receive copies and never hold the lock while
// doing I/O.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*domain.Session
	seq      uint64
	now      func() time.Time
}

type RegistryOption func(*SessionRegistry)

// WithClock replaces time.Now, mainly for sweeper tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *SessionRegistry) { r.now = now }
}

func NewSessionRegistry(opts ...RegistryOption) *SessionRegistry {
	r := &SessionRegistry{
		sessions: make(map[domain.SessionID]*domain.Session),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ ports.SessionRegistry = (*SessionRegistry)(nil)

func (r *SessionRegistry) Register(displayName string) (domain.Change, error) {
	name, err := validation.NormalizeDisplayName(displayName)
	if err != nil {
		return domain.Change{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := domain.SessionID(uuid.NewString())
	now := r.now()
	r.seq++
	s := &domain.Session{
		ID:           id,
		DisplayName:  name,
		JoinedAt:     now,
		LastActivity: now,
		Seq:          r.seq,
	}
	r.sessions[id] = s

	return domain.Change{Kind: domain.ChangeJoined, Participant: s.Participant(), Modified: true}, nil
}

func (r *SessionRegistry) UpdateFlags(id domain.SessionID, delta domain.FlagDelta) (domain.Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return domain.Change{}, domain.ErrUnknownSession
	}
	flags, modified := delta.Apply(s.Flags)
	s.Flags = flags
	s.LastActivity = r.now()

	return domain.Change{Kind: domain.ChangeStatus, Participant: s.Participant(), Modified: modified}, nil
}

func (r *SessionRegistry) Touch(id domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return domain.ErrUnknownSession
	}
	s.LastActivity = r.now()
	return nil
}

func (r *SessionRegistry) SetMediaAddress(id domain.SessionID, addr *net.UDPAddr) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return domain.ErrUnknownSession
	}
	s.MediaAddress = cloneUDPAddr(addr)
	s.LastActivity = r.now()
	return nil
}

// Remove deletes the session. The second return is false when the session
// was already gone; callers broadcast only when it is true.
func (r *SessionRegistry) Remove(id domain.SessionID) (domain.Change, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return domain.Change{}, false
	}
	delete(r.sessions, id)
	return domain.Change{Kind: domain.ChangeLeft, Participant: s.Participant(), Modified: true}, true
}

func (r *SessionRegistry) RemoveIfIdle(id domain.SessionID, cutoff time.Time) (domain.Change, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok || !s.LastActivity.Before(cutoff) {
		return domain.Change{}, false
	}
	delete(r.sessions, id)
	return domain.Change{Kind: domain.ChangeLeft, Participant: s.Participant(), Modified: true}, true
}

// Snapshot returns participants in registration order.
func (r *SessionRegistry) Snapshot() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ordered := r.orderedLocked()
	out := make([]domain.Participant, 0, len(ordered))
	for _, s := range ordered {
		out = append(out, s.Participant())
	}
	return out
}

func (r *SessionRegistry) Get(id domain.SessionID) (domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return domain.Participant{}, domain.ErrUnknownSession
	}
	return s.Participant(), nil
}

func (r *SessionRegistry) Exists(id domain.SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

// ResolveMediaSender maps the sender field of a media packet to a session:
// an exact id match wins, otherwise the earliest registered session with
// that display name.
func (r *SessionRegistry) ResolveMediaSender(key string) (domain.SessionID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.sessions[domain.SessionID(key)]; ok {
		return domain.SessionID(key), true
	}
	var best *domain.Session
	for _, s := range r.sessions {
		if s.DisplayName == key && (best == nil || s.Seq < best.Seq) {
			best = s
		}
	}
	if best == nil {
		return "", false
	}
	return best.ID, true
}

// MediaTargets lists every live session other than exclude that has a known
// media address.
func (r *SessionRegistry) MediaTargets(exclude domain.SessionID) []domain.MediaTarget {
	r.mu.RLock()
	defer r.mu.RUnlock()

	targets := make([]domain.MediaTarget, 0, len(r.sessions))
	for _, s := range r.orderedLocked() {
		if s.ID == exclude || s.MediaAddress == nil {
			continue
		}
		targets = append(targets, domain.MediaTarget{ID: s.ID, Addr: cloneUDPAddr(s.MediaAddress)})
	}
	return targets
}

// IdleSince returns sessions whose last activity is strictly before cutoff.
func (r *SessionRegistry) IdleSince(cutoff time.Time) []domain.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []domain.SessionID
	for _, s := range r.orderedLocked() {
		if s.LastActivity.Before(cutoff) {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *SessionRegistry) orderedLocked() []*domain.Session {
	list := make([]*domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Seq < list[j].Seq })
	return list
}

func cloneUDPAddr(a *net.UDPAddr) *net.UDPAddr {
	if a == nil {
		return nil
	}
	ip := make(net.IP, len(a.IP))
	copy(ip, a.IP)
	return &net.UDPAddr{IP: ip, Port: a.Port, Zone: a.Zone}
}
