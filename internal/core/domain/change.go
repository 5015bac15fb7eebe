package domain

import "time"

type ChangeKind string

const (
	ChangeJoined ChangeKind = "session.joined"
	ChangeLeft   ChangeKind = "session.left"
	ChangeStatus ChangeKind = "session.status"
)

// Change describes a registry mutation. The registry never broadcasts; callers
// use the descriptor to decide what to send and to whom.
type Change struct {
	Kind        ChangeKind
	Participant Participant
	// Modified is false when a mutation left the session unchanged,
	// e.g. VIDEO_ON on a session whose video flag was already set.
	Modified bool
}

type LeaveReason string

const (
	LeaveExplicit       LeaveReason = "leave"
	LeaveConnectionLost LeaveReason = "connection_lost"
	LeaveProtocol       LeaveReason = "protocol_violation"
	LeaveTimeout        LeaveReason = "timeout"
	LeaveSlowConsumer   LeaveReason = "slow_consumer"
	LeaveShutdown       LeaveReason = "shutdown"
	LeaveKicked         LeaveReason = "kicked"
)

// PresenceEvent is emitted to observers after a registry change has been
// broadcast to the participants.
type PresenceEvent struct {
	Type        ChangeKind    `json:"type"`
	Participant Participant   `json:"participant"`
	Reason      LeaveReason   `json:"reason,omitempty"`
	Snapshot    []Participant `json:"snapshot"`
	Timestamp   time.Time     `json:"timestamp"`
}
