package domain

import (
	"net"
	"time"
)

type SessionID string

// Flags are the capability toggles a participant announces over the control channel.
type Flags struct {
	Video  bool `json:"video"`
	Audio  bool `json:"audio"`
	Screen bool `json:"screen"`
}

type Flag string

const (
	FlagVideo  Flag = "VIDEO"
	FlagAudio  Flag = "AUDIO"
	FlagScreen Flag = "SCREEN"
)

// FlagDelta sets a single flag to a value.
type FlagDelta struct {
	Flag  Flag
	Value bool
}

// Apply returns a copy of f with the delta applied and whether anything changed.
func (d FlagDelta) Apply(f Flags) (Flags, bool) {
	var cur *bool
	switch d.Flag {
	case FlagVideo:
		cur = &f.Video
	case FlagAudio:
		cur = &f.Audio
	case FlagScreen:
		cur = &f.Screen
	default:
		return f, false
	}
	if *cur == d.Value {
		return f, false
	}
	*cur = d.Value
	return f, true
}

func ParseFlag(s string) (Flag, bool) {
	switch Flag(s) {
	case FlagVideo, FlagAudio, FlagScreen:
		return Flag(s), true
	}
	return "", false
}

// Session is the registry's record of one participant. It is owned by the
// registry; everything outside receives Participant copies.
type Session struct {
	ID           SessionID
	DisplayName  string
	MediaAddress *net.UDPAddr
	Flags        Flags
	JoinedAt     time.Time
	LastActivity time.Time

	// Seq orders sessions by registration.
	Seq uint64
}

// Participant is the public, immutable view of a session.
type Participant struct {
	ID     SessionID `json:"id"`
	Name   string    `json:"name"`
	Video  bool      `json:"video"`
	Audio  bool      `json:"audio"`
	Screen bool      `json:"screen"`
}

func (s *Session) Participant() Participant {
	return Participant{
		ID:     s.ID,
		Name:   s.DisplayName,
		Video:  s.Flags.Video,
		Audio:  s.Flags.Audio,
		Screen: s.Flags.Screen,
	}
}

func (p Participant) Flags() Flags {
	return Flags{Video: p.Video, Audio: p.Audio, Screen: p.Screen}
}

// MediaTarget is a live session with a known media address.
type MediaTarget struct {
	ID   SessionID
	Addr *net.UDPAddr
}
