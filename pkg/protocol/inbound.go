package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"lanrelay/internal/core/domain"
)

// Message is a parsed server -> client frame. Only the fields relevant to
// Kind are populated.
type Message struct {
	Kind string
	Raw  string

	SessionID   domain.SessionID
	Name        string
	Users       []domain.Participant
	Participant domain.Participant
	Text        string
	Offer       domain.FileOffer
	ErrorCode   string
	ErrorText   string
}

// ParseMessage decodes a server -> client frame.
func ParseMessage(frame string) (Message, error) {
	m := Message{Raw: frame}
	kind, body, _ := strings.Cut(frame, ":")
	m.Kind = kind

	switch kind {
	case MsgConnected:
		id, name, ok := strings.Cut(body, ":")
		if !ok {
			return m, fmt.Errorf("malformed %s frame", kind)
		}
		m.SessionID, m.Name = domain.SessionID(id), name
	case MsgUsers:
		if err := json.Unmarshal([]byte(body), &m.Users); err != nil {
			return m, fmt.Errorf("malformed %s frame: %w", kind, err)
		}
	case MsgStatus:
		if err := json.Unmarshal([]byte(body), &m.Participant); err != nil {
			return m, fmt.Errorf("malformed %s frame: %w", kind, err)
		}
	case MsgChat:
		parts := strings.SplitN(body, ":", 3)
		if len(parts) != 3 {
			return m, fmt.Errorf("malformed %s frame", kind)
		}
		m.SessionID, m.Name, m.Text = domain.SessionID(parts[0]), parts[1], parts[2]
	case MsgFileMeta:
		if err := json.Unmarshal([]byte(body), &m.Offer); err != nil {
			return m, fmt.Errorf("malformed %s frame: %w", kind, err)
		}
	case MsgPong:
	case MsgError:
		code, text, _ := strings.Cut(body, ":")
		m.ErrorCode, m.ErrorText = code, text
	default:
		return m, fmt.Errorf("%w: %q", domain.ErrUnrecognizedCommand, truncate(kind, 32))
	}
	return m, nil
}
