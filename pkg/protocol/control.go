package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"lanrelay/internal/core/domain"
)

// Client -> server command prefixes.
const (
	CmdRegister = "REGISTER"
	CmdChat     = "CHAT"
	CmdControl  = "CONTROL"
	CmdFileMeta = "FILE_META"
	CmdPing     = "PING"
	CmdLeave    = "LEAVE"
)

// Server -> client message prefixes.
const (
	MsgConnected = "CONNECTED"
	MsgUsers     = "USERS"
	MsgStatus    = "STATUS"
	MsgChat      = "CHAT"
	MsgFileMeta  = "FILE_META"
	MsgPong      = "PONG"
	MsgError     = "ERROR"
)

// Command is one parsed client -> server message.
type Command struct {
	Name string
	Body string
}

// ParseCommand splits a frame into prefix and body. Bodyless commands (PING,
// LEAVE) are matched on the whole frame.
func ParseCommand(frame string) (Command, error) {
	if frame == CmdPing || frame == CmdLeave {
		return Command{Name: frame}, nil
	}
	name, body, ok := strings.Cut(frame, ":")
	if !ok {
		return Command{Name: frame}, fmt.Errorf("%w: %q", domain.ErrUnrecognizedCommand, truncate(frame, 32))
	}
	switch name {
	case CmdRegister, CmdChat, CmdControl, CmdFileMeta:
		return Command{Name: name, Body: body}, nil
	}
	return Command{Name: name, Body: body}, fmt.Errorf("%w: %q", domain.ErrUnrecognizedCommand, truncate(name, 32))
}

// ParseControl parses "VIDEO_ON", "AUDIO_OFF", ...
func ParseControl(body string) (domain.FlagDelta, error) {
	flag, state, ok := strings.Cut(body, "_")
	if !ok {
		return domain.FlagDelta{}, fmt.Errorf("%w: control %q", domain.ErrUnrecognizedCommand, body)
	}
	f, ok := domain.ParseFlag(flag)
	if !ok {
		return domain.FlagDelta{}, fmt.Errorf("%w: flag %q", domain.ErrUnrecognizedCommand, flag)
	}
	switch state {
	case "ON":
		return domain.FlagDelta{Flag: f, Value: true}, nil
	case "OFF":
		return domain.FlagDelta{Flag: f, Value: false}, nil
	}
	return domain.FlagDelta{}, fmt.Errorf("%w: state %q", domain.ErrUnrecognizedCommand, state)
}

func ParseFileMeta(body string) (domain.FileMeta, error) {
	var m domain.FileMeta
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return m, fmt.Errorf("invalid FILE_META payload: %w", err)
	}
	if m.Filename == "" {
		return m, fmt.Errorf("invalid FILE_META payload: filename is required")
	}
	if m.Size < 0 {
		return m, fmt.Errorf("invalid FILE_META payload: negative size")
	}
	return m, nil
}

func Register(name string) string { return CmdRegister + ":" + name }

func Chat(text string) string { return CmdChat + ":" + text }

func Control(d domain.FlagDelta) string {
	state := "OFF"
	if d.Value {
		state = "ON"
	}
	return fmt.Sprintf("%s:%s_%s", CmdControl, d.Flag, state)
}

func FileMeta(m domain.FileMeta) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return CmdFileMeta + ":" + string(b), nil
}

func Connected(id domain.SessionID, name string) string {
	return fmt.Sprintf("%s:%s:%s", MsgConnected, id, name)
}

func Users(snapshot []domain.Participant) (string, error) {
	if snapshot == nil {
		snapshot = []domain.Participant{}
	}
	b, err := json.Marshal(snapshot)
	if err != nil {
		return "", err
	}
	return MsgUsers + ":" + string(b), nil
}

func StatusMessage(p domain.Participant) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return MsgStatus + ":" + string(b), nil
}

func ChatBroadcast(from domain.Participant, text string) string {
	return fmt.Sprintf("%s:%s:%s:%s", MsgChat, from.ID, from.Name, text)
}

func FileOffer(o domain.FileOffer) (string, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return "", err
	}
	return MsgFileMeta + ":" + string(b), nil
}

func Error(code, message string) string {
	return fmt.Sprintf("%s:%s:%s", MsgError, code, message)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
