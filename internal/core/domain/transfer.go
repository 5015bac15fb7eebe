package domain

import "time"

type TransferCommand uint8

const (
	CommandUpload   TransferCommand = 1
	CommandDownload TransferCommand = 2
)

func (c TransferCommand) String() string {
	switch c {
	case CommandUpload:
		return "upload"
	case CommandDownload:
		return "download"
	default:
		return "unknown"
	}
}

func (c TransferCommand) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// FileTransferTicket correlates one file-transfer connection to a claimed
// participant. It lives only as long as the transfer.
type FileTransferTicket struct {
	ID        string          `json:"id"`
	Command   TransferCommand `json:"command"`
	ClientID  SessionID       `json:"client_id"`
	Filename  string          `json:"filename"`
	Size      int64           `json:"size"`
	Remote    string          `json:"remote"`
	StartedAt time.Time       `json:"started_at"`
}

// StoredFile is a completed upload available for download.
type StoredFile struct {
	Owner    SessionID `json:"owner"`
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	Path     string    `json:"-"`
	StoredAt time.Time `json:"stored_at"`
}

// FileMeta is the payload of a FILE_META control command.
type FileMeta struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Target   string `json:"target"`
}

// TargetEveryone is the FILE_META target sentinel for a broadcast.
const TargetEveryone = "*"

func (m FileMeta) Broadcast() bool {
	return m.Target == "" || m.Target == TargetEveryone
}

// FileOffer is what recipients of a FILE_META receive.
type FileOffer struct {
	From     SessionID `json:"from"`
	FromName string    `json:"from_name"`
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	Target   string    `json:"target"`
}
