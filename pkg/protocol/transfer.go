package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"lanrelay/internal/core/domain"
)

// ErrInvalidRequest is returned for StatusInvalidRequest: a bad filename, an
// oversized upload or a malformed header.
var ErrInvalidRequest = errors.New("invalid transfer request")

// Status is the single byte the server answers every transfer request with.
type Status uint8

const (
	StatusOK Status = iota
	StatusFileNotFound
	StatusUnknownSession
	StatusInvalidRequest
	StatusTransferInterrupted
	StatusInternalError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusFileNotFound:
		return "FILE_NOT_FOUND"
	case StatusUnknownSession:
		return "UNKNOWN_SESSION"
	case StatusInvalidRequest:
		return "INVALID_REQUEST"
	case StatusTransferInterrupted:
		return "TRANSFER_INTERRUPTED"
	case StatusInternalError:
		return "INTERNAL_ERROR"
	}
	return fmt.Sprintf("STATUS(%d)", uint8(s))
}

// Err maps a non-OK status to the matching domain error.
func (s Status) Err() error {
	switch s {
	case StatusOK:
		return nil
	case StatusFileNotFound:
		return domain.ErrFileNotFound
	case StatusUnknownSession:
		return domain.ErrUnknownSession
	case StatusInvalidRequest:
		return ErrInvalidRequest
	case StatusTransferInterrupted:
		return domain.ErrTransferInterrupted
	}
	return fmt.Errorf("transfer failed: %s", s)
}

// TransferRequest is the header every transfer connection starts with.
type TransferRequest struct {
	Command  domain.TransferCommand
	ClientID string
	Filename string
}

// Limits bounds what ReadTransferRequest accepts before allocating.
type Limits struct {
	MaxClientID int
	MaxFilename int
}

// WriteTransferRequest encodes the request header.
func WriteTransferRequest(w io.Writer, req TransferRequest) error {
	if len(req.ClientID) > math.MaxUint16 {
		return fmt.Errorf("client id too long")
	}
	buf := make([]byte, 0, 1+2+len(req.ClientID)+4+len(req.Filename))
	buf = append(buf, byte(req.Command))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(req.ClientID)))
	buf = append(buf, req.ClientID...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(req.Filename)))
	buf = append(buf, req.Filename...)
	_, err := w.Write(buf)
	return err
}

// ReadTransferRequest decodes the request header.
func ReadTransferRequest(r io.Reader, lim Limits) (TransferRequest, error) {
	var req TransferRequest
	var hdr [3]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return req, err
	}
	req.Command = domain.TransferCommand(hdr[0])
	if req.Command != domain.CommandUpload && req.Command != domain.CommandDownload {
		return req, fmt.Errorf("%w: unknown transfer command %d", domain.ErrProtocolViolation, hdr[0])
	}
	idLen := int(binary.BigEndian.Uint16(hdr[1:]))
	if lim.MaxClientID > 0 && idLen > lim.MaxClientID {
		return req, fmt.Errorf("%w: client id length %d", domain.ErrProtocolViolation, idLen)
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(r, id); err != nil {
		return req, err
	}
	req.ClientID = string(id)

	var nl [4]byte
	if _, err := io.ReadFull(r, nl[:]); err != nil {
		return req, err
	}
	nameLen := binary.BigEndian.Uint32(nl[:])
	if lim.MaxFilename > 0 && nameLen > uint32(lim.MaxFilename) {
		return req, fmt.Errorf("%w: filename length %d", domain.ErrInvalidFilename, nameLen)
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return req, err
	}
	req.Filename = string(name)
	return req, nil
}

func WriteSize(w io.Writer, size int64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(size))
	_, err := w.Write(b[:])
	return err
}

func ReadSize(r io.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(b[:])
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("%w: size overflows", domain.ErrProtocolViolation)
	}
	return int64(v), nil
}

func WriteStatus(w io.Writer, s Status) error {
	_, err := w.Write([]byte{byte(s)})
	return err
}

func ReadStatus(r io.Reader) (Status, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return Status(b[0]), nil
}
