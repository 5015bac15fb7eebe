package protocol

import (
	"encoding/binary"
	"errors"
	"math"

	"lanrelay/internal/core/domain"
)

const MediaHeaderSize = 3

var (
	ErrShortPacket   = errors.New("media packet shorter than header")
	ErrBadNameLength = errors.New("media packet name length exceeds datagram")
	ErrSenderTooLong = errors.New("media sender field too long")
	ErrUnknownMedia  = errors.New("unknown media type")
)

// MediaPacket is one parsed media datagram. Sender and Payload alias the
// buffer passed to DecodeMedia.
type MediaPacket struct {
	Type    domain.MediaType
	Sender  []byte
	Payload []byte
}

// DecodeMedia parses a datagram. Unknown types are reported with
// ErrUnknownMedia so the caller can drop them silently.
func DecodeMedia(b []byte) (MediaPacket, error) {
	if len(b) < MediaHeaderSize {
		return MediaPacket{}, ErrShortPacket
	}
	t := domain.MediaType(b[0])
	n := int(binary.BigEndian.Uint16(b[1:3]))
	if MediaHeaderSize+n > len(b) {
		return MediaPacket{}, ErrBadNameLength
	}
	p := MediaPacket{
		Type:    t,
		Sender:  b[MediaHeaderSize : MediaHeaderSize+n],
		Payload: b[MediaHeaderSize+n:],
	}
	if !t.Valid() {
		return p, ErrUnknownMedia
	}
	return p, nil
}

// EncodeMedia builds a datagram for sender.
func EncodeMedia(t domain.MediaType, sender string, payload []byte) ([]byte, error) {
	if len(sender) > math.MaxUint16 {
		return nil, ErrSenderTooLong
	}
	buf := make([]byte, MediaHeaderSize+len(sender)+len(payload))
	buf[0] = byte(t)
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(sender)))
	copy(buf[MediaHeaderSize:], sender)
	copy(buf[MediaHeaderSize+len(sender):], payload)
	return buf, nil
}
