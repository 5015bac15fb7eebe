package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"

	"lanrelay/internal/core/domain"
)

const FrameHeaderSize = 4

// WriteFrame writes one length-prefixed control frame.
func WriteFrame(w io.Writer, msg string) error {
	buf := make([]byte, FrameHeaderSize+len(msg))
	binary.BigEndian.PutUint32(buf, uint32(len(msg)))
	copy(buf[FrameHeaderSize:], msg)
	_, err := w.Write(buf)
	return err
}

// EncodeFrame returns the framed bytes of msg.
func EncodeFrame(msg string) []byte {
	buf := make([]byte, FrameHeaderSize+len(msg))
	binary.BigEndian.PutUint32(buf, uint32(len(msg)))
	copy(buf[FrameHeaderSize:], msg)
	return buf
}

// ReadFrame reads one control frame. Frames longer than maxLen or that are
// not valid UTF-8 yield an error wrapping domain.ErrProtocolViolation; I/O
// errors (including io.EOF on a clean close) are returned as-is.
func ReadFrame(r io.Reader, maxLen int) (string, error) {
	var hdr [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if maxLen > 0 && n > uint32(maxLen) {
		return "", fmt.Errorf("%w: %w: %d bytes (max %d)", domain.ErrProtocolViolation, domain.ErrFrameTooLarge, n, maxLen)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return "", err
	}
	if !utf8.Valid(payload) {
		return "", fmt.Errorf("%w: frame is not valid UTF-8", domain.ErrProtocolViolation)
	}
	return string(payload), nil
}
