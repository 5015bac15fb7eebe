package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"lanrelay/internal/core/domain"
	"lanrelay/pkg/protocol"
)

// EncodeMediaPacket builds a relay datagram.
func EncodeMediaPacket(t domain.MediaType, sender string, payload []byte) ([]byte, error) {
	return protocol.EncodeMedia(t, sender, payload)
}

// MediaSender owns one UDP socket. The relay learns the socket's address from
// outgoing packets and relays other participants' media back to it.
type MediaSender struct {
	conn   *net.UDPConn
	sender string
}

// NewMediaSender dials the relay. sender is the value put in the packet
// header: the session id, or the display name for older relays.
func NewMediaSender(addr, sender string) (*MediaSender, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve media address %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial media %s: %w", addr, err)
	}
	return &MediaSender{conn: conn, sender: sender}, nil
}

func (m *MediaSender) Send(t domain.MediaType, payload []byte) error {
	pkt, err := protocol.EncodeMedia(t, m.sender, payload)
	if err != nil {
		return err
	}
	_, err = m.conn.Write(pkt)
	return err
}

// Receive waits for one relayed packet. buf must be large enough for the
// largest expected datagram; the returned packet aliases it.
func (m *MediaSender) Receive(ctx context.Context, buf []byte) (protocol.MediaPacket, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := m.conn.SetReadDeadline(deadline); err != nil {
		return protocol.MediaPacket{}, err
	}
	n, err := m.conn.Read(buf)
	if err != nil {
		return protocol.MediaPacket{}, err
	}
	return protocol.DecodeMedia(buf[:n])
}

func (m *MediaSender) LocalAddr() net.Addr {
	return m.conn.LocalAddr()
}

func (m *MediaSender) Close() error {
	return m.conn.Close()
}
