// Package netio wraps the standard library's net.UDPConn and net.TCPConn
// with the non-blocking, deadline-driven surface the DHT and BitTorrent
// engines are built against: send-to/receive-from with a deadline for UDP,
// connect/read/write with a deadline for TCP. Timeouts are normalized to
// netio.Timeout and closures to netio.PeerClosed so callers never branch on
// the underlying net.Error directly, matching the teacher's habit of
// wrapping net.Conn behind a narrow package-local type (internal/btconn).
package netio

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/kadcrawl/kadcrawl/internal/identifier"
)

// UDPSocket is a bound UDP socket used for DHT traffic.
type UDPSocket struct {
	conn *net.UDPConn
}

// ListenUDP binds a UDP socket on the given port across all interfaces.
func ListenUDP(port uint16) (*UDPSocket, error) {
	addr := &net.UDPAddr{Port: int(port)}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &UDPSocket{conn: conn}, nil
}

// LocalPort reports the bound local port, useful when port 0 requested an
// ephemeral port.
func (s *UDPSocket) LocalPort() uint16 {
	return uint16(s.conn.LocalAddr().(*net.UDPAddr).Port)
}

// SendTo writes b to dst. UDP sends don't block on the network, but we
// still honor a deadline for consistency with ReceiveFrom and to bound time
// spent if the local socket buffer is full.
func (s *UDPSocket) SendTo(b []byte, dst identifier.Endpoint, deadline time.Time) error {
	addr, err := dst.UDPAddr()
	if err != nil {
		return err
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err = s.conn.WriteToUDP(b, addr)
	return normalizeErr(err)
}

// ReceiveFrom blocks until a datagram arrives, deadline elapses, or the
// socket is closed. buf should be sized for the largest expected DHT
// message (typically 2048 bytes is ample headroom over BEP-5 payloads).
func (s *UDPSocket) ReceiveFrom(buf []byte, deadline time.Time) (int, identifier.Endpoint, error) {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return 0, identifier.Endpoint{}, err
	}
	n, addr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		return 0, identifier.Endpoint{}, normalizeErr(err)
	}
	return n, identifier.EndpointFromUDPAddr(addr), nil
}

// Close releases the socket. Any goroutine blocked in ReceiveFrom/SendTo
// returns with an error.
func (s *UDPSocket) Close() error {
	return s.conn.Close()
}

func normalizeErr(err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Timeout
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return PeerClosed
	}
	return err
}
