package netio

import (
	"net"
	"time"

	"github.com/kadcrawl/kadcrawl/internal/identifier"
)

// TCPConn is an outbound BitTorrent peer connection, wrapping net.Conn with
// deadline-bearing Read/Write so a stalled peer can never block a session
// goroutine indefinitely (spec invariant: every blocking call accepts a
// deadline).
type TCPConn struct {
	conn net.Conn
}

// DialTCP connects to dst, failing with Timeout if deadline elapses first.
func DialTCP(dst identifier.Endpoint, deadline time.Time) (*TCPConn, error) {
	d := net.Dialer{Deadline: deadline}
	conn, err := d.Dial("tcp", dst.String())
	if err != nil {
		return nil, normalizeErr(err)
	}
	return &TCPConn{conn: conn}, nil
}

// Read reads into p, failing with Timeout or PeerClosed as appropriate.
func (c *TCPConn) Read(p []byte, deadline time.Time) (int, error) {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	n, err := c.conn.Read(p)
	if err != nil {
		return n, normalizeErr(err)
	}
	return n, nil
}

// ReadFull reads exactly len(p) bytes, failing with Timeout or PeerClosed.
func (c *TCPConn) ReadFull(p []byte, deadline time.Time) error {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	total := 0
	for total < len(p) {
		n, err := c.conn.Read(p[total:])
		total += n
		if err != nil {
			return normalizeErr(err)
		}
	}
	return nil
}

// Write writes all of p, failing with Timeout or PeerClosed.
func (c *TCPConn) Write(p []byte, deadline time.Time) error {
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := c.conn.Write(p)
	return normalizeErr(err)
}

// RemoteEndpoint reports the peer's address.
func (c *TCPConn) RemoteEndpoint() identifier.Endpoint {
	return identifier.EndpointFromTCPAddr(c.conn.RemoteAddr().(*net.TCPAddr))
}

// Close closes the connection.
func (c *TCPConn) Close() error {
	return c.conn.Close()
}
