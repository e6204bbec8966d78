package netio

import "errors"

// Timeout is returned by UDPSocket and TCPConn operations when a deadline
// elapses before the operation completes.
var Timeout = errors.New("netio: timeout")

// PeerClosed is returned when the remote side closes the connection.
var PeerClosed = errors.New("netio: peer closed connection")
