// Package tracker implements the BEP-15 UDP tracker protocol client used
// only during bootstrap: an announce to a well-known tracker returns a
// swarm of peers for a given infohash, and the caller publishes those
// peers on the event bus as PeerFound events, the same path peers found
// through the DHT take. It replaces the teacher's
// tracker.Torrent struct (upload/download/left byte counters for a
// tracker session this crawler never runs, since it never transfers
// payload data) with the request/response framing BEP-15 actually needs.
package tracker

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/kadcrawl/kadcrawl/internal/identifier"
)

const (
	protocolMagic int64 = 0x41727101980

	actionConnect  int32 = 0
	actionAnnounce int32 = 1
	actionError    int32 = 3

	eventNone int32 = 0
)

// ErrTrackerError is returned when the tracker replies with an error
// packet; the message text is included in the wrapped error.
var ErrTrackerError = errors.New("tracker: error response")

// AnnounceResult is what a successful announce hands back.
type AnnounceResult struct {
	Interval time.Duration
	Leechers int32
	Seeders  int32
	Peers    []identifier.Endpoint
}

// Client speaks the BEP-15 UDP tracker protocol: connect, then announce.
// Each call opens its own UDP socket since announces during bootstrap are
// infrequent and independent of one another.
type Client struct {
	timeout time.Duration
}

// NewClient returns a Client whose connect/announce round trips each wait
// up to timeout for a reply.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{timeout: timeout}
}

// Announce performs a connect handshake followed by an announce for
// infoHash against the tracker at addr (host:port, UDP), reporting
// ourselves as peerID listening on port.
func (c *Client) Announce(addr string, infoHash identifier.ID, peerID [20]byte, port uint16) (AnnounceResult, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return AnnounceResult{}, fmt.Errorf("tracker: resolving %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return AnnounceResult{}, fmt.Errorf("tracker: dialing %s: %w", addr, err)
	}
	defer conn.Close()

	connID, err := c.connect(conn)
	if err != nil {
		return AnnounceResult{}, err
	}
	return c.announce(conn, connID, infoHash, peerID, port)
}

func (c *Client) connect(conn *net.UDPConn) (int64, error) {
	txID, err := randomInt32()
	if err != nil {
		return 0, err
	}

	req := make([]byte, 16)
	binary.BigEndian.PutUint64(req[0:8], uint64(protocolMagic))
	binary.BigEndian.PutUint32(req[8:12], uint32(actionConnect))
	binary.BigEndian.PutUint32(req[12:16], uint32(txID))

	resp, err := c.roundTrip(conn, req, 16)
	if err != nil {
		return 0, err
	}
	action := int32(binary.BigEndian.Uint32(resp[0:4]))
	respTx := int32(binary.BigEndian.Uint32(resp[4:8]))
	if respTx != txID {
		return 0, fmt.Errorf("tracker: connect transaction id mismatch")
	}
	if action == actionError {
		return 0, fmt.Errorf("%w: %s", ErrTrackerError, string(resp[8:]))
	}
	if action != actionConnect {
		return 0, fmt.Errorf("tracker: unexpected connect action %d", action)
	}
	return int64(binary.BigEndian.Uint64(resp[8:16])), nil
}

func (c *Client) announce(conn *net.UDPConn, connID int64, infoHash identifier.ID, peerID [20]byte, port uint16) (AnnounceResult, error) {
	txID, err := randomInt32()
	if err != nil {
		return AnnounceResult{}, err
	}

	req := make([]byte, 98)
	binary.BigEndian.PutUint64(req[0:8], uint64(connID))
	binary.BigEndian.PutUint32(req[8:12], uint32(actionAnnounce))
	binary.BigEndian.PutUint32(req[12:16], uint32(txID))
	copy(req[16:36], infoHash.Bytes())
	copy(req[36:56], peerID[:])
	// downloaded (56:64), left (64:72), uploaded (72:80): always zero,
	// this crawler never transfers payload bytes.
	binary.BigEndian.PutUint32(req[80:84], uint32(eventNone))
	// ip address (84:88): 0 lets the tracker use the packet's source address.
	key, err := randomInt32()
	if err != nil {
		return AnnounceResult{}, err
	}
	binary.BigEndian.PutUint32(req[88:92], uint32(key))
	binary.BigEndian.PutUint32(req[92:96], uint32(-1)) // num_want: default
	binary.BigEndian.PutUint16(req[96:98], port)

	resp, err := c.roundTrip(conn, req, 20)
	if err != nil {
		return AnnounceResult{}, err
	}
	action := int32(binary.BigEndian.Uint32(resp[0:4]))
	respTx := int32(binary.BigEndian.Uint32(resp[4:8]))
	if respTx != txID {
		return AnnounceResult{}, fmt.Errorf("tracker: announce transaction id mismatch")
	}
	if action == actionError {
		return AnnounceResult{}, fmt.Errorf("%w: %s", ErrTrackerError, string(resp[8:]))
	}
	if action != actionAnnounce {
		return AnnounceResult{}, fmt.Errorf("tracker: unexpected announce action %d", action)
	}

	interval := binary.BigEndian.Uint32(resp[8:12])
	leechers := int32(binary.BigEndian.Uint32(resp[12:16]))
	seeders := int32(binary.BigEndian.Uint32(resp[16:20]))

	var peers []identifier.Endpoint
	for i := 20; i+6 <= len(resp); i += 6 {
		ep, err := identifier.EndpointFromCompactIPv4(resp[i : i+6])
		if err != nil {
			continue
		}
		peers = append(peers, ep)
	}

	return AnnounceResult{
		Interval: time.Duration(interval) * time.Second,
		Leechers: leechers,
		Seeders:  seeders,
		Peers:    peers,
	}, nil
}

func (c *Client) roundTrip(conn *net.UDPConn, req []byte, minRespLen int) ([]byte, error) {
	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, err
	}
	if _, err := conn.Write(req); err != nil {
		return nil, fmt.Errorf("tracker: write: %w", err)
	}
	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("tracker: read: %w", err)
	}
	if n < minRespLen {
		return nil, fmt.Errorf("tracker: short response: %d bytes", n)
	}
	return buf[:n], nil
}

func randomInt32() (int32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b[:])), nil
}
