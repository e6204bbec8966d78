package btpeer

import (
	"crypto/sha1" //nolint:gosec // BEP-9 mandates SHA-1 for infohash verification
	"fmt"
	"time"

	"github.com/satori/go.uuid"

	"github.com/kadcrawl/kadcrawl/internal/bencode"
	"github.com/kadcrawl/kadcrawl/internal/identifier"
	"github.com/kadcrawl/kadcrawl/internal/logger"
	"github.com/kadcrawl/kadcrawl/internal/netio"
)

// State is a PeerSession's position in the metadata-download protocol.
type State int

const (
	StateConnecting State = iota
	StateHandshaking
	StateExtHandshaking
	StateRequesting
	StateReceiving
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateExtHandshaking:
		return "EXT_HANDSHAKING"
	case StateRequesting:
		return "REQUESTING"
	case StateReceiving:
		return "RECEIVING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// SessionConfig bounds a single session's timeouts and metadata-size cap.
type SessionConfig struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	SessionDeadline  time.Duration
	MaxMetadataSize  int64
	ListenPort       uint16
	MaxOutstanding   int
}

// DefaultSessionConfig matches spec §4.J's defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ConnectTimeout:   10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		SessionDeadline:  30 * time.Second,
		MaxMetadataSize:  10 << 20,
		MaxOutstanding:   4,
	}
}

// Result is what a completed session hands back to its caller.
type Result struct {
	InfoHash identifier.ID
	Endpoint identifier.Endpoint
	State    State
	RawInfo  []byte
	Err      error
}

// Session drives one peer through CONNECTING -> ... -> DONE/FAILED. Its
// id is a v1 UUID, grounded on the teacher's session.Session.add using
// satori/go.uuid.NewV1 to mint torrent ids.
type Session struct {
	ID       string
	InfoHash identifier.ID
	Endpoint identifier.Endpoint
	State    State

	cfg     SessionConfig
	ourID   [20]byte
	log     logger.Logger
	ourExt  map[string]int64
	peerExt map[string]int64
}

// NewSession creates a session bound to one (infohash, endpoint) pair.
func NewSession(infoHash identifier.ID, ep identifier.Endpoint, ourID [20]byte, cfg SessionConfig, log logger.Logger) *Session {
	u := uuid.NewV1()
	return &Session{
		ID:       u.String(),
		InfoHash: infoHash,
		Endpoint: ep,
		State:    StateConnecting,
		cfg:      cfg,
		ourID:    ourID,
		log:      log,
	}
}

// Run executes the full protocol against the peer, blocking until the
// session reaches DONE or FAILED or the overall deadline expires.
func (s *Session) Run() Result {
	deadline := time.Now().Add(s.cfg.SessionDeadline)

	conn, err := netio.DialTCP(s.Endpoint, time.Now().Add(s.cfg.ConnectTimeout))
	if err != nil {
		return s.fail(err)
	}
	defer conn.Close()

	s.State = StateHandshaking
	hs, err := doHandshake(conn, s.InfoHash, s.ourID, time.Now().Add(s.cfg.HandshakeTimeout))
	if err != nil {
		return s.fail(err)
	}
	if !hs.ExtensionProtocol {
		return s.fail(fmt.Errorf("btpeer: peer %s does not support the extension protocol", s.Endpoint))
	}

	s.State = StateExtHandshaking
	metadataSize, err := s.extensionHandshake(conn, deadline)
	if err != nil {
		return s.fail(err)
	}
	if metadataSize <= 0 || metadataSize > s.cfg.MaxMetadataSize {
		return s.fail(fmt.Errorf("btpeer: metadata size %d exceeds cap %d", metadataSize, s.cfg.MaxMetadataSize))
	}

	s.State = StateRequesting
	raw, err := s.downloadMetadata(conn, metadataSize, deadline)
	if err != nil {
		return s.fail(err)
	}

	sum := sha1.Sum(raw)
	if identifier.ID(sum) != s.InfoHash {
		return s.fail(fmt.Errorf("btpeer: metadata sha1 mismatch for %s", s.InfoHash))
	}

	s.State = StateDone
	return Result{InfoHash: s.InfoHash, Endpoint: s.Endpoint, State: StateDone, RawInfo: raw}
}

func (s *Session) fail(err error) Result {
	s.State = StateFailed
	s.log.Debugln("session failed:", err)
	return Result{InfoHash: s.InfoHash, Endpoint: s.Endpoint, State: StateFailed, Err: err}
}

func (s *Session) extensionHandshake(conn *netio.TCPConn, deadline time.Time) (int64, error) {
	out, err := encodeExtensionHandshake()
	if err != nil {
		return 0, err
	}
	payload := append([]byte{extensionHandshakeID}, out...)
	if err := writeMessage(conn, msgExtended, payload, deadline); err != nil {
		return 0, err
	}

	for {
		id, body, err := readMessage(conn, deadline)
		if err != nil {
			return 0, err
		}
		if id != msgExtended {
			continue // ignore choke/unchoke/etc while waiting for the handshake
		}
		if len(body) == 0 {
			return 0, fmt.Errorf("btpeer: empty extended message")
		}
		if body[0] != extensionHandshakeID {
			continue
		}
		hs, err := decodeExtensionHandshake(body[1:])
		if err != nil {
			return 0, err
		}
		id64, ok := hs.M["ut_metadata"]
		if !ok {
			return 0, fmt.Errorf("btpeer: peer does not support ut_metadata")
		}
		s.peerExt = map[string]int64{"ut_metadata": id64}
		return hs.MetadataSize, nil
	}
}

func (s *Session) downloadMetadata(conn *netio.TCPConn, metadataSize int64, deadline time.Time) ([]byte, error) {
	asm := newMetadataAssembler(metadataSize)
	peerUTMetadataID := byte(s.peerExt["ut_metadata"])

	for !asm.done() {
		for _, idx := range asm.nextRequests(s.cfg.MaxOutstanding) {
			req, err := encodeMetadataMessage(metadataMessage{MsgType: metadataRequest, Piece: int64(idx)})
			if err != nil {
				return nil, err
			}
			payload := append([]byte{peerUTMetadataID}, req...)
			if err := writeMessage(conn, msgExtended, payload, deadline); err != nil {
				return nil, err
			}
		}

		id, body, err := readMessage(conn, deadline)
		if err != nil {
			return nil, err
		}
		if id != msgExtended || len(body) == 0 {
			continue
		}
		dict, rest, err := splitExtendedPayload(body[1:])
		if err != nil {
			continue
		}
		var msg metadataMessage
		if err := bencode.DecodeBytes(dict, &msg); err != nil {
			continue
		}
		switch msg.MsgType {
		case metadataData:
			s.State = StateReceiving
			if err := asm.gotPiece(int(msg.Piece), rest); err != nil {
				return nil, err
			}
		case metadataReject:
			return nil, fmt.Errorf("btpeer: peer rejected metadata piece %d", msg.Piece)
		}
	}
	return asm.bytes, nil
}
