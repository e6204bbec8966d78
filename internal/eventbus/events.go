// Package eventbus is the in-process publish/subscribe layer every engine in
// kadcrawl publishes discoveries and lifecycle changes through. Its shape —
// a single dedicated dispatcher goroutine draining a buffered channel in a
// select loop, with subscriptions kept in a mutex-guarded registry — follows the
// run-loop idiom in the teacher's session/run.go (torrent.run()).
package eventbus

import (
	"github.com/kadcrawl/kadcrawl/internal/identifier"
)

// Kind identifies the concrete type of an event published on the bus.
type Kind int

const (
	NodeFound Kind = iota
	InfohashFound
	PeerFound
	PeerFailed
	MetadataReceived
	FatalError
)

func (k Kind) String() string {
	switch k {
	case NodeFound:
		return "NodeFound"
	case InfohashFound:
		return "InfohashFound"
	case PeerFound:
		return "PeerFound"
	case PeerFailed:
		return "PeerFailed"
	case MetadataReceived:
		return "MetadataReceived"
	case FatalError:
		return "FatalError"
	default:
		return "Unknown"
	}
}

// Event is the envelope delivered to subscribers. Only the field matching
// Kind is populated.
type Event struct {
	Kind Kind

	Node     NodeFoundPayload
	Infohash InfohashFoundPayload
	Peer     PeerFoundPayload
	PeerFail PeerFailedPayload
	Metadata MetadataReceivedPayload
	Fatal    FatalErrorPayload
}

// NodeFoundPayload is published whenever a DHT node is observed, whether
// freshly discovered or re-confirmed by a response.
type NodeFoundPayload struct {
	ID         identifier.ID
	Endpoint   identifier.Endpoint
	Responsive bool
	RTT        float64 // milliseconds; zero if unknown

	// Pinged is set only when this observation came from a ping the engine
	// itself sent (bootstrap or the periodic questionable-node probe), so
	// handleNodeFound can credit it to PingCount instead of QueryCount.
	Pinged bool
}

// InfohashFoundPayload is published when an infohash is seen via an
// incoming get_peers or announce_peer query.
type InfohashFoundPayload struct {
	InfoHash identifier.ID
}

// PeerFoundPayload is published when a peer advertising an infohash becomes
// known, triggering the BitTorrent engine to open a metadata session.
type PeerFoundPayload struct {
	InfoHash identifier.ID
	Endpoint identifier.Endpoint
	PeerID   string
}

// PeerFailedPayload is published when a peer's metadata session ends in
// StateFailed, so the failure is recorded against that peer's record
// rather than silently dropped.
type PeerFailedPayload struct {
	InfoHash identifier.ID
	Endpoint identifier.Endpoint
}

// MetadataReceivedPayload is published once a BitTorrent session has
// verified and decoded a torrent's info dictionary.
type MetadataReceivedPayload struct {
	InfoHash  identifier.ID
	Name      string
	TotalSize int64
	RawInfo   []byte
}

// FatalErrorPayload stops the controller's owning engine.
type FatalErrorPayload struct {
	Source string
	Err    error
}
