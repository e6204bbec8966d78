// Package kademlia implements the routing table: up to 160 prefix-indexed
// buckets of DHTNode, split on overflow into the local id's own prefix,
// LRU-within-staleness-class eviction otherwise. Grounded in the routing
// table shape described throughout the pack's DHT implementations
// (yarikk-dht, STX5-dht) and adapted to the bucket/eviction policy that
// redefines contains_id_in_range via the distance-prefix formulation
// directly rather than the off-by-one mask arithmetic the C++ original used.
package kademlia

import (
	"time"

	"github.com/kadcrawl/kadcrawl/internal/identifier"
)

// Status is a DHTNode's health as judged by query/response/timeout history.
type Status int

const (
	Unknown Status = iota
	Good
	Questionable
	Bad
)

func (s Status) String() string {
	switch s {
	case Good:
		return "good"
	case Questionable:
		return "questionable"
	case Bad:
		return "bad"
	default:
		return "unknown"
	}
}

// Node is a DHTNode: identity, address, health, and recency.
type Node struct {
	ID         identifier.ID
	Endpoint   identifier.Endpoint
	Status     Status
	LastSeen   time.Time
	timeouts   int // consecutive timeouts since the last good response
	probeAsked bool
}
