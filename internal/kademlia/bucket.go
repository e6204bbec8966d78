package kademlia

import (
	"time"

	"github.com/kadcrawl/kadcrawl/internal/identifier"
)

// K is the maximum number of nodes held in any one bucket.
const K = 8

// Bucket holds up to K nodes sharing a prefix of the local id. Non-owning
// buckets (own == false) cover nodes whose common-prefix length with the
// local id is exactly PrefixLen; the single owning bucket (own == true,
// always the last bucket in the table) covers common-prefix length >=
// PrefixLen and is the only bucket ever split.
type Bucket struct {
	PrefixLen   int
	own         bool
	Nodes       []*Node
	LastUpdated time.Time
}

func newBucket(prefixLen int, own bool) *Bucket {
	return &Bucket{PrefixLen: prefixLen, own: own, LastUpdated: time.Now()}
}

// Full reports whether the bucket already holds K nodes.
func (b *Bucket) Full() bool {
	return len(b.Nodes) >= K
}

func (b *Bucket) indexOf(id identifier.ID) int {
	for i, n := range b.Nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func (b *Bucket) touch() {
	b.LastUpdated = time.Now()
}

// staleness orders nodes worst-first for eviction: BAD > stale
// QUESTIONABLE (already probed, no response) > fresh QUESTIONABLE > GOOD.
// Ties broken by least-recently-seen (LRU within the staleness class).
func staleness(n *Node) int {
	switch n.Status {
	case Bad:
		return 3
	case Questionable:
		if n.probeAsked {
			return 2
		}
		return 1
	default:
		return 0
	}
}

// worstEvictionCandidate returns the index of the node that should be
// evicted first, or -1 if every node is GOOD and not eligible.
func (b *Bucket) worstEvictionCandidate() int {
	best := -1
	for i, n := range b.Nodes {
		if n.Status != Bad && n.Status != Questionable {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		cur := b.Nodes[best]
		if staleness(n) > staleness(cur) {
			best = i
		} else if staleness(n) == staleness(cur) && n.LastSeen.Before(cur.LastSeen) {
			best = i
		}
	}
	return best
}
