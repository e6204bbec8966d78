package kademlia

import (
	"sort"
	"sync"
	"time"

	"github.com/kadcrawl/kadcrawl/internal/identifier"
)

// Eviction describes what add_candidate's otherwise-branch decided to do
// with a candidate that arrived at a full, non-owning bucket, so callers
// can act on a scheduled probe (the routing table itself does not send
// network traffic).
type Eviction int

const (
	// EvictionNone means the candidate was placed without contention.
	EvictionNone Eviction = iota
	// EvictionReplacedBad means a BAD node was evicted for the candidate.
	EvictionReplacedBad
	// EvictionProbeScheduled means a QUESTIONABLE node needs re-probing;
	// the candidate itself was discarded.
	EvictionProbeScheduled
	// EvictionDropped means the candidate was discarded outright: the
	// bucket held no BAD node, and its worst QUESTIONABLE node (if any)
	// had already been sent a probe.
	EvictionDropped
)

// RoutingTable is the single owning container of up to 160 prefix-indexed
// buckets, keyed implicitly by index (bucket i's PrefixLen == i, except the
// last bucket which owns the local id's own, still-splittable prefix).
type RoutingTable struct {
	localID identifier.ID

	mu      sync.Mutex
	buckets []*Bucket
}

// NewRoutingTable returns a table with a single bucket covering the entire
// id space, owned by localID.
func NewRoutingTable(localID identifier.ID) *RoutingTable {
	return &RoutingTable{
		localID: localID,
		buckets: []*Bucket{newBucket(0, true)},
	}
}

func (t *RoutingTable) bucketIndexFor(id identifier.ID) int {
	cpl := identifier.CommonPrefixLen(t.localID, id)
	last := len(t.buckets) - 1
	if cpl >= t.buckets[last].PrefixLen {
		return last
	}
	return cpl
}

// AddCandidate routes node to the bucket covering its distance from the
// local id, splitting, replacing, or dropping per spec §4.F. If the node
// already exists in its bucket, its endpoint/status are refreshed instead
// of creating a duplicate (bucket invariant: no duplicate NodeIDs).
func (t *RoutingTable) AddCandidate(node Node) Eviction {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addCandidateLocked(node, identifier.Size*8)
}

func (t *RoutingTable) addCandidateLocked(node Node, depthBudget int) Eviction {
	idx := t.bucketIndexFor(node.ID)
	b := t.buckets[idx]

	if i := b.indexOf(node.ID); i != -1 {
		existing := b.Nodes[i]
		existing.Endpoint = node.Endpoint
		if node.Status != Unknown {
			existing.Status = node.Status
		}
		existing.LastSeen = node.LastSeen
		b.touch()
		return EvictionNone
	}

	if !b.Full() {
		nn := node
		b.Nodes = append(b.Nodes, &nn)
		b.touch()
		return EvictionNone
	}

	if idx == len(t.buckets)-1 && b.own && depthBudget > 0 {
		t.split(idx)
		return t.addCandidateLocked(node, depthBudget-1)
	}

	if victim := b.worstEvictionCandidate(); victim != -1 {
		v := b.Nodes[victim]
		switch {
		case v.Status == Bad:
			nn := node
			b.Nodes[victim] = &nn
			b.touch()
			return EvictionReplacedBad
		case v.Status == Questionable && !v.probeAsked:
			v.probeAsked = true
			return EvictionProbeScheduled
		}
	}
	return EvictionDropped
}

// split breaks the owning bucket at idx into a non-owning bucket holding
// the exact-match side and a new owning bucket one level deeper, then
// redistributes its members. Preserves the partition of id space: every
// node that was in the old bucket lands in exactly one of the two halves.
func (t *RoutingTable) split(idx int) {
	old := t.buckets[idx]
	nonOwn := newBucket(old.PrefixLen, false)
	own := newBucket(old.PrefixLen+1, true)
	for _, n := range old.Nodes {
		cpl := identifier.CommonPrefixLen(t.localID, n.ID)
		if cpl >= own.PrefixLen {
			own.Nodes = append(own.Nodes, n)
		} else {
			nonOwn.Nodes = append(nonOwn.Nodes, n)
		}
	}
	t.buckets[idx] = nonOwn
	t.buckets = append(t.buckets, own)
}

// MarkResponse transitions the node to GOOD and updates last_seen.
func (t *RoutingTable) MarkResponse(id identifier.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, b := t.findLocked(id); n != nil {
		n.Status = Good
		n.timeouts = 0
		n.probeAsked = false
		n.LastSeen = time.Now()
		b.touch()
	}
}

// MarkQuery touches last_seen without changing status.
func (t *RoutingTable) MarkQuery(id identifier.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, b := t.findLocked(id); n != nil {
		n.LastSeen = time.Now()
		b.touch()
	}
}

// MarkTimeout transitions GOOD->QUESTIONABLE on the first consecutive
// timeout and QUESTIONABLE->BAD on the second.
func (t *RoutingTable) MarkTimeout(id identifier.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, b := t.findLocked(id)
	if n == nil {
		return
	}
	n.timeouts++
	switch n.Status {
	case Good:
		if n.timeouts >= 1 {
			n.Status = Questionable
		}
	case Questionable:
		if n.timeouts >= 2 {
			n.Status = Bad
		}
	}
	b.touch()
}

func (t *RoutingTable) findLocked(id identifier.ID) (*Node, *Bucket) {
	idx := t.bucketIndexFor(id)
	b := t.buckets[idx]
	if i := b.indexOf(id); i != -1 {
		return b.Nodes[i], b
	}
	return nil, nil
}

type distNode struct {
	node *Node
	dist identifier.Distance
}

// Closest returns up to k nodes with the smallest XOR distance to target,
// ordered ascending, with no duplicates.
func (t *RoutingTable) Closest(target identifier.ID, k int) []Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	var all []distNode
	for _, b := range t.buckets {
		for _, n := range b.Nodes {
			all = append(all, distNode{node: n, dist: n.ID.XOR(target)})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].dist.Less(all[j].dist) })
	if len(all) > k {
		all = all[:k]
	}
	out := make([]Node, len(all))
	for i, dn := range all {
		out[i] = *dn.node
	}
	return out
}

// Size reports the total number of nodes across all buckets.
func (t *RoutingTable) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, b := range t.buckets {
		n += len(b.Nodes)
	}
	return n
}

// BucketCount reports the current number of buckets, for diagnostics.
func (t *RoutingTable) BucketCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}

// BucketInfo is a read-only snapshot of one bucket's refresh-relevant state.
type BucketInfo struct {
	PrefixLen   int
	LastUpdated time.Time
}

// Buckets returns a snapshot of every bucket's prefix length and
// last-updated time, used by the refresh discovery loop to find buckets
// that have gone stale.
func (t *RoutingTable) Buckets() []BucketInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]BucketInfo, len(t.buckets))
	for i, b := range t.buckets {
		out[i] = BucketInfo{PrefixLen: b.PrefixLen, LastUpdated: b.LastUpdated}
	}
	return out
}

// QuestionableNodes returns every node currently in QUESTIONABLE state,
// used by the peer-probing discovery loop.
func (t *RoutingTable) QuestionableNodes() []Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Node
	for _, b := range t.buckets {
		for _, n := range b.Nodes {
			if n.Status == Questionable {
				out = append(out, *n)
			}
		}
	}
	return out
}

// AllNodes returns a snapshot of every node currently in the table,
// regardless of status, used by dhtresume to persist a bootstrap
// snapshot.
func (t *RoutingTable) AllNodes() []Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Node
	for _, b := range t.buckets {
		for _, n := range b.Nodes {
			out = append(out, *n)
		}
	}
	return out
}

// CheckInvariant reports whether every stored node's XOR distance from the
// local id carries the owning bucket's prefix as its most significant bits
// — the property enumerated in spec testable property #1.
func (t *RoutingTable) CheckInvariant() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range t.buckets {
		for _, n := range b.Nodes {
			if !identifier.SharesPrefix(n.ID, t.localID, b.PrefixLen) {
				return false
			}
		}
	}
	return true
}
