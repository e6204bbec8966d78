package kademlia

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadcrawl/kadcrawl/internal/identifier"
)

func randID(t *testing.T) identifier.ID {
	id, err := identifier.Random()
	require.NoError(t, err)
	return id
}

func TestAddCandidateAndClosest(t *testing.T) {
	local := randID(t)
	rt := NewRoutingTable(local)

	var ids []identifier.ID
	for i := 0; i < 50; i++ {
		id := randID(t)
		ids = append(ids, id)
		rt.AddCandidate(Node{ID: id, Endpoint: identifier.Endpoint{Address: "127.0.0.1", Port: uint16(6881 + i)}, Status: Good, LastSeen: time.Now()})
	}

	assert.True(t, rt.CheckInvariant())

	target := randID(t)
	closest := rt.Closest(target, 8)
	assert.LessOrEqual(t, len(closest), 8)
	for i := 1; i < len(closest); i++ {
		d1 := closest[i-1].ID.XOR(target)
		d2 := closest[i].ID.XOR(target)
		assert.True(t, d1.Less(d2) || d1 == d2)
	}
	seen := map[identifier.ID]bool{}
	for _, n := range closest {
		assert.False(t, seen[n.ID])
		seen[n.ID] = true
	}
}

func TestBucketSplitsOnOwnPrefixOverflow(t *testing.T) {
	local := randID(t)
	rt := NewRoutingTable(local)

	// Flip only bits of the last byte so every candidate shares a long prefix with
	// local, forcing repeated splits of the owning bucket.
	for i := 0; i < K+2; i++ {
		id := local
		id[19] ^= byte(i + 1)
		rt.AddCandidate(Node{ID: id, Status: Good, LastSeen: time.Now()})
	}
	assert.Greater(t, rt.BucketCount(), 1)
	assert.True(t, rt.CheckInvariant())
}

func TestMarkTimeoutTransitions(t *testing.T) {
	local := randID(t)
	rt := NewRoutingTable(local)
	id := randID(t)
	rt.AddCandidate(Node{ID: id, Status: Good, LastSeen: time.Now()})

	rt.MarkTimeout(id)
	n, _ := rt.findLocked(id)
	assert.Equal(t, Questionable, n.Status)

	rt.MarkTimeout(id)
	n, _ = rt.findLocked(id)
	assert.Equal(t, Bad, n.Status)
}

func TestMarkResponseResetsStatus(t *testing.T) {
	local := randID(t)
	rt := NewRoutingTable(local)
	id := randID(t)
	rt.AddCandidate(Node{ID: id, Status: Good, LastSeen: time.Now()})
	rt.MarkTimeout(id)
	rt.MarkResponse(id)

	n, _ := rt.findLocked(id)
	assert.Equal(t, Good, n.Status)
}

func TestNoDuplicateNodeIDs(t *testing.T) {
	local := randID(t)
	rt := NewRoutingTable(local)
	id := randID(t)
	rt.AddCandidate(Node{ID: id, Endpoint: identifier.Endpoint{Address: "1.2.3.4", Port: 1}, Status: Good, LastSeen: time.Now()})
	rt.AddCandidate(Node{ID: id, Endpoint: identifier.Endpoint{Address: "5.6.7.8", Port: 2}, Status: Good, LastSeen: time.Now()})
	assert.Equal(t, 1, rt.Size())
}
