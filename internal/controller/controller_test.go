package controller

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadcrawl/kadcrawl/internal/btpeer"
	"github.com/kadcrawl/kadcrawl/internal/dht"
	"github.com/kadcrawl/kadcrawl/internal/eventbus"
	"github.com/kadcrawl/kadcrawl/internal/identifier"
	"github.com/kadcrawl/kadcrawl/internal/storage"
)

func testDeps(t *testing.T) Deps {
	t.Helper()
	localID, err := identifier.Random()
	require.NoError(t, err)
	cfg := dht.DefaultConfig()
	cfg.Port = 0
	cfg.BootstrapNodes = nil
	cfg.RandomDiscovery = false
	return Deps{
		DatabasePath:   filepath.Join(t.TempDir(), "kadcrawl.db"),
		LocalID:        localID,
		DHTConfig:      cfg,
		SessionConfig:  btpeer.DefaultSessionConfig(),
		MaxConnections: 10,
		PeerID:         [20]byte{1, 2, 3},
	}
}

func TestLifecycleTransitions(t *testing.T) {
	c := New(testDeps(t))
	assert.Equal(t, StateCreated, c.State())

	require.NoError(t, c.Initialize())
	assert.Equal(t, StateInitialized, c.State())
	require.NoError(t, c.Initialize())

	require.NoError(t, c.Start())
	assert.Equal(t, StateRunning, c.State())
	require.NoError(t, c.Start())

	c.Crawl()
	assert.Equal(t, StateCrawling, c.State())

	c.Stop()
	assert.Equal(t, StateStopped, c.State())
	c.Stop()
}

func TestNodeFoundEventPersists(t *testing.T) {
	c := New(testDeps(t))
	require.NoError(t, c.Initialize())
	defer c.Stop()

	id, err := identifier.Random()
	require.NoError(t, err)
	c.handleNodeFound(eventbus.Event{
		Kind: eventbus.NodeFound,
		Node: eventbus.NodeFoundPayload{
			ID:         id,
			Endpoint:   identifier.Endpoint{Address: "203.0.113.10", Port: 6881},
			Responsive: true,
			RTT:        12.5,
		},
	})

	require.Eventually(t, func() bool {
		rec, err := c.store.GetNode(id.String())
		return err == nil && rec != nil
	}, time.Second, 10*time.Millisecond)
}

func TestStatisticsIncludesControllerState(t *testing.T) {
	c := New(testDeps(t))
	require.NoError(t, c.Initialize())
	defer c.Stop()

	stats := c.Statistics()
	assert.Equal(t, "INITIALIZED", stats["controller.state"])
}

func TestNodeFoundEventRoutesPingedToPingCount(t *testing.T) {
	c := New(testDeps(t))
	require.NoError(t, c.Initialize())
	defer c.Stop()

	id, err := identifier.Random()
	require.NoError(t, err)
	ep := identifier.Endpoint{Address: "203.0.113.11", Port: 6881}

	c.handleNodeFound(eventbus.Event{
		Kind: eventbus.NodeFound,
		Node: eventbus.NodeFoundPayload{ID: id, Endpoint: ep, Responsive: true, Pinged: true},
	})

	var rec *storage.NodeRecord
	require.Eventually(t, func() bool {
		rec, err = c.store.GetNode(id.String())
		return err == nil && rec != nil
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, rec.PingCount)
	assert.Equal(t, 0, rec.QueryCount)

	c.handleNodeFound(eventbus.Event{
		Kind: eventbus.NodeFound,
		Node: eventbus.NodeFoundPayload{ID: id, Endpoint: ep, Responsive: true},
	})
	require.Eventually(t, func() bool {
		rec, err = c.store.GetNode(id.String())
		return err == nil && rec.QueryCount == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, rec.PingCount)
}

func TestPeerFailedEventIncrementsFailureCount(t *testing.T) {
	c := New(testDeps(t))
	require.NoError(t, c.Initialize())
	defer c.Stop()

	infoHash, err := identifier.Random()
	require.NoError(t, err)
	ep := identifier.Endpoint{Address: "203.0.113.12", Port: 51413}

	c.handlePeerFailed(eventbus.Event{
		Kind:     eventbus.PeerFailed,
		PeerFail: eventbus.PeerFailedPayload{InfoHash: infoHash, Endpoint: ep},
	})

	require.Eventually(t, func() bool {
		recs, err := c.store.GetPeers(infoHash.String())
		return err == nil && len(recs) == 1 && recs[0].FailureCount == 1
	}, time.Second, 10*time.Millisecond)
}
