package dht

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadcrawl/kadcrawl/internal/eventbus"
	"github.com/kadcrawl/kadcrawl/internal/identifier"
)

func newTestEngine(t *testing.T, bootstrapWith []string) (*Engine, *eventbus.Bus) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Port = 0
	cfg.BootstrapNodes = bootstrapWith
	cfg.RandomDiscovery = false
	localID, err := identifier.Random()
	require.NoError(t, err)
	bus := eventbus.New()
	e, err := NewEngine(cfg, localID, bus, nil)
	require.NoError(t, err)
	return e, bus
}

func TestEngineBootstrapSeedsRoutingTable(t *testing.T) {
	a, busA := newTestEngine(t, nil)
	require.NoError(t, a.Start())
	defer a.Stop()
	defer busA.Close()

	b, busB := newTestEngine(t, []string{fmt.Sprintf("127.0.0.1:%d", a.socket.LocalPort())})
	require.NoError(t, b.Start())
	defer b.Stop()
	defer busB.Close()

	require.Eventually(t, func() bool {
		return a.RoutingTable().Size() >= 1 && b.RoutingTable().Size() >= 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestEngineFindNodeRoundtrip(t *testing.T) {
	a, busA := newTestEngine(t, nil)
	require.NoError(t, a.Start())
	defer a.Stop()
	defer busA.Close()

	b, busB := newTestEngine(t, []string{fmt.Sprintf("127.0.0.1:%d", a.socket.LocalPort())})
	require.NoError(t, b.Start())
	defer b.Stop()
	defer busB.Close()

	require.Eventually(t, func() bool { return b.RoutingTable().Size() >= 1 }, 2*time.Second, 20*time.Millisecond)

	target, err := identifier.Random()
	require.NoError(t, err)
	nodes := b.FindClosest(target, QueryFindNode)
	assert.NotEmpty(t, nodes)
}
