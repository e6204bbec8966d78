// Package controller owns the crawler's lifecycle and wires the DHT
// engine, the BitTorrent peer pool, and the storage engine together
// through the event bus. Its shutdown ordering (stop dependents before
// closing the database) and idempotent start/stop follow the teacher's
// Session.Close: stop the DHT, wait for in-flight work, then close the
// database last.
package controller

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kadcrawl/kadcrawl/internal/btpeer"
	"github.com/kadcrawl/kadcrawl/internal/dht"
	"github.com/kadcrawl/kadcrawl/internal/eventbus"
	"github.com/kadcrawl/kadcrawl/internal/identifier"
	"github.com/kadcrawl/kadcrawl/internal/logger"
	"github.com/kadcrawl/kadcrawl/internal/storage"
)

// State is the controller's position in its lifecycle state machine.
type State int32

const (
	StateCreated State = iota
	StateInitialized
	StateRunning
	StateCrawling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateInitialized:
		return "INITIALIZED"
	case StateRunning:
		return "RUNNING"
	case StateCrawling:
		return "CRAWLING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Deps bundles the configuration Controller needs to construct its
// engines: the database path, identities, and the DHT and peer-session
// settings. The engines themselves are built by Initialize and Start.
type Deps struct {
	DatabasePath   string
	LocalID        identifier.ID
	DHTConfig      dht.Config
	SessionConfig  btpeer.SessionConfig
	MaxConnections int
	PeerID         [20]byte
}

// Controller is the single owner of the crawler's engines and their
// event wiring.
type Controller struct {
	deps Deps
	log  logger.Logger

	state int32

	store *storage.Store
	async *storage.AsyncStore
	bus   *eventbus.Bus
	dht   *dht.Engine
	peers *btpeer.Pool

	mu           sync.Mutex
	inflightIH   map[identifier.ID]bool
	handlerPanic int64
}

// New returns a controller in the CREATED state; it performs no I/O.
func New(deps Deps) *Controller {
	return &Controller{
		deps:       deps,
		log:        logger.New("controller"),
		state:      int32(StateCreated),
		inflightIH: make(map[identifier.ID]bool),
	}
}

// State reports the controller's current lifecycle state.
func (c *Controller) State() State {
	return State(atomic.LoadInt32(&c.state))
}

// Store exposes the underlying storage engine for read-only consumers
// such as the embedded API; nil until Initialize has run.
func (c *Controller) Store() *storage.Store {
	return c.store
}

// Bus exposes the event bus to external collaborators outside the core
// (such as a tracker bootstrap helper) so their discoveries are ingested
// through the same NodeFound/PeerFound path as the DHT and BitTorrent
// engines; nil until Initialize has run.
func (c *Controller) Bus() *eventbus.Bus {
	return c.bus
}

// Initialize opens storage and wires the event bus; idempotent.
func (c *Controller) Initialize() error {
	if c.State() != StateCreated {
		return nil
	}

	store, err := storage.Open(c.deps.DatabasePath)
	if err != nil {
		return fmt.Errorf("controller: opening storage: %w", err)
	}
	c.store = store
	c.async = storage.NewAsyncStore(store, 256)
	c.bus = eventbus.New()
	c.wireEvents()

	atomic.StoreInt32(&c.state, int32(StateInitialized))
	return nil
}

// Start brings up the DHT engine and peer pool; idempotent, and runs
// Initialize first if the controller is still CREATED.
func (c *Controller) Start() error {
	switch c.State() {
	case StateRunning, StateCrawling:
		return nil
	case StateCreated:
		if err := c.Initialize(); err != nil {
			return err
		}
	}

	peerStore := peerStoreAdapter{store: c.store}
	engine, err := dht.NewEngine(c.deps.DHTConfig, c.deps.LocalID, c.bus, peerStore)
	if err != nil {
		return fmt.Errorf("controller: constructing dht engine: %w", err)
	}
	c.dht = engine
	if err := c.dht.Start(); err != nil {
		return fmt.Errorf("controller: starting dht engine: %w", err)
	}

	c.peers = btpeer.NewPool(c.deps.SessionConfig, c.deps.PeerID, c.bus, logger.New("btpeer"), c.deps.MaxConnections)

	atomic.StoreInt32(&c.state, int32(StateRunning))
	return nil
}

// Crawl marks the controller as actively crawling, a sub-state of
// RUNNING surfaced in statistics; Start already begins discovery, so this
// is a bookkeeping transition rather than a new capability.
func (c *Controller) Crawl() {
	atomic.CompareAndSwapInt32(&c.state, int32(StateRunning), int32(StateCrawling))
}

// Stop tears down engines in reverse construction order, waiting up to
// 5 seconds for each, then closes storage last. Idempotent and safe to
// call from a signal handler.
func (c *Controller) Stop() {
	prev := State(atomic.SwapInt32(&c.state, int32(StateStopped)))
	if prev == StateStopped || prev == StateCreated {
		return
	}

	if c.peers != nil {
		stopWithDeadline(c.peers.Close, 5*time.Second)
	}
	if c.dht != nil {
		stopWithDeadline(c.dht.Stop, 5*time.Second)
	}
	if c.bus != nil {
		c.bus.Close()
	}
	if c.async != nil {
		c.async.Close()
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.log.Warningln("closing storage:", err)
		}
	}
}

func stopWithDeadline(fn func(), deadline time.Duration) {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(deadline):
	}
}

// wireEvents subscribes one handler per event kind, each performing a
// single storage write and never blocking on network I/O, per spec §4.K.
func (c *Controller) wireEvents() {
	c.bus.Subscribe(eventbus.NodeFound, c.safeHandle(c.handleNodeFound))
	c.bus.Subscribe(eventbus.InfohashFound, c.safeHandle(c.handleInfohashFound))
	c.bus.Subscribe(eventbus.PeerFound, c.safeHandle(c.handlePeerFound))
	c.bus.Subscribe(eventbus.PeerFailed, c.safeHandle(c.handlePeerFailed))
	c.bus.Subscribe(eventbus.MetadataReceived, c.safeHandle(c.handleMetadataReceived))
	c.bus.Subscribe(eventbus.FatalError, c.safeHandle(c.handleFatalError))
}

func (c *Controller) safeHandle(fn func(eventbus.Event)) eventbus.Handler {
	return func(ev eventbus.Event) {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&c.handlerPanic, 1)
				c.log.Errorln("event handler panic:", r)
			}
		}()
		fn(ev)
	}
}

func (c *Controller) handleNodeFound(ev eventbus.Event) {
	p := ev.Node
	now := time.Now().UTC()
	rec := storage.NodeRecord{
		ID: p.ID.String(), Address: p.Endpoint.Address, Port: int(p.Endpoint.Port),
		FirstSeen: now, LastSeen: now,
		ResponseCount: boolToInt(p.Responsive),
		IsResponsive:  p.Responsive, LastRTTMs: p.RTT,
	}
	if p.Pinged {
		rec.PingCount = 1
	} else {
		rec.QueryCount = 1
	}
	c.async.StoreNodeAsync(rec)
}

func (c *Controller) handleInfohashFound(ev eventbus.Event) {
	p := ev.Infohash
	now := time.Now().UTC()
	c.async.StoreInfoHashAsync(storage.InfoHashRecord{
		InfoHash: p.InfoHash.String(), FirstSeen: now, LastSeen: now, AnnounceCount: 1,
	})
}

func (c *Controller) handlePeerFound(ev eventbus.Event) {
	p := ev.Peer
	now := time.Now().UTC()
	c.async.StorePeerAsync(storage.PeerRecord{
		InfoHash: p.InfoHash.String(), Address: p.Endpoint.Address, Port: int(p.Endpoint.Port),
		PeerID: p.PeerID, FirstSeen: now, LastSeen: now,
	})

	c.mu.Lock()
	already := c.inflightIH[p.InfoHash]
	c.mu.Unlock()
	if already || c.peers == nil {
		return
	}
	c.peers.Submit(p.InfoHash, p.Endpoint)
}

func (c *Controller) handlePeerFailed(ev eventbus.Event) {
	p := ev.PeerFail
	c.async.IncrementPeerFailureCountAsync(p.InfoHash.String(), p.Endpoint.Address, int(p.Endpoint.Port))
}

func (c *Controller) handleMetadataReceived(ev eventbus.Event) {
	p := ev.Metadata
	now := time.Now().UTC()
	rec := storage.MetadataRecord{
		InfoHash: p.InfoHash.String(), Name: p.Name, TotalSize: p.TotalSize,
		RawInfo: p.RawInfo, DownloadTime: now,
	}
	c.async.StoreMetadataAsync(rec, nil)
}

func (c *Controller) handleFatalError(ev eventbus.Event) {
	c.log.Errorln("fatal error from", ev.Fatal.Source, ":", ev.Fatal.Err)
	go c.Stop()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Statistics returns a flat map of controller.* keys and, once the DHT
// engine exists, dht.* keys. No bt.*, storage.* or tracker.* keys are
// produced.
func (c *Controller) Statistics() map[string]string {
	stats := map[string]string{
		"controller.state":         c.State().String(),
		"controller.handler_panic": strconv.FormatInt(atomic.LoadInt64(&c.handlerPanic), 10),
	}
	if c.dht != nil {
		snap := c.dht.Snapshot()
		stats["dht.nodes_known"] = strconv.Itoa(snap.NodesKnown)
		stats["dht.queries_sent"] = strconv.FormatInt(snap.QueriesSent, 10)
		stats["dht.responses_received"] = strconv.FormatInt(snap.ResponsesRecv, 10)
		stats["dht.decode_errors"] = strconv.FormatInt(snap.DecodeErrors, 10)
		stats["dht.protocol_errors"] = strconv.FormatInt(snap.ProtocolErrors, 10)
		stats["dht.query_rate_per_sec"] = strconv.FormatFloat(snap.QueryRatePerSec, 'f', 2, 64)
		stats["dht.routing_nodes"] = strconv.Itoa(c.dht.RoutingTable().Size())
	}
	return stats
}

// peerStoreAdapter lets the storage layer answer dht.PeerStore queries
// (known peers for an infohash) without the dht package importing
// storage directly.
type peerStoreAdapter struct {
	store *storage.Store
}

func (a peerStoreAdapter) PeersForInfoHash(ih identifier.ID) []identifier.Endpoint {
	recs, err := a.store.GetPeers(ih.String())
	if err != nil {
		return nil
	}
	out := make([]identifier.Endpoint, 0, len(recs))
	for _, r := range recs {
		out = append(out, identifier.Endpoint{Address: r.Address, Port: uint16(r.Port)})
	}
	return out
}
