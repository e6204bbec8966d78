package dht

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/kadcrawl/kadcrawl/internal/bencode"
	"github.com/kadcrawl/kadcrawl/internal/eventbus"
	"github.com/kadcrawl/kadcrawl/internal/identifier"
	"github.com/kadcrawl/kadcrawl/internal/kademlia"
	"github.com/kadcrawl/kadcrawl/internal/logger"
	"github.com/kadcrawl/kadcrawl/internal/netio"
)

// PeerStore answers get_peers lookups with locally known peers for an
// infohash. The storage engine implements this; it's an interface here so
// the DHT engine has no compile-time dependency on the storage package.
type PeerStore interface {
	PeersForInfoHash(ih identifier.ID) []identifier.Endpoint
}

// QueryKind selects which method an iterative lookup round issues.
type QueryKind int

const (
	QueryFindNode QueryKind = iota
	QueryGetPeers
)

// Engine is the DHT crawler core: routing table, transaction multiplexing,
// token issuance, bootstrap, iterative lookup, and the periodic discovery
// loops described in spec §4.I. Its goroutine shape — one receive loop, one
// scheduler loop, one discovery-ticker loop — follows the teacher's
// one-dedicated-goroutine-per-concern idiom (session/run.go).
type Engine struct {
	cfg     Config
	localID identifier.ID
	log     logger.Logger
	bus     *eventbus.Bus
	peers   PeerStore

	socket *netio.UDPSocket
	rt     *kademlia.RoutingTable
	tx     *TransactionManager
	tokens *TokenManager

	queriesSent    metrics.Counter
	responsesRecv  metrics.Counter
	decodeErrors   metrics.Counter
	protocolErrors metrics.Counter
	queryRateEWMA  metrics.EWMA

	stopOnce sync.Once
	stopC    chan struct{}
	wg       sync.WaitGroup

	fatal int32
}

// NewEngine constructs an engine bound to localID, ready for Start. The
// UDP socket is not opened until Start succeeds.
func NewEngine(cfg Config, localID identifier.ID, bus *eventbus.Bus, peers PeerStore) (*Engine, error) {
	tokens, err := NewTokenManager()
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:            cfg,
		localID:        localID,
		log:            logger.New("dht"),
		bus:            bus,
		peers:          peers,
		rt:             kademlia.NewRoutingTable(localID),
		tx:             NewTransactionManager(),
		tokens:         tokens,
		queriesSent:    metrics.NewCounter(),
		responsesRecv:  metrics.NewCounter(),
		decodeErrors:   metrics.NewCounter(),
		protocolErrors: metrics.NewCounter(),
		queryRateEWMA:  metrics.NewEWMA1(),
		stopC:          make(chan struct{}),
	}, nil
}

// LocalID returns the engine's local NodeID.
func (e *Engine) LocalID() identifier.ID { return e.localID }

// RoutingTable exposes the engine's routing table for read-only queries
// from the controller/API layer.
func (e *Engine) RoutingTable() *kademlia.RoutingTable { return e.rt }

// Start binds the UDP socket and launches the receive, scheduler, and
// discovery-loop goroutines, then runs bootstrap.
func (e *Engine) Start() error {
	sock, err := netio.ListenUDP(e.cfg.Port)
	if err != nil {
		return fmt.Errorf("dht: bind udp: %w", err)
	}
	e.socket = sock

	e.wg.Add(3)
	go e.receiveLoop()
	go e.schedulerLoop()
	go e.discoveryLoop()

	e.bootstrap()
	return nil
}

// Stop signals every goroutine to exit, closes the socket, and cancels
// outstanding transactions.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopC)
		if e.socket != nil {
			e.socket.Close()
		}
		e.tx.CancelAll()
	})
	e.wg.Wait()
}

func (e *Engine) raiseFatal(source string, err error) {
	if atomic.CompareAndSwapInt32(&e.fatal, 0, 1) {
		e.bus.Publish(eventbus.Event{Kind: eventbus.FatalError, Fatal: eventbus.FatalErrorPayload{Source: source, Err: err}})
	}
}

// receiveLoop is the dedicated UDP receive thread: decode, route to
// query/response handling, and add_candidate on every sender.
func (e *Engine) receiveLoop() {
	defer e.wg.Done()
	buf := make([]byte, 2048)
	for {
		select {
		case <-e.stopC:
			return
		default:
		}
		n, from, err := e.socket.ReceiveFrom(buf, time.Now().Add(time.Second))
		if err != nil {
			if err == netio.Timeout {
				continue
			}
			if err == netio.PeerClosed {
				return
			}
			e.log.Debugln("dht: udp receive error:", err)
			continue
		}
		var msg Msg
		if err := bencode.DecodeBytes(buf[:n], &msg); err != nil {
			e.decodeErrors.Inc(1)
			continue
		}
		e.handleMessage(&msg, from)
	}
}

func (e *Engine) handleMessage(msg *Msg, from identifier.Endpoint) {
	var senderID identifier.ID
	switch msg.Y {
	case TypeQuery:
		if msg.A != nil {
			senderID = msg.A.ID
		}
	case TypeResponse:
		if msg.R != nil {
			senderID = msg.R.ID
		}
	}
	if senderID != identifier.Zero {
		e.rt.AddCandidate(kademlia.Node{ID: senderID, Endpoint: from, Status: kademlia.Good, LastSeen: time.Now()})
		e.bus.Publish(eventbus.Event{Kind: eventbus.NodeFound, Node: eventbus.NodeFoundPayload{ID: senderID, Endpoint: from, Responsive: true}})
	}

	switch msg.Y {
	case TypeQuery:
		e.handleQuery(msg, from)
	case TypeResponse:
		e.responsesRecv.Inc(1)
		id, err := transactionIDFrom(msg.T)
		if err != nil {
			return
		}
		e.tx.Complete(id, msg)
	case TypeError:
		id, err := transactionIDFrom(msg.T)
		if err != nil {
			return
		}
		code, message, _ := ErrorCode(msg.E)
		e.tx.Fail(id, fmt.Errorf("dht: peer error %d: %s", code, message))
	}
}

func transactionIDFrom(t string) (uint16, error) {
	if len(t) != 2 {
		return 0, ErrMalformedNodes
	}
	return uint16(t[0])<<8 | uint16(t[1]), nil
}

func transactionIDBytes(id uint16) string {
	return string([]byte{byte(id >> 8), byte(id)})
}

func (e *Engine) handleQuery(msg *Msg, from identifier.Endpoint) {
	if msg.A == nil {
		return
	}
	switch msg.Q {
	case MethodPing:
		e.reply(from, msg.T, &Return{ID: e.localID})
	case MethodFindNode:
		nodes := e.rt.Closest(msg.A.Target, findNodeK)
		encoded, _ := EncodeNodes(toNodeInfos(nodes))
		e.reply(from, msg.T, &Return{ID: e.localID, Nodes: encoded})
	case MethodGetPeers:
		token := e.tokens.Issue(from)
		var known []identifier.Endpoint
		if e.peers != nil {
			known = e.peers.PeersForInfoHash(msg.A.InfoHash)
		}
		if len(known) > 0 {
			e.reply(from, msg.T, &Return{ID: e.localID, Token: token, Values: EncodeValues(known)})
		} else {
			nodes := e.rt.Closest(msg.A.InfoHash, findNodeK)
			encoded, _ := EncodeNodes(toNodeInfos(nodes))
			e.reply(from, msg.T, &Return{ID: e.localID, Token: token, Nodes: encoded})
		}
		e.bus.Publish(eventbus.Event{Kind: eventbus.InfohashFound, Infohash: eventbus.InfohashFoundPayload{InfoHash: msg.A.InfoHash}})
	case MethodAnnouncePeer:
		if !e.tokens.Verify(from, msg.A.Token) {
			e.protocolErrors.Inc(1)
			e.replyError(from, msg.T, ErrCodeProtocol, "bad token")
			return
		}
		announced := from
		if msg.A.ImpliedPort == 0 && msg.A.Port != 0 {
			announced.Port = uint16(msg.A.Port)
		}
		e.reply(from, msg.T, &Return{ID: e.localID})
		e.bus.Publish(eventbus.Event{Kind: eventbus.InfohashFound, Infohash: eventbus.InfohashFoundPayload{InfoHash: msg.A.InfoHash}})
		e.bus.Publish(eventbus.Event{Kind: eventbus.PeerFound, Peer: eventbus.PeerFoundPayload{InfoHash: msg.A.InfoHash, Endpoint: announced}})
	default:
		e.replyError(from, msg.T, ErrCodeMethodUnknown, "unknown method")
	}
}

func toNodeInfos(nodes []kademlia.Node) []NodeInfo {
	out := make([]NodeInfo, len(nodes))
	for i, n := range nodes {
		out[i] = NodeInfo{ID: n.ID, Endpoint: n.Endpoint}
	}
	return out
}

func (e *Engine) reply(to identifier.Endpoint, t string, r *Return) {
	msg := Msg{T: t, Y: TypeResponse, R: r}
	e.send(to, &msg)
}

func (e *Engine) replyError(to identifier.Endpoint, t string, code int64, message string) {
	msg := Msg{T: t, Y: TypeError, E: NewErrorValue(code, message)}
	e.send(to, &msg)
}

func (e *Engine) send(to identifier.Endpoint, msg *Msg) {
	b, err := bencode.Encode(msg)
	if err != nil {
		e.log.Errorln("dht: encode failed:", err)
		return
	}
	if err := e.socket.SendTo(b, to, time.Now().Add(time.Second)); err != nil {
		e.log.Debugln("dht: send failed:", err, to)
	}
}

// query sends a query and returns a channel that receives the response (or
// nil on failure). It handles the IDLE->SENT->COMPLETED/FAILED state
// machine including the two timeout retries with 1s/2s backoff.
func (e *Engine) query(to identifier.Endpoint, nodeID identifier.ID, method string, args *Args) <-chan *Msg {
	result := make(chan *Msg, 1)
	var tx *Transaction
	cont := func(resp *Msg, err error) {
		if nodeID != identifier.Zero {
			switch {
			case resp != nil:
				e.rt.MarkResponse(nodeID)
			case err == netio.Timeout:
				e.rt.MarkTimeout(nodeID)
			}
		}
		result <- resp
	}
	tx = e.tx.Begin(to, nodeID, method, args, cont)
	e.queriesSent.Inc(1)
	e.queryRateEWMA.Update(1)
	msg := &Msg{T: transactionIDBytes(tx.ID), Y: TypeQuery, Q: method, A: args}
	e.send(to, msg)
	return result
}

// schedulerLoop is the dedicated send/scheduler thread: it periodically
// scans for expired transactions and retries or fails them.
func (e *Engine) schedulerLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopC:
			return
		case <-ticker.C:
			e.queryRateEWMA.Tick()
			for _, tx := range e.tx.ExpireTimeouts(time.Now()) {
				e.handleExpiredTransaction(tx)
			}
		}
	}
}

// handleExpiredTransaction implements the SENT --timeout--> retry/FAILED
// half of the per-query state machine: a timeout first parks the
// transaction for its backoff delay, then on the next expiry resends and
// waits out a fresh deadline, up to two retries, after which it fails.
func (e *Engine) handleExpiredTransaction(tx *Transaction) {
	if tx.AwaitingRetry() {
		tx.SetAwaitingRetry(false)
		msg := &Msg{T: transactionIDBytes(tx.ID), Y: TypeQuery, Q: tx.Method, A: tx.Args}
		e.send(tx.Target, msg)
		e.tx.Reregister(tx, time.Now().Add(DefaultQueryDeadline))
		return
	}
	if tx.Retries >= len(RetryBackoffs) {
		tx.Continue(nil, netio.Timeout)
		return
	}
	backoff := RetryBackoffs[tx.Retries]
	tx.Retries++
	tx.SetAwaitingRetry(true)
	e.tx.Reregister(tx, time.Now().Add(backoff))
}

// bootstrap resolves the configured routers, pings each, and seeds the
// routing table with the responders.
func (e *Engine) bootstrap() {
	var wg sync.WaitGroup
	for _, host := range e.cfg.BootstrapNodes {
		host := host
		wg.Add(1)
		go func() {
			defer wg.Done()
			addr, err := net.ResolveUDPAddr("udp", host)
			if err != nil {
				e.log.Warningln("dht: bootstrap resolve failed:", host, err)
				return
			}
			ep := identifier.EndpointFromUDPAddr(addr)
			resp := <-e.query(ep, identifier.Zero, MethodPing, &Args{ID: e.localID})
			if resp != nil && resp.R != nil {
				e.rt.AddCandidate(kademlia.Node{ID: resp.R.ID, Endpoint: ep, Status: kademlia.Good, LastSeen: time.Now()})
				e.bus.Publish(eventbus.Event{Kind: eventbus.NodeFound, Node: eventbus.NodeFoundPayload{ID: resp.R.ID, Endpoint: ep, Responsive: true, Pinged: true}})
			}
		}()
	}
	wg.Wait()

	if e.rt.Size() < findNodeK {
		for _, n := range e.rt.Closest(e.localID, findNodeK) {
			go func(n kademlia.Node) {
				<-e.query(n.Endpoint, n.ID, MethodFindNode, &Args{ID: e.localID, Target: e.localID})
			}(n)
		}
	}
}

type candidate struct {
	info    NodeInfo
	dist    identifier.Distance
	queried bool
}

// FindClosest runs the iterative lookup described in spec §4.I: seed from
// the routing table, fan out alpha=3 unqueried candidates per round,
// terminate on no-progress or the 64-query budget.
func (e *Engine) FindClosest(target identifier.ID, kind QueryKind) []NodeInfo {
	seed := toNodeInfos(e.rt.Closest(target, findNodeK))
	candidates := make(map[identifier.ID]*candidate, len(seed))
	for _, n := range seed {
		candidates[n.ID] = &candidate{info: n, dist: n.ID.XOR(target)}
	}

	queriesUsed := 0
	for queriesUsed < lookupQueryBudget {
		unqueried := unqueriedSorted(candidates)
		if len(unqueried) == 0 {
			break
		}
		if len(unqueried) > lookupAlpha {
			unqueried = unqueried[:lookupAlpha]
		}

		bestBefore, bestBeforeFound := closestDistance(candidates)
		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, c := range unqueried {
			c.queried = true
			queriesUsed++
			wg.Add(1)
			go func(c *candidate) {
				defer wg.Done()
				method := MethodFindNode
				args := &Args{ID: e.localID, Target: target}
				if kind == QueryGetPeers {
					method = MethodGetPeers
					args = &Args{ID: e.localID, InfoHash: target}
				}
				resp := <-e.query(c.info.Endpoint, c.info.ID, method, args)
				if resp == nil || resp.R == nil {
					return
				}
				var nodes []NodeInfo
				if len(resp.R.Nodes) > 0 {
					nodes, _ = DecodeNodes(resp.R.Nodes)
				}
				if kind == QueryGetPeers && len(resp.R.Values) > 0 {
					if eps, err := DecodeValues(resp.R.Values); err == nil {
						for _, ep := range eps {
							e.bus.Publish(eventbus.Event{Kind: eventbus.PeerFound, Peer: eventbus.PeerFoundPayload{InfoHash: target, Endpoint: ep}})
						}
					}
				}
				mu.Lock()
				for _, n := range nodes {
					if _, exists := candidates[n.ID]; !exists {
						candidates[n.ID] = &candidate{info: n, dist: n.ID.XOR(target)}
					}
				}
				if len(candidates) > lookupCandidateCap {
					trimCandidates(candidates, lookupCandidateCap)
				}
				mu.Unlock()
			}(c)
		}
		wg.Wait()

		afterBest, afterFound := closestDistance(candidates)
		if !closerThan(afterBest, afterFound, bestBefore, bestBeforeFound) {
			break
		}
	}

	return sortedNodeInfos(candidates, target)
}

func unqueriedSorted(candidates map[identifier.ID]*candidate) []*candidate {
	var out []*candidate
	for _, c := range candidates {
		if !c.queried {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].dist.Less(out[j].dist) })
	return out
}

func closestDistance(candidates map[identifier.ID]*candidate) (identifier.Distance, bool) {
	var best identifier.Distance
	found := false
	for _, c := range candidates {
		if !found || c.dist.Less(best) {
			best = c.dist
			found = true
		}
	}
	return best, found
}

func closerThan(d identifier.Distance, found bool, prev identifier.Distance, prevFound bool) bool {
	if !found {
		return false
	}
	if !prevFound {
		return true
	}
	return d.Less(prev)
}

func trimCandidates(candidates map[identifier.ID]*candidate, cap int) {
	all := make([]*candidate, 0, len(candidates))
	for _, c := range candidates {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].dist.Less(all[j].dist) })
	for _, c := range all[cap:] {
		delete(candidates, c.info.ID)
	}
}

func sortedNodeInfos(candidates map[identifier.ID]*candidate, target identifier.ID) []NodeInfo {
	all := make([]*candidate, 0, len(candidates))
	for _, c := range candidates {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].dist.Less(all[j].dist) })
	out := make([]NodeInfo, len(all))
	for i, c := range all {
		out[i] = c.info
	}
	return out
}

// discoveryLoop runs the four periodic tasks from spec §4.I on their own
// tickers, multiplexed on one goroutine the way the teacher's torrent.run()
// multiplexes unrelated timers in a single select.
func (e *Engine) discoveryLoop() {
	defer e.wg.Done()
	refreshTicker := time.NewTicker(time.Minute)
	defer refreshTicker.Stop()
	randomTicker := time.NewTicker(randomDiscoveryTick)
	defer randomTicker.Stop()
	rotateTicker := time.NewTicker(TokenRotationInterval)
	defer rotateTicker.Stop()
	probeTicker := time.NewTicker(peerProbeTick)
	defer probeTicker.Stop()

	for {
		select {
		case <-e.stopC:
			return
		case <-refreshTicker.C:
			e.refreshStaleBuckets()
		case <-randomTicker.C:
			if e.cfg.RandomDiscovery {
				go func() {
					if target, err := identifier.Random(); err == nil {
						e.FindClosest(target, QueryGetPeers)
					}
				}()
			}
		case <-rotateTicker.C:
			if err := e.tokens.Rotate(); err != nil {
				e.log.Errorln("dht: token rotation failed:", err)
			}
		case <-probeTicker.C:
			e.probeQuestionableNodes()
		}
	}
}

func (e *Engine) refreshStaleBuckets() {
	now := time.Now()
	for _, b := range e.rt.Buckets() {
		if now.Sub(b.LastUpdated) <= bucketRefreshAge {
			continue
		}
		target, err := identifier.RandomWithPrefix(e.localID, b.PrefixLen)
		if err != nil {
			continue
		}
		go e.FindClosest(target, QueryFindNode)
	}
}

func (e *Engine) probeQuestionableNodes() {
	for _, n := range e.rt.QuestionableNodes() {
		n := n
		go func() {
			resp := <-e.query(n.Endpoint, n.ID, MethodPing, &Args{ID: e.localID})
			if resp != nil && resp.R != nil {
				e.bus.Publish(eventbus.Event{Kind: eventbus.NodeFound, Node: eventbus.NodeFoundPayload{ID: resp.R.ID, Endpoint: n.Endpoint, Responsive: true, Pinged: true}})
			}
		}()
	}
}

// Stats is a point-in-time snapshot for the controller's statistics
// surface.
type Stats struct {
	NodesKnown      int
	QueriesSent     int64
	ResponsesRecv   int64
	DecodeErrors    int64
	ProtocolErrors  int64
	QueryRatePerSec float64
}

// Snapshot returns the engine's current counters.
func (e *Engine) Snapshot() Stats {
	return Stats{
		NodesKnown:      e.rt.Size(),
		QueriesSent:     e.queriesSent.Count(),
		ResponsesRecv:   e.responsesRecv.Count(),
		DecodeErrors:    e.decodeErrors.Count(),
		ProtocolErrors:  e.protocolErrors.Count(),
		QueryRatePerSec: e.queryRateEWMA.Rate(),
	}
}
