package btpeer

import (
	"fmt"
	"sync"
	"time"

	"github.com/kadcrawl/kadcrawl/internal/eventbus"
	"github.com/kadcrawl/kadcrawl/internal/identifier"
	"github.com/kadcrawl/kadcrawl/internal/logger"
)

// failureSuppressionWindow is how long a failed (infohash, endpoint) pair
// is kept out of the trigger queue, per spec §4.J.
const failureSuppressionWindow = 10 * time.Minute

// trigger is one (infohash, endpoint) pair a PeerFound event nominated for
// a metadata-download attempt.
type trigger struct {
	InfoHash identifier.ID
	Endpoint identifier.Endpoint
}

// Pool runs bounded concurrent PeerSessions, mirroring the teacher's
// session.Session availablePorts/mPorts bounded-resource pattern
// generalized from "port slots" to "concurrent session slots". New
// triggers queue in a bounded FIFO and the oldest is dropped when full.
type Pool struct {
	cfg    SessionConfig
	ourID  [20]byte
	log    logger.Logger
	bus    *eventbus.Bus
	maxLen int

	mu         sync.Mutex
	inFlight   map[identifier.ID]bool
	suppressed map[trigger]time.Time
	queue      []trigger
	sem        chan struct{}
	stopC      chan struct{}
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// NewPool returns a pool capped at maxConnections concurrent sessions,
// with a trigger queue of the same capacity.
func NewPool(cfg SessionConfig, ourID [20]byte, bus *eventbus.Bus, log logger.Logger, maxConnections int) *Pool {
	if maxConnections <= 0 {
		maxConnections = 50
	}
	return &Pool{
		cfg:        cfg,
		ourID:      ourID,
		log:        log,
		bus:        bus,
		maxLen:     maxConnections,
		inFlight:   make(map[identifier.ID]bool),
		suppressed: make(map[trigger]time.Time),
		sem:        make(chan struct{}, maxConnections),
		stopC:      make(chan struct{}),
	}
}

// Submit queues a (infohash, endpoint) trigger for a metadata-download
// attempt, dropping the oldest queued trigger if the pool is already at
// capacity. Returns false, without queueing, if the pool is closed, the
// infohash already has a session in flight, or the pair is suppressed
// after a recent failure.
func (p *Pool) Submit(infoHash identifier.ID, ep identifier.Endpoint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.stopC:
		return false
	default:
	}

	if p.inFlight[infoHash] {
		return false
	}
	t := trigger{InfoHash: infoHash, Endpoint: ep}
	if until, ok := p.suppressed[t]; ok {
		if time.Now().Before(until) {
			return false
		}
		delete(p.suppressed, t)
	}
	if len(p.queue) >= p.maxLen {
		p.queue = p.queue[1:]
	}
	p.queue = append(p.queue, t)
	p.dispatchLocked()
	return true
}

// dispatchLocked starts sessions for queued triggers while semaphore
// slots remain, must be called with p.mu held.
func (p *Pool) dispatchLocked() {
	for len(p.queue) > 0 {
		select {
		case p.sem <- struct{}{}:
			t := p.queue[0]
			p.queue = p.queue[1:]
			p.inFlight[t.InfoHash] = true
			p.wg.Add(1)
			go p.run(t)
		default:
			return
		}
	}
}

func (p *Pool) run(t trigger) {
	defer p.wg.Done()
	defer func() { <-p.sem }()

	sessionLog := logger.New(fmt.Sprintf("peer <- %s", t.Endpoint.String()))
	s := NewSession(t.InfoHash, t.Endpoint, p.ourID, p.cfg, sessionLog)
	result := s.Run()

	p.mu.Lock()
	delete(p.inFlight, t.InfoHash)
	if result.State == StateFailed {
		p.suppressed[t] = time.Now().Add(failureSuppressionWindow)
	}
	p.dispatchLocked()
	p.mu.Unlock()

	if result.State == StateFailed {
		p.bus.Publish(eventbus.Event{
			Kind: eventbus.PeerFailed,
			PeerFail: eventbus.PeerFailedPayload{
				InfoHash: t.InfoHash,
				Endpoint: t.Endpoint,
			},
		})
	}

	if result.State == StateDone {
		info, err := DecodeInfo(result.RawInfo, t.InfoHash)
		if err != nil {
			sessionLog.Warningln("decoding verified info dict:", err)
			return
		}
		p.bus.Publish(eventbus.Event{
			Kind: eventbus.MetadataReceived,
			Metadata: eventbus.MetadataReceivedPayload{
				InfoHash:  t.InfoHash,
				Name:      info.Name,
				TotalSize: info.TotalSize,
				RawInfo:   info.RawInfo,
			},
		})
	}
}

// Close stops accepting new work and waits for in-flight sessions to
// finish.
func (p *Pool) Close() {
	p.stopOnce.Do(func() { close(p.stopC) })
	p.wg.Wait()
}
