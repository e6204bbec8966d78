package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/kadcrawl/kadcrawl/internal/logger"
)

// Handler receives one dispatched event. Handlers must not block on
// network I/O; a handler panic is recovered, logged, and counted.
type Handler func(Event)

// DefaultQueueSize bounds the dispatcher's pending-event FIFO. Publish
// blocks once the queue is full, exerting backpressure on the publisher
// rather than growing without limit.
const DefaultQueueSize = 1024

type subscription struct {
	id      uint64
	kind    Kind
	handler Handler
}

// Bus is a type-indexed subscriber registry with a single dedicated
// dispatcher goroutine, mirroring the teacher's single event-loop-per-owner
// idiom (session/run.go's torrent.run() select loop) but generalized to
// arbitrary publishers and a typed event set instead of a fixed struct of
// channels.
type Bus struct {
	log   logger.Logger
	queue chan Event

	mu     sync.RWMutex
	subs   map[Kind][]subscription
	nextID uint64
	panics int64

	closeOnce sync.Once
	closeC    chan struct{}
	doneC     chan struct{}
}

// New starts a Bus with its dispatcher goroutine running.
func New() *Bus {
	b := &Bus{
		log:    logger.New("eventbus"),
		queue:  make(chan Event, DefaultQueueSize),
		subs:   make(map[Kind][]subscription),
		closeC: make(chan struct{}),
		doneC:  make(chan struct{}),
	}
	go b.dispatchLoop()
	return b
}

// Subscribe registers handler for events of kind and returns a token that
// Unsubscribe accepts. Safe to call from any goroutine, including from
// within a handler being dispatched.
func (b *Bus) Subscribe(kind Kind, handler Handler) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscription{id: id, kind: kind, handler: handler})
	return id
}

// Unsubscribe removes a handler previously returned by Subscribe. Safe to
// call from any goroutine, including from within a handler.
func (b *Bus) Unsubscribe(token uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for kind, subs := range b.subs {
		for i, s := range subs {
			if s.id == token {
				b.subs[kind] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish enqueues an event for dispatch. Events published from the same
// goroutine are delivered to subscribers in the order Publish was called;
// there is no ordering guarantee across goroutines. Publish blocks if the
// dispatcher's queue is full.
func (b *Bus) Publish(ev Event) {
	select {
	case b.queue <- ev:
	case <-b.closeC:
	}
}

// PanicCount reports how many handler panics have been recovered, for
// controller statistics.
func (b *Bus) PanicCount() int64 {
	return atomic.LoadInt64(&b.panics)
}

func (b *Bus) dispatchLoop() {
	defer close(b.doneC)
	for {
		select {
		case ev := <-b.queue:
			b.dispatch(ev)
		case <-b.closeC:
			// Drain whatever is already queued before exiting so a Close
			// during shutdown doesn't silently drop in-flight events.
			for {
				select {
				case ev := <-b.queue:
					b.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(ev Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[ev.Kind]...)
	b.mu.RUnlock()
	for _, s := range subs {
		b.invoke(s.handler, ev)
	}
}

func (b *Bus) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&b.panics, 1)
			b.log.Errorf("event handler panic for %s: %v", ev.Kind, r)
		}
	}()
	h(ev)
}

// Close stops the dispatcher after draining queued events. It does not
// unblock goroutines already parked in Publish against a full queue beyond
// letting the drain loop make room; callers should stop publishing before
// calling Close.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.closeC)
	})
	<-b.doneC
}
