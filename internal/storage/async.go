package storage

import "context"

// AsyncStore funnels writes through a single goroutine so the engines'
// event handlers never block on disk I/O, mirroring the module-wide
// single-dedicated-goroutine idiom (the event bus's dispatch loop, the DHT
// engine's receive loop). Reads pass straight through to the embedded
// Store, since sqlite's WAL mode supports concurrent readers.
type AsyncStore struct {
	*Store
	jobs chan func()
	done chan struct{}
}

// NewAsyncStore wraps store with a bounded job queue of the given
// capacity and starts its writer goroutine.
func NewAsyncStore(store *Store, queueSize int) *AsyncStore {
	if queueSize <= 0 {
		queueSize = 256
	}
	a := &AsyncStore{
		Store: store,
		jobs:  make(chan func(), queueSize),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncStore) run() {
	defer close(a.done)
	for job := range a.jobs {
		job()
	}
}

// Close drains the pending queue and stops the writer goroutine. The
// embedded Store's handle is not closed; callers close it separately once
// all async work has drained.
func (a *AsyncStore) Close() {
	close(a.jobs)
	<-a.done
}

// errFuture is the handle returned by every async write: a single-value
// channel delivering the eventual error (nil on success).
type errFuture chan error

// Wait blocks until the job completes, or ctx is done first.
func (f errFuture) Wait(ctx context.Context) error {
	select {
	case err := <-f:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *AsyncStore) submit(fn func() error) errFuture {
	f := make(errFuture, 1)
	a.jobs <- func() { f <- fn() }
	return f
}

// StoreNodeAsync queues a node upsert.
func (a *AsyncStore) StoreNodeAsync(rec NodeRecord) errFuture {
	return a.submit(func() error { return a.Store.StoreNode(rec) })
}

// StoreInfoHashAsync queues an infohash upsert.
func (a *AsyncStore) StoreInfoHashAsync(rec InfoHashRecord) errFuture {
	return a.submit(func() error { return a.Store.StoreInfoHash(rec) })
}

// StoreMetadataAsync queues a metadata+files write.
func (a *AsyncStore) StoreMetadataAsync(rec MetadataRecord, files []FileRecord) errFuture {
	return a.submit(func() error { return a.Store.StoreMetadata(rec, files) })
}

// StorePeerAsync queues a peer upsert.
func (a *AsyncStore) StorePeerAsync(rec PeerRecord) errFuture {
	return a.submit(func() error { return a.Store.StorePeer(rec) })
}

// StoreTrackerAsync queues a tracker upsert.
func (a *AsyncStore) StoreTrackerAsync(rec TrackerRecord) errFuture {
	return a.submit(func() error { return a.Store.StoreTracker(rec) })
}

// IncrementPeerFailureCountAsync queues a peer failure-count increment.
func (a *AsyncStore) IncrementPeerFailureCountAsync(infohash, address string, port int) errFuture {
	return a.submit(func() error { return a.Store.IncrementPeerFailureCount(infohash, address, port) })
}
