package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadcrawl/kadcrawl/internal/identifier"
)

func TestPublishOrderFromSinglePublisher(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	b.Subscribe(InfohashFound, func(ev Event) {
		mu.Lock()
		got = append(got, int(ev.Infohash.InfoHash[0]))
		if len(got) == 3 {
			close(done)
		}
		mu.Unlock()
	})

	for i := 0; i < 3; i++ {
		var id identifier.ID
		id[0] = byte(i)
		b.Publish(Event{Kind: InfohashFound, Infohash: InfohashFoundPayload{InfoHash: id}})
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	defer b.Close()

	var calls int32
	var mu sync.Mutex
	token := b.Subscribe(NodeFound, func(ev Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	b.Unsubscribe(token)

	b.Publish(Event{Kind: NodeFound})
	// Give the dispatcher a chance to process; since it's unsubscribed, no
	// amount of waiting should increase calls.
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.EqualValues(t, 0, calls)
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	b := New()
	defer b.Close()

	done := make(chan struct{})
	b.Subscribe(FatalError, func(ev Event) {
		panic("boom")
	})
	b.Subscribe(FatalError, func(ev Event) {
		close(done)
	})

	b.Publish(Event{Kind: FatalError})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second handler never ran after first panicked")
	}

	require.Eventually(t, func() bool { return b.PanicCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSubscribeFromWithinHandler(t *testing.T) {
	b := New()
	defer b.Close()

	done := make(chan struct{})
	b.Subscribe(PeerFound, func(ev Event) {
		b.Subscribe(PeerFound, func(ev Event) {
			close(done)
		})
		b.Publish(Event{Kind: PeerFound})
	})

	b.Publish(Event{Kind: PeerFound})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("nested subscription never delivered")
	}
}
