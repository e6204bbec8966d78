package dht

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kadcrawl/kadcrawl/internal/identifier"
)

func TestTransactionManagerCompleteDelivers(t *testing.T) {
	m := NewTransactionManager()
	var got *Msg
	var wg sync.WaitGroup
	wg.Add(1)
	tx := m.Begin(identifier.Endpoint{Address: "127.0.0.1", Port: 1}, identifier.ID{}, MethodPing, &Args{}, func(resp *Msg, err error) {
		got = resp
		wg.Done()
	})

	resp := &Msg{T: transactionIDBytes(tx.ID), Y: TypeResponse, R: &Return{}}
	_, ok := m.Complete(tx.ID, resp)
	assert.True(t, ok)
	wg.Wait()
	assert.Same(t, resp, got)
}

func TestTransactionManagerCompleteUnknownID(t *testing.T) {
	m := NewTransactionManager()
	_, ok := m.Complete(999, &Msg{})
	assert.False(t, ok)
}

func TestTransactionManagerAllocatesDistinctIDs(t *testing.T) {
	m := NewTransactionManager()
	seen := map[uint16]bool{}
	for i := 0; i < 10; i++ {
		tx := m.Begin(identifier.Endpoint{}, identifier.ID{}, MethodPing, &Args{}, func(*Msg, error) {})
		assert.False(t, seen[tx.ID])
		seen[tx.ID] = true
	}
}

func TestTransactionManagerExpireTimeouts(t *testing.T) {
	m := NewTransactionManager()
	tx := m.Begin(identifier.Endpoint{}, identifier.ID{}, MethodPing, &Args{}, func(*Msg, error) {})
	tx.Deadline = time.Now().Add(-time.Second)

	expired := m.ExpireTimeouts(time.Now())
	assert.Len(t, expired, 1)
	assert.Equal(t, 0, m.Outstanding())
}

func TestTransactionManagerCancelAll(t *testing.T) {
	m := NewTransactionManager()
	var gotErr error
	var wg sync.WaitGroup
	wg.Add(1)
	m.Begin(identifier.Endpoint{}, identifier.ID{}, MethodPing, &Args{}, func(resp *Msg, err error) {
		gotErr = err
		wg.Done()
	})
	m.CancelAll()
	wg.Wait()
	assert.ErrorIs(t, gotErr, ErrCancelled)
}

func TestTransactionIDBytesRoundtrip(t *testing.T) {
	id, err := transactionIDFrom(transactionIDBytes(0xBEEF))
	assert.NoError(t, err)
	assert.EqualValues(t, 0xBEEF, id)
}
