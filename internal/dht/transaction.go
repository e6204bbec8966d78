package dht

import (
	"sync"
	"time"

	"github.com/kadcrawl/kadcrawl/internal/identifier"
)

// DefaultQueryDeadline is the time a query waits for a response before
// retrying or failing, per spec §4.G.
const DefaultQueryDeadline = 5 * time.Second

// RetryBackoffs are the delays before each retransmission on timeout (at
// most two retries: 1s, then 2s) before the transaction fails.
var RetryBackoffs = []time.Duration{1 * time.Second, 2 * time.Second}

// Continuation receives a transaction's outcome: either the response
// message, or an error (Timeout, a KRPC error, or ErrCancelled).
type Continuation func(resp *Msg, err error)

// Transaction tracks one outstanding outbound query.
type Transaction struct {
	ID       uint16
	Target   identifier.Endpoint
	NodeID   identifier.ID // zero if unknown (first contact)
	Method   string
	Args     *Args
	Deadline time.Time
	Retries  int
	// awaitingRetry is true between a timeout and the backoff-delayed
	// retransmission: the transaction is parked, not yet resent.
	awaitingRetry bool
	Continue      Continuation
}

// TransactionManager allocates transaction ids and dispatches completions
// and timeouts to their continuations, grounded on the map-protected-by-
// mutex design in spec §4.G.
type TransactionManager struct {
	mu      sync.Mutex
	next    uint16
	pending map[uint16]*Transaction
}

// NewTransactionManager returns an empty manager.
func NewTransactionManager() *TransactionManager {
	return &TransactionManager{pending: make(map[uint16]*Transaction)}
}

// Begin allocates a fresh transaction id (skipping ids currently
// outstanding) and registers cont to be invoked on completion, timeout, or
// cancellation.
func (m *TransactionManager) Begin(target identifier.Endpoint, nodeID identifier.ID, method string, args *Args, cont Continuation) *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	for {
		if _, taken := m.pending[id]; !taken {
			break
		}
		id++
	}
	m.next = id + 1
	tx := &Transaction{
		ID:       id,
		Target:   target,
		NodeID:   nodeID,
		Method:   method,
		Args:     args,
		Deadline: time.Now().Add(DefaultQueryDeadline),
		Continue: cont,
	}
	m.pending[id] = tx
	return tx
}

// Complete looks up the transaction for a response's id and delivers resp
// to its continuation, removing it from the pending set. Returns false if
// no matching transaction is outstanding (late, duplicate, or spoofed
// reply).
func (m *TransactionManager) Complete(id uint16, resp *Msg) (*Transaction, bool) {
	m.mu.Lock()
	tx, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	tx.Continue(resp, nil)
	return tx, true
}

// Fail delivers err to the transaction's continuation and removes it.
func (m *TransactionManager) Fail(id uint16, err error) {
	m.mu.Lock()
	tx, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()
	if ok {
		tx.Continue(nil, err)
	}
}

// AwaitingRetry reports whether tx is parked waiting out a backoff delay
// before its next retransmission.
func (tx *Transaction) AwaitingRetry() bool { return tx.awaitingRetry }

// SetAwaitingRetry flips the parked-for-backoff flag.
func (tx *Transaction) SetAwaitingRetry(v bool) { tx.awaitingRetry = v }

// Reregister re-inserts tx under the same id with a fresh deadline, used
// when a timeout triggers a retransmission rather than a final failure.
func (m *TransactionManager) Reregister(tx *Transaction, deadline time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx.Deadline = deadline
	m.pending[tx.ID] = tx
}

// ExpireTimeouts scans for transactions whose deadline has passed and
// returns them for the caller to retry or fail; expired transactions are
// removed from the pending set (the caller re-adds via Reregister if it
// decides to retry).
func (m *TransactionManager) ExpireTimeouts(now time.Time) []*Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []*Transaction
	for id, tx := range m.pending {
		if now.After(tx.Deadline) {
			expired = append(expired, tx)
			delete(m.pending, id)
		}
	}
	return expired
}

// CancelAll fails every outstanding transaction with ErrCancelled, used on
// engine shutdown so pending futures resolve instead of leaking.
func (m *TransactionManager) CancelAll() {
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[uint16]*Transaction)
	m.mu.Unlock()
	for _, tx := range pending {
		tx.Continue(nil, ErrCancelled)
	}
}

// Outstanding reports how many transactions are currently pending.
func (m *TransactionManager) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
