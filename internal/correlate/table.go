// Package correlate implements the correlation table that matches Engine
// responses to in-flight client transactions.
package correlate

import (
	"sync"
	"sync/atomic"
)

// Rendezvous is the per-transaction wait/complete object shared between a
// worker (waiter) and the demultiplexer (completer). It transitions
// done=false -> done=true exactly once.
type Rendezvous struct {
	done     chan struct{}
	once     sync.Once
	mu       sync.Mutex
	response []byte
}

// NewRendezvous returns an incomplete rendezvous ready for registration.
func NewRendezvous() *Rendezvous {
	return &Rendezvous{done: make(chan struct{})}
}

// Complete marks the rendezvous done and stores the response payload. It
// is safe to call more than once; only the first call has any effect,
// which is what guarantees a rendezvous is never completed twice.
func (r *Rendezvous) Complete(payload []byte) {
	r.once.Do(func() {
		r.mu.Lock()
		r.response = payload
		r.mu.Unlock()
		close(r.done)
	})
}

// Done returns a channel closed exactly once, when Complete is first called.
func (r *Rendezvous) Done() <-chan struct{} {
	return r.done
}

// Response returns the completed payload. Only meaningful after Done() has
// fired.
func (r *Rendezvous) Response() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.response
}

// Table maps a correlation id to its rendezvous. Exactly one caller
// removes any given entry: either the demultiplexer on arrival, or the
// worker on timeout/send-failure.
type Table struct {
	mu      sync.Mutex
	entries map[uint64]*Rendezvous
	nextID  atomic.Uint64
}

// New returns an empty correlation table. Correlation ids start at 1.
func New() *Table {
	return &Table{entries: make(map[uint64]*Rendezvous)}
}

// Size reports the number of currently registered entries. Callers use it
// to enforce backpressure before allocating a new id.
func (t *Table) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// AllocateAndInsert allocates a fresh monotonic correlation id and
// registers rv under it.
func (t *Table) AllocateAndInsert(rv *Rendezvous) uint64 {
	id := t.nextID.Add(1)
	t.mu.Lock()
	t.entries[id] = rv
	t.mu.Unlock()
	return id
}

// Take removes and returns the entry for id, if present. It is the only
// primitive that mutates the map on the read side, and is what makes the
// worker-timeout / demultiplexer-arrival race safe: whichever caller's
// Take returns non-nil owns completing that rendezvous; the other
// observes a miss and does nothing.
func (t *Table) Take(id uint64) (*Rendezvous, bool) {
	t.mu.Lock()
	rv, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	return rv, ok
}
