package ruletable

import (
	"context"
	"sync"
)

// Persister is the durable side of the table. Calls arrive in publish order
// from a single goroutine.
type Persister interface {
	PersistUpsert(ctx context.Context, rule Rule) error
	PersistDelete(ctx context.Context, id string) error
	PersistToggle(ctx context.Context, id string, enabled bool) error
}

// Pending reports the persistence result of one accepted mutation. The
// in-memory change is already live when a Pending is handed out.
type Pending struct {
	done chan struct{}
	err  error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func completed(err error) *Pending {
	p := newPending()
	p.finish(err)
	return p
}

func (p *Pending) finish(err error) {
	p.err = err
	close(p.done)
}

// Done is closed once the persistence call has returned.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the persistence call returns or ctx ends, whichever
// comes first.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type opKind int

const (
	opUpsert opKind = iota
	opDelete
	opToggle
	opReconcile
)

func (k opKind) String() string {
	switch k {
	case opUpsert:
		return "upsert"
	case opDelete:
		return "delete"
	case opToggle:
		return "toggle"
	case opReconcile:
		return "reconcile"
	default:
		return "unknown"
	}
}

type op struct {
	kind    opKind
	id      string
	rule    Rule
	enabled bool
	pending *Pending
}

// opQueue is unbounded so that publishing never waits on the store.
type opQueue struct {
	mu   sync.Mutex
	ops  []op
	wake chan struct{}
}

func newOpQueue() *opQueue {
	return &opQueue{wake: make(chan struct{}, 1)}
}

func (q *opQueue) push(o op) {
	q.mu.Lock()
	q.ops = append(q.ops, o)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *opQueue) take() []op {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops := q.ops
	q.ops = nil
	return ops
}

func (q *opQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}
