package storage

import (
	"context"
	"sync"
)

// QueuedOption configures a Queued engine.
type QueuedOption func(*Queued)

// WithCoalescing toggles merging of pending writes to the same key. It is on
// by default.
func WithCoalescing(enabled bool) QueuedOption {
	return func(q *Queued) {
		q.coalesce = enabled
	}
}

type opKind int

const (
	opGet opKind = iota
	opSet
	opRemove
	opClear
	opLen
	opKey
)

type op struct {
	ctx   context.Context
	kind  opKind
	key   string
	raw   []byte
	index int

	acks  []func(struct{}, error)
	item  func(Item, error)
	count func(int, error)
}

// Queued is an asynchronous Engine over a synchronous Backend. A single worker
// goroutine executes operations in issuance order. While a Set is still
// waiting in the queue, a later Set to the same key replaces its payload
// unless a read, remove or clear touching that key was queued in between.
type Queued struct {
	backend  Backend
	coalesce bool

	mu      sync.Mutex
	queue   []*op
	pending map[string]*op
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
}

var _ Engine = (*Queued)(nil)

// NewQueued starts the worker for backend.
func NewQueued(backend Backend, opts ...QueuedOption) *Queued {
	q := &Queued{
		backend:  backend,
		coalesce: true,
		pending:  map[string]*op{},
		wake:     make(chan struct{}, 1),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	go q.run()
	return q
}

func (q *Queued) Get(ctx context.Context, key string) *Future[Item] {
	f, resolve := NewFuture[Item]()
	if !q.enqueue(&op{ctx: ctx, kind: opGet, key: key, item: resolve}) {
		resolve(Item{Key: key}, ErrClosed)
	}
	return f
}

func (q *Queued) Set(ctx context.Context, key string, raw []byte) *Ack {
	f, resolve := NewFuture[struct{}]()
	if !q.enqueue(&op{ctx: ctx, kind: opSet, key: key, raw: cloneBytes(raw), acks: []func(struct{}, error){resolve}}) {
		resolve(struct{}{}, ErrClosed)
	}
	return f
}

func (q *Queued) Remove(ctx context.Context, key string) *Ack {
	f, resolve := NewFuture[struct{}]()
	if !q.enqueue(&op{ctx: ctx, kind: opRemove, key: key, acks: []func(struct{}, error){resolve}}) {
		resolve(struct{}{}, ErrClosed)
	}
	return f
}

func (q *Queued) Clear(ctx context.Context) *Ack {
	f, resolve := NewFuture[struct{}]()
	if !q.enqueue(&op{ctx: ctx, kind: opClear, acks: []func(struct{}, error){resolve}}) {
		resolve(struct{}{}, ErrClosed)
	}
	return f
}

func (q *Queued) Len(ctx context.Context) *Future[int] {
	f, resolve := NewFuture[int]()
	if !q.enqueue(&op{ctx: ctx, kind: opLen, count: resolve}) {
		resolve(0, ErrClosed)
	}
	return f
}

func (q *Queued) Key(ctx context.Context, index int) *Future[Item] {
	f, resolve := NewFuture[Item]()
	if !q.enqueue(&op{ctx: ctx, kind: opKey, index: index, item: resolve}) {
		resolve(Item{}, ErrClosed)
	}
	return f
}

// Close stops accepting operations, waits for the queue to drain and stops the
// worker. It returns early with ctx.Err() if ctx is done first; the worker
// still drains in the background.
func (q *Queued) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.signal()
	}
	q.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-q.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queued) enqueue(next *op) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	switch next.kind {
	case opSet:
		if existing := q.pending[next.key]; q.coalesce && existing != nil {
			existing.ctx = next.ctx
			existing.raw = next.raw
			existing.acks = append(existing.acks, next.acks...)
			return true
		}
		q.pending[next.key] = next
	case opGet, opRemove:
		delete(q.pending, next.key)
	default:
		q.pending = map[string]*op{}
	}
	q.queue = append(q.queue, next)
	q.signal()
	return true
}

func (q *Queued) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queued) next() (*op, bool) {
	for {
		q.mu.Lock()
		if len(q.queue) > 0 {
			head := q.queue[0]
			q.queue[0] = nil
			q.queue = q.queue[1:]
			if head.kind == opSet && q.pending[head.key] == head {
				delete(q.pending, head.key)
			}
			q.mu.Unlock()
			return head, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()
		<-q.wake
	}
}

func (q *Queued) run() {
	defer close(q.stopped)
	for {
		current, ok := q.next()
		if !ok {
			return
		}
		q.execute(current)
	}
}

func (q *Queued) execute(o *op) {
	err := ctxErr(o.ctx)
	switch o.kind {
	case opGet:
		if err != nil {
			o.item(Item{Key: o.key}, err)
			return
		}
		raw, found, err := q.backend.Get(o.key)
		o.item(Item{Key: o.key, Raw: raw, Found: found}, err)
	case opKey:
		if err != nil {
			o.item(Item{}, err)
			return
		}
		key, found, err := q.backend.Key(o.index)
		o.item(Item{Key: key, Found: found}, err)
	case opLen:
		if err != nil {
			o.count(0, err)
			return
		}
		o.count(q.backend.Len())
	default:
		if err == nil {
			switch o.kind {
			case opSet:
				err = q.backend.Set(o.key, o.raw)
			case opRemove:
				err = q.backend.Remove(o.key)
			case opClear:
				err = q.backend.Clear()
			}
		}
		for _, ack := range o.acks {
			ack(struct{}{}, err)
		}
	}
}
