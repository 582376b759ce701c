package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	statesync "github.com/goliatone/go-statesync"
	"github.com/goliatone/go-statesync/internal/dotpath"
	"github.com/goliatone/go-statesync/layering"
)

var (
	// ErrAlreadySeeded is returned by a second Seed.
	ErrAlreadySeeded = errors.New("state: already seeded")
	// ErrClosed is returned once the store is closed.
	ErrClosed = errors.New("state: store closed")
)

// Reducer computes the next value of a slice from its current value. The
// current value is a private copy and may be modified.
type Reducer func(current any) (any, error)

type subscriber struct {
	id uint64
	fn func(statesync.Tree)
}

// Store is an in-memory live state container.
type Store struct {
	mu     sync.Mutex
	tree   map[string]any
	seeded bool
	closed bool
	nextID uint64
	subs   []subscriber

	// notifyMu serialises deliveries so subscribers observe updates in the
	// order they were applied.
	notifyMu sync.Mutex

	ready chan struct{}
	done  chan struct{}
}

var _ statesync.Container = (*Store)(nil)

// New returns a store whose tree starts as a copy of defaults.
func New(defaults statesync.Tree) *Store {
	tree := layering.Clone(defaults)
	if tree == nil {
		tree = map[string]any{}
	}
	return &Store{
		tree:  tree,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Snapshot returns a copy of the current tree.
func (s *Store) Snapshot() statesync.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return statesync.Tree(layering.Clone(s.tree))
}

// Select returns a copy of the value at path, a slice name or a dotted path
// into a slice.
func (s *Store) Select(path string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := dotpath.Get(s.tree, path)
	if !ok {
		return nil, false
	}
	return layering.CloneValue(value), true
}

// Seed replaces the tree and unblocks pending updates. It succeeds once.
func (s *Store) Seed(tree statesync.Tree) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.seeded {
		return ErrAlreadySeeded
	}
	next := layering.Clone(tree)
	if next == nil {
		next = map[string]any{}
	}
	s.tree = next
	s.seeded = true
	close(s.ready)
	return nil
}

// Seeded reports whether Seed has run.
func (s *Store) Seeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seeded
}

// Subscribe registers fn for every later change. fn runs on the updating
// goroutine and must not update the store itself.
func (s *Store) Subscribe(fn func(statesync.Tree)) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Update applies reducer to slice once the store is seeded. It blocks until
// then, ctx is done, or the store is closed. A reducer error leaves the tree
// unchanged.
func (s *Store) Update(ctx context.Context, slice string, reducer Reducer) error {
	if reducer == nil {
		return fmt.Errorf("state: update %q: nil reducer", slice)
	}
	if err := s.awaitSeed(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	current, ok := s.tree[slice]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("state: update %q: slice not registered", slice)
	}
	next, err := reducer(layering.CloneValue(current))
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("state: update %q: %w", slice, err)
	}
	s.apply(slice, next)
	return nil
}

// Register adds slice with its default value once the store is seeded. A
// slice that already exists is left untouched.
func (s *Store) Register(ctx context.Context, slice string, value any) error {
	if slice == "" {
		return fmt.Errorf("state: register: empty slice name")
	}
	if err := s.awaitSeed(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if _, ok := s.tree[slice]; ok {
		s.mu.Unlock()
		return nil
	}
	s.apply(slice, layering.CloneValue(value))
	return nil
}

// Close drops subscribers and fails pending and future updates.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.subs = nil
	close(s.done)
	return nil
}

// apply stores value and notifies subscribers. It is entered with mu held and
// releases it.
func (s *Store) apply(slice string, value any) {
	next := make(map[string]any, len(s.tree)+1)
	for key, current := range s.tree {
		next[key] = current
	}
	next[slice] = value
	s.tree = next
	subs := append([]subscriber(nil), s.subs...)

	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	if len(subs) == 0 {
		return
	}
	snapshot := statesync.Tree(layering.Clone(next))
	for _, sub := range subs {
		sub.fn(snapshot)
	}
}

func (s *Store) awaitSeed(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-s.ready:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
