package storage

import (
	"context"
	"errors"
)

// ErrClosed is returned by engines that no longer accept operations.
var ErrClosed = errors.New("storage: engine closed")

// Item is the result of a lookup. Found is false when the key holds no record.
type Item struct {
	Key   string
	Raw   []byte
	Found bool
}

// Engine is the uniform asynchronous key/value contract.
type Engine interface {
	Get(ctx context.Context, key string) *Future[Item]
	Set(ctx context.Context, key string, raw []byte) *Ack
	Remove(ctx context.Context, key string) *Ack
	Clear(ctx context.Context) *Ack
	Len(ctx context.Context) *Future[int]
	// Key returns the key stored at index in the backend's enumeration order.
	Key(ctx context.Context, index int) *Future[Item]
}

// Backend is a synchronous key/value store. Implementations decide their own
// enumeration order but must keep it stable between writes.
type Backend interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, raw []byte) error
	Remove(key string) error
	Clear() error
	Len() (int, error)
	Key(index int) (string, bool, error)
}

// Wrap exposes a synchronous backend through the Engine contract. Each call
// runs on the caller's goroutine and returns an already resolved future.
func Wrap(backend Backend) Engine {
	return syncEngine{backend: backend}
}

type syncEngine struct {
	backend Backend
}

func (e syncEngine) Get(ctx context.Context, key string) *Future[Item] {
	if err := ctxErr(ctx); err != nil {
		return Resolved(Item{Key: key}, err)
	}
	raw, ok, err := e.backend.Get(key)
	return Resolved(Item{Key: key, Raw: raw, Found: ok}, err)
}

func (e syncEngine) Set(ctx context.Context, key string, raw []byte) *Ack {
	if err := ctxErr(ctx); err != nil {
		return Resolved(struct{}{}, err)
	}
	return Resolved(struct{}{}, e.backend.Set(key, raw))
}

func (e syncEngine) Remove(ctx context.Context, key string) *Ack {
	if err := ctxErr(ctx); err != nil {
		return Resolved(struct{}{}, err)
	}
	return Resolved(struct{}{}, e.backend.Remove(key))
}

func (e syncEngine) Clear(ctx context.Context) *Ack {
	if err := ctxErr(ctx); err != nil {
		return Resolved(struct{}{}, err)
	}
	return Resolved(struct{}{}, e.backend.Clear())
}

func (e syncEngine) Len(ctx context.Context) *Future[int] {
	if err := ctxErr(ctx); err != nil {
		return Resolved(0, err)
	}
	return Resolved(e.backend.Len())
}

func (e syncEngine) Key(ctx context.Context, index int) *Future[Item] {
	if err := ctxErr(ctx); err != nil {
		return Resolved(Item{}, err)
	}
	key, ok, err := e.backend.Key(index)
	return Resolved(Item{Key: key, Found: ok}, err)
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
