// Package storage defines the key/value engine contract used by statesync and
// the adapters that put synchronous and asynchronous backends behind it.
//
// Every Engine operation returns a *Future, even when the backing store answers
// synchronously, so callers never branch on backend type:
//
//	Backend (sync) -> Wrap(backend)     -> Engine (futures resolved on return)
//	Backend (sync) -> NewQueued(backend) -> Engine (futures resolved by a worker)
//
// Enumeration (Len/Key) exists for tooling such as cmd/statectl; the sync path
// only uses Get and Set.
package storage
