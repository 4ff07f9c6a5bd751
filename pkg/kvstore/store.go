// Package kvstore defines the durable key-value contract the cart core
// persists through, together with its backends and decorators.
package kvstore

import (
	"context"
)

// Store is an asynchronous key→string store with no cross-key transactions.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting an absent key succeeds.
	Delete(ctx context.Context, key string) error

	// DeleteMany removes every listed key. Absent keys are ignored.
	DeleteMany(ctx context.Context, keys ...string) error
}

// Pinger is implemented by stores that can report backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks s when it supports it and reports healthy otherwise.
func Ping(ctx context.Context, s Store) error {
	if p, ok := s.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
