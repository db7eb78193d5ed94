// Package kv provides the storage abstraction backing the auth subsystem.
//
// Records are kept in named maps of string keys to raw values, mirroring
// the flat key/value layout of browser storage. Two stores play different
// roles: a durable store survives restarts ("remember me" persistence)
// and an ephemeral store is dropped when the session ends.
package kv

import "context"

// Store provides access to named maps of keyed values.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key in the named map.
	// The boolean reports whether the key was present.
	Get(ctx context.Context, name, key string) ([]byte, bool, error)

	// Set stores value under key in the named map, replacing any
	// previous value.
	Set(ctx context.Context, name, key string, value []byte) error

	// Delete removes key from the named map. Deleting an absent key
	// is not an error.
	Delete(ctx context.Context, name, key string) error

	// All returns every value in the named map, keyed by map key.
	// An absent map yields an empty result.
	All(ctx context.Context, name string) (map[string][]byte, error)
}
