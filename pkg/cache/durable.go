package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Durable.Get when no entry exists for the
// key.
var ErrNotFound = errors.New("durable: not found")

// Durable is an asynchronous key-value collaborator used for cache
// persistence. Implementations are treated as unreliable-but-best-effort:
// the store logs failures and degrades to in-memory-only.
type Durable interface {
	// Get returns the stored bytes for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores data under key. ttl, when supported, lets the
	// implementation expire the entry on its own.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Keys lists stored keys with the given prefix. An empty prefix
	// lists everything.
	Keys(ctx context.Context, prefix string) ([]string, error)

	io.Closer
}
