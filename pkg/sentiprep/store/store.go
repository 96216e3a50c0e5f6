package store

import (
	"context"
	"time"
)

// Backend persists cache entries behind the in-process LRU. Implementations
// must be safe for concurrent use.
type Backend interface {
	Close() error

	// Load returns the entry for key; found is false on a miss.
	Load(ctx context.Context, key string) (Entry, bool, error)
	// Save inserts or replaces the entry for key.
	Save(ctx context.Context, e Entry) error
	// Delete removes key; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Entry is a persisted cache entry
type Entry struct {
	Key       string
	Op        string
	Value     []byte
	CreatedAt time.Time
}
