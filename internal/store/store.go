package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrEmptyKey = errors.New("store: empty key")
)

// Record is one sealed session snapshot as held by a driver. Drivers never
// see the plaintext; Sealed is opaque to them.
type Record struct {
	// Key identifies the account the snapshot belongs to. It is a
	// fingerprint of the username, never the username itself.
	Key string

	// SessionID is copied out of the snapshot so records can be listed
	// without unsealing them.
	SessionID string

	Sealed    []byte
	UpdatedAt time.Time

	// ExpiresAt is the zero time when the record never expires.
	ExpiresAt time.Time
}

// Expired reports whether the record has expired at now.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// SnapshotStore is the data access interface for session snapshots. Concrete
// drivers (sqlite, redis) implement it.
//
//go:generate mockgen -source=store.go -destination=mock/mock_store.go -package=mock
type SnapshotStore interface {
	// Save inserts or replaces the record stored under rec.Key.
	Save(ctx context.Context, rec Record) error

	// Load returns the record under key, or ErrNotFound. Expired records
	// are reported as ErrNotFound.
	Load(ctx context.Context, key string) (Record, error)

	// Delete removes the record under key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// List returns every unexpired record ordered by key.
	List(ctx context.Context) ([]Record, error)

	ApplyMigrations() error

	// Ping verifies the backing connection is still alive.
	Ping(ctx context.Context) error

	Close() error
}
