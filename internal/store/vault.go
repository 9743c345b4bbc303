package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aussiebroadwan/cqusso/pkg/cqusdk"
	"github.com/aussiebroadwan/cqusso/pkg/cryptox"
)

// Vault seals session snapshots before handing them to a SnapshotStore and
// opens them on the way back.
type Vault struct {
	store  SnapshotStore
	sealer *cryptox.Sealer
	now    func() time.Time
}

func NewVault(store SnapshotStore, sealer *cryptox.Sealer) *Vault {
	return &Vault{store: store, sealer: sealer, now: time.Now}
}

// AccountKey maps a username to the key its snapshot is stored under.
func AccountKey(username string) string {
	return cryptox.FingerprintToken("cqusso:" + username)
}

// Save seals snap and stores it for username. A ttl of zero keeps the record
// until it is replaced or deleted.
func (v *Vault) Save(ctx context.Context, username string, snap cqusdk.Snapshot, ttl time.Duration) error {
	if username == "" {
		return ErrEmptyKey
	}

	plaintext, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	key := AccountKey(username)
	sealed, err := v.sealer.Seal(plaintext, []byte(key))
	if err != nil {
		return fmt.Errorf("failed to seal snapshot: %w", err)
	}

	now := v.now().UTC()
	rec := Record{
		Key:       key,
		SessionID: snap.SessionID,
		Sealed:    sealed,
		UpdatedAt: now,
	}
	if ttl > 0 {
		rec.ExpiresAt = now.Add(ttl)
	}

	return v.store.Save(ctx, rec)
}

// Load returns the snapshot stored for username, or ErrNotFound.
func (v *Vault) Load(ctx context.Context, username string) (cqusdk.Snapshot, error) {
	if username == "" {
		return cqusdk.Snapshot{}, ErrEmptyKey
	}

	key := AccountKey(username)
	rec, err := v.store.Load(ctx, key)
	if err != nil {
		return cqusdk.Snapshot{}, err
	}
	if rec.Expired(v.now()) {
		return cqusdk.Snapshot{}, ErrNotFound
	}

	plaintext, err := v.sealer.Open(rec.Sealed, []byte(key))
	if err != nil {
		return cqusdk.Snapshot{}, fmt.Errorf("failed to open snapshot: %w", err)
	}

	var snap cqusdk.Snapshot
	if err := json.Unmarshal(plaintext, &snap); err != nil {
		return cqusdk.Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}

// Forget deletes the snapshot stored for username.
func (v *Vault) Forget(ctx context.Context, username string) error {
	if username == "" {
		return ErrEmptyKey
	}
	return v.store.Delete(ctx, AccountKey(username))
}
