package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/cqusso/internal/store"
	"github.com/aussiebroadwan/cqusso/internal/store/drivers/redis"
	"github.com/aussiebroadwan/cqusso/pkg/cqusdk"
	"github.com/aussiebroadwan/cqusso/pkg/cryptox"
	"github.com/aussiebroadwan/cqusso/pkg/idx"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

/*
 * End-to-end checks of the redis snapshot driver against a real redis
 * container. Skipped in -short mode and when no Docker daemon is reachable.
 */

const redisImage = "redis:7-alpine"

// setupRedisContainer starts redis and returns its address.
func setupRedisContainer(t *testing.T) (string, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in -short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        redisImage,
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}

	mappedPort, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	cleanup := func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return host + ":" + mappedPort.Port(), cleanup
}

func TestRedisVaultRoundTrip(t *testing.T) {
	addr, cleanup := setupRedisContainer(t)
	defer cleanup()

	db, err := redis.NewStore(redis.Config{Addr: addr})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.ApplyMigrations())

	sealer, err := cryptox.NewSealer([]byte("e2e-master-key"))
	require.NoError(t, err)
	vault := store.NewVault(db, sealer)

	snap := cqusdk.Snapshot{
		SessionID: idx.New().String(),
		TakenAt:   time.Now().UTC(),
		IsLogin:   true,
		MyCQU:     &cqusdk.MyCQUAccess{AuthHeader: "e2e-token"},
		Cookies: map[string][]cqusdk.SnapshotCookie{
			cqusdk.SSORoot: {{Name: "TGC", Value: "e2e-tgc"}},
		},
	}

	require.NoError(t, vault.Save(t.Context(), "20210001", snap, time.Minute))

	loaded, err := vault.Load(t.Context(), "20210001")
	require.NoError(t, err)
	require.Equal(t, snap.SessionID, loaded.SessionID)
	require.Equal(t, "e2e-token", loaded.MyCQU.AuthHeader)
	require.Equal(t, snap.Cookies, loaded.Cookies)

	records, err := db.List(t.Context())
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, store.AccountKey("20210001"), records[0].Key)

	require.NoError(t, vault.Forget(t.Context(), "20210001"))
	_, err = vault.Load(t.Context(), "20210001")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRedisExpiry(t *testing.T) {
	addr, cleanup := setupRedisContainer(t)
	defer cleanup()

	db, err := redis.NewStore(redis.Config{Addr: addr})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Save(t.Context(), store.Record{
		Key:       "short-lived",
		SessionID: "s",
		Sealed:    []byte("x"),
		UpdatedAt: time.Now(),
		ExpiresAt: time.Now().Add(1500 * time.Millisecond),
	}))

	_, err = db.Load(t.Context(), "short-lived")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := db.Load(context.Background(), "short-lived")
		return err == store.ErrNotFound
	}, 10*time.Second, 250*time.Millisecond)
}
