package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aussiebroadwan/cqusso/internal/store"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix      = "cqusso:snapshot:"
	connectTimeout = 5 * time.Second
	scanBatch      = 100
)

// Hash fields of a snapshot record.
const (
	fieldSessionID = "session_id"
	fieldSealed    = "sealed"
	fieldUpdatedAt = "updated_at"
	fieldExpiresAt = "expires_at"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

// Store keeps each record in its own hash and leaves expiry to redis.
type Store struct {
	client *redis.Client
}

var _ store.SnapshotStore = (*Store)(nil)

// NewStore connects to redis and checks the connection.
func NewStore(cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  connectTimeout,
		MinIdleConns: 1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Store{client: client}, nil
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// ApplyMigrations is a no-op; redis has no schema.
func (s *Store) ApplyMigrations() error { return nil }

func (s *Store) Save(ctx context.Context, rec store.Record) error {
	if rec.Key == "" {
		return store.ErrEmptyKey
	}

	var ttl time.Duration
	if !rec.ExpiresAt.IsZero() {
		ttl = time.Until(rec.ExpiresAt)
		if ttl <= 0 {
			return s.Delete(ctx, rec.Key)
		}
	}

	key := keyPrefix + rec.Key
	fields := map[string]any{
		fieldSessionID: rec.SessionID,
		fieldSealed:    rec.Sealed,
		fieldUpdatedAt: rec.UpdatedAt.UnixMilli(),
		fieldExpiresAt: expiresMillis(rec.ExpiresAt),
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		if ttl > 0 {
			pipe.PExpire(ctx, key, ttl)
		}
		return nil
	})
	return err
}

func (s *Store) Load(ctx context.Context, key string) (store.Record, error) {
	m, err := s.client.HGetAll(ctx, keyPrefix+key).Result()
	if err != nil {
		return store.Record{}, err
	}
	if len(m) == 0 {
		return store.Record{}, store.ErrNotFound
	}
	return parseRecord(key, m)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, keyPrefix+key).Err()
}

func (s *Store) List(ctx context.Context) ([]store.Record, error) {
	var (
		out    []store.Record
		cursor uint64
	)

	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", scanBatch).Result()
		if err != nil {
			return nil, err
		}

		for _, full := range keys {
			key := full[len(keyPrefix):]
			rec, err := s.Load(ctx, key)
			if errors.Is(err, store.ErrNotFound) {
				// Expired between SCAN and HGETALL
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func parseRecord(key string, m map[string]string) (store.Record, error) {
	updated, err := strconv.ParseInt(m[fieldUpdatedAt], 10, 64)
	if err != nil {
		return store.Record{}, fmt.Errorf("redis: record %s: bad %s: %w", key, fieldUpdatedAt, err)
	}
	expires, err := strconv.ParseInt(m[fieldExpiresAt], 10, 64)
	if err != nil {
		return store.Record{}, fmt.Errorf("redis: record %s: bad %s: %w", key, fieldExpiresAt, err)
	}

	rec := store.Record{
		Key:       key,
		SessionID: m[fieldSessionID],
		Sealed:    []byte(m[fieldSealed]),
		UpdatedAt: time.UnixMilli(updated).UTC(),
	}
	if expires > 0 {
		rec.ExpiresAt = time.UnixMilli(expires).UTC()
	}
	return rec, nil
}

func expiresMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
