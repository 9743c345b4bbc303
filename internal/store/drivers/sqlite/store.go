package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aussiebroadwan/cqusso/internal/store"
	_ "modernc.org/sqlite"
)

type Store struct {
	db  *sql.DB
	dsn string
	now func() time.Time
}

var _ store.SnapshotStore = (*Store)(nil)

func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// One writer at a time; sqlite serialises writes anyway and this avoids
	// SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), `PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, dsn: dsn, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Save(ctx context.Context, rec store.Record) error {
	if rec.Key == "" {
		return store.ErrEmptyKey
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (key, session_id, sealed, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			session_id = excluded.session_id,
			sealed     = excluded.sealed,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`,
		rec.Key, rec.SessionID, rec.Sealed, toMillis(rec.UpdatedAt), mapOptionalTime(rec.ExpiresAt),
	)
	return err
}

func (s *Store) Load(ctx context.Context, key string) (store.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, session_id, sealed, updated_at, expires_at
		FROM snapshots
		WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, toMillis(s.now()),
	)

	rec, err := scanRecord(row)
	if err != nil {
		return store.Record{}, mapNotFound(err)
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE key = ?`, key)
	return err
}

func (s *Store) List(ctx context.Context) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, session_id, sealed, updated_at, expires_at
		FROM snapshots
		WHERE expires_at IS NULL OR expires_at > ?
		ORDER BY key`,
		toMillis(s.now()),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PurgeExpired deletes expired records and returns how many were removed.
// Redis expires keys itself; sqlite needs this run now and then.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		toMillis(s.now()),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (store.Record, error) {
	var (
		rec       store.Record
		updatedAt int64
		expiresAt sql.NullInt64
	)
	if err := row.Scan(&rec.Key, &rec.SessionID, &rec.Sealed, &updatedAt, &expiresAt); err != nil {
		return store.Record{}, err
	}

	rec.UpdatedAt = fromMillis(updatedAt)
	if expiresAt.Valid {
		rec.ExpiresAt = fromMillis(expiresAt.Int64)
	}
	return rec, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func mapOptionalTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: toMillis(t), Valid: true}
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
