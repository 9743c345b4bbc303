package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/cqusso/internal/store"
	"github.com/aussiebroadwan/cqusso/internal/store/drivers/redis"
	"github.com/aussiebroadwan/cqusso/internal/store/drivers/sqlite"
	"github.com/aussiebroadwan/cqusso/pkg/cqusdk"
	"github.com/aussiebroadwan/cqusso/pkg/cryptox"
	"github.com/aussiebroadwan/cqusso/pkg/httpx"
	"github.com/aussiebroadwan/cqusso/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Report summarises one run.
type Report struct {
	SessionID string
	Restored  bool
	Granted   []cqusdk.Service // grants obtained during this run
	Reused    []cqusdk.Service // grants carried over from a snapshot
}

// Application logs in to the campus SSO, grants the configured services and
// keeps an encrypted snapshot of the session between runs.
type Application struct {
	cfg    Config
	logger *slog.Logger

	session *cqusdk.Session
	db      store.SnapshotStore // nil when persistence is off
	vault   *store.Vault
}

// purger is implemented by drivers that need expired records removed by hand.
type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// New validates cfg and creates an Application with all its dependencies.
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := slogx.New(slogx.Config{
		Service: "cqusso",
		Version: BuildVersion,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
	})

	db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	return build(cfg, logger, db)
}

// build wires the session and vault around an already opened store.
func build(cfg Config, logger *slog.Logger, db store.SnapshotStore, extra ...cqusdk.Option) (*Application, error) {
	endpoints, err := cfg.Endpoints()
	if err != nil {
		return nil, err
	}

	opts := []cqusdk.Option{
		cqusdk.WithEndpoints(endpoints),
		cqusdk.WithTimeout(cfg.HTTPTimeout),
		cqusdk.WithLogger(logger),
	}
	if rl := httpx.PerSecond(cfg.RateLimitRPS, cfg.RateLimitBurst); rl.Enabled() {
		opts = append(opts, cqusdk.WithRateLimit(rl))
	}
	if cfg.BreakerEnabled {
		opts = append(opts, cqusdk.WithBreaker(httpx.DefaultBreaker))
	}
	opts = append(opts, extra...)

	session, err := cqusdk.NewSession(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	app := &Application{
		cfg:     cfg,
		logger:  logger,
		session: session,
		db:      db,
	}

	if db != nil {
		sealer, err := cryptox.NewSealer([]byte(cfg.MasterKey))
		if err != nil {
			return nil, err
		}
		app.vault = store.NewVault(db, sealer)
	}

	return app, nil
}

func openStore(cfg Config) (store.SnapshotStore, error) {
	var (
		db  store.SnapshotStore
		err error
	)

	switch cfg.StoreDriver {
	case StoreNone:
		return nil, nil
	case StoreSQLite:
		db, err = sqlite.NewStore(cfg.SQLitePath)
	case StoreRedis:
		db, err = redis.NewStore(redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.StoreDriver, err)
	}

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return db, nil
}

// Session exposes the signed-in session once Run has returned.
func (app *Application) Session() *cqusdk.Session { return app.session }

// Run restores the previous session if one is stored, logs in (silently when
// the restored cookies are still good), grants every configured service the
// session does not already hold and stores the new snapshot.
func (app *Application) Run(ctx context.Context) (Report, error) {
	services, err := app.cfg.ServiceList()
	if err != nil {
		return Report{}, err
	}

	report := Report{}
	if app.vault != nil {
		app.purgeExpired(ctx)
		report.Restored = app.restore(ctx)
	}

	result, err := app.session.Login(ctx, app.cfg.Username, app.cfg.Password, app.cfg.ForceRelogin)
	if err != nil {
		return report, fmt.Errorf("login failed: %w", err)
	}
	if result == cqusdk.LoginInvalidCredentials {
		if app.vault != nil {
			if err := app.vault.Forget(ctx, app.cfg.Username); err != nil {
				app.logger.Warn("failed to delete stale snapshot", "error", err)
			}
		}
		return report, result.Err()
	}

	now := time.Now()
	for _, svc := range services {
		if app.usable(svc, now) {
			report.Reused = append(report.Reused, svc)
			continue
		}

		if err := app.grant(ctx, svc); err != nil {
			return report, fmt.Errorf("failed to grant %s: %w", svc, err)
		}
		report.Granted = append(report.Granted, svc)
	}

	report.SessionID = app.session.ID().String()

	if app.vault != nil {
		if err := app.vault.Save(ctx, app.cfg.Username, app.session.Snapshot(), app.cfg.SnapshotTTL); err != nil {
			return report, fmt.Errorf("failed to save snapshot: %w", err)
		}
	}

	app.logger.Info("session ready",
		"session_id", report.SessionID,
		"restored", report.Restored,
		"granted", report.Granted,
		"reused", report.Reused,
	)
	return report, nil
}

// restore loads the stored snapshot into the session. Any failure just means
// starting from a fresh session.
func (app *Application) restore(ctx context.Context) bool {
	snap, err := app.vault.Load(ctx, app.cfg.Username)
	if errors.Is(err, store.ErrNotFound) {
		app.logger.Debug("no stored session")
		return false
	}
	if err != nil {
		app.logger.Warn("failed to load stored session", "error", err)
		return false
	}

	if err := app.session.Restore(snap); err != nil {
		app.logger.Warn("failed to restore stored session", "error", err)
		return false
	}

	app.logger.Info("restored stored session", "session_id", snap.SessionID, "taken_at", snap.TakenAt)
	return true
}

func (app *Application) purgeExpired(ctx context.Context) {
	p, ok := app.db.(purger)
	if !ok {
		return
	}
	n, err := p.PurgeExpired(ctx)
	if err != nil {
		app.logger.Warn("failed to purge expired snapshots", "error", err)
		return
	}
	if n > 0 {
		app.logger.Debug("purged expired snapshots", "count", n)
	}
}

// usable reports whether svc already holds a grant worth keeping.
func (app *Application) usable(svc cqusdk.Service, now time.Time) bool {
	info, ok := app.session.Access(svc)
	if !ok {
		return false
	}
	if mycqu, ok := info.(cqusdk.MyCQUAccess); ok && mycqu.Expired(now) {
		return false
	}
	return true
}

func (app *Application) grant(ctx context.Context, svc cqusdk.Service) error {
	switch svc {
	case cqusdk.ServiceMyCQU:
		return app.session.AccessMyCQU(ctx)
	case cqusdk.ServiceCard:
		return app.session.AccessCard(ctx)
	default:
		return fmt.Errorf("unsupported service %s", svc)
	}
}

// Close releases the snapshot store.
func (app *Application) Close() error {
	if app.db == nil {
		return nil
	}
	return app.db.Close()
}
