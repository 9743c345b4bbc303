package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aussiebroadwan/cqusso/pkg/cqusdk"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "CQUSSO"

// Store drivers.
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreNone   = "none"
)

// Config holds the CQUSSO_* settings. LoadConfig fills it from the
// environment and an optional .env file.
type Config struct {
	Username     string `envconfig:"USERNAME"`
	Password     string `envconfig:"PASSWORD"`
	ForceRelogin bool   `envconfig:"FORCE_RELOGIN" default:"false"`

	// Services to grant after login, comma separated (mycqu, card).
	Services []string `envconfig:"SERVICES" default:"mycqu,card"`

	HTTPTimeout    time.Duration `envconfig:"HTTP_TIMEOUT" default:"10s"`
	RateLimitRPS   int           `envconfig:"RATE_LIMIT_RPS" default:"0"`
	RateLimitBurst int           `envconfig:"RATE_LIMIT_BURST" default:"5"`
	BreakerEnabled bool          `envconfig:"BREAKER_ENABLED" default:"false"`

	StoreDriver   string        `envconfig:"STORE_DRIVER" default:"sqlite"`
	SQLitePath    string        `envconfig:"SQLITE_PATH" default:"cqusso.db"`
	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	SnapshotTTL   time.Duration `envconfig:"SNAPSHOT_TTL" default:"12h"`
	MasterKey     string        `envconfig:"MASTER_KEY"`

	// Base URL overrides, for local mirrors of the campus sites.
	SSOBase   string `envconfig:"SSO_BASE"`
	MyCQUBase string `envconfig:"MYCQU_BASE"`
	CardBase  string `envconfig:"CARD_BASE"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	Env       string `envconfig:"ENV" default:"prod"`
}

// LoadConfig reads an optional .env file from the working directory and then
// the CQUSSO_* environment variables. Variables already set in the
// environment win over the file.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// Validate reports the first missing or invalid setting.
func (c Config) Validate() error {
	if c.Username == "" || c.Password == "" {
		return errors.New("config: CQUSSO_USERNAME and CQUSSO_PASSWORD are required")
	}

	if _, err := c.ServiceList(); err != nil {
		return fmt.Errorf("config: CQUSSO_SERVICES: %w", err)
	}

	if c.HTTPTimeout <= 0 {
		return errors.New("config: CQUSSO_HTTP_TIMEOUT must be positive")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return errors.New("config: rate limit settings must not be negative")
	}

	switch c.StoreDriver {
	case StoreNone:
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("config: CQUSSO_SQLITE_PATH is required for the sqlite store")
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return errors.New("config: CQUSSO_REDIS_ADDR is required for the redis store")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.StoreDriver)
	}

	if c.StoreDriver != StoreNone && c.MasterKey == "" {
		return errors.New("config: CQUSSO_MASTER_KEY is required when a store is enabled")
	}
	if c.SnapshotTTL < 0 {
		return errors.New("config: CQUSSO_SNAPSHOT_TTL must not be negative")
	}

	if _, err := c.Endpoints(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	return nil
}

// ServiceList parses Services, dropping duplicates and keeping order.
func (c Config) ServiceList() ([]cqusdk.Service, error) {
	var out []cqusdk.Service
	seen := make(map[cqusdk.Service]bool)

	for _, name := range c.Services {
		if strings.TrimSpace(name) == "" {
			continue
		}
		svc, err := cqusdk.ParseService(name)
		if err != nil {
			return nil, err
		}
		if !seen[svc] {
			seen[svc] = true
			out = append(out, svc)
		}
	}
	return out, nil
}

// Endpoints returns the production endpoints, or endpoints rooted at the
// configured base URLs when all three are set.
func (c Config) Endpoints() (cqusdk.Endpoints, error) {
	set := 0
	for _, base := range []string{c.SSOBase, c.MyCQUBase, c.CardBase} {
		if base != "" {
			set++
		}
	}

	switch set {
	case 0:
		return cqusdk.DefaultEndpoints(), nil
	case 3:
		e := cqusdk.EndpointsAt(c.SSOBase, c.MyCQUBase, c.CardBase)
		return e, e.Validate()
	default:
		return cqusdk.Endpoints{}, errors.New("CQUSSO_SSO_BASE, CQUSSO_MYCQU_BASE and CQUSSO_CARD_BASE must be set together")
	}
}
