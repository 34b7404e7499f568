// Package config loads service settings from CASEDESK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds process settings for cmd/api and cmd/migrate.
type Config struct {
	HTTPAddr string `env:"CASEDESK_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"CASEDESK_GRPC_ADDR" envDefault:":9090"`

	PGDSN    string `env:"CASEDESK_PG_DSN"`
	RedisURL string `env:"CASEDESK_REDIS_URL"`

	AuthSecret string        `env:"CASEDESK_AUTH_SECRET,required"`
	Issuer     string        `env:"CASEDESK_AUTH_ISSUER" envDefault:"casedesk"`
	AccessTTL  time.Duration `env:"CASEDESK_ACCESS_TTL" envDefault:"1h"`
	RefreshTTL time.Duration `env:"CASEDESK_REFRESH_TTL" envDefault:"720h"`

	CORSOrigins []string `env:"CASEDESK_CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`
	RateBurst   int      `env:"CASEDESK_RATE_BURST" envDefault:"20"`
	RatePerSec  int      `env:"CASEDESK_RATE_PER_SEC" envDefault:"10"`
	MaxBody     int64    `env:"CASEDESK_MAX_BODY_BYTES" envDefault:"1048576"`

	AdminUser     string `env:"CASEDESK_ADMIN_USER"`
	AdminEmail    string `env:"CASEDESK_ADMIN_EMAIL"`
	AdminPassword string `env:"CASEDESK_ADMIN_PASSWORD"`

	AuditTimeout time.Duration `env:"CASEDESK_AUDIT_TIMEOUT" envDefault:"2s"`
	LogLevel     string        `env:"CASEDESK_LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment into a validated Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c Config) Validate() error {
	if len(strings.TrimSpace(c.AuthSecret)) < 16 {
		return errors.New("config: CASEDESK_AUTH_SECRET must be at least 16 characters")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("config: token lifetimes must be positive")
	}
	if c.RefreshTTL < c.AccessTTL {
		return errors.New("config: refresh ttl shorter than access ttl")
	}
	if c.RateBurst <= 0 || c.RatePerSec <= 0 {
		return errors.New("config: rate limits must be positive")
	}
	if c.AdminUser != "" && (c.AdminEmail == "" || c.AdminPassword == "") {
		return errors.New("config: CASEDESK_ADMIN_USER needs CASEDESK_ADMIN_EMAIL and CASEDESK_ADMIN_PASSWORD")
	}
	return nil
}

// UsesPostgres reports whether a database DSN was supplied.
func (c Config) UsesPostgres() bool { return strings.TrimSpace(c.PGDSN) != "" }

// UsesRedis reports whether a Redis URL was supplied.
func (c Config) UsesRedis() bool { return strings.TrimSpace(c.RedisURL) != "" }
