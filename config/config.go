/*
config.go - Runtime configuration

PURPOSE:
  Collects every tunable of the admissions service into one Config value.
  Sources, later ones winning:
    1. Built-in defaults
    2. A .env file in the working directory (if present)
    3. Process environment
    4. Command-line flags (applied by cmd/admissions)

ENVIRONMENT:
  PORT              HTTP port (default: 8080)
  DB_PATH           SQLite database path (default: admissions.db)
  SEQUENCE_FLOOR    Counter seed floor (default: 4879)
  LOCK_TIMEOUT      Write lock wait, Go duration (default: 10s)
  SCHEMA_UPGRADE    Add missing columns at startup (default: true)
  RESERVATION_TTL   Age after which reservations are swept, 0 disables (default: 0)
  SWEEP_INTERVAL    How often the sweeper runs (default: 1h)
  JWT_SECRET        Token signing secret (required for serve)
  TOKEN_TTL         Session token lifetime (default: 12h)
  ADMIN_EMAIL       Seeded admin login (default: admin@pec.local)
  ADMIN_PASSWORD    Seeded admin password; empty skips seeding
  CORS_ORIGINS      Comma-separated allowed origins
  LOG_FILE          Rotating log file; empty logs to stderr only

SEE ALSO:
  - cmd/admissions/main.go: Flag overrides
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/pecadmissions/admissions/admission"
)

// Config holds all runtime configuration values.
type Config struct {
	Port           int
	DBPath         string
	SequenceFloor  int64
	LockTimeout    time.Duration
	SchemaUpgrade  bool
	ReservationTTL time.Duration
	SweepInterval  time.Duration
	JWTSecret      string
	TokenTTL       time.Duration
	AdminEmail     string
	AdminPassword  string
	CORSOrigins    []string
	LogFile        string
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Port:           8080,
		DBPath:         "admissions.db",
		SequenceFloor:  admission.DefaultSequenceFloor,
		LockTimeout:    10 * time.Second,
		SchemaUpgrade:  true,
		ReservationTTL: 0,
		SweepInterval:  time.Hour,
		TokenTTL:       12 * time.Hour,
		AdminEmail:     "admin@pec.local",
		CORSOrigins:    []string{"http://localhost:5173", "http://localhost:8080"},
	}
}

// Load reads .env (when present) and the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to read .env: %w", err)
	}
	return LoadFrom(os.LookupEnv)
}

// LoadFrom builds a Config from defaults overlaid with values from lookup.
func LoadFrom(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	p := parser{lookup: lookup}

	p.int("PORT", &cfg.Port)
	p.string("DB_PATH", &cfg.DBPath)
	p.int64("SEQUENCE_FLOOR", &cfg.SequenceFloor)
	p.duration("LOCK_TIMEOUT", &cfg.LockTimeout)
	p.bool("SCHEMA_UPGRADE", &cfg.SchemaUpgrade)
	p.duration("RESERVATION_TTL", &cfg.ReservationTTL)
	p.duration("SWEEP_INTERVAL", &cfg.SweepInterval)
	p.string("JWT_SECRET", &cfg.JWTSecret)
	p.duration("TOKEN_TTL", &cfg.TokenTTL)
	p.string("ADMIN_EMAIL", &cfg.AdminEmail)
	p.string("ADMIN_PASSWORD", &cfg.AdminPassword)
	p.list("CORS_ORIGINS", &cfg.CORSOrigins)
	p.string("LOG_FILE", &cfg.LogFile)

	if len(p.errs) > 0 {
		return Config{}, errors.Join(p.errs...)
	}
	return cfg, cfg.Validate()
}

// Validate checks values that cannot be caught while parsing.
func (c Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("PORT out of range: %d", c.Port)
	case c.SequenceFloor < 0:
		return fmt.Errorf("SEQUENCE_FLOOR must not be negative: %d", c.SequenceFloor)
	case c.LockTimeout <= 0:
		return fmt.Errorf("LOCK_TIMEOUT must be positive: %s", c.LockTimeout)
	case c.ReservationTTL < 0:
		return fmt.Errorf("RESERVATION_TTL must not be negative: %s", c.ReservationTTL)
	case c.ReservationTTL > 0 && c.SweepInterval <= 0:
		return fmt.Errorf("SWEEP_INTERVAL must be positive when RESERVATION_TTL is set")
	}
	return nil
}

// parser collects conversion errors instead of stopping at the first one.
type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) raw(key string) (string, bool) {
	v, ok := p.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *parser) string(key string, dst *string) {
	if v, ok := p.raw(key); ok {
		*dst = v
	}
}

func (p *parser) int(key string, dst *int) {
	if v, ok := p.raw(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("invalid int for %s: %q", key, v))
			return
		}
		*dst = n
	}
}

func (p *parser) int64(key string, dst *int64) {
	if v, ok := p.raw(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("invalid int for %s: %q", key, v))
			return
		}
		*dst = n
	}
}

func (p *parser) bool(key string, dst *bool) {
	if v, ok := p.raw(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("invalid bool for %s: %q", key, v))
			return
		}
		*dst = b
	}
}

func (p *parser) duration(key string, dst *time.Duration) {
	if v, ok := p.raw(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			p.errs = append(p.errs, fmt.Errorf("invalid duration for %s: %q", key, v))
			return
		}
		*dst = d
	}
}

func (p *parser) list(key string, dst *[]string) {
	if v, ok := p.raw(key); ok {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*dst = out
	}
}
