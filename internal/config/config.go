// Package config loads service settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/nexuscrm/approvals/internal/domain"
	"github.com/nexuscrm/approvals/internal/infrastructure/database"
	"github.com/nexuscrm/approvals/pkg/constants"
)

// Storage backends.
const (
	StorageMySQL  = "mysql"
	StorageMemory = "memory"
)

// Config is the full service configuration.
type Config struct {
	Port        string
	Environment string
	LogLevel    string
	Storage     string
	Database    database.Config
	JWTSecret   string
	JWTTTL      time.Duration

	SLAScanSchedule    string
	OutboxInterval     time.Duration
	NATSURL            string
	NATSSubjectPrefix  string
	ValidationDebounce time.Duration
	RejectPolicy       domain.ParallelRejectPolicy
	SLAAtRiskFraction  float64

	DirectoryFile string
	PolicyFile    string
	DefaultTenant string
}

// Load reads .env from the working directory when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	e := env{get: getenv}
	cfg := &Config{
		Port:        e.str("PORT", constants.DefaultPort),
		Environment: e.str("ENVIRONMENT", "development"),
		LogLevel:    e.str("LOG_LEVEL", "info"),
		Storage:     strings.ToLower(e.str("STORAGE", StorageMySQL)),
		Database: database.Config{
			Host:     e.str("TIDB_HOST", "127.0.0.1"),
			Port:     e.str("TIDB_PORT", "4000"),
			User:     e.str("TIDB_USER", "root"),
			Password: e.str("TIDB_PASSWORD", ""),
			Database: e.str("TIDB_DATABASE", "approvals"),
		},
		JWTSecret:         e.str("JWT_SECRET", ""),
		SLAScanSchedule:   e.str("SLA_SCAN_SCHEDULE", constants.DefaultSLASchedule),
		NATSURL:           e.str("NATS_URL", ""),
		NATSSubjectPrefix: e.str("NATS_SUBJECT_PREFIX", constants.DefaultNATSPrefix),
		DirectoryFile:     e.str("DIRECTORY_FILE", ""),
		PolicyFile:        e.str("POLICY_FILE", ""),
		DefaultTenant:     e.str("DEFAULT_TENANT", constants.DefaultTenant),
	}

	cfg.JWTTTL = e.duration("JWT_TTL", 24*time.Hour)
	cfg.OutboxInterval = e.duration("OUTBOX_INTERVAL", constants.DefaultOutboxInterval)
	cfg.ValidationDebounce = e.duration("VALIDATION_DEBOUNCE", constants.DefaultValidationDebounce)
	cfg.SLAAtRiskFraction = e.float("SLA_AT_RISK_FRACTION", domain.DefaultAtRiskFraction)
	cfg.Database.MaxOpenConns = e.int("TIDB_MAX_OPEN_CONNS", 0)

	policy, err := domain.ParseRejectPolicy(e.str("PARALLEL_REJECT_POLICY", string(domain.RejectFailFast)))
	if err != nil {
		e.fail("PARALLEL_REJECT_POLICY", err)
	}
	cfg.RejectPolicy = policy

	if e.err != nil {
		return nil, e.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Storage != StorageMySQL && c.Storage != StorageMemory {
		return fmt.Errorf("STORAGE must be %q or %q, got %q", StorageMySQL, StorageMemory, c.Storage)
	}
	if c.JWTSecret == "" && c.IsProduction() {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	if c.SLAAtRiskFraction <= 0 || c.SLAAtRiskFraction > 1 {
		return fmt.Errorf("SLA_AT_RISK_FRACTION must be in (0,1], got %v", c.SLAAtRiskFraction)
	}
	return nil
}

// IsProduction reports whether ENVIRONMENT is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// env collects the first parse error so Load can report it with its key.
type env struct {
	get func(string) string
	err error
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}

func (e *env) float(key string, def float64) float64 {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return f
}

func (e *env) int(key string, def int) int {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return i
}

func (e *env) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}
