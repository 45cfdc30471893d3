// Package config loads service configuration from defaults, an optional
// YAML file and environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/layer-3/sigauth/internal/logging"
	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

const minJWTSecretLength = 32

// Config is the root configuration structure
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	JWT       JWTConfig       `yaml:"jwt"`
	Challenge ChallengeConfig `yaml:"challenge"`
	Session   SessionConfig   `yaml:"session"`
	Roles     RolesConfig     `yaml:"roles"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Storage   StorageConfig   `yaml:"storage"`
	Events    EventsConfig    `yaml:"events"`
	Logging   logging.Config  `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
}

// HTTPConfig contains HTTP server settings
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// JWTConfig contains token signing settings
type JWTConfig struct {
	Secret     string        `yaml:"secret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
}

// ChallengeConfig contains challenge issuance settings
type ChallengeConfig struct {
	AppName         string        `yaml:"app_name"`
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	MemoryCapacity  int           `yaml:"memory_capacity"`
}

// SessionConfig contains refresh session settings
type SessionConfig struct {
	// HashKey keys the refresh token fingerprint; derived from the JWT secret when empty
	HashKey string `yaml:"hash_key"`
}

// RolesConfig contains role resolution settings
type RolesConfig struct {
	TrustDesiredOnFailure bool `yaml:"trust_desired_on_failure"`
}

// RateLimitConfig contains challenge rate limit settings
type RateLimitConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// StorageConfig selects and configures the persistence backend
type StorageConfig struct {
	Backend     string        `yaml:"backend"`
	DatabaseURL string        `yaml:"database_url"`
	RedisURL    string        `yaml:"redis_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

// EventsConfig controls session event publishing
type EventsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// AuthConfig contains login flow settings
type AuthConfig struct {
	// LegacyMessages accepts client-built timestamped messages without a challenge id
	LegacyMessages bool          `yaml:"legacy_messages"`
	MaxMessageAge  time.Duration `yaml:"max_message_age"`
}

// Load builds the configuration; path may be empty
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		JWT: JWTConfig{
			Issuer:     "sigauth",
			Audience:   "sigauth-api",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Challenge: ChallengeConfig{
			AppName:         "sigauth",
			TTL:             5 * time.Minute,
			CleanupInterval: time.Minute,
			MemoryCapacity:  10000,
		},
		Roles: RolesConfig{TrustDesiredOnFailure: true},
		RateLimit: RateLimitConfig{
			Limit:  20,
			Window: time.Minute,
		},
		Storage: StorageConfig{
			Backend: BackendMemory,
			Timeout: 2 * time.Second,
		},
		Events: EventsConfig{Enabled: true},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
		Auth: AuthConfig{
			LegacyMessages: false,
			MaxMessageAge:  5 * time.Minute,
		},
	}
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWT.Secret = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.JWT.Issuer = v
	}
	if v := os.Getenv("JWT_AUDIENCE"); v != "" {
		cfg.JWT.Audience = v
	}

	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Storage.RedisURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("SESSION_HASH_KEY"); v != "" {
		cfg.Session.HashKey = v
	}
	if v := os.Getenv("AUTH_LEGACY_MESSAGES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing AUTH_LEGACY_MESSAGES: %w", err)
		}
		cfg.Auth.LegacyMessages = b
	}
	return nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	var errs []string

	if c.JWT.Secret == "" {
		errs = append(errs, "jwt.secret is required (set JWT_SECRET environment variable)")
	} else if len(c.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "jwt.secret must be at least 32 characters")
	}
	if c.JWT.Issuer == "" {
		errs = append(errs, "jwt.issuer is required")
	}
	if c.JWT.Audience == "" {
		errs = append(errs, "jwt.audience is required")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		errs = append(errs, "jwt token ttls must be positive")
	}

	if c.Challenge.TTL <= 0 {
		errs = append(errs, "challenge.ttl must be positive")
	}
	if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, "rate_limit.limit and rate_limit.window must be positive")
	}
	if c.Storage.Timeout <= 0 {
		errs = append(errs, "storage.timeout must be positive")
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, "storage.database_url is required for the postgres backend")
		}
	case BackendRedis:
		if c.Storage.RedisURL == "" {
			errs = append(errs, "storage.redis_url is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q must be memory, postgres or redis", c.Storage.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
