package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port string
	Mode string

	// Logging configuration
	LogLevel  string
	LogFormat string

	// Token verification configuration
	Algorithm    string
	KeySources   []string
	JWKSFile     string
	JWKSURL      string
	JWKSCacheTTL time.Duration
	RootCertFile string

	// Delivery configuration
	ForwardURL          string
	ForwardSecret       string
	ForwardSecretHeader string
	ForwardTimeout      time.Duration

	// Redis configuration (optional)
	RedisURL string

	// Replay protection configuration
	ReplayProtection bool
	ReplayTTL        time.Duration
}

// Key source names accepted in KEY_SOURCE.
const (
	KeySourceLocal  = "local"
	KeySourceRemote = "remote"
	KeySourceX5C    = "x5c"
)

var AppConfig *Config

func InitConfig() error {
	// Load .env file, a missing file is fine
	_ = godotenv.Load()

	cfg, err := Load()
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		Mode:                getEnv("GIN_MODE", "release"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "console"),
		Algorithm:           getEnv("JWS_ALGORITHM", "ES256"),
		KeySources:          getEnvList("KEY_SOURCE", []string{KeySourceX5C}),
		JWKSFile:            getEnv("JWKS_FILE", ""),
		JWKSURL:             getEnv("JWKS_URL", ""),
		JWKSCacheTTL:        getEnvDuration("JWKS_CACHE_TTL", 0),
		RootCertFile:        getEnv("ROOT_CERT_FILE", ""),
		ForwardURL:          getEnv("FORWARD_URL", ""),
		ForwardSecret:       getEnv("FORWARD_SECRET", ""),
		ForwardSecretHeader: getEnv("FORWARD_SECRET_HEADER", "X-Webhook-Secret"),
		ForwardTimeout:      getEnvDuration("FORWARD_TIMEOUT", 10*time.Second),
		RedisURL:            getEnv("REDIS_URL", ""),
		ReplayProtection:    getEnvBool("REPLAY_PROTECTION", false),
		ReplayTTL:           getEnvDuration("REPLAY_TTL", 24*time.Hour),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the selected key sources have what they need.
func (c *Config) Validate() error {
	if c.Algorithm == "" {
		return fmt.Errorf("JWS_ALGORITHM must not be empty")
	}
	if len(c.KeySources) == 0 {
		return fmt.Errorf("KEY_SOURCE must name at least one key source")
	}

	keySets := 0
	for _, source := range c.KeySources {
		switch source {
		case KeySourceLocal:
			keySets++
			if c.JWKSFile == "" {
				return fmt.Errorf("KEY_SOURCE %q requires JWKS_FILE", source)
			}
		case KeySourceRemote:
			keySets++
			if c.JWKSURL == "" {
				return fmt.Errorf("KEY_SOURCE %q requires JWKS_URL", source)
			}
		case KeySourceX5C:
		default:
			return fmt.Errorf("unknown KEY_SOURCE %q", source)
		}
	}
	if keySets > 1 {
		return fmt.Errorf("KEY_SOURCE may name only one of %q or %q", KeySourceLocal, KeySourceRemote)
	}
	return nil
}

// HasKeySource reports whether name is one of the configured key sources.
func (c *Config) HasKeySource(name string) bool {
	for _, source := range c.KeySources {
		if source == name {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
