package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Storage backends understood by vestingd.
const (
	BackendMemory   = "memory"
	BackendLevelDB  = "leveldb"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Environment variables that override secrets kept out of the config file.
const (
	EnvDatabaseURL = "VESTING_DATABASE_URL"
	EnvAuthSecret  = "VESTING_AUTH_SECRET"
)

type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	// StorageBackend is one of memory, leveldb, sqlite or postgres.
	StorageBackend string `toml:"StorageBackend"`
	// DatabaseURL is the postgres DSN. It may be supplied through
	// VESTING_DATABASE_URL instead.
	DatabaseURL            string `toml:"DatabaseURL,omitempty"`
	Namespace              string `toml:"Namespace"`
	Environment            string `toml:"Environment"`
	MaxClockSkewSeconds    int64  `toml:"MaxClockSkewSeconds"`
	EventHistory           int    `toml:"EventHistory"`
	ShutdownTimeoutSeconds int    `toml:"ShutdownTimeoutSeconds"`

	Log       LogConfig       `toml:"log"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Auth      AuthConfig      `toml:"auth"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

type LogConfig struct {
	Level      string `toml:"Level"`
	File       string `toml:"File,omitempty"`
	MaxSizeMB  int    `toml:"MaxSizeMB,omitempty"`
	MaxBackups int    `toml:"MaxBackups,omitempty"`
}

type RateLimitConfig struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// AuthConfig guards the operator endpoints (event history and the event
// stream) with HMAC-signed bearer tokens. An empty secret leaves them open.
type AuthConfig struct {
	HMACSecret string `toml:"HMACSecret,omitempty"`
	Issuer     string `toml:"Issuer,omitempty"`
}

type TelemetryConfig struct {
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
	Endpoint string `toml:"Endpoint,omitempty"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers,omitempty"`
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	return &Config{
		ListenAddress:          "127.0.0.1:8645",
		DataDir:                "./vesting-data",
		StorageBackend:         BackendLevelDB,
		Namespace:              "vesting-local",
		Environment:            "local",
		MaxClockSkewSeconds:    300,
		EventHistory:           1024,
		ShutdownTimeoutSeconds: 10,
		Log:                    LogConfig{Level: "info"},
		RateLimit:              RateLimitConfig{RequestsPerMinute: 600, Burst: 60},
	}
}

// Load reads the TOML configuration at path. A missing file is created with
// the defaults. Unknown keys are rejected so typos do not silently fall back
// to defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if dsn := strings.TrimSpace(os.Getenv(EnvDatabaseURL)); dsn != "" {
		c.DatabaseURL = dsn
	}
	if secret := strings.TrimSpace(os.Getenv(EnvAuthSecret)); secret != "" {
		c.Auth.HMACSecret = secret
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return errors.New("config: ListenAddress required")
	}
	if strings.TrimSpace(c.Namespace) == "" {
		return errors.New("config: Namespace required")
	}
	switch c.StorageBackend {
	case BackendMemory:
	case BackendLevelDB, BackendSQLite:
		if strings.TrimSpace(c.DataDir) == "" {
			return fmt.Errorf("config: DataDir required for %s backend", c.StorageBackend)
		}
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("config: DatabaseURL or %s required for postgres backend", EnvDatabaseURL)
		}
	default:
		return fmt.Errorf("config: unsupported StorageBackend %q", c.StorageBackend)
	}
	if c.MaxClockSkewSeconds <= 0 {
		return errors.New("config: MaxClockSkewSeconds must be positive")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return errors.New("config: rate_limit values must not be negative")
	}
	if c.EventHistory < 0 {
		return errors.New("config: EventHistory must not be negative")
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
