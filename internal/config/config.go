// Package config loads server configuration from a TOML file, a .env file and
// environment variables, in increasing order of precedence. Command-line flags
// are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"solana-lending-lab/internal/pubkey"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Slot sources.
const (
	ClockWall = "wall"
	ClockRPC  = "rpc"
)

// DefaultProgramSeed derives the program id used when none is configured.
const DefaultProgramSeed = "solana-lending-lab/lending"

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid config")

// Duration is a time.Duration written as a string ("30s") in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the server configuration.
type Config struct {
	ProgramID string        `toml:"program_id"`
	Server    ServerConfig  `toml:"server"`
	Storage   StorageConfig `toml:"storage"`
	Clock     ClockConfig   `toml:"clock"`
	Log       LogConfig     `toml:"log"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	ListenAddr      string   `toml:"listen_addr"`
	RateLimit       float64  `toml:"rate_limit"` // requests per second per client, 0 disables
	RateBurst       int      `toml:"rate_burst"`
	MaxBodyBytes    int64    `toml:"max_body_bytes"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// StorageConfig selects the account and event stores.
type StorageConfig struct {
	Backend       string `toml:"backend"`
	PostgresDSN   string `toml:"postgres_dsn"`
	ClickHouseDSN string `toml:"clickhouse_dsn"` // optional event store
}

// ClockConfig selects the slot source.
type ClockConfig struct {
	Source          string   `toml:"source"`
	SlotDuration    Duration `toml:"slot_duration"`
	RPCEndpoint     string   `toml:"rpc_endpoint"`
	RefreshInterval Duration `toml:"refresh_interval"`
	MaxStaleness    Duration `toml:"max_staleness"`
}

// LogConfig configures log output. An empty File logs to stdout.
type LogConfig struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Default returns the configuration of a local in-memory deployment.
func Default() *Config {
	return &Config{
		ProgramID: pubkey.FromSeed(DefaultProgramSeed).String(),
		Server: ServerConfig{
			ListenAddr:      ":8899",
			RateLimit:       50,
			RateBurst:       100,
			MaxBodyBytes:    1 << 20,
			ShutdownTimeout: Duration{30 * time.Second},
		},
		Storage: StorageConfig{
			Backend: BackendMemory,
		},
		Clock: ClockConfig{
			Source:          ClockWall,
			SlotDuration:    Duration{400 * time.Millisecond},
			RefreshInterval: Duration{2 * time.Second},
			MaxStaleness:    Duration{30 * time.Second},
		},
		Log: LogConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalid, path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// LoadEnvFile sets variables from a KEY=VALUE file without overriding ones
// already present. A missing file is not an error.
func LoadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		// Don't override existing env vars
		if _, ok := os.LookupEnv(key); !ok {
			os.Setenv(key, value)
		}
	}
	return nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	str("LENDING_PROGRAM_ID", &c.ProgramID)
	str("LENDING_LISTEN_ADDR", &c.Server.ListenAddr)
	str("LENDING_STORAGE", &c.Storage.Backend)
	str("POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("CLICKHOUSE_DSN", &c.Storage.ClickHouseDSN)
	str("LENDING_CLOCK", &c.Clock.Source)
	str("SOLANA_RPC_ENDPOINT", &c.Clock.RPCEndpoint)
	str("LENDING_LOG_FILE", &c.Log.File)

	if v, ok := os.LookupEnv("LENDING_RATE_LIMIT"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: LENDING_RATE_LIMIT: %v", ErrInvalid, err)
		}
		c.Server.RateLimit = f
	}
	return nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if _, err := c.Program(); err != nil {
		return err
	}
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("%w: server.listen_addr is required", ErrInvalid)
	}
	if c.Server.RateLimit < 0 || (c.Server.RateLimit > 0 && c.Server.RateBurst < 1) {
		return fmt.Errorf("%w: rate_limit must be >= 0 with rate_burst >= 1", ErrInvalid)
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("%w: storage.postgres_dsn is required for the postgres backend", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrInvalid, c.Storage.Backend)
	}
	switch c.Clock.Source {
	case ClockWall:
		if c.Clock.SlotDuration.Duration <= 0 {
			return fmt.Errorf("%w: clock.slot_duration must be positive", ErrInvalid)
		}
	case ClockRPC:
		if c.Clock.RPCEndpoint == "" {
			return fmt.Errorf("%w: clock.rpc_endpoint is required for the rpc clock", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown clock source %q", ErrInvalid, c.Clock.Source)
	}
	return nil
}

// Program parses ProgramID.
func (c *Config) Program() (pubkey.PublicKey, error) {
	pk, err := pubkey.Parse(c.ProgramID)
	if err != nil {
		return pubkey.PublicKey{}, fmt.Errorf("%w: program_id: %v", ErrInvalid, err)
	}
	return pk, nil
}

// Sanitized returns a copy safe to log: DSN passwords are masked.
func (c *Config) Sanitized() Config {
	out := *c
	out.Storage.PostgresDSN = maskDSN(c.Storage.PostgresDSN)
	out.Storage.ClickHouseDSN = maskDSN(c.Storage.ClickHouseDSN)
	return out
}

func maskDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
