package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/manifest-network/blockledger/internal/store"
)

const EnvPrefix = "BLOCKLEDGER"

// Viper keys, shared by flags and environment variables.
const (
	KeyLogLevel              = "log-level"
	KeyLogFormat             = "log-format"
	KeyAddress               = "address"
	KeyMetricsAddress        = "metrics-address"
	KeyGRPCAddress           = "grpc-address"
	KeyStoreBackend          = "store"
	KeyDatabaseURL           = "database-url"
	KeyCacheSize             = "cache-size"
	KeyMaxOpenConns          = "max-open-conns"
	KeyReplayPageSize        = "replay-page-size"
	KeyReplayOrder           = "replay-order"
	KeyProgress              = "progress"
	KeyAllowMultipleCoinbase = "allow-multiple-coinbase"
	KeyShutdownTimeout       = "shutdown-timeout"
	KeyURL                   = "url"
	KeyTimeout               = "timeout"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// NewViper returns a viper instance reading BLOCKLEDGER_* variables.
// The database URL is also read from DATABASE_URL.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv(KeyDatabaseURL, EnvPrefix+"_DATABASE_URL", "DATABASE_URL")
	return v
}

type LogConfig struct {
	Level  string
	Format string
}

func (c LogConfig) Validate() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return fmt.Errorf("invalid log level %q", c.Level)
	}
	switch c.Format {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("invalid log format %q: must be text or json", c.Format)
	}
}

// SlogLevel returns the configured level. Validate must have passed.
func (c LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	_ = level.UnmarshalText([]byte(c.Level))
	return level
}

func LoadLogConfig(v *viper.Viper) LogConfig {
	return LogConfig{
		Level:  v.GetString(KeyLogLevel),
		Format: v.GetString(KeyLogFormat),
	}
}

type StoreConfig struct {
	Backend      string
	DatabaseURL  string
	CacheSize    int
	MaxOpenConns int
}

func (c StoreConfig) Validate() error {
	switch c.Backend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("database URL is required for the %s store", BackendPostgres)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Backend)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache size must not be negative")
	}
	if c.MaxOpenConns < 0 {
		return fmt.Errorf("max open connections must not be negative")
	}
	return nil
}

func LoadStoreConfig(v *viper.Viper) StoreConfig {
	return StoreConfig{
		Backend:      v.GetString(KeyStoreBackend),
		DatabaseURL:  v.GetString(KeyDatabaseURL),
		CacheSize:    v.GetInt(KeyCacheSize),
		MaxOpenConns: v.GetInt(KeyMaxOpenConns),
	}
}

type ReplayConfig struct {
	PageSize     int
	Order        string
	ShowProgress bool
}

func (c ReplayConfig) Validate() error {
	if c.PageSize <= 0 {
		return fmt.Errorf("replay page size must be positive")
	}
	if _, err := store.ParseScanOrder(c.Order); err != nil {
		return fmt.Errorf("invalid replay order: %w", err)
	}
	return nil
}

type ServeConfig struct {
	Address               string
	MetricsAddress        string
	GRPCAddress           string
	Store                 StoreConfig
	Replay                ReplayConfig
	AllowMultipleCoinbase bool
	ShutdownTimeout       time.Duration
}

func (c ServeConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	return c.Replay.Validate()
}

func LoadServeConfig(v *viper.Viper) ServeConfig {
	return ServeConfig{
		Address:        v.GetString(KeyAddress),
		MetricsAddress: v.GetString(KeyMetricsAddress),
		GRPCAddress:    v.GetString(KeyGRPCAddress),
		Store:          LoadStoreConfig(v),
		Replay: ReplayConfig{
			PageSize:     v.GetInt(KeyReplayPageSize),
			Order:        v.GetString(KeyReplayOrder),
			ShowProgress: v.GetBool(KeyProgress),
		},
		AllowMultipleCoinbase: v.GetBool(KeyAllowMultipleCoinbase),
		ShutdownTimeout:       v.GetDuration(KeyShutdownTimeout),
	}
}

type ClientConfig struct {
	URL     string
	Timeout time.Duration
}

func (c ClientConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("server URL is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid server URL %q: scheme must be http or https", c.URL)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

func LoadClientConfig(v *viper.Viper) ClientConfig {
	return ClientConfig{
		URL:     v.GetString(KeyURL),
		Timeout: v.GetDuration(KeyTimeout),
	}
}
