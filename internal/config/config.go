// Package config defines the top-level configuration for orderwatch and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ORDERWATCH_* environment
// variables.
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger"`
	Sync     SyncConfig     `toml:"sync"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// LedgerConfig holds the exchange contract endpoint parameters.
type LedgerConfig struct {
	// WsURL is the WebSocket RPC endpoint; subscriptions require ws/wss.
	WsURL string `toml:"ws_url"`
	// ContractAddress is the exchange contract emitting order events.
	ContractAddress string `toml:"contract_address"`
	ChainID         int    `toml:"chain_id"`
}

// SyncConfig tunes the reconnect policy and the cleanup expiry window.
type SyncConfig struct {
	// ReconnectBaseSec seeds the exponential backoff.
	ReconnectBaseSec int `toml:"reconnect_base_sec"`
	// ReconnectMaxSec caps the backoff delay.
	ReconnectMaxSec int `toml:"reconnect_max_sec"`
	// MaxAttempts bounds consecutive failed dials before giving up.
	MaxAttempts int `toml:"max_attempts"`
	// ExpiryDays is the cleanup-eligibility age threshold.
	ExpiryDays int `toml:"expiry_days"`
}

// BaseDelay returns the backoff seed as a duration.
func (s SyncConfig) BaseDelay() time.Duration {
	return time.Duration(s.ReconnectBaseSec) * time.Second
}

// MaxDelay returns the backoff cap as a duration.
func (s SyncConfig) MaxDelay() time.Duration {
	return time.Duration(s.ReconnectMaxSec) * time.Second
}

// ExpiryWindow returns the cleanup age threshold as a duration.
func (s SyncConfig) ExpiryWindow() time.Duration {
	return time.Duration(s.ExpiryDays) * 24 * time.Hour
}

// PostgresConfig holds connection parameters for the event journal database.
// The journal is optional: with Enabled false, observed events are not
// persisted and the service runs purely in memory.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the event mirror and the
// API rate limiter. Optional.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// ChannelPrefix namespaces the mirrored pub/sub channels.
	ChannelPrefix string `toml:"channel_prefix"`
}

// S3Config holds object storage parameters for the snapshot archiver.
// Optional.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// Prefix is prepended to every archived object key.
	Prefix string `toml:"prefix"`
}

// ServerConfig holds the HTTP/WebSocket API parameters (serve mode only).
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimitPerSec throttles per-client API calls when Redis is enabled;
	// zero disables throttling.
	RateLimitPerSec int `toml:"rate_limit_per_sec"`
}

// NotifyConfig holds webhook endpoints for connectivity alerts.
type NotifyConfig struct {
	WebhookURLs []string `toml:"webhook_urls"`
	Events      []string `toml:"events"`
}

// Defaults returns the built-in configuration, targeting a local development
// node.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			WsURL:   "ws://localhost:8546",
			ChainID: 1,
		},
		Sync: SyncConfig{
			ReconnectBaseSec: 2,
			ReconnectMaxSec:  60,
			MaxAttempts:      10,
			ExpiryDays:       14,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "orderwatch",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			PoolSize:      20,
			MaxRetries:    3,
			ChannelPrefix: "orderwatch",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "orderwatch-data",
			ForcePathStyle: true,
			Prefix:         "snapshots",
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Mode:     "watch",
		LogLevel: "info",
	}
}

// Validate checks the configuration for the selected mode and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var problems []string

	switch strings.ToLower(c.Mode) {
	case "watch", "serve":
	default:
		problems = append(problems, fmt.Sprintf("mode: unsupported %q (want watch or serve)", c.Mode))
	}

	if c.Ledger.WsURL == "" {
		problems = append(problems, "ledger.ws_url: required")
	} else if !strings.HasPrefix(c.Ledger.WsURL, "ws://") && !strings.HasPrefix(c.Ledger.WsURL, "wss://") {
		problems = append(problems, "ledger.ws_url: must be a ws:// or wss:// endpoint")
	}
	if c.Ledger.ContractAddress == "" {
		problems = append(problems, "ledger.contract_address: required")
	} else if !common.IsHexAddress(c.Ledger.ContractAddress) {
		problems = append(problems, fmt.Sprintf("ledger.contract_address: %q is not a hex address", c.Ledger.ContractAddress))
	}

	if c.Sync.ReconnectBaseSec <= 0 {
		problems = append(problems, "sync.reconnect_base_sec: must be positive")
	}
	if c.Sync.MaxAttempts <= 0 {
		problems = append(problems, "sync.max_attempts: must be positive")
	}
	if c.Sync.ExpiryDays <= 0 {
		problems = append(problems, "sync.expiry_days: must be positive")
	}

	if c.Postgres.Enabled && c.Postgres.DSN == "" && c.Postgres.Host == "" {
		problems = append(problems, "postgres: enabled but neither dsn nor host set")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		problems = append(problems, "redis: enabled but addr not set")
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			problems = append(problems, "s3: enabled but bucket not set")
		}
		if c.S3.Region == "" {
			problems = append(problems, "s3: enabled but region not set")
		}
	}

	if strings.ToLower(c.Mode) == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		problems = append(problems, fmt.Sprintf("server.port: %d out of range", c.Server.Port))
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ContractAddress parses the configured contract address. Call after
// Validate.
func (c *Config) ContractAddress() common.Address {
	return common.HexToAddress(c.Ledger.ContractAddress)
}
