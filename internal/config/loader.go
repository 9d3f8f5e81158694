package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ORDERWATCH_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ORDERWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// --- Ledger ---
	setStr(&cfg.Ledger.WsURL, "ORDERWATCH_LEDGER_WS_URL")
	setStr(&cfg.Ledger.ContractAddress, "ORDERWATCH_LEDGER_CONTRACT_ADDRESS")
	setInt(&cfg.Ledger.ChainID, "ORDERWATCH_LEDGER_CHAIN_ID")

	// --- Sync ---
	setInt(&cfg.Sync.ReconnectBaseSec, "ORDERWATCH_SYNC_RECONNECT_BASE_SEC")
	setInt(&cfg.Sync.ReconnectMaxSec, "ORDERWATCH_SYNC_RECONNECT_MAX_SEC")
	setInt(&cfg.Sync.MaxAttempts, "ORDERWATCH_SYNC_MAX_ATTEMPTS")
	setInt(&cfg.Sync.ExpiryDays, "ORDERWATCH_SYNC_EXPIRY_DAYS")

	// --- Postgres ---
	setBool(&cfg.Postgres.Enabled, "ORDERWATCH_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ORDERWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ORDERWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ORDERWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ORDERWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ORDERWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ORDERWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ORDERWATCH_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ORDERWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ORDERWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ORDERWATCH_POSTGRES_RUN_MIGRATIONS")

	// --- Redis ---
	setBool(&cfg.Redis.Enabled, "ORDERWATCH_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ORDERWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ORDERWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ORDERWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ORDERWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ORDERWATCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ORDERWATCH_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.ChannelPrefix, "ORDERWATCH_REDIS_CHANNEL_PREFIX")

	// --- S3 ---
	setBool(&cfg.S3.Enabled, "ORDERWATCH_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ORDERWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ORDERWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "ORDERWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ORDERWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ORDERWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ORDERWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ORDERWATCH_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "ORDERWATCH_S3_PREFIX")

	// --- Server ---
	setInt(&cfg.Server.Port, "ORDERWATCH_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "ORDERWATCH_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerSec, "ORDERWATCH_SERVER_RATE_LIMIT_PER_SEC")
	setStrSlice(&cfg.Server.CORSOrigins, "ORDERWATCH_SERVER_CORS_ORIGINS")

	// --- Notify ---
	setStrSlice(&cfg.Notify.WebhookURLs, "ORDERWATCH_NOTIFY_WEBHOOK_URLS")
	setStrSlice(&cfg.Notify.Events, "ORDERWATCH_NOTIFY_EVENTS")

	// --- Top level ---
	setStr(&cfg.Mode, "ORDERWATCH_MODE")
	setStr(&cfg.LogLevel, "ORDERWATCH_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStrSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}
