package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads a TOML or YAML configuration file at path (chosen by extension),
// merges it on top of the built-in defaults, applies AMMARB_* environment
// variable overrides, and returns the final Config. An empty path skips the
// file. The returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return nil
}

// applyEnvOverrides reads well-known AMMARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the config file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.Account, "AMMARB_ENGINE_ACCOUNT")
	setStr(&cfg.Engine.FeeRecipient, "AMMARB_ENGINE_FEE_RECIPIENT")
	setStr(&cfg.Engine.LenderAccount, "AMMARB_ENGINE_LENDER_ACCOUNT")
	setStringSlice(&cfg.Engine.Venues, "AMMARB_ENGINE_VENUES")
	setStr(&cfg.Engine.DefaultContract, "AMMARB_ENGINE_DEFAULT_CONTRACT")
	setDuration(&cfg.Engine.ScanInterval, "AMMARB_ENGINE_SCAN_INTERVAL")
	setInt(&cfg.Engine.AttemptsPerMinute, "AMMARB_ENGINE_ATTEMPTS_PER_MINUTE")
	setDuration(&cfg.Engine.LockTTL, "AMMARB_ENGINE_LOCK_TTL")

	// ── Storage ──
	setStr(&cfg.Storage.Backend, "AMMARB_STORAGE_BACKEND")
	setStr(&cfg.Storage.SQLitePath, "AMMARB_STORAGE_SQLITE_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "AMMARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "AMMARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "AMMARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "AMMARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "AMMARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "AMMARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "AMMARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "AMMARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "AMMARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "AMMARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "AMMARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "AMMARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "AMMARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AMMARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "AMMARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "AMMARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "AMMARB_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Prefix, "AMMARB_REDIS_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "AMMARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "AMMARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "AMMARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "AMMARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "AMMARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "AMMARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "AMMARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "AMMARB_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "AMMARB_S3_PREFIX")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "AMMARB_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "AMMARB_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "AMMARB_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.MultipartThresholdMB, "AMMARB_ARCHIVE_MULTIPART_THRESHOLD_MB")

	// ── Server ──
	setInt(&cfg.Server.Port, "AMMARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "AMMARB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "AMMARB_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "AMMARB_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "AMMARB_SERVER_RATE_WINDOW")

	// ── Notify ──
	setBool(&cfg.Notify.Console, "AMMARB_NOTIFY_CONSOLE")
	setStr(&cfg.Notify.TelegramToken, "AMMARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "AMMARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "AMMARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "AMMARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "AMMARB_MODE")
	setStr(&cfg.LogLevel, "AMMARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
