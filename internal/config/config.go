// Package config defines the top-level configuration for the arbitrage
// engine and provides validation helpers.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/ammarb/internal/domain"
	"github.com/alanyoungcy/ammarb/internal/exchange"
)

// Config is the root configuration structure. Fields are populated from a
// TOML or YAML file and then optionally overridden by AMMARB_* environment
// variables.
type Config struct {
	Mode     string         `toml:"mode" yaml:"mode"`
	LogLevel string         `toml:"log_level" yaml:"log_level"`
	Engine   EngineConfig   `toml:"engine" yaml:"engine"`
	Sim      SimConfig      `toml:"sim" yaml:"sim"`
	Storage  StorageConfig  `toml:"storage" yaml:"storage"`
	Postgres PostgresConfig `toml:"postgres" yaml:"postgres"`
	Redis    RedisConfig    `toml:"redis" yaml:"redis"`
	S3       S3Config       `toml:"s3" yaml:"s3"`
	Archive  ArchiveConfig  `toml:"archive" yaml:"archive"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Notify   NotifyConfig   `toml:"notify" yaml:"notify"`
}

// EngineConfig holds the settlement engine and scanner parameters.
type EngineConfig struct {
	Account       string `toml:"account" yaml:"account"`
	FeeRecipient  string `toml:"fee_recipient" yaml:"fee_recipient"`
	LenderAccount string `toml:"lender_account" yaml:"lender_account"`
	// Venues lists the enabled venue ids, in quoting order.
	Venues []string `toml:"venues" yaml:"venues"`
	// DefaultContract is assumed for API requests that name no contract.
	DefaultContract   string        `toml:"default_contract" yaml:"default_contract"`
	Stakes            []StakeConfig `toml:"stakes" yaml:"stakes"`
	ScanInterval      duration      `toml:"scan_interval" yaml:"scan_interval"`
	AttemptsPerMinute int           `toml:"attempts_per_minute" yaml:"attempts_per_minute"`
	LockTTL           duration      `toml:"lock_ttl" yaml:"lock_ttl"`
}

// StakeConfig is one amount the scanner tries every interval.
type StakeConfig struct {
	Amount    string `toml:"amount" yaml:"amount"`
	Contract  string `toml:"contract" yaml:"contract"`
	MinReturn string `toml:"min_return" yaml:"min_return"`
}

// Request converts s into a settlement request.
func (s StakeConfig) Request() (domain.SettlementRequest, error) {
	qty, err := domain.ParseAsset(s.Amount)
	if err != nil {
		return domain.SettlementRequest{}, err
	}
	req := domain.SettlementRequest{Stake: domain.ExtendedAsset{Quantity: qty, Contract: s.Contract}}
	if s.MinReturn != "" {
		if req.MinReturn, err = domain.ParseAsset(s.MinReturn); err != nil {
			return domain.SettlementRequest{}, err
		}
	}
	return req, nil
}

// Requests converts every configured stake.
func (c EngineConfig) Requests() ([]domain.SettlementRequest, error) {
	out := make([]domain.SettlementRequest, 0, len(c.Stakes))
	for i, s := range c.Stakes {
		req, err := s.Request()
		if err != nil {
			return nil, fmt.Errorf("engine.stakes[%d]: %w", i, err)
		}
		out = append(out, req)
	}
	return out, nil
}

// SimConfig seeds the in-process ledger, pools and balances the engine
// settles against.
type SimConfig struct {
	Pools    []SimPoolConfig    `toml:"pools" yaml:"pools"`
	Balances []SimBalanceConfig `toml:"balances" yaml:"balances"`
}

// SimPoolConfig is one constant-product pool. Reserves use the asset text
// form, e.g. "1000.0000 EOS".
type SimPoolConfig struct {
	Venue     string `toml:"venue" yaml:"venue"`
	PairID    uint64 `toml:"pair_id" yaml:"pair_id"`
	Reserve0  string `toml:"reserve0" yaml:"reserve0"`
	Contract0 string `toml:"contract0" yaml:"contract0"`
	Reserve1  string `toml:"reserve1" yaml:"reserve1"`
	Contract1 string `toml:"contract1" yaml:"contract1"`
	FeeBps    uint32 `toml:"fee_bps" yaml:"fee_bps"`
}

// Reserves parses both reserves.
func (p SimPoolConfig) Reserves() (domain.ExtendedAsset, domain.ExtendedAsset, error) {
	r0, err := domain.ParseAsset(p.Reserve0)
	if err != nil {
		return domain.ExtendedAsset{}, domain.ExtendedAsset{}, fmt.Errorf("reserve0: %w", err)
	}
	r1, err := domain.ParseAsset(p.Reserve1)
	if err != nil {
		return domain.ExtendedAsset{}, domain.ExtendedAsset{}, fmt.Errorf("reserve1: %w", err)
	}
	return domain.ExtendedAsset{Quantity: r0, Contract: p.Contract0},
		domain.ExtendedAsset{Quantity: r1, Contract: p.Contract1}, nil
}

// SimBalanceConfig credits an account at startup.
type SimBalanceConfig struct {
	Account  string `toml:"account" yaml:"account"`
	Amount   string `toml:"amount" yaml:"amount"`
	Contract string `toml:"contract" yaml:"contract"`
}

// Quantity parses the balance.
func (b SimBalanceConfig) Quantity() (domain.ExtendedAsset, error) {
	q, err := domain.ParseAsset(b.Amount)
	if err != nil {
		return domain.ExtendedAsset{}, err
	}
	return domain.ExtendedAsset{Quantity: q, Contract: b.Contract}, nil
}

// StorageConfig picks where the plan slot, settlement history and audit log
// live.
type StorageConfig struct {
	// Backend is one of memory, postgres, sqlite.
	Backend    string `toml:"backend" yaml:"backend"`
	SQLitePath string `toml:"sqlite_path" yaml:"sqlite_path"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn" yaml:"dsn"`
	Host          string `toml:"host" yaml:"host"`
	Port          int    `toml:"port" yaml:"port"`
	Database      string `toml:"database" yaml:"database"`
	User          string `toml:"user" yaml:"user"`
	Password      string `toml:"password" yaml:"password"`
	SSLMode       string `toml:"ssl_mode" yaml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns" yaml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns" yaml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations" yaml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When enabled Redis holds
// the plan slot and provides the settlement lock, signal bus and API rate
// limiter.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled" yaml:"enabled"`
	Addr       string `toml:"addr" yaml:"addr"`
	Password   string `toml:"password" yaml:"password"`
	DB         int    `toml:"db" yaml:"db"`
	PoolSize   int    `toml:"pool_size" yaml:"pool_size"`
	MaxRetries int    `toml:"max_retries" yaml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled" yaml:"tls_enabled"`
	Prefix     string `toml:"prefix" yaml:"prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled" yaml:"enabled"`
	Endpoint       string `toml:"endpoint" yaml:"endpoint"`
	Region         string `toml:"region" yaml:"region"`
	Bucket         string `toml:"bucket" yaml:"bucket"`
	AccessKey      string `toml:"access_key" yaml:"access_key"`
	SecretKey      string `toml:"secret_key" yaml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl" yaml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style" yaml:"force_path_style"`
	Prefix         string `toml:"prefix" yaml:"prefix"`
}

// ArchiveConfig controls moving old settlements to object storage.
type ArchiveConfig struct {
	Enabled              bool     `toml:"enabled" yaml:"enabled"`
	RetentionDays        int      `toml:"retention_days" yaml:"retention_days"`
	Interval             duration `toml:"interval" yaml:"interval"`
	MultipartThresholdMB int      `toml:"multipart_threshold_mb" yaml:"multipart_threshold_mb"`
}

// duration is a wrapper around time.Duration that decodes from strings like
// "5m" or "30s" in both TOML and YAML.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port" yaml:"port"`
	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
	APIKey      string   `toml:"api_key" yaml:"api_key"`
	// RateLimit is requests per RateWindow per client; it needs Redis.
	RateLimit  int      `toml:"rate_limit" yaml:"rate_limit"`
	RateWindow duration `toml:"rate_window" yaml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	Console           bool     `toml:"console" yaml:"console"`
	TelegramToken     string   `toml:"telegram_token" yaml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id" yaml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url" yaml:"discord_webhook_url"`
	Events            []string `toml:"events" yaml:"events"`
}

// Defaults returns a Config populated with reasonable default values: an
// in-memory deployment of two venues quoting EOS/BOX, with a stake that
// settles at a profit.
func Defaults() Config {
	return Config{
		Mode:     "trade",
		LogLevel: "info",
		Engine: EngineConfig{
			Account:         "arb.engine",
			FeeRecipient:    "arb.fees",
			LenderAccount:   "flash.loan",
			Venues:          []string{"defibox", "dfs"},
			DefaultContract: "eosio.token",
			Stakes: []StakeConfig{
				{Amount: "10.0000 EOS", Contract: "eosio.token"},
			},
			ScanInterval:      duration{10 * time.Second},
			AttemptsPerMinute: 6,
			LockTTL:           duration{30 * time.Second},
		},
		Sim: SimConfig{
			Pools: []SimPoolConfig{
				{Venue: "defibox", PairID: 194, Reserve0: "1000.0000 EOS", Contract0: "eosio.token", Reserve1: "2000.000000 BOX", Contract1: "token.defi", FeeBps: 30},
				{Venue: "dfs", PairID: 3, Reserve0: "1200.0000 EOS", Contract0: "eosio.token", Reserve1: "2300.000000 BOX", Contract1: "token.defi", FeeBps: 20},
			},
			Balances: []SimBalanceConfig{
				{Account: "flash.loan", Amount: "500.0000 EOS", Contract: "eosio.token"},
			},
		},
		Storage: StorageConfig{
			Backend:    "memory",
			SQLitePath: "ammarb.db",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "ammarb-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays:        90,
			Interval:             duration{24 * time.Hour},
			MultipartThresholdMB: 20,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"settlement_completed", "settlement_failed", "plan_cleared"},
		},
	}
}

var validModes = map[string]bool{
	"scan":   true,
	"trade":  true,
	"server": true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"memory":   true,
	"postgres": true,
	"sqlite":   true,
}

var validEvents = []string{"settlement_completed", "settlement_failed", "plan_cleared"}

// ServesHTTP reports whether the mode runs the API server.
func (c *Config) ServesHTTP() bool { return c.Mode == "server" || c.Mode == "full" }

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, trade, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	e := c.Engine
	if e.Account == "" {
		errs = append(errs, "engine: account must not be empty")
	}
	if e.FeeRecipient == "" {
		errs = append(errs, "engine: fee_recipient must not be empty")
	} else if e.FeeRecipient == e.Account {
		errs = append(errs, "engine: fee_recipient must differ from account")
	}
	if e.LenderAccount == "" {
		errs = append(errs, "engine: lender_account must not be empty")
	}
	if len(e.Venues) == 0 {
		errs = append(errs, "engine: at least one venue must be enabled")
	}
	for _, v := range e.Venues {
		if _, err := exchange.LookupVenue(v); err != nil {
			errs = append(errs, fmt.Sprintf("engine: venue %q is not supported (valid: %s)", v, strings.Join(exchange.VenueIDs(), ", ")))
		}
	}
	if c.Mode == "scan" || c.Mode == "trade" || c.Mode == "full" {
		if len(e.Stakes) == 0 {
			errs = append(errs, "engine: at least one stake is required for mode "+c.Mode)
		}
	}
	for i, s := range e.Stakes {
		req, err := s.Request()
		if err != nil {
			errs = append(errs, fmt.Sprintf("engine.stakes[%d]: %v", i, err))
			continue
		}
		if s.Contract == "" {
			errs = append(errs, fmt.Sprintf("engine.stakes[%d]: contract must not be empty", i))
		}
		if !req.Stake.Quantity.IsPositive() {
			errs = append(errs, fmt.Sprintf("engine.stakes[%d]: amount must be positive", i))
		}
		if req.MinReturn != (domain.Asset{}) && req.MinReturn.Symbol != req.Stake.Quantity.Symbol {
			errs = append(errs, fmt.Sprintf("engine.stakes[%d]: min_return must be in %s", i, req.Stake.Quantity.Symbol))
		}
	}
	if e.ScanInterval.Duration <= 0 {
		errs = append(errs, "engine: scan_interval must be > 0")
	}
	if e.AttemptsPerMinute < 1 {
		errs = append(errs, "engine: attempts_per_minute must be >= 1")
	}

	// Sim
	for i, p := range c.Sim.Pools {
		if _, err := exchange.LookupVenue(p.Venue); err != nil {
			errs = append(errs, fmt.Sprintf("sim.pools[%d]: venue %q is not supported", i, p.Venue))
		}
		if _, _, err := p.Reserves(); err != nil {
			errs = append(errs, fmt.Sprintf("sim.pools[%d]: %v", i, err))
		}
		if p.Contract0 == "" || p.Contract1 == "" {
			errs = append(errs, fmt.Sprintf("sim.pools[%d]: contract0 and contract1 must be set", i))
		}
		if p.FeeBps >= 10000 {
			errs = append(errs, fmt.Sprintf("sim.pools[%d]: fee_bps must be < 10000", i))
		}
	}
	for i, b := range c.Sim.Balances {
		if b.Account == "" {
			errs = append(errs, fmt.Sprintf("sim.balances[%d]: account must not be empty", i))
		}
		if _, err := b.Quantity(); err != nil {
			errs = append(errs, fmt.Sprintf("sim.balances[%d]: %v", i, err))
		}
	}

	// Storage
	backend := strings.ToLower(c.Storage.Backend)
	if !validBackends[backend] {
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: memory, postgres, sqlite)", c.Storage.Backend))
	}
	if backend == "sqlite" && strings.TrimSpace(c.Storage.SQLitePath) == "" {
		errs = append(errs, "storage: sqlite_path must not be empty for the sqlite backend")
	}
	if backend == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 and archive
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}
	if c.Archive.Enabled {
		if !c.S3.Enabled {
			errs = append(errs, "archive: requires s3.enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// Server
	if c.ServesHTTP() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && !c.Redis.Enabled {
			errs = append(errs, "server: rate_limit requires redis.enabled")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	for _, ev := range c.Notify.Events {
		if !slices.Contains(validEvents, ev) {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q (valid: %s)", ev, strings.Join(validEvents, ", ")))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
