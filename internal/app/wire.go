package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/alanyoungcy/ammarb/internal/arbitrage"
	s3blob "github.com/alanyoungcy/ammarb/internal/blob/s3"
	"github.com/alanyoungcy/ammarb/internal/cache/local"
	"github.com/alanyoungcy/ammarb/internal/cache/redis"
	"github.com/alanyoungcy/ammarb/internal/config"
	"github.com/alanyoungcy/ammarb/internal/domain"
	"github.com/alanyoungcy/ammarb/internal/exchange"
	"github.com/alanyoungcy/ammarb/internal/notify"
	"github.com/alanyoungcy/ammarb/internal/server/handler"
	"github.com/alanyoungcy/ammarb/internal/service"
	"github.com/alanyoungcy/ammarb/internal/settlement"
	"github.com/alanyoungcy/ammarb/internal/sim"
	"github.com/alanyoungcy/ammarb/internal/store/memory"
	"github.com/alanyoungcy/ammarb/internal/store/postgres"
	"github.com/alanyoungcy/ammarb/internal/store/sqlite"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Simulated chain: ledger, venues and lender.
	Network *sim.Network

	// Quoting
	Registry domain.PairRegistry
	Venues   *exchange.Dispatcher
	Finder   *arbitrage.Finder

	// Stores
	Plans       domain.PlanStore
	Settlements domain.SettlementStore
	AuditStore  domain.AuditStore

	// Caches
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Blob storage; Blobs is nil unless s3 is enabled, Archiver unless
	// archiving is too.
	Blobs    domain.BlobReader
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
	Console  *notify.Console

	Service *service.SettlementService
	Engine  *settlement.Engine

	// Health lists a ping per external dependency for GET /api/health.
	Health map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Health: make(map[string]handler.HealthCheck)}

	// --- Simulated ledger and venues ---
	network, err := buildNetwork(cfg, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: network: %w", err))
	}
	deps.Network = network

	// --- Stores ---
	switch strings.ToLower(cfg.Storage.Backend) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		if err := pgClient.Verify(ctx); err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}

		pool := pgClient.Pool()
		pairs := postgres.NewPairStore(pool)
		for _, p := range network.Pairs() {
			if err := pairs.Upsert(ctx, p); err != nil {
				return fail(fmt.Errorf("wire: seed pairs: %w", err))
			}
		}
		deps.Registry = pairs
		deps.Plans = postgres.NewPlanStore(pool)
		deps.Settlements = postgres.NewSettlementStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pool.Ping

	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.Plans = sqlite.NewPlanStore(db)
		deps.Settlements = sqlite.NewSettlementStore(db)
		deps.AuditStore = sqlite.NewAuditStore(db)
		deps.Health["sqlite"] = db.Ping

	default:
		deps.Plans = memory.NewPlanStore()
		deps.Settlements = memory.NewSettlementStore()
		deps.AuditStore = memory.NewAuditStore()
	}
	if deps.Registry == nil {
		deps.Registry = exchange.NewStaticRegistry(network.Pairs())
	}

	// --- Redis (optional): plan slot, settlement lock, bus, API rate limit ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Prefix:     cfg.Redis.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Plans = redis.NewPlanStore(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Health["redis"] = redisClient.Ping
	} else {
		deps.SignalBus = local.NewSignalBus()
	}

	// --- S3 blob storage (only when archiving) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Health["s3"] = s3Client.Health
		deps.Blobs = s3blob.NewReader(s3Client)

		if cfg.Archive.Enabled {
			deps.Archiver = s3blob.NewArchiver(s3blob.ArchiverConfig{
				Writer:             s3blob.NewWriter(s3Client),
				Reader:             deps.Blobs,
				Settlements:        deps.Settlements,
				Audit:              deps.AuditStore,
				MultipartThreshold: int64(cfg.Archive.MultipartThresholdMB) << 20,
				Logger:             logger,
			})
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
			"",
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if cfg.Notify.Console || cfg.Mode == "scan" {
		deps.Console = notify.NewConsole()
	}
	if cfg.Notify.Console {
		senders = append(senders, deps.Console)
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Quoting ---
	adapters, err := network.Adapters(deps.Registry)
	if err != nil {
		return fail(fmt.Errorf("wire: adapters: %w", err))
	}
	deps.Venues = exchange.NewDispatcher()
	for _, a := range adapters {
		if slices.Contains(cfg.Engine.Venues, a.ID()) {
			deps.Venues.Register(a)
		}
	}
	deps.Finder = arbitrage.NewFinder(
		arbitrage.NewAggregator(deps.Venues, logger),
		arbitrage.NewSelector(deps.Venues, logger),
	)

	// --- Settlement ---
	deps.Service = service.NewSettlementService(deps.Settlements, deps.SignalBus, deps.AuditStore, deps.Notifier, logger)
	engine, err := settlement.NewEngine(settlement.Config{
		Account:      cfg.Engine.Account,
		FeeRecipient: cfg.Engine.FeeRecipient,
		Finder:       deps.Finder,
		Venues:       deps.Venues,
		Ledger:       network.Ledger,
		Lender:       network.Lender,
		Plans:        deps.Plans,
		Locks:        deps.LockManager,
		LockTTL:      cfg.Engine.LockTTL.Duration,
		Recorder:     deps.Service,
		Logger:       logger,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: engine: %w", err))
	}
	network.Ledger.Subscribe(engine.Account(), engine)
	deps.Engine = engine

	return deps, cleanup, nil
}

// buildNetwork seeds the ledger from the sim section, grouping pools by venue
// in first-seen order.
func buildNetwork(cfg *config.Config, logger *slog.Logger) (*sim.Network, error) {
	var venues []sim.VenuePools
	index := make(map[string]int)
	for i, p := range cfg.Sim.Pools {
		r0, r1, err := p.Reserves()
		if err != nil {
			return nil, fmt.Errorf("sim.pools[%d]: %w", i, err)
		}
		spec := sim.PoolSpec{PairID: p.PairID, Reserve0: r0, Reserve1: r1, FeeBps: p.FeeBps}
		j, ok := index[p.Venue]
		if !ok {
			j = len(venues)
			index[p.Venue] = j
			venues = append(venues, sim.VenuePools{Venue: p.Venue})
		}
		venues[j].Pools = append(venues[j].Pools, spec)
	}

	balances := make([]sim.Balance, 0, len(cfg.Sim.Balances))
	for i, b := range cfg.Sim.Balances {
		q, err := b.Quantity()
		if err != nil {
			return nil, fmt.Errorf("sim.balances[%d]: %w", i, err)
		}
		balances = append(balances, sim.Balance{Account: b.Account, Quantity: q})
	}

	return sim.NewNetwork(sim.NetworkConfig{
		LenderAccount: cfg.Engine.LenderAccount,
		Venues:        venues,
		Balances:      balances,
	}, logger)
}
