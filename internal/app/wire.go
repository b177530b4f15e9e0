package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clobx/clobd/internal/cache/redis"
	"github.com/clobx/clobd/internal/config"
	"github.com/clobx/clobd/internal/crypto"
	"github.com/clobx/clobd/internal/heightmonitor"
	"github.com/clobx/clobd/internal/matching"
	"github.com/clobx/clobd/internal/server"
	"github.com/clobx/clobd/internal/server/handler"
	"github.com/clobx/clobd/internal/server/ws"
	"github.com/clobx/clobd/internal/settlement"
	"github.com/clobx/clobd/internal/store/memstore"
	"github.com/clobx/clobd/internal/store/postgres"
)

// Dependencies bundles every long-lived component the daemon wires together:
// durable storage, hot cache, the matching engine, the height monitor, the
// settlement bridge, the live orderbook feed, and the HTTP API.
type Dependencies struct {
	Postgres *postgres.Client
	Redis    *redis.Client

	Store    *memstore.Store
	TradeLog *memstore.TradeLog

	Settlement *settlement.Bridge
	Hub        *ws.Hub
	Engine     *matching.Engine
	Monitor    *heightmonitor.Monitor
	Server     *server.Server
}

// Wire constructs every Dependencies member from cfg. The returned closer
// releases the Postgres pool and Redis connection; callers invoke it once the
// daemon is done. When Wire returns an error it has already closed whatever
// it opened, and the returned closer is nil.
func Wire(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	pg, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("app: connect postgres: %w", err)
	}
	closers = append(closers, pg.Close)

	if cfg.Postgres.RunMigrations {
		if err := pg.RunMigrations(ctx); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("app: run migrations: %w", err)
		}
	}
	mirror := postgres.NewMirror(pg.Pool())

	rdb, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("app: connect redis: %w", err)
	}
	closers = append(closers, func() { _ = rdb.Close() })

	locks := redis.NewLockManager(rdb)
	obCache := redis.NewOrderbookCache(rdb)
	rateLimiter := redis.NewRateLimiter(rdb)

	store := memstore.New(locks, obCache, mirror, logger)
	tradeLog := memstore.NewTradeLog()

	logger.InfoContext(ctx, "app: restoring markets and resting orders from durable mirror")
	if err := store.RestoreFromPersistence(ctx); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("app: restore from persistence: %w", err)
	}

	var bridge *settlement.Bridge
	if cfg.SettlementEnabled() {
		operatorKey, err := crypto.LoadKey(crypto.KeyConfig{RawPrivateKey: cfg.Settlement.OperatorPrivateKey})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("app: load operator key: %w", err)
		}
		bridge = settlement.New(settlement.Config{
			NodeAPIURL:         cfg.Stacks.APIURL,
			ContractAddress:    cfg.Settlement.ContractAddress,
			ContractName:       cfg.Settlement.ContractName,
			OperatorPrivateKey: crypto.KeyConfig{RawPrivateKey: operatorKey},
			BroadcastTimeout:   cfg.Settlement.BroadcastTimeout.Duration,
			DedupTTL:           5 * time.Minute,
		})
	} else {
		logger.WarnContext(ctx, "app: settlement bridge disabled, trades will record without a txHash")
		bridge = settlement.New(settlement.Config{})
	}

	hub := ws.NewHub(logger)

	engine := matching.New(store, store, tradeLog, bridge, hub, cfg.Matching.TickInterval.Duration, logger)

	heightSource := heightmonitor.NewHTTPHeightSource(cfg.Stacks.APIURL, 5*time.Second)
	monitor := heightmonitor.New(heightSource, store, store, logger)

	srv := server.NewServer(
		server.Config{
			Port:            cfg.Server.Port,
			CORSOrigins:     cfg.Server.CORSOrigins,
			AdminAPIKey:     cfg.Admin.APIKey,
			RateLimiter:     rateLimiter,
			RateLimit:       cfg.Server.RateLimitPerMin,
			RateLimitWindow: time.Minute,
		},
		server.Handlers{
			Health:      handler.NewHealthHandler(),
			Markets:     handler.NewMarketHandler(store, store, tradeLog, logger),
			Orders:      handler.NewOrderHandler(store, logger),
			Orderbook:   handler.NewOrderbookHandler(store, store, tradeLog, logger),
			SmartOrders: handler.NewSmartOrderHandler(store, store, logger),
			Admin:       handler.NewAdminHandler(tradeLog, store, bridge, logger),
		},
		hub,
		logger,
	)

	deps := &Dependencies{
		Postgres:   pg,
		Redis:      rdb,
		Store:      store,
		TradeLog:   tradeLog,
		Settlement: bridge,
		Hub:        hub,
		Engine:     engine,
		Monitor:    monitor,
		Server:     srv,
	}

	return deps, closeAll, nil
}
