// Package app assembles the inventory core from configuration. The server,
// worker and seed commands share it.
package app

import (
	"context"
	"fmt"

	"lotledger/internal/config"
	"lotledger/internal/core/idempotency"
	"lotledger/internal/core/lock"
	"lotledger/internal/core/tx"
	"lotledger/internal/domain/adjuster"
	"lotledger/internal/domain/batches"
	"lotledger/internal/domain/catalog"
	"lotledger/internal/domain/ledger"
	"lotledger/internal/domain/reports"
	"lotledger/internal/domain/stockstatus"
	"lotledger/internal/infrastructure/cache"
	"lotledger/internal/infrastructure/http/v1/handlers"
	"lotledger/internal/infrastructure/storage/memory"
	"lotledger/internal/infrastructure/storage/postgres"
	"lotledger/pkg/logger"
)

// App holds the wired services.
type App struct {
	Config *config.Config
	Log    *logger.Logger

	Products    catalog.ProductCatalog
	Batches     *batches.Service
	Ledger      *ledger.Service
	Adjuster    *adjuster.Adjuster
	Stock       *stockstatus.Service
	Reports     *reports.Service
	Idempotency idempotency.Store

	// SaveProduct writes a catalog product. Only seeding uses it.
	SaveProduct func(ctx context.Context, p catalog.Product) (catalog.Product, error)

	HealthChecks map[string]handlers.Check

	// Pool is nil when running on the in-memory store.
	Pool *postgres.Pool

	closers []func()
}

// storage is the set of repositories one backend provides.
type storage struct {
	txm         tx.Manager
	batchRepo   batches.Repository
	ledgerRepo  ledger.Repository
	products    catalog.ProductCatalog
	save        func(ctx context.Context, p catalog.Product) (catalog.Product, error)
	auditor     batches.Auditor
	idempotency idempotency.Store
}

// New connects to the configured backends and wires the services.
// Without database.url the core runs on the in-memory store.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, HealthChecks: make(map[string]handlers.Check)}

	st, err := a.openStorage(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	locker, stockCache, err := a.openCache(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	settings := config.NewSettings(cfg.Inventory)
	batchOpts := []batches.Option{}
	if st.auditor != nil {
		batchOpts = append(batchOpts, batches.WithAuditor(st.auditor))
	}

	a.Products = st.products
	a.SaveProduct = st.save
	a.Idempotency = st.idempotency
	a.Batches = batches.NewService(st.batchRepo, st.products, batchOpts...)
	a.Ledger = ledger.NewService(st.ledgerRepo)
	a.Adjuster = adjuster.New(adjuster.Deps{
		TxManager: st.txm,
		Batches:   a.Batches,
		BatchRepo: st.batchRepo,
		Ledger:    a.Ledger,
		Products:  st.products,
		Settings:  settings,
		Locker:    locker,
		Cache:     stockCache,
	}, adjuster.Config{
		LockTimeout:  cfg.Inventory.LockTimeout,
		MaxRetries:   cfg.Inventory.MaxRetries,
		RetryBackoff: cfg.Inventory.RetryBackoff,
	})
	a.Stock = stockstatus.NewService(st.batchRepo, st.products, settings, stockstatus.WithCache(stockCache))
	a.Reports = reports.NewService(st.txm, a.Ledger, st.batchRepo, st.products)

	return a, nil
}

func (a *App) openStorage(ctx context.Context) (*storage, error) {
	cfg := a.Config.Database
	if cfg.URL == "" {
		logger.Warn(ctx, "database.url is empty, using the in-memory store")
		store := memory.New()
		return &storage{
			txm:        store.TxManager(),
			batchRepo:  store.Batches(),
			ledgerRepo: store.Ledger(),
			products:   store.Catalog(),
			save: func(_ context.Context, p catalog.Product) (catalog.Product, error) {
				return store.Catalog().PutProduct(p), nil
			},
			idempotency: memory.NewIdempotencyStore(idempotency.DefaultTTL, nil),
		}, nil
	}

	poolCfg := postgres.DefaultPoolConfig(cfg.URL)
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.Pool = pool
	a.closers = append(a.closers, pool.Close)
	a.HealthChecks["database"] = func(ctx context.Context) error { return pool.Ping(ctx) }

	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	txm := postgres.NewTxManager(pool, postgres.WithStatementTimeout(cfg.StatementTimeout))
	audit, err := postgres.NewAuditService(txm)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, audit.Close)

	products := postgres.NewProductRepo(txm)
	return &storage{
		txm:         txm,
		batchRepo:   postgres.NewBatchRepo(txm),
		ledgerRepo:  postgres.NewLedgerRepo(txm),
		products:    products,
		save:        products.Upsert,
		auditor:     audit,
		idempotency: postgres.NewIdempotencyStore(txm, idempotency.DefaultTTL),
	}, nil
}

// openCache picks the product lock and stock cache. Redis serves both when
// configured; otherwise locks are in-process and totals are cached locally,
// invalidated by ledger notifications when PostgreSQL is in use.
func (a *App) openCache(ctx context.Context) (lock.Locker, stockstatus.StockCache, error) {
	cfg := a.Config.Redis
	if cfg.Enabled() {
		client, err := cache.NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.HealthChecks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		return cache.NewRedisLocker(client), cache.NewRedisStockCache(client, cfg.CacheTTL), nil
	}

	var opts []cache.LocalOption
	if a.Pool != nil {
		opts = append(opts, cache.WithNotifications(a.Pool.Pool))
	}
	local := cache.NewLocalStockCache(cfg.CacheTTL, opts...)
	local.Start(ctx)
	a.closers = append(a.closers, local.Stop)
	return lock.NewKeyedMutex(), local, nil
}

// Close releases backends in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
