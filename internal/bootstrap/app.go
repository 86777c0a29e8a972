// Package bootstrap wires storage, the transaction manager and services
// for the binaries.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"txprop/internal/config"
	"txprop/internal/core/tx"
	"txprop/internal/domain/member"
	"txprop/internal/domain/scenario"
	"txprop/internal/infrastructure/metrics"
	"txprop/internal/infrastructure/storage/postgres"
	pgmember "txprop/internal/infrastructure/storage/postgres/member_repo"
	"txprop/internal/infrastructure/storage/sqlite"
	sqlitemember "txprop/internal/infrastructure/storage/sqlite/member_repo"
	"txprop/pkg/logger"
)

// App holds the wired components.
type App struct {
	Config    config.Config
	Log       *logger.Logger
	Manager   *tx.Manager
	Members   *member.Service
	Scenarios *scenario.Runner
	Registry  *prometheus.Registry

	ping    func(ctx context.Context) error
	closers []func()
}

// New connects storage for cfg.StorageDriver and builds the services.
func New(ctx context.Context, cfg config.Config, log *logger.Logger) (*App, error) {
	app := &App{
		Config:   cfg,
		Log:      log,
		Registry: prometheus.NewRegistry(),
	}
	app.Registry.MustRegister(collectors.NewGoCollector())

	var opts []tx.Option
	if cfg.MetricsEnabled {
		opts = append(opts, tx.WithObserver(metrics.NewTxMetrics(app.Registry)))
	}

	var (
		factory tx.ResourceFactory
		members member.Repository
		logs    member.LogRepository
	)

	switch cfg.StorageDriver {
	case config.DriverPostgres:
		poolCfg := postgres.DefaultPoolConfig(cfg.DatabaseURL)
		poolCfg.MaxConns = int32(cfg.DBMaxConns)
		if poolCfg.MinConns > poolCfg.MaxConns {
			poolCfg.MinConns = poolCfg.MaxConns
		}
		pool, err := postgres.NewPool(ctx, poolCfg)
		if err != nil {
			return nil, err
		}
		if cfg.MetricsEnabled {
			metrics.NewPoolMetrics(app.Registry, func() postgres.PoolStats { return postgres.GetPoolStats(pool.Pool) })
		}
		app.closers = append(app.closers, func() {
			postgres.LogPoolStats(context.WithoutCancel(ctx), pool.Pool)
			pool.Close()
		})
		app.ping = pool.Ping

		if err := pgmember.EnsureSchema(ctx, pool); err != nil {
			app.Close()
			return nil, err
		}
		factory = postgres.NewResourceFactory(pool, postgres.FactoryOptions{StatementTimeout: cfg.StatementTimeout})
		members = pgmember.NewMemberRepo(pool)
		logs = pgmember.NewLogRepo(pool)

	case config.DriverSQLite:
		sqlCfg := sqlite.DefaultConfig(cfg.SQLitePath)
		sqlCfg.MaxConns = cfg.DBMaxConns
		db, err := sqlite.Open(ctx, sqlCfg)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() { _ = db.Close() })
		app.ping = db.PingContext

		if err := sqlitemember.EnsureSchema(ctx, db); err != nil {
			app.Close()
			return nil, err
		}
		factory = sqlite.NewResourceFactory(db)
		members = sqlitemember.NewMemberRepo(db)
		logs = sqlitemember.NewLogRepo(db)

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	app.Manager = tx.NewManager(factory, opts...)

	var defaults []tx.Attribute
	if cfg.DefaultTxTimeout > 0 {
		defaults = append(defaults, tx.Attribute{}.WithTimeout(cfg.DefaultTxTimeout))
	}
	app.Members = member.NewService(members, logs, app.Manager, defaults...)
	app.Scenarios = scenario.NewRunner(app.Manager)

	log.Infow("application wired",
		"storage_driver", cfg.StorageDriver,
		"metrics", cfg.MetricsEnabled,
		"default_tx_timeout", cfg.DefaultTxTimeout,
	)
	return app, nil
}

// Ping checks storage connectivity.
func (a *App) Ping(ctx context.Context) error {
	if a.ping == nil {
		return nil
	}
	return a.ping(ctx)
}

// Close releases storage in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
