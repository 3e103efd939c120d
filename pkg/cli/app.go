package cli

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-connect/pkg/adapters/drivers"
	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/config"
	"github.com/ekaya-inc/ekaya-connect/pkg/database"
	"github.com/ekaya-inc/ekaya-connect/pkg/logging"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/repositories"
	"github.com/ekaya-inc/ekaya-connect/pkg/services"
)

// app holds the components one command invocation needs.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	pools   *datasource.ConnectionManager
	db      *database.DB                // postgres catalog only
	store   *repositories.BadgerCatalog // badger catalog only
	catalog repositories.CatalogRepository
	service *services.DatasourceService
}

// loadConfig reads configuration and builds the logger.
func loadConfig(opts *RootOptions) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// newApp wires config, logger, catalog, connection pools and the facade.
func newApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}

	switch cfg.Catalog.Driver {
	case "postgres":
		db, err := openCatalogDB(ctx, cfg, logger)
		if err != nil {
			_ = logger.Sync()
			return nil, err
		}
		if cfg.Catalog.Migrate {
			if err := database.RunMigrations(db, logger); err != nil {
				db.Close()
				return nil, err
			}
		}
		a.db = db
		a.catalog = repositories.NewCatalogRepository(db)
	case "badger":
		store, err := repositories.OpenBadgerCatalog(cfg.Catalog.Path, logger)
		if err != nil {
			_ = logger.Sync()
			return nil, err
		}
		a.store = store
		a.catalog = store
	default:
		a.catalog = repositories.NewMemoryCatalogRepository()
	}

	synchronizer, err := services.NewSynchronizer(a.catalog, cfg.Sync.IgnoredTables, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	a.pools = datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		TTL:          cfg.Datasource.ConnectionTTL,
		MaxPools:     cfg.Datasource.MaxPools,
		PoolMaxConns: cfg.Datasource.PoolMaxConns,
		PoolMinConns: cfg.Datasource.PoolMinConns,
	}, logger)

	factory := datasource.NewFactory(drivers.All(), datasource.Deps{
		Pools:        a.pools,
		Logger:       logger,
		QueryTimeout: cfg.Query.Timeout,
	})
	a.service = services.NewDatasourceService(factory, a.catalog, synchronizer, cfg.Query, logger)
	return a, nil
}

func openCatalogDB(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*database.DB, error) {
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Catalog.ConnectionString(),
		MaxConnections: cfg.Catalog.MaxConnections,
	}, logger.Named("catalog"))
	if err != nil {
		return nil, fmt.Errorf("catalog database %s: %w",
			logging.SanitizeConnectionString(cfg.Catalog.ConnectionString()), err)
	}
	return db, nil
}

// open resolves a configured source by name.
func (a *app) open(name string) (*services.DataSource, error) {
	src, err := a.cfg.Source(name)
	if err != nil {
		return nil, apperrors.Configuration("%v", err)
	}
	return a.service.Open(src)
}

// persistent reports whether the catalog outlives this process.
func (a *app) persistent() bool {
	return a.db != nil || a.store != nil
}

// ensureSynced syncs table on demand when the catalog does not persist between
// runs. Persistent catalogs are left to the sync command.
func (a *app) ensureSynced(ctx context.Context, ds *services.DataSource, table string) error {
	if a.persistent() {
		return nil
	}
	report, err := ds.SyncTables(ctx, models.SyncScope{Tables: []string{table}}, false)
	if err != nil {
		return err
	}
	if len(report.Failed) > 0 {
		return apperrors.Schema("sync %s: %s", report.Failed[0].Table, report.Failed[0].Reason)
	}
	return nil
}

func (a *app) close() {
	var errs []error
	if a.pools != nil {
		stats := a.pools.GetStats()
		a.logger.Debug("Closing connection pools",
			zap.Int("pools", stats.TotalConnections),
			zap.Any("by_type", stats.ConnectionsByType),
			zap.Int("active_leases", stats.ActiveLeases),
			zap.Int("oldest_idle_seconds", stats.OldestIdleSeconds))
		errs = append(errs, a.pools.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.db != nil {
		a.db.Close()
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("Failed to release resources", zap.Error(err))
	}
	_ = a.logger.Sync()
}
