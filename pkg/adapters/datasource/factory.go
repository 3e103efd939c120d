package datasource

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/logging"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// Factory resolves drivers and opens clients. The driver table is fixed at
// construction; there is no global registry.
type Factory struct {
	drivers map[models.DatabaseType]Driver
	deps    Deps
	logger  *zap.Logger
}

// NewFactory builds a factory over an explicit driver list. A later driver for
// the same type replaces an earlier one.
func NewFactory(drivers []Driver, deps Deps) *Factory {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	f := &Factory{
		drivers: make(map[models.DatabaseType]Driver, len(drivers)),
		deps:    deps,
		logger:  deps.Logger.Named("datasource"),
	}
	for _, d := range drivers {
		f.drivers[d.Type] = d
	}
	return f
}

// Driver returns the driver for t. MySQL resolves to the MariaDB driver unless
// one is registered under MySQL itself.
func (f *Factory) Driver(t models.DatabaseType) (Driver, error) {
	if d, ok := f.drivers[t]; ok {
		return d, nil
	}
	if t == models.DatabaseMySQL {
		if d, ok := f.drivers[models.DatabaseMariaDB]; ok {
			return d, nil
		}
	}
	return Driver{}, apperrors.Configuration("unsupported database type: %s", t)
}

// Deps returns the shared resources passed to every driver.
func (f *Factory) Deps() Deps {
	return f.deps
}

// Types lists the database types the factory can open.
func (f *Factory) Types() []models.DatabaseType {
	types := make([]models.DatabaseType, 0, len(f.drivers))
	for t := range f.drivers {
		types = append(types, t)
	}
	return types
}

// Open validates cfg and builds a client without testing it.
func (f *Factory) Open(ctx context.Context, cfg models.ConnectionConfig) (Client, Driver, error) {
	validated, err := cfg.Validated()
	if err != nil {
		return nil, Driver{}, err
	}
	driver, err := f.Driver(validated.DatabaseType)
	if err != nil {
		return nil, Driver{}, err
	}

	client, err := driver.Open(ctx, validated, f.deps)
	if err != nil {
		return nil, driver, ClassifyConnectionError(err, driver.IsAuthError)
	}
	return client, driver, nil
}

// Connect validates cfg, opens a client and tests it so callers fail fast on
// unreachable hosts or rejected credentials.
func (f *Factory) Connect(ctx context.Context, cfg models.ConnectionConfig) (Client, error) {
	client, driver, err := f.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := client.TestConnection(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			f.logger.Warn("failed to close client after failed connection test",
				zap.String("source", cfg.Name()),
				zap.String("error", logging.SanitizeError(closeErr)),
			)
		}
		classified := ClassifyConnectionError(err, driver.IsAuthError)
		f.logger.Warn("connection test failed",
			zap.String("source", cfg.Name()),
			zap.String("type", string(driver.Type)),
			zap.String("error", logging.SanitizeError(classified)),
		)
		return nil, fmt.Errorf("connect to %s: %w", cfg.Name(), classified)
	}
	return client, nil
}
