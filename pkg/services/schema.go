package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/dialect"
	"github.com/ekaya-inc/ekaya-connect/pkg/logging"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/repositories"
)

// DefaultIgnoredTables hides engine-internal and SQLite bookkeeping tables.
var DefaultIgnoredTables = []string{`^__`, `^sqlite_`}

// SyncSource is one connected data source as seen by the Synchronizer.
type SyncSource struct {
	Name    string // catalog data source name
	Client  datasource.Client
	Dialect dialect.Dialect
}

// Synchronizer copies remote table and column definitions into the catalog.
// It never deletes catalog rows.
type Synchronizer struct {
	catalog repositories.CatalogRepository
	ignored []*regexp.Regexp
	logger  *zap.Logger
}

// NewSynchronizer compiles the ignore patterns up front; an invalid pattern
// is a configuration error. A nil pattern list uses DefaultIgnoredTables.
func NewSynchronizer(catalog repositories.CatalogRepository, ignorePatterns []string, logger *zap.Logger) (*Synchronizer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ignorePatterns == nil {
		ignorePatterns = DefaultIgnoredTables
	}

	ignored := make([]*regexp.Regexp, 0, len(ignorePatterns))
	for _, p := range ignorePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, apperrors.Configuration("invalid ignored table pattern %q: %v", p, err)
		}
		ignored = append(ignored, re)
	}

	return &Synchronizer{
		catalog: catalog,
		ignored: ignored,
		logger:  logger.Named("sync"),
	}, nil
}

func (s *Synchronizer) isIgnored(table string) bool {
	for _, re := range s.ignored {
		if re.MatchString(table) {
			return true
		}
	}
	return false
}

// SyncTables synchronizes the tables in scope. Per-table failures are recorded
// in the report and do not stop the batch. On cancellation the report built so
// far is returned together with an error wrapping the context error.
func (s *Synchronizer) SyncTables(ctx context.Context, source SyncSource, scope models.SyncScope, force bool) (*models.SyncReport, error) {
	report := models.NewSyncReport()

	remote, err := source.Client.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tables of %s: %w", source.Name, err)
	}

	candidates := make([]string, 0, len(remote))
	for _, t := range remote {
		if s.isIgnored(t) {
			report.Ignored = append(report.Ignored, t)
			continue
		}
		candidates = append(candidates, t)
	}

	if !scope.AllTables() {
		requested := make([]string, 0, len(scope.Tables))
		for _, t := range scope.Tables {
			if slices.Contains(requested, t) {
				continue
			}
			switch {
			case slices.Contains(candidates, t):
				requested = append(requested, t)
			case slices.Contains(report.Ignored, t):
			default:
				report.Skipped = append(report.Skipped, t)
			}
		}
		candidates = requested
	}

	s.logger.Info("Starting schema sync",
		zap.String("source", source.Name),
		zap.Int("tables", len(candidates)),
		zap.Int("ignored", len(report.Ignored)),
		zap.Bool("force", force))

	for i, table := range candidates {
		if err := ctx.Err(); err != nil {
			return report, s.cancelled(source.Name, len(candidates)-i, err)
		}

		synced, err := s.syncTable(ctx, source, table, force)
		switch {
		case err != nil && ctx.Err() != nil:
			return report, s.cancelled(source.Name, len(candidates)-i, ctx.Err())
		case err != nil:
			s.logger.Warn("Failed to sync table",
				zap.String("source", source.Name),
				zap.String("table", table),
				zap.String("error", logging.SanitizeError(err)))
			report.Failed = append(report.Failed, models.SyncFailure{Table: table, Reason: err.Error()})
		case synced:
			report.Synced = append(report.Synced, table)
		default:
			report.Skipped = append(report.Skipped, table)
		}
	}

	s.logger.Info("Schema sync completed",
		zap.String("source", source.Name),
		zap.Int("synced", len(report.Synced)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("ignored", len(report.Ignored)),
		zap.Int("failed", len(report.Failed)))

	return report, nil
}

// dropPartialTable removes a table row inserted by this sync whose columns
// could not be written. It runs even when ctx is cancelled.
func (s *Synchronizer) dropPartialTable(ctx context.Context, source, table string) {
	err := s.catalog.DeleteTable(context.WithoutCancel(ctx), source, table)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		s.logger.Warn("Failed to drop partially synced table",
			zap.String("source", source),
			zap.String("table", table),
			zap.String("error", logging.SanitizeError(err)))
	}
}

func (s *Synchronizer) cancelled(source string, remaining int, err error) error {
	s.logger.Info("Schema sync cancelled",
		zap.String("source", source),
		zap.Int("remaining", remaining))
	return fmt.Errorf("sync %s cancelled with %d tables remaining: %w", source, remaining, err)
}

// syncTable returns false when the table already exists and force is off.
// A catalog row without columns is a write interrupted between the table and
// its columns; it is introspected again rather than skipped.
func (s *Synchronizer) syncTable(ctx context.Context, source SyncSource, table string, force bool) (bool, error) {
	existing, err := s.catalog.GetSchema(ctx, source.Name, table)
	switch {
	case err == nil && !force && len(existing.Columns) > 0:
		return false, nil
	case err == nil && len(existing.Columns) == 0:
		s.logger.Info("Repairing catalog table without columns",
			zap.String("source", source.Name),
			zap.String("table", table))
	case err != nil && !errors.Is(err, apperrors.ErrNotFound):
		return false, fmt.Errorf("catalog lookup: %w", err)
	}
	isNew := err != nil

	metadata, err := source.Client.ListColumns(ctx, table)
	if err != nil {
		return false, fmt.Errorf("list columns: %w", err)
	}
	if len(metadata) == 0 {
		return false, apperrors.Schema("table %q has no columns", table)
	}

	columns := make([]models.ColumnDescriptor, 0, len(metadata))
	for i, m := range metadata {
		generic, ok := source.Dialect.MapType(m.DataType)
		if !ok {
			s.logger.Warn("Unmapped column type, using String",
				zap.String("source", source.Name),
				zap.String("table", table),
				zap.String("column", m.ColumnName),
				zap.String("native_type", m.DataType))
		}
		position := m.OrdinalPosition
		if position <= 0 {
			position = i + 1
		}
		columns = append(columns, models.ColumnDescriptor{
			Name:       m.ColumnName,
			Label:      models.DeriveLabel(m.ColumnName),
			Type:       generic,
			NativeType: m.DataType,
			Position:   position,
		})
	}

	descriptor := &models.TableDescriptor{
		DataSource:       source.Name,
		RemoteIdentifier: table,
		Label:            models.DeriveLabel(table),
	}
	if err := s.catalog.UpsertTable(ctx, descriptor); err != nil {
		return false, fmt.Errorf("upsert table: %w", err)
	}
	if err := s.catalog.ReplaceColumns(ctx, descriptor.ID, columns); err != nil {
		if isNew {
			s.dropPartialTable(ctx, source.Name, table)
		}
		return false, fmt.Errorf("write columns: %w", err)
	}

	s.logger.Debug("Synced table",
		zap.String("source", source.Name),
		zap.String("table", table),
		zap.Int("columns", len(columns)))
	return true, nil
}
