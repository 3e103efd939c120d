package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/audit"
	"github.com/ekaya-inc/ekaya-connect/pkg/config"
	"github.com/ekaya-inc/ekaya-connect/pkg/dialect"
	"github.com/ekaya-inc/ekaya-connect/pkg/logging"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/repositories"
	sqlc "github.com/ekaya-inc/ekaya-connect/pkg/sql"
)

const (
	defaultPreviewLimit = 100
	defaultOptionsLimit = 50
)

// DatasourceService opens data sources and runs connection tests.
type DatasourceService struct {
	factory  *datasource.Factory
	catalog  repositories.CatalogRepository
	sync     *Synchronizer
	compiler sqlc.Compiler
	query    config.QueryConfig
	options  *cache.Cache // nil when option caching is disabled
	auditor  *audit.SecurityAuditor
	logger   *zap.Logger
}

// NewDatasourceService wires the facade. A zero OptionsCacheTTL disables the
// column-options cache.
func NewDatasourceService(
	factory *datasource.Factory,
	catalog repositories.CatalogRepository,
	synchronizer *Synchronizer,
	queryCfg config.QueryConfig,
	logger *zap.Logger,
) *DatasourceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queryCfg.PreviewLimit <= 0 {
		queryCfg.PreviewLimit = defaultPreviewLimit
	}
	if queryCfg.OptionsLimit <= 0 {
		queryCfg.OptionsLimit = defaultOptionsLimit
	}

	s := &DatasourceService{
		factory: factory,
		catalog: catalog,
		sync:    synchronizer,
		compiler: sqlc.Compiler{
			DefaultLimit: queryCfg.DefaultLimit,
			MaxLimit:     queryCfg.MaxLimit,
		},
		query:   queryCfg,
		auditor: audit.NewSecurityAuditor(logger),
		logger:  logger.Named("datasource"),
	}
	if queryCfg.OptionsCacheTTL > 0 {
		s.options = cache.New(queryCfg.OptionsCacheTTL, 2*queryCfg.OptionsCacheTTL)
	}
	return s
}

// TestConnection validates cfg, connects, runs the lightweight call and closes.
func (s *DatasourceService) TestConnection(ctx context.Context, cfg models.ConnectionConfig) error {
	client, err := s.factory.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	if err := client.Close(); err != nil {
		s.logger.Warn("Failed to close client after connection test",
			zap.String("source", cfg.Name()),
			zap.String("error", logging.SanitizeError(err)))
	}
	return nil
}

// Open validates cfg and resolves its dialect and driver. No remote call is made;
// the client is opened on first use.
func (s *DatasourceService) Open(cfg models.ConnectionConfig) (*DataSource, error) {
	validated, err := cfg.Validated()
	if err != nil {
		return nil, err
	}
	driver, err := s.factory.Driver(validated.DatabaseType)
	if err != nil {
		return nil, err
	}
	return &DataSource{
		svc:     s,
		cfg:     validated,
		name:    validated.Name(),
		driver:  driver,
		dialect: driver.Dialect,
		logger:  s.logger.With(zap.String("source", validated.Name())),
	}, nil
}

// DataSource is an opened, configured data source. Methods are safe for
// concurrent use.
type DataSource struct {
	svc     *DatasourceService
	cfg     models.ConnectionConfig
	name    string
	driver  datasource.Driver
	dialect dialect.Dialect
	logger  *zap.Logger

	mu     sync.Mutex
	client datasource.Client // unpooled sources only
}

// Name is the catalog name of the data source.
func (d *DataSource) Name() string { return d.name }

// Key identifies the data source's connection for pooling and task serialization.
func (d *DataSource) Key() string { return d.cfg.Key() }

// Dialect returns the dialect resolved at Open.
func (d *DataSource) Dialect() dialect.Dialect { return d.dialect }

// withClient runs fn against a client for the data source.
//
// With a connection manager the client is reopened for every call: opening
// goes through GetOrCreate, which health checks the shared pool and resets its
// idle clock, and the key stays leased until fn returns so a long sync cannot
// lose its pool to TTL eviction. Without one, the client is opened once and
// kept until Close.
func (d *DataSource) withClient(ctx context.Context, fn func(datasource.Client) error) error {
	deps := d.svc.factory.Deps()
	if deps.Pools == nil {
		client, err := d.cachedClient(ctx)
		if err != nil {
			return err
		}
		return fn(client)
	}

	release := deps.Pools.Lease(d.cfg.Key())
	defer release()

	client, err := d.driver.Open(ctx, d.cfg, deps)
	if err != nil {
		return datasource.ClassifyConnectionError(err, d.driver.IsAuthError)
	}
	defer func() {
		if err := client.Close(); err != nil {
			d.logger.Warn("Failed to close pooled client",
				zap.String("error", logging.SanitizeError(err)))
		}
	}()
	return fn(client)
}

func (d *DataSource) cachedClient(ctx context.Context) (datasource.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client != nil {
		return d.client, nil
	}
	client, err := d.driver.Open(ctx, d.cfg, d.svc.factory.Deps())
	if err != nil {
		return nil, datasource.ClassifyConnectionError(err, d.driver.IsAuthError)
	}
	d.client = client
	return client, nil
}

// Close releases an unpooled data source's client. The data source can be
// reused; the next call reopens it. Pooled clients are released per call.
func (d *DataSource) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	return err
}

// TestConnection runs the driver's lightweight remote call.
func (d *DataSource) TestConnection(ctx context.Context) error {
	return d.withClient(ctx, func(client datasource.Client) error {
		if err := client.TestConnection(ctx); err != nil {
			return datasource.ClassifyConnectionError(err, d.driver.IsAuthError)
		}
		return nil
	})
}

// SyncTables synchronizes remote tables into the catalog.
func (d *DataSource) SyncTables(ctx context.Context, scope models.SyncScope, force bool) (*models.SyncReport, error) {
	var report *models.SyncReport
	err := d.withClient(ctx, func(client datasource.Client) error {
		var err error
		report, err = d.svc.sync.SyncTables(ctx, SyncSource{
			Name:    d.name,
			Client:  client,
			Dialect: d.dialect,
		}, scope, force)
		return err
	})
	return report, err
}

// Schema returns the catalog snapshot of a synchronized table.
func (d *DataSource) Schema(ctx context.Context, table string) (*models.TableSchema, error) {
	schema, err := d.svc.catalog.GetSchema(ctx, d.name, table)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Schema("table %q is not in the catalog of %s; sync it first", table, d.name)
		}
		return nil, fmt.Errorf("load schema of %s: %w", table, err)
	}
	return schema, nil
}

// Compile renders req against the catalog without executing it.
func (d *DataSource) Compile(ctx context.Context, req models.QueryRequest) (*models.CompiledQuery, error) {
	schema, err := d.Schema(ctx, req.Table)
	if err != nil {
		return nil, err
	}

	for _, hit := range sqlc.ScreenRequest(req) {
		d.svc.auditor.LogInjectionAttempt(d.name, req.Table, hit)
	}

	compiled, err := d.svc.compiler.Compile(req, d.dialect, *schema)
	if err != nil {
		return nil, err
	}
	compiled.Statement.Timeout = d.svc.query.Timeout
	return compiled, nil
}

// ExecuteQuery compiles and runs req. Execution errors are never retried.
func (d *DataSource) ExecuteQuery(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error) {
	compiled, err := d.Compile(ctx, req)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := d.execute(ctx, compiled.Statement)
	if err != nil {
		return nil, err
	}
	d.svc.auditor.LogQueryExecution(d.name, req.Table, compiled.Statement.Text, len(rows), time.Since(start))
	return &models.QueryResult{Columns: compiled.Manifest, Rows: rows}, nil
}

func (d *DataSource) execute(ctx context.Context, stmt models.Statement) ([]models.Row, error) {
	var result *datasource.QueryResult
	start := time.Now()
	err := d.withClient(ctx, func(client datasource.Client) error {
		var err error
		result, err = client.Execute(ctx, stmt)
		if err != nil {
			return datasource.ClassifyExecutionError(err, stmt.Text, d.driver.IsSyntaxError)
		}
		return nil
	})
	if err != nil {
		d.logger.Warn("Query execution failed",
			zap.String("query", logging.SanitizeQuery(stmt.Text)),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, err
	}

	d.logger.Debug("Query executed",
		zap.String("query", logging.SanitizeQuery(stmt.Text)),
		zap.Int("rows", len(result.Rows)),
		zap.Duration("elapsed", time.Since(start)))

	if result.Rows == nil {
		return []models.Row{}, nil
	}
	return result.Rows, nil
}

// GetTablePreview returns up to limit rows of every catalog column plus the
// table's row count. The sample and the count are separate reads and may
// disagree under concurrent writes.
func (d *DataSource) GetTablePreview(ctx context.Context, table string, limit int) (*models.TablePreview, error) {
	if limit <= 0 {
		limit = d.svc.query.PreviewLimit
	}

	sample, err := d.ExecuteQuery(ctx, models.QueryRequest{Table: table, Limit: limit})
	if err != nil {
		return nil, err
	}

	count, err := d.ExecuteQuery(ctx, models.QueryRequest{
		Table:        table,
		Aggregations: []models.Aggregation{{Function: "count"}},
	})
	if err != nil {
		return nil, err
	}

	var total int64
	if len(count.Rows) > 0 {
		v, _ := count.Rows[0].Get("count")
		total, err = toInt64(v)
		if err != nil {
			return nil, apperrors.Execution("", "", fmt.Errorf("read row count of %s: %w", table, err))
		}
	}

	return &models.TablePreview{
		Columns:    sample.Columns,
		Rows:       sample.Rows,
		TotalCount: total,
	}, nil
}

// GetColumnOptions returns distinct non-null values of a column in ascending
// order, optionally narrowed by a substring search. Results are cached per
// source, table, column and request.
func (d *DataSource) GetColumnOptions(ctx context.Context, table, column string, req models.ColumnOptionsRequest) ([]any, error) {
	if req.Limit <= 0 {
		req.Limit = d.svc.query.OptionsLimit
	}

	cacheKey := optionsCacheKey(d.name, table, column, req)
	if d.svc.options != nil {
		if cached, ok := d.svc.options.Get(cacheKey); ok {
			return slices.Clone(cached.([]any)), nil
		}
	}

	filters := []models.Filter{{Column: column, Operator: models.OpIsNotNull}}
	if req.SearchText != "" {
		filters = append(filters, models.Filter{
			Column:          column,
			Operator:        models.OpContains,
			Value:           req.SearchText,
			CaseInsensitive: !req.CaseSensitive,
		})
	}

	result, err := d.ExecuteQuery(ctx, models.QueryRequest{
		Table:    table,
		Columns:  []models.Selection{{Column: column}},
		Filters:  filters,
		OrderBy:  []models.OrderBy{{Column: column}},
		Limit:    req.Limit,
		Distinct: true,
	})
	if err != nil {
		return nil, err
	}

	values := make([]any, 0, len(result.Rows))
	for _, row := range result.Rows {
		if v, ok := row.Get(column); ok {
			values = append(values, v)
		}
	}

	if d.svc.options != nil {
		d.svc.options.SetDefault(cacheKey, slices.Clone(values))
	}
	return values, nil
}

func optionsCacheKey(source, table, column string, req models.ColumnOptionsRequest) string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%d\x00%t",
		source, table, column, req.SearchText, req.Limit, req.CaseSensitive)
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected count type %T", v)
	}
}
