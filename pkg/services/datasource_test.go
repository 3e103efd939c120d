package services

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-connect/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-connect/pkg/adapters/datasource/sqlite"
	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/audit"
	"github.com/ekaya-inc/ekaya-connect/pkg/config"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/repositories"
)

func testQueryConfig() config.QueryConfig {
	return config.QueryConfig{
		DefaultLimit:    1000,
		MaxLimit:        10000,
		Timeout:         5 * time.Second,
		PreviewLimit:    100,
		OptionsLimit:    50,
		OptionsCacheTTL: time.Minute,
	}
}

func newTestService(t *testing.T, drivers []datasource.Driver, queryCfg config.QueryConfig) *DatasourceService {
	t.Helper()
	logger := zaptest.NewLogger(t)
	catalog := repositories.NewMemoryCatalogRepository()
	synchronizer, err := NewSynchronizer(catalog, nil, logger)
	require.NoError(t, err)
	factory := datasource.NewFactory(drivers, datasource.Deps{Logger: logger, QueryTimeout: queryCfg.Timeout})
	return NewDatasourceService(factory, catalog, synchronizer, queryCfg, logger)
}

func postgresConfig() models.ConnectionConfig {
	return models.ConnectionConfig{
		ID:           "shop",
		DatabaseType: models.DatabasePostgreSQL,
		Host:         "db.example.com",
		Username:     "reader",
		DatabaseName: "shop",
	}
}

// openSyncedShop returns a postgres-dialect data source over a fake client with
// orders and customers already synced.
func openSyncedShop(t *testing.T, client *fakeClient, queryCfg config.QueryConfig) (*DataSource, *fakeDriver) {
	t.Helper()
	fd := &fakeDriver{client: client}
	svc := newTestService(t, []datasource.Driver{fd.driver(models.DatabasePostgreSQL)}, queryCfg)

	ds, err := svc.Open(postgresConfig())
	require.NoError(t, err)

	report, err := ds.SyncTables(context.Background(), models.SyncScope{}, false)
	require.NoError(t, err)
	require.Len(t, report.Synced, 2)
	return ds, fd
}

func TestDatasourceService_Open_BigQueryMalformedCredentials(t *testing.T) {
	fd := &fakeDriver{client: shopClient()}
	svc := newTestService(t, []datasource.Driver{fd.driver(models.DatabaseBigQuery)}, testQueryConfig())

	cfg := models.ConnectionConfig{
		Title:                 "warehouse",
		DatabaseType:          models.DatabaseBigQuery,
		StructuredCredentials: `{"type": "service_account", "project_id": `,
	}

	_, err := svc.Open(cfg)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConfiguration))
	assert.Contains(t, err.Error(), "service account is not valid JSON")

	err = svc.TestConnection(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConfiguration))

	assert.Equal(t, 0, fd.openCount(), "driver must not be called for invalid credentials")
}

func TestDatasourceService_Open_UnsupportedType(t *testing.T) {
	svc := newTestService(t, nil, testQueryConfig())

	_, err := svc.Open(postgresConfig())
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConfiguration))
}

func TestDatasourceService_TestConnection(t *testing.T) {
	client := shopClient()
	fd := &fakeDriver{client: client}
	svc := newTestService(t, []datasource.Driver{fd.driver(models.DatabasePostgreSQL)}, testQueryConfig())

	require.NoError(t, svc.TestConnection(context.Background(), postgresConfig()))
	assert.Equal(t, 1, client.closed)

	client.testErr = errors.New("dial tcp 10.0.0.1:5432: connect: connection refused")
	err := svc.TestConnection(context.Background(), postgresConfig())
	require.Error(t, err)
	assert.True(t, apperrors.IsSubkind(err, apperrors.SubkindUnreachable))
}

func TestDataSource_OpensClientOnce(t *testing.T) {
	ds, fd := openSyncedShop(t, shopClient(), testQueryConfig())

	require.NoError(t, ds.TestConnection(context.Background()))
	_, err := ds.Compile(context.Background(), models.QueryRequest{Table: "orders"})
	require.NoError(t, err)

	assert.Equal(t, 1, fd.openCount())

	require.NoError(t, ds.Close())
	require.NoError(t, ds.TestConnection(context.Background()))
	assert.Equal(t, 2, fd.openCount())
}

func TestDataSource_Compile(t *testing.T) {
	ds, _ := openSyncedShop(t, shopClient(), testQueryConfig())

	compiled, err := ds.Compile(context.Background(), models.QueryRequest{
		Table:        "orders",
		GroupBy:      []models.GroupBy{{Column: "created_at", Granularity: models.GranularityMonth}},
		Aggregations: []models.Aggregation{{Column: "total", Function: "sum"}},
		Filters:      []models.Filter{{Column: "total", Operator: models.OpGreater, Value: 10}},
	})
	require.NoError(t, err)

	assert.Contains(t, compiled.Statement.Text, `FROM "orders"`)
	assert.Contains(t, compiled.Statement.Text, `"total" > $1`)
	assert.Contains(t, compiled.Statement.Text, "GROUP BY")
	assert.Equal(t, []any{10}, compiled.Statement.Args)
	assert.Equal(t, 5*time.Second, compiled.Statement.Timeout)
	require.Len(t, compiled.Manifest, 2)
	assert.Equal(t, "created_at__month", compiled.Manifest[0].Name)
	assert.Equal(t, models.TypeDatetime, compiled.Manifest[0].Type)
	assert.Equal(t, "sum_total", compiled.Manifest[1].Name)
}

func TestDataSource_Compile_UnsyncedTable(t *testing.T) {
	ds, _ := openSyncedShop(t, shopClient(), testQueryConfig())

	_, err := ds.Compile(context.Background(), models.QueryRequest{Table: "invoices"})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindSchema))
}

func TestDataSource_Compile_UnknownColumn(t *testing.T) {
	client := shopClient()
	ds, _ := openSyncedShop(t, client, testQueryConfig())

	_, err := ds.ExecuteQuery(context.Background(), models.QueryRequest{
		Table:   "orders",
		Columns: []models.Selection{{Column: "discount"}},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindSchema))
	assert.Contains(t, err.Error(), "discount")
	assert.Empty(t, client.executions(), "nothing may run after a schema error")
}

func TestDataSource_ExecuteQuery(t *testing.T) {
	client := shopClient()
	client.executeFunc = func(stmt models.Statement) (*datasource.QueryResult, error) {
		return &datasource.QueryResult{
			Columns: []string{"id", "total"},
			Rows: []models.Row{
				{{Name: "id", Value: int64(1)}, {Name: "total", Value: 12.5}},
			},
		}, nil
	}
	ds, _ := openSyncedShop(t, client, testQueryConfig())

	result, err := ds.ExecuteQuery(context.Background(), models.QueryRequest{
		Table:   "orders",
		Columns: []models.Selection{{Column: "id"}, {Column: "total"}},
	})
	require.NoError(t, err)
	require.Len(t, result.Columns, 2)
	assert.Equal(t, models.TypeDecimal, result.Columns[1].Type)
	require.Len(t, result.Rows, 1)
	v, _ := result.Rows[0].Get("total")
	assert.Equal(t, 12.5, v)
}

func TestDataSource_ExecuteQuery_ErrorsAreClassifiedNotRetried(t *testing.T) {
	client := shopClient()
	client.executeFunc = func(stmt models.Statement) (*datasource.QueryResult, error) {
		return nil, context.DeadlineExceeded
	}
	ds, _ := openSyncedShop(t, client, testQueryConfig())

	_, err := ds.ExecuteQuery(context.Background(), models.QueryRequest{Table: "orders"})
	require.Error(t, err)
	assert.True(t, apperrors.IsSubkind(err, apperrors.SubkindTimeout))
	assert.Len(t, client.executions(), 1)
}

func TestDataSource_GetColumnOptions_Cached(t *testing.T) {
	client := shopClient()
	client.executeFunc = func(stmt models.Statement) (*datasource.QueryResult, error) {
		return &datasource.QueryResult{
			Columns: []string{"full_name"},
			Rows: []models.Row{
				{{Name: "full_name", Value: "Ada"}},
				{{Name: "full_name", Value: "Grace"}},
			},
		}, nil
	}
	ds, _ := openSyncedShop(t, client, testQueryConfig())
	ctx := context.Background()

	values, err := ds.GetColumnOptions(ctx, "customers", "full_name", models.ColumnOptionsRequest{SearchText: "a"})
	require.NoError(t, err)
	assert.Equal(t, []any{"Ada", "Grace"}, values)
	values[0] = "mutated"

	stmts := client.executions()
	require.Len(t, stmts, 1)
	assert.Contains(t, stmts[0].Text, "SELECT DISTINCT")
	assert.Contains(t, stmts[0].Text, `"full_name" IS NOT NULL`)
	assert.Contains(t, stmts[0].Text, "ILIKE")
	assert.Contains(t, stmts[0].Text, "LIMIT 50")
	assert.Equal(t, []any{"%a%"}, stmts[0].Args)

	cached, err := ds.GetColumnOptions(ctx, "customers", "full_name", models.ColumnOptionsRequest{SearchText: "a"})
	require.NoError(t, err)
	assert.Len(t, client.executions(), 1, "second call should be served from cache")
	assert.Equal(t, []any{"Ada", "Grace"}, cached, "callers must not share the cached slice")

	_, err = ds.GetColumnOptions(ctx, "customers", "full_name", models.ColumnOptionsRequest{SearchText: "a", CaseSensitive: true})
	require.NoError(t, err)
	stmts = client.executions()
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[1].Text, " LIKE ")
	assert.NotContains(t, stmts[1].Text, "ILIKE")
}

func TestDataSource_GetColumnOptions_CacheDisabled(t *testing.T) {
	cfg := testQueryConfig()
	cfg.OptionsCacheTTL = 0

	client := shopClient()
	ds, _ := openSyncedShop(t, client, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := ds.GetColumnOptions(ctx, "customers", "full_name", models.ColumnOptionsRequest{Limit: 5})
		require.NoError(t, err)
	}
	stmts := client.executions()
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0].Text, "LIMIT 5")
}

// createShopDB writes a SQLite file with three items.
func createShopDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL, price REAL, added_at DATETIME);
		INSERT INTO items (id, name, price, added_at) VALUES
			(1, 'Pencil', 0.5, '2024-01-05 10:00:00'),
			(2, 'Notebook', 3.25, '2024-02-11 09:30:00'),
			(3, 'Pen', 1.75, '2024-02-20 16:45:00');`)
	require.NoError(t, err)
	return path
}

func TestDataSource_SQLitePreview(t *testing.T) {
	path := createShopDB(t)
	svc := newTestService(t, []datasource.Driver{sqlite.Driver()}, testQueryConfig())
	ctx := context.Background()

	ds, err := svc.Open(models.ConnectionConfig{
		Title:        "shop",
		DatabaseType: models.DatabaseSQLite,
		DatabaseName: path,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ds.Close() })

	require.NoError(t, ds.TestConnection(ctx))

	report, err := ds.SyncTables(ctx, models.SyncScope{}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"items"}, report.Synced)

	preview, err := ds.GetTablePreview(ctx, "items", 0)
	require.NoError(t, err)

	assert.Equal(t, int64(3), preview.TotalCount)
	require.Len(t, preview.Columns, 4)
	assert.Equal(t, "id", preview.Columns[0].Name)
	assert.Equal(t, models.TypeInteger, preview.Columns[0].Type)
	assert.Equal(t, "name", preview.Columns[1].Name)

	require.Len(t, preview.Rows, 3)
	id, _ := preview.Rows[0].Get("id")
	assert.Equal(t, int64(1), id)
	name, _ := preview.Rows[0].Get("name")
	assert.Equal(t, "Pencil", name)
	price, _ := preview.Rows[1].Get("price")
	assert.Equal(t, 3.25, price)
}

func TestDataSource_SQLitePreview_Limit(t *testing.T) {
	path := createShopDB(t)
	svc := newTestService(t, []datasource.Driver{sqlite.Driver()}, testQueryConfig())
	ctx := context.Background()

	ds, err := svc.Open(models.ConnectionConfig{Title: "shop", DatabaseType: models.DatabaseSQLite, DatabaseName: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ds.Close() })

	_, err = ds.SyncTables(ctx, models.SyncScope{}, false)
	require.NoError(t, err)

	preview, err := ds.GetTablePreview(ctx, "items", 2)
	require.NoError(t, err)
	assert.Len(t, preview.Rows, 2)
	assert.Equal(t, int64(3), preview.TotalCount)

	options, err := ds.GetColumnOptions(ctx, "items", "name", models.ColumnOptionsRequest{SearchText: "pen"})
	require.NoError(t, err)
	assert.Equal(t, []any{"Pen", "Pencil"}, options)
}

func TestDataSource_Compile_AuditsSuspiciousFilterValues(t *testing.T) {
	ds, _ := openSyncedShop(t, shopClient(), testQueryConfig())
	core, recorded := observer.New(zapcore.DebugLevel)
	ds.svc.auditor = audit.NewSecurityAuditor(zap.New(core))

	compiled, err := ds.Compile(context.Background(), models.QueryRequest{
		Table:   "customers",
		Filters: []models.Filter{{Column: "full_name", Operator: models.OpEquals, Value: "1' OR '1'='1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"1' OR '1'='1"}, compiled.Statement.Args)

	entries := recorded.FilterMessage("SQL injection pattern in request value").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "filters[0].value", entries[0].ContextMap()["field"])
}

func newPooledService(t *testing.T, drivers []datasource.Driver, pools *datasource.ConnectionManager) *DatasourceService {
	t.Helper()
	logger := zaptest.NewLogger(t)
	catalog := repositories.NewMemoryCatalogRepository()
	synchronizer, err := NewSynchronizer(catalog, nil, logger)
	require.NoError(t, err)
	factory := datasource.NewFactory(drivers, datasource.Deps{Pools: pools, Logger: logger, QueryTimeout: 5 * time.Second})
	return NewDatasourceService(factory, catalog, synchronizer, testQueryConfig(), logger)
}

func TestDataSource_PooledQueriesOutliveEviction(t *testing.T) {
	pools := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		TTL:             50 * time.Millisecond,
		CleanupInterval: 10 * time.Millisecond,
	}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = pools.Close() })

	svc := newPooledService(t, []datasource.Driver{sqlite.Driver()}, pools)
	ctx := context.Background()

	ds, err := svc.Open(models.ConnectionConfig{Title: "shop", DatabaseType: models.DatabaseSQLite, DatabaseName: createShopDB(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ds.Close() })

	_, err = ds.SyncTables(ctx, models.SyncScope{}, false)
	require.NoError(t, err)
	_, err = ds.GetTablePreview(ctx, "items", 1)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return pools.GetStats().TotalConnections == 0
	}, 2*time.Second, 10*time.Millisecond, "idle pool should be evicted")

	preview, err := ds.GetTablePreview(ctx, "items", 1)
	require.NoError(t, err, "the next query reopens the pool")
	assert.Equal(t, int64(3), preview.TotalCount)
}

func TestDataSource_SyncHoldsPoolLease(t *testing.T) {
	pools := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = pools.Close() })

	client := shopClient()
	var leases []int
	client.onListColumns = func(string) error {
		leases = append(leases, pools.GetStats().ActiveLeases)
		return nil
	}
	fd := &fakeDriver{client: client}
	svc := newPooledService(t, []datasource.Driver{fd.driver(models.DatabasePostgreSQL)}, pools)

	ds, err := svc.Open(postgresConfig())
	require.NoError(t, err)
	_, err = ds.SyncTables(context.Background(), models.SyncScope{}, false)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 1}, leases)
	assert.Equal(t, 0, pools.GetStats().ActiveLeases)
	assert.Equal(t, 1, client.closed, "pooled client is released after the call")
}

func TestDataSource_Compile_AuditsSuspiciousRawFormats(t *testing.T) {
	ds, _ := openSyncedShop(t, shopClient(), testQueryConfig())
	core, recorded := observer.New(zapcore.DebugLevel)
	ds.svc.auditor = audit.NewSecurityAuditor(zap.New(core))

	_, err := ds.Compile(context.Background(), models.QueryRequest{
		Table: "orders",
		GroupBy: []models.GroupBy{{
			Column:      "created_at",
			Granularity: models.GranularityRaw,
			Format:      "' OR '1'='1",
		}},
	})
	require.Error(t, err, "the format parser still rejects the quote")
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidQuery))

	entries := recorded.FilterMessage("SQL injection pattern in request value").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "group_by[0].format", entries[0].ContextMap()["field"])
}
