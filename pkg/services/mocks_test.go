package services

import (
	"context"
	"sync"

	"github.com/ekaya-inc/ekaya-connect/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-connect/pkg/dialect"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// fakeClient is an in-memory datasource.Client with call capture.
type fakeClient struct {
	mu sync.Mutex

	tables     []string
	columns    map[string][]datasource.ColumnMetadata
	columnErrs map[string]error
	listErr    error
	testErr    error

	// onListColumns runs before each ListColumns call returns.
	onListColumns func(table string) error
	executeFunc   func(stmt models.Statement) (*datasource.QueryResult, error)

	listColumnsCalls []string
	executed         []models.Statement
	closed           int
}

var _ datasource.Client = (*fakeClient)(nil)

func (c *fakeClient) TestConnection(ctx context.Context) error {
	return c.testErr
}

func (c *fakeClient) Execute(ctx context.Context, stmt models.Statement) (*datasource.QueryResult, error) {
	c.mu.Lock()
	c.executed = append(c.executed, stmt)
	c.mu.Unlock()

	if c.executeFunc != nil {
		return c.executeFunc(stmt)
	}
	return &datasource.QueryResult{}, nil
}

func (c *fakeClient) ListTables(ctx context.Context) ([]string, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.tables, nil
}

func (c *fakeClient) ListColumns(ctx context.Context, table string) ([]datasource.ColumnMetadata, error) {
	c.mu.Lock()
	c.listColumnsCalls = append(c.listColumnsCalls, table)
	c.mu.Unlock()

	if c.onListColumns != nil {
		if err := c.onListColumns(table); err != nil {
			return nil, err
		}
	}
	if err := c.columnErrs[table]; err != nil {
		return nil, err
	}
	return c.columns[table], nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeClient) executions() []models.Statement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Statement(nil), c.executed...)
}

func (c *fakeClient) listColumnsCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listColumnsCalls)
}

// fakeDriver wraps a fakeClient in a driver table entry and counts opens.
type fakeDriver struct {
	mu     sync.Mutex
	client *fakeClient
	opens  int
}

func (f *fakeDriver) driver(t models.DatabaseType) datasource.Driver {
	d, err := dialect.For(t)
	if err != nil {
		panic(err)
	}
	return datasource.Driver{
		Type:    t,
		Dialect: d,
		Open: func(ctx context.Context, cfg models.ConnectionConfig, deps datasource.Deps) (datasource.Client, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.opens++
			return f.client, nil
		},
		IsAuthError:   func(error) bool { return false },
		IsSyntaxError: func(error) bool { return false },
	}
}

func (f *fakeDriver) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func col(name, native string, pos int) datasource.ColumnMetadata {
	return datasource.ColumnMetadata{ColumnName: name, DataType: native, IsNullable: true, OrdinalPosition: pos}
}

func shopClient() *fakeClient {
	return &fakeClient{
		tables: []string{"orders", "customers"},
		columns: map[string][]datasource.ColumnMetadata{
			"orders": {
				col("id", "int4", 1),
				col("total", "numeric(10,2)", 2),
				col("created_at", "timestamptz", 3),
			},
			"customers": {
				col("id", "int8", 1),
				col("full_name", "varchar(200)", 2),
			},
		},
	}
}
