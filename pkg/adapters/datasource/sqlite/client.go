// Package sqlite implements the SQLite connection client on modernc.org/sqlite.
// Files are always opened read-only.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ekaya-inc/ekaya-connect/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-connect/pkg/dialect"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// Client reads a local SQLite database file.
type Client struct {
	path    string
	db      *sql.DB
	ownedDB bool
	timeout time.Duration
	logger  *zap.Logger
}

// Driver returns the SQLite driver table entry.
func Driver() datasource.Driver {
	d, _ := dialect.For(models.DatabaseSQLite)
	return datasource.Driver{
		Type:          models.DatabaseSQLite,
		Dialect:       d,
		Open:          Open,
		IsAuthError:   func(error) bool { return false },
		IsSyntaxError: IsSyntaxError,
	}
}

// buildDSN opens path read-only with a busy timeout so concurrent writers do
// not fail reads immediately.
func buildDSN(path string) string {
	q := url.Values{}
	q.Set("mode", "ro")
	q.Add("_pragma", "busy_timeout(5000)")
	u := url.URL{Scheme: "file", Opaque: escapePath(path), RawQuery: q.Encode()}
	return u.String()
}

// escapePath percent-encodes the characters that would end or corrupt the
// path part of a file: URI. Separators stay literal.
func escapePath(path string) string {
	return strings.NewReplacer("%", "%25", "?", "%3F", "#", "%23").Replace(path)
}

// Open creates a client for cfg.DatabaseName. A missing file is reported as
// unreachable on TestConnection rather than created.
func Open(ctx context.Context, cfg models.ConnectionConfig, deps datasource.Deps) (datasource.Client, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := &Client{path: cfg.DatabaseName, timeout: deps.QueryTimeout, logger: logger.Named("sqlite")}
	dsn := buildDSN(cfg.DatabaseName)

	if deps.Pools == nil {
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		client.db = db
		client.ownedDB = true
		return client, nil
	}

	connector, err := deps.Pools.GetOrCreate(ctx, cfg.Key(), func(context.Context) (datasource.PoolConnector, error) {
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db.SetMaxOpenConns(int(deps.Pools.PoolMaxConns()))
		db.SetConnMaxIdleTime(deps.Pools.TTL())
		return datasource.NewSQLPoolWrapper(db, "sqlite"), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get pooled connection: %w", err)
	}
	wrapper, ok := connector.(*datasource.SQLPoolWrapper)
	if !ok {
		return nil, fmt.Errorf("pool for %s is %s, not sqlite", cfg.Name(), connector.GetType())
	}
	client.db = wrapper.GetDB()
	return client, nil
}

// TestConnection checks the file exists and reads its schema.
func (c *Client) TestConnection(ctx context.Context) error {
	if _, err := os.Stat(c.path); err != nil {
		return fmt.Errorf("database file: %w", err)
	}
	var n int
	if err := c.db.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master").Scan(&n); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	return nil
}

// Execute runs a compiled statement with ? placeholders.
func (c *Client) Execute(ctx context.Context, stmt models.Statement) (*datasource.QueryResult, error) {
	return datasource.QuerySQL(ctx, c.db, stmt, c.timeout, IsSyntaxError)
}

// ListTables returns user tables from sqlite_master.
func (c *Client) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

// ListColumns reads pragma_table_info. cid is zero-based; positions are not.
func (c *Client) ListColumns(ctx context.Context, table string) ([]datasource.ColumnMetadata, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT cid, name, type, "notnull" FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []datasource.ColumnMetadata
	for rows.Next() {
		var (
			cid     int
			col     datasource.ColumnMetadata
			notNull bool
		)
		if err := rows.Scan(&cid, &col.ColumnName, &col.DataType, &notNull); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		col.OrdinalPosition = cid + 1
		col.IsNullable = !notNull
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}
	return columns, nil
}

// Close releases the client (but NOT the pool if managed).
func (c *Client) Close() error {
	if c.ownedDB && c.db != nil {
		return c.db.Close()
	}
	return nil
}

// IsSyntaxError reports SQLITE_ERROR results, which SQLite uses for parse
// errors and unknown tables or columns.
func IsSyntaxError(err error) bool {
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code()&0xff == sqlite3.SQLITE_ERROR
	}
	msg := err.Error()
	return strings.Contains(msg, "syntax error") || strings.Contains(msg, "no such table") || strings.Contains(msg, "no such column")
}

var _ datasource.Client = (*Client)(nil)
