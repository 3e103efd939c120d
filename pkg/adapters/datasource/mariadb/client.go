// Package mariadb implements the MariaDB/MySQL connection client on
// go-sql-driver/mysql.
package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-connect/pkg/dialect"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// Client provides MariaDB and MySQL connectivity.
type Client struct {
	config  models.ConnectionConfig
	db      *sql.DB
	ownedDB bool
	timeout time.Duration
	logger  *zap.Logger
}

// Driver returns the MariaDB driver table entry. MySQL resolves to it.
func Driver() datasource.Driver {
	d, _ := dialect.For(models.DatabaseMariaDB)
	return datasource.Driver{
		Type:          models.DatabaseMariaDB,
		Dialect:       d,
		Open:          Open,
		IsAuthError:   IsAuthError,
		IsSyntaxError: IsSyntaxError,
	}
}

// Open creates a client over a pooled *sql.DB. sql.Open does not dial.
func Open(ctx context.Context, cfg models.ConnectionConfig, deps datasource.Deps) (datasource.Client, error) {
	dsn, err := buildDSN(&cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := &Client{config: cfg, timeout: deps.QueryTimeout, logger: logger.Named("mariadb")}

	if deps.Pools == nil {
		db, err := openDB(dsn, 0, 0, 0)
		if err != nil {
			return nil, err
		}
		client.db = db
		client.ownedDB = true
		return client, nil
	}

	connector, err := deps.Pools.GetOrCreate(ctx, cfg.Key(), func(context.Context) (datasource.PoolConnector, error) {
		db, err := openDB(dsn, deps.Pools.PoolMaxConns(), deps.Pools.PoolMinConns(), deps.Pools.TTL())
		if err != nil {
			return nil, err
		}
		return datasource.NewSQLPoolWrapper(db, "mariadb"), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get pooled connection: %w", err)
	}
	wrapper, ok := connector.(*datasource.SQLPoolWrapper)
	if !ok {
		return nil, fmt.Errorf("pool for %s is %s, not mariadb", cfg.Name(), connector.GetType())
	}
	client.db = wrapper.GetDB()
	return client, nil
}

func openDB(dsn string, maxConns, minConns int32, idle time.Duration) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(int(maxConns))
	}
	if minConns > 0 {
		db.SetMaxIdleConns(int(minConns))
	}
	if idle > 0 {
		db.SetConnMaxIdleTime(idle)
	}
	return db, nil
}

// TestConnection pings the server and checks the selected database.
func (c *Client) TestConnection(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var currentDB sql.NullString
	if err := c.db.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&currentDB); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	if c.config.ConnectionString == "" && !strings.EqualFold(currentDB.String, c.config.DatabaseName) {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", c.config.DatabaseName, currentDB.String)
	}
	return nil
}

// Execute runs a compiled statement with ? placeholders.
func (c *Client) Execute(ctx context.Context, stmt models.Statement) (*datasource.QueryResult, error) {
	return datasource.QuerySQL(ctx, c.db, stmt, c.timeout, IsSyntaxError)
}

// ListTables returns the base tables of the connected database.
func (c *Client) ListTables(ctx context.Context) ([]string, error) {
	const query = `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME
	`
	rows, err := c.db.QueryContext(ctx, query)
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

// ListColumns returns a table's columns in ordinal order. A "db.table"
// identifier reads from that database instead of the connected one.
func (c *Client) ListColumns(ctx context.Context, table string) ([]datasource.ColumnMetadata, error) {
	const query = `
		SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE = 'YES', ORDINAL_POSITION
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`
	schema, name := "", table
	if s, t, ok := strings.Cut(table, "."); ok {
		schema, name = s, t
	}

	rows, err := c.db.QueryContext(ctx, query, schema, name)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []datasource.ColumnMetadata
	for rows.Next() {
		var col datasource.ColumnMetadata
		if err := rows.Scan(&col.ColumnName, &col.DataType, &col.IsNullable, &col.OrdinalPosition); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
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

// Server error numbers.
const (
	erDBAccessDenied     = 1044
	erAccessDenied       = 1045
	erAccessDeniedNoPass = 1698
	erBadField           = 1054
	erParse              = 1064
	erNoSuchTable        = 1146
)

// IsAuthError reports rejected credentials or database access.
func IsAuthError(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case erDBAccessDenied, erAccessDenied, erAccessDeniedNoPass:
			return true
		}
	}
	return false
}

// IsSyntaxError reports parse errors and unknown tables or columns.
func IsSyntaxError(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case erBadField, erParse, erNoSuchTable:
			return true
		}
	}
	return false
}

var _ datasource.Client = (*Client)(nil)
