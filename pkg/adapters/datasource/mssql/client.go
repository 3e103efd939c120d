// Package mssql implements the SQL Server connection client on
// microsoft/go-mssqldb.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	mssqldb "github.com/microsoft/go-mssqldb"
	_ "github.com/microsoft/go-mssqldb/azuread" // Azure AD support
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/dialect"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// DefaultSchema holds tables listed without a schema prefix.
const DefaultSchema = "dbo"

// Client provides SQL Server connectivity.
type Client struct {
	config  models.ConnectionConfig
	db      *sql.DB
	ownedDB bool
	timeout time.Duration
	logger  *zap.Logger
}

// Driver returns the SQL Server driver table entry.
func Driver() datasource.Driver {
	d, _ := dialect.For(models.DatabaseSQLServer)
	return datasource.Driver{
		Type:          models.DatabaseSQLServer,
		Dialect:       d,
		Open:          Open,
		IsAuthError:   IsAuthError,
		IsSyntaxError: IsSyntaxError,
	}
}

// Open creates a client. sql.Open does not dial; TestConnection does.
func Open(ctx context.Context, cfg models.ConnectionConfig, deps datasource.Deps) (datasource.Client, error) {
	conn, err := buildConnection(&cfg)
	if err != nil {
		return nil, apperrors.Configuration("%v", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := &Client{config: cfg, timeout: deps.QueryTimeout, logger: logger.Named("mssql")}

	if deps.Pools == nil {
		db, err := sql.Open(conn.driverName, conn.dsn)
		if err != nil {
			return nil, fmt.Errorf("open SQL Server connection: %w", err)
		}
		client.db = db
		client.ownedDB = true
		return client, nil
	}

	connector, err := deps.Pools.GetOrCreate(ctx, cfg.Key(), func(context.Context) (datasource.PoolConnector, error) {
		db, err := sql.Open(conn.driverName, conn.dsn)
		if err != nil {
			return nil, fmt.Errorf("open SQL Server connection: %w", err)
		}
		db.SetMaxOpenConns(int(deps.Pools.PoolMaxConns()))
		db.SetMaxIdleConns(int(deps.Pools.PoolMinConns()))
		db.SetConnMaxIdleTime(deps.Pools.TTL())
		return datasource.NewSQLPoolWrapper(db, "mssql"), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get pooled connection: %w", err)
	}
	wrapper, ok := connector.(*datasource.SQLPoolWrapper)
	if !ok {
		return nil, fmt.Errorf("pool for %s is %s, not mssql", cfg.Name(), connector.GetType())
	}
	client.db = wrapper.GetDB()
	return client, nil
}

// TestConnection verifies the database is reachable with valid credentials and
// that the login landed in the configured database.
func (c *Client) TestConnection(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var currentDB string
	if err := c.db.QueryRowContext(ctx, "SELECT DB_NAME()").Scan(&currentDB); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	if c.config.ConnectionString == "" && !strings.EqualFold(currentDB, c.config.DatabaseName) {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", c.config.DatabaseName, currentDB)
	}
	return nil
}

// Execute runs a compiled statement with @pN placeholders, which go-mssqldb
// binds positionally.
func (c *Client) Execute(ctx context.Context, stmt models.Statement) (*datasource.QueryResult, error) {
	return datasource.QuerySQL(ctx, c.db, stmt, c.timeout, IsSyntaxError)
}

// Close releases the client (but NOT the DB if managed).
func (c *Client) Close() error {
	if c.ownedDB && c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Server error numbers.
const (
	errLoginFailed     = 18456
	errCannotOpenDB    = 4060
	errIncorrectSyntax = 102
	errInvalidObject   = 208
	errInvalidColumn   = 207
	errNearKeyword     = 156
)

// IsAuthError reports failed logins and databases the login cannot open.
func IsAuthError(err error) bool {
	var sqlErr mssqldb.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Number == errLoginFailed || sqlErr.Number == errCannotOpenDB
	}
	return strings.Contains(err.Error(), "Login failed for user")
}

// IsSyntaxError reports parse errors and unknown objects or columns.
func IsSyntaxError(err error) bool {
	var sqlErr mssqldb.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Number {
		case errIncorrectSyntax, errInvalidObject, errInvalidColumn, errNearKeyword:
			return true
		}
	}
	return false
}

var _ datasource.Client = (*Client)(nil)
