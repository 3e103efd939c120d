// Package postgres implements the PostgreSQL connection client on pgx/v5.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-connect/pkg/dialect"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/retry"
)

// Client provides PostgreSQL connectivity over a pgxpool.
type Client struct {
	config        models.ConnectionConfig
	pool          *pgxpool.Pool
	ownedPool     bool // true if we created the pool outside the connection manager
	defaultSchema string
	timeout       time.Duration
	logger        *zap.Logger
}

// Driver returns the PostgreSQL driver table entry.
func Driver() datasource.Driver {
	d, _ := dialect.For(models.DatabasePostgreSQL)
	return datasource.Driver{
		Type:          models.DatabasePostgreSQL,
		Dialect:       d,
		Open:          Open,
		IsAuthError:   IsAuthError,
		IsSyntaxError: IsSyntaxError,
	}
}

// Open creates a PostgreSQL client using the connection manager.
// If deps.Pools is nil, creates an unmanaged pool that Close releases.
func Open(ctx context.Context, cfg models.ConnectionConfig, deps datasource.Deps) (datasource.Client, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := &Client{
		config:        cfg,
		defaultSchema: cfg.Option("schema", DefaultSchema),
		timeout:       deps.QueryTimeout,
		logger:        logger.Named("postgres"),
	}

	if deps.Pools == nil {
		pool, err := newPool(ctx, &cfg, 0, 0, 0)
		if err != nil {
			return nil, err
		}
		client.pool = pool
		client.ownedPool = true
		return client, nil
	}

	connector, err := deps.Pools.GetOrCreate(ctx, cfg.Key(), func(ctx context.Context) (datasource.PoolConnector, error) {
		pool, err := newPool(ctx, &cfg, deps.Pools.PoolMaxConns(), deps.Pools.PoolMinConns(), deps.Pools.TTL())
		if err != nil {
			return nil, err
		}
		return datasource.NewPostgresPoolWrapper(pool), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get pooled connection: %w", err)
	}

	wrapper, ok := connector.(*datasource.PostgresPoolWrapper)
	if !ok {
		return nil, fmt.Errorf("pool for %s is %s, not postgresql", cfg.Name(), connector.GetType())
	}
	client.pool = wrapper.GetPool()
	return client, nil
}

// newPool parses the connection string and creates the pool with retry for
// transient failures. pgxpool connects lazily, so this rarely touches the network.
func newPool(ctx context.Context, cfg *models.ConnectionConfig, maxConns, minConns int32, idle time.Duration) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}
	if minConns > 0 {
		poolConfig.MinConns = minConns
	}
	if idle > 0 {
		poolConfig.MaxConnIdleTime = idle
	}

	pool, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*pgxpool.Pool, error) {
		return pgxpool.NewWithConfig(ctx, poolConfig)
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return pool, nil
}

// TestConnection verifies the database is reachable with valid credentials and
// that the server put us in the database we asked for.
func (c *Client) TestConnection(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var currentDB string
	if err := c.pool.QueryRow(ctx, "SELECT current_database()").Scan(&currentDB); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}

	// Case-insensitive to tolerate common configuration mismatches.
	if c.config.ConnectionString == "" && !strings.EqualFold(currentDB, c.config.DatabaseName) {
		return fmt.Errorf("connected to wrong database: expected %q but connected to %q", c.config.DatabaseName, currentDB)
	}
	return nil
}

// Execute runs a compiled statement with positional $n parameters.
func (c *Client) Execute(ctx context.Context, stmt models.Statement) (*datasource.QueryResult, error) {
	ctx, cancel := datasource.StatementContext(ctx, stmt.Timeout, c.timeout)
	defer cancel()

	rows, err := c.pool.Query(ctx, stmt.Text, stmt.Args...)
	if err != nil {
		return nil, datasource.ClassifyExecutionError(err, stmt.Text, IsSyntaxError)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	result := &datasource.QueryResult{
		Columns: make([]string, len(fieldDescs)),
		Rows:    make([]models.Row, 0),
	}
	for i, fd := range fieldDescs {
		result.Columns[i] = fd.Name
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, datasource.ClassifyExecutionError(fmt.Errorf("failed to read row values: %w", err), stmt.Text, IsSyntaxError)
		}
		row := make(models.Row, len(values))
		for i, v := range values {
			row[i] = models.Field{Name: result.Columns[i], Value: normalize(v)}
		}
		result.Rows = append(result.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, datasource.ClassifyExecutionError(err, stmt.Text, IsSyntaxError)
	}
	return result, nil
}

// normalize handles pgtype values whose database/sql form is text.
func normalize(v any) any {
	switch val := v.(type) {
	case pgtype.Numeric:
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	}
	return datasource.NormalizeValue(v)
}

// Close releases the client (but NOT the pool if managed).
func (c *Client) Close() error {
	if c.ownedPool && c.pool != nil {
		c.pool.Close()
	}
	return nil
}

// IsAuthError reports SQLSTATE class 28 (invalid authorization).
func IsAuthError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "28")
	}
	msg := err.Error()
	return strings.Contains(msg, "password authentication failed") || strings.Contains(msg, "SQLSTATE 28")
}

// IsSyntaxError reports SQLSTATE class 42 (syntax error or access rule
// violation), which covers unknown tables and columns.
func IsSyntaxError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "42") && pgErr.Code != "42501"
	}
	return false
}

var _ datasource.Client = (*Client)(nil)
