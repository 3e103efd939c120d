// Package bigquery implements the BigQuery connection client on the native
// cloud.google.com/go/bigquery client.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/ekaya-inc/ekaya-connect/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-connect/pkg/dialect"
	"github.com/ekaya-inc/ekaya-connect/pkg/logging"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// Client runs statements and reads metadata through the BigQuery API.
type Client struct {
	bq          *bigquery.Client
	ownedClient bool
	dataset     string
	location    string
	timeout     time.Duration
	logger      *zap.Logger
}

// Driver returns the BigQuery driver table entry.
func Driver() datasource.Driver {
	d, _ := dialect.For(models.DatabaseBigQuery)
	return datasource.Driver{
		Type:          models.DatabaseBigQuery,
		Dialect:       d,
		Open:          Open,
		IsAuthError:   IsAuthError,
		IsSyntaxError: IsSyntaxError,
	}
}

// PoolWrapper lets the ConnectionManager cache a *bigquery.Client. The client
// is an HTTP client pool with no session to check, so Ping is a no-op.
type PoolWrapper struct {
	client *bigquery.Client
}

func (w *PoolWrapper) Ping(ctx context.Context) error { return nil }

func (w *PoolWrapper) Close() error { return w.client.Close() }

func (w *PoolWrapper) GetType() string { return "bigquery" }

// Open builds a client from the service account in structured_credentials.
// The config has already been validated, so project_id is set.
func Open(ctx context.Context, cfg models.ConnectionConfig, deps datasource.Deps) (datasource.Client, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := &Client{
		dataset:  cfg.Option("dataset", ""),
		location: cfg.Option("location", ""),
		timeout:  deps.QueryTimeout,
		logger:   logger.Named("bigquery"),
	}

	// The client outlives this call, so it must not inherit the request context.
	create := func(ctx context.Context) (*bigquery.Client, error) {
		bq, err := bigquery.NewClient(context.WithoutCancel(ctx), cfg.ProjectID, option.WithCredentialsJSON([]byte(cfg.StructuredCredentials)))
		if err != nil {
			logCreateFailure(client.logger, cfg, err)
			return nil, fmt.Errorf("failed to create BigQuery client: %w", err)
		}
		if client.location != "" {
			bq.Location = client.location
		}
		return bq, nil
	}

	if deps.Pools == nil {
		bq, err := create(ctx)
		if err != nil {
			return nil, err
		}
		client.bq = bq
		client.ownedClient = true
		return client, nil
	}

	connector, err := deps.Pools.GetOrCreate(ctx, cfg.Key(), func(ctx context.Context) (datasource.PoolConnector, error) {
		bq, err := create(ctx)
		if err != nil {
			return nil, err
		}
		return &PoolWrapper{client: bq}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get pooled client: %w", err)
	}
	wrapper, ok := connector.(*PoolWrapper)
	if !ok {
		return nil, fmt.Errorf("pool for %s is %s, not bigquery", cfg.Name(), connector.GetType())
	}
	client.bq = wrapper.client
	return client, nil
}

// logCreateFailure records which service account failed to build a client.
// The private key fields are redacted; client_email stays readable.
func logCreateFailure(logger *zap.Logger, cfg models.ConnectionConfig, err error) {
	logger.Warn("Failed to create BigQuery client",
		zap.String("project_id", cfg.ProjectID),
		zap.String("credentials", logging.SanitizeCredentials(cfg.StructuredCredentials)),
		zap.String("error", logging.SanitizeError(err)))
}

// TestConnection runs SELECT 1, which exercises credentials and the job API.
func (c *Client) TestConnection(ctx context.Context) error {
	it, err := c.bq.Query("SELECT 1").Read(ctx)
	if err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	var row []bigquery.Value
	if err := it.Next(&row); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("test query failed: %w", err)
	}
	return nil
}

// Execute runs a compiled statement. Arguments bind to @p1..@pN.
func (c *Client) Execute(ctx context.Context, stmt models.Statement) (*datasource.QueryResult, error) {
	ctx, cancel := datasource.StatementContext(ctx, stmt.Timeout, c.timeout)
	defer cancel()

	q := c.bq.Query(stmt.Text)
	q.Parameters = queryParameters(stmt.Args)
	if c.dataset != "" {
		q.DefaultDatasetID = c.dataset
	}
	if c.location != "" {
		q.Location = c.location
	}

	start := time.Now()
	it, err := q.Read(ctx)
	if err != nil {
		return nil, datasource.ClassifyExecutionError(err, stmt.Text, IsSyntaxError)
	}

	result := &datasource.QueryResult{Rows: make([]models.Row, 0)}
	for {
		var values []bigquery.Value
		err := it.Next(&values)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, datasource.ClassifyExecutionError(err, stmt.Text, IsSyntaxError)
		}
		if result.Columns == nil {
			result.Columns = columnNames(it.Schema)
		}
		row := make(models.Row, len(values))
		for i, v := range values {
			row[i] = models.Field{Name: result.Columns[i], Value: datasource.NormalizeValue(v)}
		}
		result.Rows = append(result.Rows, row)
	}
	if result.Columns == nil {
		result.Columns = columnNames(it.Schema)
	}

	c.logger.Debug("query completed",
		zap.Duration("duration", time.Since(start)),
		zap.Int("rows", len(result.Rows)),
	)
	return result, nil
}

func queryParameters(args []any) []bigquery.QueryParameter {
	if len(args) == 0 {
		return nil
	}
	params := make([]bigquery.QueryParameter, len(args))
	for i, arg := range args {
		params[i] = bigquery.QueryParameter{Name: "p" + strconv.Itoa(i+1), Value: arg}
	}
	return params
}

func columnNames(schema bigquery.Schema) []string {
	names := make([]string, len(schema))
	for i, field := range schema {
		names[i] = field.Name
	}
	return names
}

// ListTables returns "dataset.table" identifiers, restricted to the dataset
// option when it is set.
func (c *Client) ListTables(ctx context.Context) ([]string, error) {
	var datasets []string
	if c.dataset != "" {
		datasets = []string{c.dataset}
	} else {
		it := c.bq.Datasets(ctx)
		for {
			ds, err := it.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("list datasets: %w", err)
			}
			datasets = append(datasets, ds.DatasetID)
		}
	}

	var tables []string
	for _, dataset := range datasets {
		it := c.bq.Dataset(dataset).Tables(ctx)
		for {
			t, err := it.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("list tables in %s: %w", dataset, err)
			}
			tables = append(tables, dataset+"."+t.TableID)
		}
	}
	return tables, nil
}

// ListColumns reads the table schema from Table.Metadata. An unqualified name
// resolves against the dataset option.
func (c *Client) ListColumns(ctx context.Context, table string) ([]datasource.ColumnMetadata, error) {
	dataset, tableID, ok := strings.Cut(table, ".")
	if !ok {
		if c.dataset == "" {
			return nil, fmt.Errorf("table %s has no dataset and no dataset option is set", table)
		}
		dataset, tableID = c.dataset, table
	}

	meta, err := c.bq.Dataset(dataset).Table(tableID).Metadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("read metadata for %s: %w", table, err)
	}

	columns := make([]datasource.ColumnMetadata, len(meta.Schema))
	for i, field := range meta.Schema {
		columns[i] = datasource.ColumnMetadata{
			ColumnName:      field.Name,
			DataType:        string(field.Type),
			IsNullable:      !field.Required,
			OrdinalPosition: i + 1,
		}
	}
	return columns, nil
}

// Close releases the client (but NOT the underlying client if managed).
func (c *Client) Close() error {
	if c.ownedClient && c.bq != nil {
		return c.bq.Close()
	}
	return nil
}

// IsAuthError reports 401/403 API responses.
func IsAuthError(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden
	}
	return strings.Contains(err.Error(), "invalid_grant")
}

// IsSyntaxError reports invalidQuery responses.
func IsSyntaxError(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusBadRequest {
		return false
	}
	for _, item := range apiErr.Errors {
		if item.Reason == "invalidQuery" {
			return true
		}
	}
	return false
}

var _ datasource.Client = (*Client)(nil)
