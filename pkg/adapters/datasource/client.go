// Package datasource defines the connection client contract shared by every
// supported database and the machinery around it: the driver table, the
// connection factory, pooled connection management and row normalization.
package datasource

import (
	"context"

	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// Client is a live connection to one external data source.
// Implementations are safe for concurrent use; pooling happens underneath.
type Client interface {
	// TestConnection performs a lightweight remote call that exercises credentials.
	TestConnection(ctx context.Context) error

	// Execute runs already-compiled statement text with its bound arguments.
	// It never compiles or rewrites the statement.
	Execute(ctx context.Context, stmt models.Statement) (*QueryResult, error)

	// ListTables returns remote table identifiers as used in FROM clauses.
	ListTables(ctx context.Context) ([]string, error)

	// ListColumns returns a table's columns in remote-reported order.
	ListColumns(ctx context.Context, table string) ([]ColumnMetadata, error)

	// Close releases the client. Pools owned by a ConnectionManager stay open.
	Close() error
}

// QueryResult holds normalized rows in column order.
type QueryResult struct {
	Columns []string
	Rows    []models.Row
}

// ColumnMetadata represents a discovered database column.
type ColumnMetadata struct {
	ColumnName      string
	DataType        string
	IsNullable      bool
	OrdinalPosition int
}
