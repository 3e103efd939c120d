package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-connect/pkg/adapters/datasource"
)

// ListTables returns all user base tables, excluding system schemas. Tables in
// the default schema are unqualified; everything else is "schema.table".
func (c *Client) ListTables(ctx context.Context) ([]string, error) {
	const query = `
		SELECT t.table_schema, t.table_name
		FROM information_schema.tables t
		WHERE t.table_type = 'BASE TABLE'
		  AND t.table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		  AND t.table_schema NOT LIKE 'pg_temp%'
		ORDER BY t.table_schema, t.table_name
	`

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var schemaName, tableName string
		if err := rows.Scan(&schemaName, &tableName); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, c.tableIdentifier(schemaName, tableName))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

// ListColumns returns columns for a table in ordinal order.
func (c *Client) ListColumns(ctx context.Context, table string) ([]datasource.ColumnMetadata, error) {
	const query = `
		SELECT
			c.column_name,
			CASE WHEN c.data_type = 'USER-DEFINED' THEN c.udt_name ELSE c.data_type END,
			c.is_nullable = 'YES',
			c.ordinal_position
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position
	`

	schemaName, tableName := c.splitIdentifier(table)
	rows, err := c.pool.Query(ctx, query, schemaName, tableName)
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

func (c *Client) tableIdentifier(schemaName, tableName string) string {
	if schemaName == c.defaultSchema {
		return tableName
	}
	return schemaName + "." + tableName
}

func (c *Client) splitIdentifier(identifier string) (string, string) {
	if schemaName, tableName, ok := strings.Cut(identifier, "."); ok {
		return schemaName, tableName
	}
	return c.defaultSchema, identifier
}
