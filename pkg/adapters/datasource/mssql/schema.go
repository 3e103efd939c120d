package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-connect/pkg/adapters/datasource"
)

// ListTables returns base tables; dbo tables are unqualified.
func (c *Client) ListTables(ctx context.Context) ([]string, error) {
	const query = `
	SET NOCOUNT ON;
	SELECT TABLE_SCHEMA, TABLE_NAME
	FROM INFORMATION_SCHEMA.TABLES
	WHERE TABLE_TYPE = 'BASE TABLE'
	ORDER BY TABLE_SCHEMA, TABLE_NAME
	`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var schemaName, tableName string
		if err := rows.Scan(&schemaName, &tableName); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		tables = append(tables, tableIdentifier(schemaName, tableName))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table rows: %w", err)
	}
	return tables, nil
}

// ListColumns returns columns for a table in ordinal order.
func (c *Client) ListColumns(ctx context.Context, table string) ([]datasource.ColumnMetadata, error) {
	const query = `
	SET NOCOUNT ON;
	SELECT
	    COLUMN_NAME,
	    DATA_TYPE,
	    CASE WHEN IS_NULLABLE = 'YES' THEN 1 ELSE 0 END,
	    ORDINAL_POSITION
	FROM INFORMATION_SCHEMA.COLUMNS
	WHERE TABLE_SCHEMA = @schema AND TABLE_NAME = @table
	ORDER BY ORDINAL_POSITION
	`

	schemaName, tableName := parseSchemaTable(table)
	rows, err := c.db.QueryContext(ctx, query,
		sql.Named("schema", schemaName),
		sql.Named("table", tableName),
	)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []datasource.ColumnMetadata
	for rows.Next() {
		var col datasource.ColumnMetadata
		if err := rows.Scan(&col.ColumnName, &col.DataType, &col.IsNullable, &col.OrdinalPosition); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s not found", table)
	}
	return columns, nil
}

// parseSchemaTable parses a table name that may include schema.
// SQL Server format: [schema].[table] or schema.table. Defaults to dbo.
func parseSchemaTable(tableName string) (string, string) {
	cleaned := strings.ReplaceAll(tableName, "[", "")
	cleaned = strings.ReplaceAll(cleaned, "]", "")

	if schemaName, table, ok := strings.Cut(cleaned, "."); ok {
		return schemaName, table
	}
	return DefaultSchema, cleaned
}

func tableIdentifier(schemaName, tableName string) string {
	if strings.EqualFold(schemaName, DefaultSchema) {
		return tableName
	}
	return schemaName + "." + tableName
}
