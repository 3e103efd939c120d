package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// ScanRows drains a database/sql result into a normalized QueryResult.
// Decimal columns are returned as float64 even though drivers hand them over as text.
func ScanRows(rows *sql.Rows) (*QueryResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	decimal := make([]bool, len(columns))
	if types, err := rows.ColumnTypes(); err == nil {
		for i, ct := range types {
			decimal[i] = isDecimalType(ct.DatabaseTypeName())
		}
	}

	result := &QueryResult{Columns: columns, Rows: make([]models.Row, 0)}
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(models.Row, len(columns))
		for i, name := range columns {
			if decimal[i] {
				row[i] = models.Field{Name: name, Value: NormalizeDecimal(values[i])}
			} else {
				row[i] = models.Field{Name: name, Value: NormalizeValue(values[i])}
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

func isDecimalType(name string) bool {
	switch strings.ToUpper(name) {
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY", "NEWDECIMAL":
		return true
	}
	return false
}

// QuerySQL executes stmt on a database/sql handle under the statement timeout
// and classifies failures as execution errors.
func QuerySQL(ctx context.Context, db *sql.DB, stmt models.Statement, defaultTimeout time.Duration, isSyntax func(error) bool) (*QueryResult, error) {
	ctx, cancel := StatementContext(ctx, stmt.Timeout, defaultTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, stmt.Text, stmt.Args...)
	if err != nil {
		return nil, ClassifyExecutionError(err, stmt.Text, isSyntax)
	}
	defer rows.Close()

	result, err := ScanRows(rows)
	if err != nil {
		return nil, ClassifyExecutionError(err, stmt.Text, isSyntax)
	}
	return result, nil
}
