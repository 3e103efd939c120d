package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// FilterOperator is the closed set of predicate operators a QueryRequest may use.
type FilterOperator string

const (
	OpEquals      FilterOperator = "eq"
	OpNotEquals   FilterOperator = "neq"
	OpGreater     FilterOperator = "gt"
	OpGreaterEq   FilterOperator = "gte"
	OpLess        FilterOperator = "lt"
	OpLessEq      FilterOperator = "lte"
	OpContains    FilterOperator = "contains"
	OpNotContains FilterOperator = "not_contains"
	OpStartsWith  FilterOperator = "starts_with"
	OpEndsWith    FilterOperator = "ends_with"
	OpIn          FilterOperator = "in"
	OpNotIn       FilterOperator = "not_in"
	OpIsNull      FilterOperator = "is_null"
	OpIsNotNull   FilterOperator = "is_not_null"
)

// QueryRequest is the abstract, dialect-independent description of a read query.
// A zero Limit means "use the default ceiling".
type QueryRequest struct {
	Table        string        `json:"table" yaml:"table"`
	Columns      []Selection   `json:"columns,omitempty" yaml:"columns"`
	Filters      []Filter      `json:"filters,omitempty" yaml:"filters"`
	Aggregations []Aggregation `json:"aggregations,omitempty" yaml:"aggregations"`
	GroupBy      []GroupBy     `json:"group_by,omitempty" yaml:"group_by"`
	OrderBy      []OrderBy     `json:"order_by,omitempty" yaml:"order_by"`
	Limit        int           `json:"limit,omitempty" yaml:"limit"`
	Distinct     bool          `json:"distinct,omitempty" yaml:"distinct"`
}

// Selection projects a column, optionally through a scalar function.
type Selection struct {
	Column   string `json:"column" yaml:"column"`
	Function string `json:"function,omitempty" yaml:"function"`
	Alias    string `json:"alias,omitempty" yaml:"alias"`
}

// Filter is one predicate of the conjunctive WHERE clause.
type Filter struct {
	Column          string         `json:"column" yaml:"column"`
	Operator        FilterOperator `json:"operator" yaml:"operator"`
	Value           any            `json:"value,omitempty" yaml:"value"`
	CaseInsensitive bool           `json:"case_insensitive,omitempty" yaml:"case_insensitive"`
}

// Aggregation applies an aggregate function to a column. An empty Column with
// the count function counts rows.
type Aggregation struct {
	Column   string `json:"column,omitempty" yaml:"column"`
	Function string `json:"function" yaml:"function"`
	Alias    string `json:"alias,omitempty" yaml:"alias"`
}

// GroupBy groups by a column, or by a date bucket of it when Granularity is set.
// Format is only read for GranularityRaw.
type GroupBy struct {
	Column      string          `json:"column" yaml:"column"`
	Granularity DateGranularity `json:"granularity,omitempty" yaml:"granularity"`
	Format      string          `json:"format,omitempty" yaml:"format"`
}

// OrderBy sorts by an output column name or a catalog column.
type OrderBy struct {
	Column     string `json:"column" yaml:"column"`
	Descending bool   `json:"descending,omitempty" yaml:"descending"`
}

// Statement is executable query text with its bound arguments.
type Statement struct {
	Text    string        `json:"text"`
	Args    []any         `json:"args,omitempty"`
	Timeout time.Duration `json:"-"`
}

// OutputColumn describes one column of a compiled query's result.
type OutputColumn struct {
	Name string      `json:"name"`
	Type GenericType `json:"type"`
}

// CompiledQuery is the compiler output: the statement plus its result manifest.
type CompiledQuery struct {
	Statement Statement      `json:"statement"`
	Manifest  []OutputColumn `json:"manifest"`
}

// Field is one named value of a Row.
type Field struct {
	Name  string
	Value any
}

// Row is an ordered mapping of column name to a normalized value
// (nil, bool, int64, float64 or string).
type Row []Field

// Get returns the value of the named column.
func (r Row) Get(name string) (any, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Values returns the row values in column order.
func (r Row) Values() []any {
	values := make([]any, len(r))
	for i, f := range r {
		values[i] = f.Value
	}
	return values
}

// MarshalJSON writes the row as a JSON object preserving column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// QueryResult is the outcome of executing a compiled query.
type QueryResult struct {
	Columns []OutputColumn `json:"columns"`
	Rows    []Row          `json:"rows"`
}

// TablePreview is a bounded sample of a table plus its row count. The two are read
// by separate statements and are not guaranteed to be consistent with each other.
type TablePreview struct {
	Columns    []OutputColumn `json:"columns"`
	Rows       []Row          `json:"rows"`
	TotalCount int64          `json:"total_count"`
}

// ColumnOptionsRequest narrows the distinct values returned for one column.
// A zero Limit means the configured default.
type ColumnOptionsRequest struct {
	SearchText    string `json:"search_text,omitempty"`
	Limit         int    `json:"limit,omitempty"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
}
