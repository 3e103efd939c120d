// Package dialect describes how each supported database spells types, identifiers,
// functions, date buckets and pattern matches. Every dialect is an immutable value
// built from lookup tables; the compiler and synchronizer depend only on Dialect.
package dialect

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// Dialect is the per-database policy used by the compiler and synchronizer.
// Implementations are stateless and safe for concurrent use.
type Dialect interface {
	// Name returns the database product name.
	Name() string

	// MapType maps a native column type to a generic type. It never fails: when the
	// native type is not recognized it returns models.FallbackType and false.
	MapType(native string) (models.GenericType, bool)

	// QuoteIdentifier quotes a single identifier, escaping embedded quote characters.
	QuoteIdentifier(name string) string

	// QuoteTable quotes a possibly dotted table identifier part by part.
	QuoteTable(identifier string) string

	// Placeholder returns the bind placeholder for the n-th argument (1-based).
	Placeholder(n int) string

	// FormatDate renders a bucketing or part-extraction expression over column.
	// format is only read for models.GranularityRaw.
	FormatDate(g models.DateGranularity, format, column string) (string, error)

	// Function returns the native template for a generic function name.
	Function(name string) (Function, bool)

	// Match renders a substring predicate of column against placeholder and
	// returns the argument to bind for it.
	Match(column, placeholder string, m MatchSpec) (string, any)

	// CastText casts an expression to the dialect's text type.
	CastText(expr string) string

	// Limit returns the text placed after SELECT and at the end of the statement
	// to cap the row count at n.
	Limit(n int) (prefix, suffix string)
}

// Function is a native function template. Template contains a {col} slot.
// An empty ResultType means the result has the argument's type.
type Function struct {
	Template   string
	Aggregate  bool
	ResultType models.GenericType
}

// Render substitutes expr into the template.
func (f Function) Render(expr string) string {
	return strings.ReplaceAll(f.Template, "{col}", expr)
}

// MatchKind selects where the search text must occur.
type MatchKind int

const (
	MatchContains MatchKind = iota
	MatchStartsWith
	MatchEndsWith
)

// MatchSpec is a substring match request.
type MatchSpec struct {
	Kind          MatchKind
	Value         string
	CaseSensitive bool
}

// For returns the dialect for a database type.
func For(t models.DatabaseType) (Dialect, error) {
	switch t {
	case models.DatabasePostgreSQL:
		return postgres, nil
	case models.DatabaseMariaDB, models.DatabaseMySQL:
		return mariadb, nil
	case models.DatabaseSQLite:
		return sqlite, nil
	case models.DatabaseBigQuery:
		return bigquery, nil
	case models.DatabaseSQLServer:
		return sqlserver, nil
	}
	return nil, apperrors.Configuration("no dialect for database type %q", t)
}

var (
	postgres  = newPostgres()
	mariadb   = newMariaDB()
	sqlite    = newSQLite()
	bigquery  = newBigQuery()
	sqlserver = newSQLServer()
)

// descriptor is the single table-driven Dialect implementation.
type descriptor struct {
	name        string
	quote       func(string) string
	types       map[string]models.GenericType
	inferType   func(native string) (models.GenericType, bool)
	functions   map[string]Function
	dates       map[models.DateGranularity]string
	raw         rawFormatter
	placeholder func(n int) string
	match       func(column, placeholder string, m MatchSpec) (string, any)
	castText    string
	top         bool
}

var _ Dialect = (*descriptor)(nil)

func (d *descriptor) Name() string { return d.name }

var (
	precisionPattern = regexp.MustCompile(`\([^)]*\)`)
	modifierPattern  = regexp.MustCompile(`\b(unsigned|signed|zerofill)\b`)
)

func normalizeNative(native string) string {
	return strings.Join(strings.Fields(strings.ToLower(native)), " ")
}

func (d *descriptor) MapType(native string) (models.GenericType, bool) {
	exact := normalizeNative(native)
	if t, ok := d.types[exact]; ok {
		return t, true
	}
	stripped := precisionPattern.ReplaceAllString(exact, "")
	stripped = normalizeNative(modifierPattern.ReplaceAllString(stripped, ""))
	if t, ok := d.types[stripped]; ok {
		return t, true
	}
	if d.inferType != nil {
		if t, ok := d.inferType(stripped); ok {
			return t, true
		}
	}
	return models.FallbackType, false
}

func (d *descriptor) QuoteIdentifier(name string) string {
	return d.quote(name)
}

func (d *descriptor) QuoteTable(identifier string) string {
	parts := strings.Split(identifier, ".")
	for i, p := range parts {
		parts[i] = d.quote(p)
	}
	return strings.Join(parts, ".")
}

func (d *descriptor) Placeholder(n int) string {
	return d.placeholder(n)
}

func (d *descriptor) FormatDate(g models.DateGranularity, format, column string) (string, error) {
	if g == models.GranularityRaw {
		tokens, err := parseRawFormat(format)
		if err != nil {
			return "", err
		}
		return d.raw.render(column, tokens)
	}
	tpl, ok := d.dates[g]
	if !ok {
		return "", apperrors.InvalidQuery("%s does not support date granularity %q", d.name, g)
	}
	return strings.ReplaceAll(tpl, "{col}", column), nil
}

func (d *descriptor) Function(name string) (Function, bool) {
	f, ok := d.functions[strings.ToLower(name)]
	return f, ok
}

func (d *descriptor) Match(column, placeholder string, m MatchSpec) (string, any) {
	return d.match(column, placeholder, m)
}

func (d *descriptor) CastText(expr string) string {
	return strings.ReplaceAll(d.castText, "{col}", expr)
}

func (d *descriptor) Limit(n int) (string, string) {
	if d.top {
		return "TOP (" + strconv.Itoa(n) + ") ", ""
	}
	return "", " LIMIT " + strconv.Itoa(n)
}

// quoteWith returns a quoting function that doubles the closing quote character.
func quoteWith(open, close string) func(string) string {
	return func(name string) string {
		return open + strings.ReplaceAll(name, close, close+close) + close
	}
}

func questionPlaceholder(int) string { return "?" }

func dollarPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

func atPlaceholder(n int) string { return "@p" + strconv.Itoa(n) }

// likePattern wraps an already-escaped value with the wildcard for kind.
func likePattern(escaped, wildcard string, kind MatchKind) string {
	switch kind {
	case MatchStartsWith:
		return escaped + wildcard
	case MatchEndsWith:
		return wildcard + escaped
	default:
		return wildcard + escaped + wildcard
	}
}

// bangEscaper escapes LIKE wildcards for an ESCAPE '!' clause.
var bangEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// commonFunctions are spelled identically by every supported dialect.
func commonFunctions() map[string]Function {
	return map[string]Function{
		"count":          {Template: "COUNT({col})", Aggregate: true, ResultType: models.TypeInteger},
		"count_distinct": {Template: "COUNT(DISTINCT {col})", Aggregate: true, ResultType: models.TypeInteger},
		"sum":            {Template: "SUM({col})", Aggregate: true, ResultType: models.TypeDecimal},
		"avg":            {Template: "AVG({col})", Aggregate: true, ResultType: models.TypeDecimal},
		"min":            {Template: "MIN({col})", Aggregate: true},
		"max":            {Template: "MAX({col})", Aggregate: true},
		"lower":          {Template: "LOWER({col})"},
		"upper":          {Template: "UPPER({col})"},
		"trim":           {Template: "TRIM({col})"},
	}
}

func withFunctions(base map[string]Function, extra map[string]Function) map[string]Function {
	for k, v := range extra {
		base[k] = v
	}
	return base
}

func (d *descriptor) String() string {
	return fmt.Sprintf("dialect(%s)", d.name)
}
