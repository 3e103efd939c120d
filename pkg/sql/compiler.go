// Package sql compiles dialect-independent query requests into dialect-specific
// statements and screens caller-supplied values.
package sql

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/dialect"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

const (
	// DefaultLimit applies when a request does not set a limit.
	DefaultLimit = 1000
	// MaxLimit is the ceiling every limit is clamped to.
	MaxLimit = 10000
)

// Compiler renders QueryRequests. The zero value uses DefaultLimit and MaxLimit.
type Compiler struct {
	DefaultLimit int
	MaxLimit     int
}

// Compile renders req with the package default limits.
func Compile(req models.QueryRequest, d dialect.Dialect, schema models.TableSchema) (*models.CompiledQuery, error) {
	return Compiler{}.Compile(req, d, schema)
}

// projection is one entry of the SELECT list.
type projection struct {
	expr      string
	name      string
	typ       models.GenericType
	aggregate bool
}

// compilation carries the state of a single Compile call.
type compilation struct {
	d      dialect.Dialect
	schema models.TableSchema
	args   []any
}

// Compile validates req against the catalog snapshot and renders it for d.
// It performs no I/O.
func (c Compiler) Compile(req models.QueryRequest, d dialect.Dialect, schema models.TableSchema) (*models.CompiledQuery, error) {
	if err := checkReferences(req, schema); err != nil {
		return nil, err
	}
	limit, err := c.resolveLimit(req.Limit)
	if err != nil {
		return nil, err
	}

	comp := &compilation{d: d, schema: schema}

	projections, err := comp.projections(req)
	if err != nil {
		return nil, err
	}
	where, err := comp.where(req.Filters)
	if err != nil {
		return nil, err
	}

	hasAggregate := slices.ContainsFunc(projections, func(p projection) bool { return p.aggregate })
	grouped := hasAggregate || len(req.GroupBy) > 0
	var groupBy []string
	if grouped {
		for _, p := range projections {
			if !p.aggregate && !slices.Contains(groupBy, p.expr) {
				groupBy = append(groupBy, p.expr)
			}
		}
	}

	orderBy, err := comp.orderBy(req.OrderBy, projections, grouped || req.Distinct)
	if err != nil {
		return nil, err
	}

	prefix, suffix := d.Limit(limit)

	var sb strings.Builder
	sb.WriteString("SELECT ")
	if req.Distinct {
		sb.WriteString("DISTINCT ")
	}
	sb.WriteString(prefix)
	manifest := make([]models.OutputColumn, 0, len(projections))
	for i, p := range projections {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(comp.renderProjection(p))
		manifest = append(manifest, models.OutputColumn{Name: p.name, Type: p.typ})
	}
	sb.WriteString(" FROM ")
	sb.WriteString(d.QuoteTable(schema.Table.RemoteIdentifier))
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	if len(groupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(groupBy, ", "))
	}
	if len(orderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(orderBy, ", "))
	}
	sb.WriteString(suffix)

	return &models.CompiledQuery{
		Statement: models.Statement{Text: sb.String(), Args: comp.args},
		Manifest:  manifest,
	}, nil
}

func (c Compiler) resolveLimit(requested int) (int, error) {
	def, ceiling := c.DefaultLimit, c.MaxLimit
	if def <= 0 {
		def = DefaultLimit
	}
	if ceiling <= 0 {
		ceiling = MaxLimit
	}
	switch {
	case requested < 0:
		return 0, apperrors.InvalidQuery("limit must not be negative, got %d", requested)
	case requested == 0:
		return min(def, ceiling), nil
	default:
		return min(requested, ceiling), nil
	}
}

// checkReferences fails with a SchemaError listing every column the request names
// that the catalog snapshot does not have. Order-by names may also be output
// aliases and are resolved later.
func checkReferences(req models.QueryRequest, schema models.TableSchema) error {
	if req.Table == "" {
		return apperrors.InvalidQuery("table is required")
	}
	if req.Table != schema.Table.RemoteIdentifier {
		return apperrors.Schema("table %q is not in the catalog", req.Table)
	}

	var missing []string
	check := func(name string) {
		if _, ok := schema.Column(name); !ok && !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
	}
	for _, s := range req.Columns {
		check(s.Column)
	}
	for _, f := range req.Filters {
		check(f.Column)
	}
	for _, a := range req.Aggregations {
		if a.Column != "" {
			check(a.Column)
		}
	}
	for _, g := range req.GroupBy {
		check(g.Column)
	}
	if len(missing) > 0 {
		return apperrors.Schema("table %q has no column(s) %s", req.Table, strings.Join(missing, ", "))
	}
	return nil
}

func (c *compilation) bind(v any) string {
	c.args = append(c.args, v)
	return c.d.Placeholder(len(c.args))
}

func (c *compilation) column(name string) (string, models.GenericType) {
	col, _ := c.schema.Column(name)
	return c.d.QuoteIdentifier(name), col.Type
}

func (c *compilation) projections(req models.QueryRequest) ([]projection, error) {
	var out []projection
	plainGroups := make(map[string]bool, len(req.GroupBy))

	for _, g := range req.GroupBy {
		expr, typ := c.column(g.Column)
		name := g.Column
		if g.Granularity == "" {
			plainGroups[g.Column] = true
		}
		if g.Granularity != "" {
			if !bucketable(typ) {
				return nil, apperrors.InvalidQuery("column %q of type %s cannot be grouped by date", g.Column, typ)
			}
			bucket, err := c.d.FormatDate(g.Granularity, g.Format, expr)
			if err != nil {
				return nil, err
			}
			expr, typ = bucket, g.Granularity.ResultType()
			name = g.Column + "__" + string(g.Granularity)
		}
		out = append(out, projection{expr: expr, name: name, typ: typ})
	}

	for _, s := range req.Columns {
		// A bare column that is also a plain group key is already projected.
		if s.Function == "" && s.Alias == "" && plainGroups[s.Column] {
			continue
		}
		expr, typ := c.column(s.Column)
		p := projection{expr: expr, name: s.Column, typ: typ}
		if s.Function != "" {
			fn, ok := c.d.Function(s.Function)
			if !ok {
				return nil, apperrors.InvalidQuery("%s has no function %q", c.d.Name(), s.Function)
			}
			p.expr = fn.Render(expr)
			p.name = strings.ToLower(s.Function) + "_" + s.Column
			p.aggregate = fn.Aggregate
			if fn.ResultType != "" {
				p.typ = fn.ResultType
			}
		}
		if s.Alias != "" {
			p.name = s.Alias
		}
		out = append(out, p)
	}

	for _, a := range req.Aggregations {
		p, err := c.aggregation(a)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}

	seen := make(map[string]bool, len(out))
	for _, p := range out {
		if seen[p.name] {
			return nil, apperrors.InvalidQuery("duplicate output column %q; set an alias", p.name)
		}
		seen[p.name] = true
	}

	if len(out) > 0 {
		return out, nil
	}

	if len(c.schema.Columns) == 0 {
		return []projection{{expr: "*", name: "*", typ: models.TypeUnknown}}, nil
	}
	columns := slices.Clone(c.schema.Columns)
	sort.SliceStable(columns, func(i, j int) bool { return columns[i].Position < columns[j].Position })
	for _, col := range columns {
		out = append(out, projection{expr: c.d.QuoteIdentifier(col.Name), name: col.Name, typ: col.Type})
	}
	return out, nil
}

func (c *compilation) aggregation(a models.Aggregation) (projection, error) {
	fn, ok := c.d.Function(a.Function)
	if !ok || !fn.Aggregate {
		return projection{}, apperrors.InvalidQuery("%q is not an aggregate function", a.Function)
	}

	p := projection{aggregate: true, typ: fn.ResultType}
	if a.Column == "" {
		if strings.ToLower(a.Function) != "count" {
			return projection{}, apperrors.InvalidQuery("aggregate %q requires a column", a.Function)
		}
		p.expr, p.name = "COUNT(*)", "count"
	} else {
		expr, typ := c.column(a.Column)
		p.expr = fn.Render(expr)
		p.name = strings.ToLower(a.Function) + "_" + a.Column
		if p.typ == "" {
			p.typ = typ
		}
	}
	if a.Alias != "" {
		p.name = a.Alias
	}
	return p, nil
}

// bucketable allows text columns because SQLite stores timestamps as text.
func bucketable(t models.GenericType) bool {
	return t.IsTemporal() || t.IsTextual() || t == models.TypeUnknown
}

func (c *compilation) renderProjection(p projection) string {
	quoted := c.d.QuoteIdentifier(p.name)
	if p.expr == quoted || p.expr == "*" {
		return p.expr
	}
	return p.expr + " AS " + quoted
}

func (c *compilation) where(filters []models.Filter) ([]string, error) {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		part, err := c.predicate(f)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return parts, nil
}

var comparisons = map[models.FilterOperator]string{
	models.OpEquals:    "=",
	models.OpNotEquals: "<>",
	models.OpGreater:   ">",
	models.OpGreaterEq: ">=",
	models.OpLess:      "<",
	models.OpLessEq:    "<=",
}

var matchKinds = map[models.FilterOperator]dialect.MatchKind{
	models.OpContains:    dialect.MatchContains,
	models.OpNotContains: dialect.MatchContains,
	models.OpStartsWith:  dialect.MatchStartsWith,
	models.OpEndsWith:    dialect.MatchEndsWith,
}

func (c *compilation) predicate(f models.Filter) (string, error) {
	expr, typ := c.column(f.Column)

	if op, ok := comparisons[f.Operator]; ok {
		if f.Value == nil {
			return "", apperrors.InvalidQuery("operator %s on %q needs a value; use is_null or is_not_null", f.Operator, f.Column)
		}
		if _, isList := asList(f.Value); isList {
			return "", apperrors.InvalidQuery("operator %s on %q takes a single value", f.Operator, f.Column)
		}
		return expr + " " + op + " " + c.bind(f.Value), nil
	}

	if kind, ok := matchKinds[f.Operator]; ok {
		text, err := matchText(f)
		if err != nil {
			return "", err
		}
		target := expr
		if !typ.IsTextual() {
			target = c.d.CastText(expr)
		}
		placeholder := c.d.Placeholder(len(c.args) + 1)
		sql, arg := c.d.Match(target, placeholder, dialect.MatchSpec{
			Kind:          kind,
			Value:         text,
			CaseSensitive: !f.CaseInsensitive,
		})
		c.args = append(c.args, arg)
		if f.Operator == models.OpNotContains {
			return "NOT (" + sql + ")", nil
		}
		return sql, nil
	}

	switch f.Operator {
	case models.OpIn, models.OpNotIn:
		values, ok := asList(f.Value)
		if !ok {
			return "", apperrors.InvalidQuery("operator %s on %q needs a list value", f.Operator, f.Column)
		}
		if len(values) == 0 {
			if f.Operator == models.OpIn {
				return "1 = 0", nil
			}
			return "1 = 1", nil
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = c.bind(v)
		}
		op := " IN ("
		if f.Operator == models.OpNotIn {
			op = " NOT IN ("
		}
		return expr + op + strings.Join(placeholders, ", ") + ")", nil
	case models.OpIsNull:
		return expr + " IS NULL", nil
	case models.OpIsNotNull:
		return expr + " IS NOT NULL", nil
	}
	return "", apperrors.InvalidQuery("unknown filter operator %q", f.Operator)
}

func matchText(f models.Filter) (string, error) {
	switch v := f.Value.(type) {
	case string:
		return v, nil
	case nil:
		return "", apperrors.InvalidQuery("operator %s on %q needs a search value", f.Operator, f.Column)
	case bool, int, int32, int64, float32, float64:
		return fmt.Sprint(v), nil
	}
	return "", apperrors.InvalidQuery("operator %s on %q needs a text value, got %T", f.Operator, f.Column, f.Value)
}

// orderBy resolves each key to an output expression or a catalog column. When the
// statement is grouped or distinct, only projected columns can be ordered on.
func (c *compilation) orderBy(keys []models.OrderBy, projections []projection, projectedOnly bool) ([]string, error) {
	out := make([]string, 0, len(keys))
	for _, o := range keys {
		dir := " ASC"
		if o.Descending {
			dir = " DESC"
		}

		if i := slices.IndexFunc(projections, func(p projection) bool { return p.name == o.Column }); i >= 0 {
			out = append(out, projections[i].expr+dir)
			continue
		}
		if _, ok := c.schema.Column(o.Column); !ok {
			return nil, apperrors.Schema("table %q has no column(s) %s", c.schema.Table.RemoteIdentifier, o.Column)
		}
		quoted := c.d.QuoteIdentifier(o.Column)
		if projectedOnly && !slices.ContainsFunc(projections, func(p projection) bool { return p.expr == quoted }) {
			return nil, apperrors.InvalidQuery("cannot order by %q: it is not part of the grouped or distinct output", o.Column)
		}
		out = append(out, quoted+dir)
	}
	return out, nil
}
