package sql

import (
	"fmt"
	"reflect"

	libinjection "github.com/corazawaf/libinjection-go"

	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// InjectionCheckResult describes a request value that looks like a SQL injection payload.
// Compiled statements always bind values, so a hit is a signal worth logging rather
// than a vulnerability.
type InjectionCheckResult struct {
	Field       string // e.g. "filters[2].value"
	Value       any
	Fingerprint string // libinjection fingerprint of the detected pattern
}

// CheckValueForInjection runs libinjection over a string value. Non-string values
// cannot carry a payload and return nil.
func CheckValueForInjection(field string, value any) *InjectionCheckResult {
	s, ok := value.(string)
	if !ok {
		return nil
	}
	isSQLi, fingerprint := libinjection.IsSQLi(s)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		Field:       field,
		Value:       value,
		Fingerprint: string(fingerprint),
	}
}

// ScreenFilters checks every filter value of req, including the members of
// in/not_in lists.
func ScreenFilters(req models.QueryRequest) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for i, f := range req.Filters {
		field := fmt.Sprintf("filters[%d].value", i)
		if list, ok := asList(f.Value); ok {
			for j, v := range list {
				if r := CheckValueForInjection(fmt.Sprintf("%s[%d]", field, j), v); r != nil {
					results = append(results, r)
				}
			}
			continue
		}
		if r := CheckValueForInjection(field, f.Value); r != nil {
			results = append(results, r)
		}
	}
	return results
}

// ScreenRequest checks every caller-supplied string that ends up near SQL
// text: filter values and raw date formats of group_by entries. Raw formats
// are rendered as literals, so the format parser's allow-list is what keeps
// them safe; a hit here is still worth auditing.
func ScreenRequest(req models.QueryRequest) []*InjectionCheckResult {
	results := ScreenFilters(req)
	for i, g := range req.GroupBy {
		if g.Granularity != models.GranularityRaw || g.Format == "" {
			continue
		}
		if r := CheckValueForInjection(fmt.Sprintf("group_by[%d].format", i), g.Format); r != nil {
			results = append(results, r)
		}
	}
	return results
}

// asList flattens any slice or array into []any. Byte slices are scalars.
func asList(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
