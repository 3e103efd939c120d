package dialect

import (
	"strings"

	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

func newPostgres() *descriptor {
	return &descriptor{
		name:  "PostgreSQL",
		quote: quoteWith(`"`, `"`),
		types: map[string]models.GenericType{
			"smallint":                    models.TypeInteger,
			"integer":                     models.TypeInteger,
			"int":                         models.TypeInteger,
			"bigint":                      models.TypeInteger,
			"int2":                        models.TypeInteger,
			"int4":                        models.TypeInteger,
			"int8":                        models.TypeInteger,
			"smallserial":                 models.TypeInteger,
			"serial":                      models.TypeInteger,
			"bigserial":                   models.TypeInteger,
			"numeric":                     models.TypeDecimal,
			"decimal":                     models.TypeDecimal,
			"real":                        models.TypeDecimal,
			"double precision":            models.TypeDecimal,
			"float4":                      models.TypeDecimal,
			"float8":                      models.TypeDecimal,
			"money":                       models.TypeDecimal,
			"text":                        models.TypeText,
			"json":                        models.TypeText,
			"jsonb":                       models.TypeText,
			"xml":                         models.TypeText,
			"character varying":           models.TypeString,
			"varchar":                     models.TypeString,
			"character":                   models.TypeString,
			"char":                        models.TypeString,
			"bpchar":                      models.TypeString,
			"citext":                      models.TypeString,
			"name":                        models.TypeString,
			"uuid":                        models.TypeString,
			"inet":                        models.TypeString,
			"cidr":                        models.TypeString,
			"bytea":                       models.TypeString,
			"date":                        models.TypeDate,
			"timestamp":                   models.TypeDatetime,
			"timestamp without time zone": models.TypeDatetime,
			"timestamp with time zone":    models.TypeDatetime,
			"timestamptz":                 models.TypeDatetime,
			"time":                        models.TypeString,
			"time without time zone":      models.TypeString,
			"time with time zone":         models.TypeString,
			"interval":                    models.TypeString,
			"boolean":                     models.TypeBoolean,
			"bool":                        models.TypeBoolean,
			"geography":                   models.TypeGeography,
			"geometry":                    models.TypeGeography,
			"point":                       models.TypeGeography,
			"polygon":                     models.TypeGeography,
		},
		functions: withFunctions(commonFunctions(), map[string]Function{
			"length":       {Template: "LENGTH({col})", ResultType: models.TypeInteger},
			"week_of_year": {Template: "CAST(EXTRACT(WEEK FROM {col}) AS INTEGER)", ResultType: models.TypeInteger},
			"year":         {Template: "CAST(EXTRACT(YEAR FROM {col}) AS INTEGER)", ResultType: models.TypeInteger},
		}),
		dates: map[models.DateGranularity]string{
			models.GranularityMinute:        "date_trunc('minute', {col})",
			models.GranularityHour:          "date_trunc('hour', {col})",
			models.GranularityDay:           "date_trunc('day', {col})",
			models.GranularityWeek:          "date_trunc('week', {col})",
			models.GranularityMonth:         "date_trunc('month', {col})",
			models.GranularityQuarter:       "date_trunc('quarter', {col})",
			models.GranularityYear:          "date_trunc('year', {col})",
			models.GranularityMinuteOfHour:  "CAST(EXTRACT(MINUTE FROM {col}) AS INTEGER)",
			models.GranularityHourOfDay:     "CAST(EXTRACT(HOUR FROM {col}) AS INTEGER)",
			models.GranularityDayOfWeek:     "TRIM(to_char({col}, 'Day'))",
			models.GranularityDayOfMonth:    "CAST(EXTRACT(DAY FROM {col}) AS INTEGER)",
			models.GranularityDayOfYear:     "CAST(EXTRACT(DOY FROM {col}) AS INTEGER)",
			models.GranularityMonthOfYear:   "CAST(EXTRACT(MONTH FROM {col}) AS INTEGER)",
			models.GranularityQuarterOfYear: "CAST(EXTRACT(QUARTER FROM {col}) AS INTEGER)",
		},
		raw: rawFormatter{
			prefix: "to_char({col}, '",
			suffix: "')",
			specs: map[byte]string{
				'Y': "YYYY", 'm': "MM", 'd': "DD", 'H': "HH24", 'M': "MI", 'S': "SS", 'j': "DDD",
			},
			// Double-quoted runs are copied verbatim by to_char.
			literal: func(s string) string { return `"` + s + `"` },
			dialect: "PostgreSQL",
		},
		placeholder: dollarPlaceholder,
		match: func(column, placeholder string, m MatchSpec) (string, any) {
			op := "ILIKE"
			if m.CaseSensitive {
				op = "LIKE"
			}
			arg := likePattern(bangEscaper.Replace(m.Value), "%", m.Kind)
			return strings.Join([]string{column, op, placeholder, "ESCAPE '!'"}, " "), arg
		},
		castText: "CAST({col} AS TEXT)",
	}
}
