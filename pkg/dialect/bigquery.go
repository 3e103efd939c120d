package dialect

import (
	"strings"

	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

var (
	backtickEscaper  = strings.NewReplacer(`\`, `\\`, "`", "\\`")
	backslashEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
)

func newBigQuery() *descriptor {
	return &descriptor{
		name: "BigQuery",
		quote: func(name string) string {
			return "`" + backtickEscaper.Replace(name) + "`"
		},
		types: map[string]models.GenericType{
			"integer":    models.TypeInteger,
			"int64":      models.TypeInteger,
			"float":      models.TypeDecimal,
			"float64":    models.TypeDecimal,
			"numeric":    models.TypeDecimal,
			"bignumeric": models.TypeDecimal,
			"string":     models.TypeText,
			"json":       models.TypeText,
			"bytes":      models.TypeString,
			"time":       models.TypeString,
			"date":       models.TypeDate,
			"timestamp":  models.TypeDatetime,
			"datetime":   models.TypeDatetime,
			"boolean":    models.TypeBoolean,
			"bool":       models.TypeBoolean,
			"geography":  models.TypeGeography,
		},
		functions: withFunctions(commonFunctions(), map[string]Function{
			"length":       {Template: "LENGTH({col})", ResultType: models.TypeInteger},
			"week_of_year": {Template: "EXTRACT(ISOWEEK FROM {col})", ResultType: models.TypeInteger},
			"year":         {Template: "EXTRACT(YEAR FROM {col})", ResultType: models.TypeInteger},
		}),
		dates: map[models.DateGranularity]string{
			models.GranularityMinute:        "FORMAT_TIMESTAMP('%Y-%m-%d %H:%M', {col})",
			models.GranularityHour:          "FORMAT_TIMESTAMP('%Y-%m-%d %H:00', {col})",
			models.GranularityDay:           "FORMAT_TIMESTAMP('%Y-%m-%d 00:00', {col})",
			models.GranularityWeek:          "FORMAT_TIMESTAMP('%Y-%m-%d', TIMESTAMP_TRUNC({col}, WEEK))",
			models.GranularityMonth:         "FORMAT_TIMESTAMP('%Y-%m-01', {col})",
			models.GranularityQuarter:       "FORMAT_TIMESTAMP('%Y-%m-01', TIMESTAMP_TRUNC({col}, QUARTER))",
			models.GranularityYear:          "FORMAT_TIMESTAMP('%Y-01-01', {col})",
			models.GranularityMinuteOfHour:  "EXTRACT(MINUTE FROM {col})",
			models.GranularityHourOfDay:     "EXTRACT(HOUR FROM {col})",
			models.GranularityDayOfWeek:     "FORMAT_TIMESTAMP('%A', {col})",
			models.GranularityDayOfMonth:    "EXTRACT(DAY FROM {col})",
			models.GranularityDayOfYear:     "EXTRACT(DAYOFYEAR FROM {col})",
			models.GranularityMonthOfYear:   "EXTRACT(MONTH FROM {col})",
			models.GranularityQuarterOfYear: "EXTRACT(QUARTER FROM {col})",
		},
		raw: rawFormatter{
			prefix:  "FORMAT_TIMESTAMP('",
			suffix:  "', {col})",
			specs:   strftimeSpecs,
			literal: percentEscapedLiteral,
			dialect: "BigQuery",
		},
		placeholder: atPlaceholder,
		match: func(column, placeholder string, m MatchSpec) (string, any) {
			arg := likePattern(backslashEscaper.Replace(m.Value), "%", m.Kind)
			if m.CaseSensitive {
				return column + " LIKE " + placeholder, arg
			}
			return "LOWER(" + column + ") LIKE LOWER(" + placeholder + ")", arg
		},
		castText: "CAST({col} AS STRING)",
	}
}
