package dialect

import (
	"strings"

	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// globEscaper turns GLOB metacharacters into single-character classes.
var globEscaper = strings.NewReplacer("*", "[*]", "?", "[?]", "[", "[[]")

func newSQLite() *descriptor {
	return &descriptor{
		name:  "SQLite",
		quote: quoteWith(`"`, `"`),
		types: map[string]models.GenericType{
			"integer":           models.TypeInteger,
			"int":               models.TypeInteger,
			"tinyint":           models.TypeInteger,
			"smallint":          models.TypeInteger,
			"mediumint":         models.TypeInteger,
			"bigint":            models.TypeInteger,
			"int2":              models.TypeInteger,
			"int8":              models.TypeInteger,
			"real":              models.TypeDecimal,
			"double":            models.TypeDecimal,
			"double precision":  models.TypeDecimal,
			"float":             models.TypeDecimal,
			"numeric":           models.TypeDecimal,
			"decimal":           models.TypeDecimal,
			"text":              models.TypeText,
			"clob":              models.TypeText,
			"json":              models.TypeText,
			"varchar":           models.TypeString,
			"character":         models.TypeString,
			"varying character": models.TypeString,
			"nchar":             models.TypeString,
			"native character":  models.TypeString,
			"nvarchar":          models.TypeString,
			"char":              models.TypeString,
			"blob":              models.TypeString,
			"date":              models.TypeDate,
			"datetime":          models.TypeDatetime,
			"timestamp":         models.TypeDatetime,
			"boolean":           models.TypeBoolean,
			"bool":              models.TypeBoolean,
		},
		inferType: sqliteAffinity,
		functions: withFunctions(commonFunctions(), map[string]Function{
			"length":       {Template: "LENGTH({col})", ResultType: models.TypeInteger},
			"week_of_year": {Template: "CAST(strftime('%W', {col}) AS INTEGER)", ResultType: models.TypeInteger},
			"year":         {Template: "CAST(strftime('%Y', {col}) AS INTEGER)", ResultType: models.TypeInteger},
		}),
		dates: map[models.DateGranularity]string{
			models.GranularityMinute:       "strftime('%Y-%m-%d %H:%M:00', {col})",
			models.GranularityHour:         "strftime('%Y-%m-%d %H:00:00', {col})",
			models.GranularityDay:          "strftime('%Y-%m-%d', {col})",
			models.GranularityWeek:         "date({col}, '-6 days', 'weekday 1')",
			models.GranularityMonth:        "strftime('%Y-%m-01', {col})",
			models.GranularityQuarter:      "date({col}, 'start of month', printf('-%d months', (CAST(strftime('%m', {col}) AS INTEGER) - 1) % 3))",
			models.GranularityYear:         "strftime('%Y-01-01', {col})",
			models.GranularityMinuteOfHour: "CAST(strftime('%M', {col}) AS INTEGER)",
			models.GranularityHourOfDay:    "CAST(strftime('%H', {col}) AS INTEGER)",
			models.GranularityDayOfWeek: "CASE strftime('%w', {col})" +
				" WHEN '0' THEN 'Sunday' WHEN '1' THEN 'Monday' WHEN '2' THEN 'Tuesday'" +
				" WHEN '3' THEN 'Wednesday' WHEN '4' THEN 'Thursday' WHEN '5' THEN 'Friday'" +
				" WHEN '6' THEN 'Saturday' END",
			models.GranularityDayOfMonth:    "CAST(strftime('%d', {col}) AS INTEGER)",
			models.GranularityDayOfYear:     "CAST(strftime('%j', {col}) AS INTEGER)",
			models.GranularityMonthOfYear:   "CAST(strftime('%m', {col}) AS INTEGER)",
			models.GranularityQuarterOfYear: "(CAST(strftime('%m', {col}) AS INTEGER) + 2) / 3",
		},
		raw: rawFormatter{
			prefix:  "strftime('",
			suffix:  "', {col})",
			specs:   strftimeSpecs,
			literal: percentEscapedLiteral,
			dialect: "SQLite",
		},
		placeholder: questionPlaceholder,
		match: func(column, placeholder string, m MatchSpec) (string, any) {
			if m.CaseSensitive {
				return column + " GLOB " + placeholder, likePattern(globEscaper.Replace(m.Value), "*", m.Kind)
			}
			return column + " LIKE " + placeholder + " ESCAPE '!'", likePattern(bangEscaper.Replace(m.Value), "%", m.Kind)
		},
		castText: "CAST({col} AS TEXT)",
	}
}

// sqliteAffinity applies SQLite's declared-type affinity rules to names the
// exact table does not cover.
func sqliteAffinity(native string) (models.GenericType, bool) {
	switch {
	case native == "":
		return models.FallbackType, false
	case strings.Contains(native, "int"):
		return models.TypeInteger, true
	case strings.Contains(native, "char"), strings.Contains(native, "clob"), strings.Contains(native, "text"):
		return models.TypeText, true
	case strings.Contains(native, "real"), strings.Contains(native, "floa"), strings.Contains(native, "doub"):
		return models.TypeDecimal, true
	}
	return models.FallbackType, false
}
