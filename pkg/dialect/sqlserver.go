package dialect

import (
	"strings"

	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// sqlServerEscaper also escapes '[' because LIKE treats bracket ranges as wildcards.
var sqlServerEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_", "[", "![")

func newSQLServer() *descriptor {
	return &descriptor{
		name: "SQLServer",
		quote: func(name string) string {
			return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
		},
		types: map[string]models.GenericType{
			"tinyint":          models.TypeInteger,
			"smallint":         models.TypeInteger,
			"int":              models.TypeInteger,
			"bigint":           models.TypeInteger,
			"decimal":          models.TypeDecimal,
			"numeric":          models.TypeDecimal,
			"float":            models.TypeDecimal,
			"real":             models.TypeDecimal,
			"money":            models.TypeDecimal,
			"smallmoney":       models.TypeDecimal,
			"varchar":          models.TypeString,
			"nvarchar":         models.TypeString,
			"char":             models.TypeString,
			"nchar":            models.TypeString,
			"uniqueidentifier": models.TypeString,
			"binary":           models.TypeString,
			"varbinary":        models.TypeString,
			"time":             models.TypeString,
			"text":             models.TypeText,
			"ntext":            models.TypeText,
			"xml":              models.TypeText,
			"date":             models.TypeDate,
			"datetime":         models.TypeDatetime,
			"datetime2":        models.TypeDatetime,
			"smalldatetime":    models.TypeDatetime,
			"datetimeoffset":   models.TypeDatetime,
			"bit":              models.TypeBoolean,
			"geography":        models.TypeGeography,
			"geometry":         models.TypeGeography,
		},
		functions: withFunctions(commonFunctions(), map[string]Function{
			"length":       {Template: "LEN({col})", ResultType: models.TypeInteger},
			"week_of_year": {Template: "DATEPART(iso_week, {col})", ResultType: models.TypeInteger},
			"year":         {Template: "YEAR({col})", ResultType: models.TypeInteger},
		}),
		dates: map[models.DateGranularity]string{
			models.GranularityMinute:        "FORMAT({col}, 'yyyy-MM-dd HH:mm:00')",
			models.GranularityHour:          "FORMAT({col}, 'yyyy-MM-dd HH:00:00')",
			models.GranularityDay:           "FORMAT({col}, 'yyyy-MM-dd')",
			models.GranularityWeek:          "FORMAT(DATEADD(day, 1 - DATEPART(weekday, {col}), {col}), 'yyyy-MM-dd')",
			models.GranularityMonth:         "FORMAT({col}, 'yyyy-MM-01')",
			models.GranularityQuarter:       "FORMAT(DATEFROMPARTS(YEAR({col}), (DATEPART(quarter, {col}) - 1) * 3 + 1, 1), 'yyyy-MM-dd')",
			models.GranularityYear:          "FORMAT({col}, 'yyyy-01-01')",
			models.GranularityMinuteOfHour:  "DATEPART(minute, {col})",
			models.GranularityHourOfDay:     "DATEPART(hour, {col})",
			models.GranularityDayOfWeek:     "DATENAME(weekday, {col})",
			models.GranularityDayOfMonth:    "DATEPART(day, {col})",
			models.GranularityDayOfYear:     "DATEPART(dayofyear, {col})",
			models.GranularityMonthOfYear:   "DATEPART(month, {col})",
			models.GranularityQuarterOfYear: "DATEPART(quarter, {col})",
		},
		raw: rawFormatter{
			prefix: "FORMAT({col}, '",
			suffix: "')",
			specs: map[byte]string{
				'Y': "yyyy", 'm': "MM", 'd': "dd", 'H': "HH", 'M': "mm", 'S': "ss",
			},
			literal: func(s string) string {
				var b strings.Builder
				for _, r := range s {
					b.WriteByte('\\')
					b.WriteRune(r)
				}
				return b.String()
			},
			dialect: "SQLServer",
		},
		placeholder: atPlaceholder,
		match: func(column, placeholder string, m MatchSpec) (string, any) {
			collation := "Latin1_General_CI_AS"
			if m.CaseSensitive {
				collation = "Latin1_General_CS_AS"
			}
			arg := likePattern(sqlServerEscaper.Replace(m.Value), "%", m.Kind)
			return column + " COLLATE " + collation + " LIKE " + placeholder + " ESCAPE '!'", arg
		},
		castText: "CAST({col} AS NVARCHAR(MAX))",
		top:      true,
	}
}
