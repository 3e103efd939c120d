package dialect

import (
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

func newMariaDB() *descriptor {
	return &descriptor{
		name:  "MariaDB",
		quote: quoteWith("`", "`"),
		types: map[string]models.GenericType{
			"tinyint(1)":         models.TypeBoolean,
			"bool":               models.TypeBoolean,
			"boolean":            models.TypeBoolean,
			"bit":                models.TypeBoolean,
			"tinyint":            models.TypeInteger,
			"smallint":           models.TypeInteger,
			"mediumint":          models.TypeInteger,
			"int":                models.TypeInteger,
			"integer":            models.TypeInteger,
			"bigint":             models.TypeInteger,
			"year":               models.TypeInteger,
			"decimal":            models.TypeDecimal,
			"numeric":            models.TypeDecimal,
			"float":              models.TypeDecimal,
			"double":             models.TypeDecimal,
			"double precision":   models.TypeDecimal,
			"real":               models.TypeDecimal,
			"char":               models.TypeString,
			"varchar":            models.TypeString,
			"binary":             models.TypeString,
			"varbinary":          models.TypeString,
			"enum":               models.TypeString,
			"set":                models.TypeString,
			"uuid":               models.TypeString,
			"time":               models.TypeString,
			"tinytext":           models.TypeText,
			"text":               models.TypeText,
			"mediumtext":         models.TypeText,
			"longtext":           models.TypeText,
			"json":               models.TypeText,
			"tinyblob":           models.TypeText,
			"blob":               models.TypeText,
			"mediumblob":         models.TypeText,
			"longblob":           models.TypeText,
			"date":               models.TypeDate,
			"datetime":           models.TypeDatetime,
			"timestamp":          models.TypeDatetime,
			"geometry":           models.TypeGeography,
			"point":              models.TypeGeography,
			"linestring":         models.TypeGeography,
			"polygon":            models.TypeGeography,
			"multipoint":         models.TypeGeography,
			"multilinestring":    models.TypeGeography,
			"multipolygon":       models.TypeGeography,
			"geometrycollection": models.TypeGeography,
		},
		functions: withFunctions(commonFunctions(), map[string]Function{
			"length":       {Template: "CHAR_LENGTH({col})", ResultType: models.TypeInteger},
			"week_of_year": {Template: "WEEKOFYEAR({col})", ResultType: models.TypeInteger},
			"year":         {Template: "YEAR({col})", ResultType: models.TypeInteger},
		}),
		dates: map[models.DateGranularity]string{
			models.GranularityMinute:        "DATE_FORMAT({col}, '%Y-%m-%d %H:%i:00')",
			models.GranularityHour:          "DATE_FORMAT({col}, '%Y-%m-%d %H:00:00')",
			models.GranularityDay:           "DATE_FORMAT({col}, '%Y-%m-%d')",
			models.GranularityWeek:          "DATE_FORMAT(DATE_SUB({col}, INTERVAL WEEKDAY({col}) DAY), '%Y-%m-%d')",
			models.GranularityMonth:         "DATE_FORMAT({col}, '%Y-%m-01')",
			models.GranularityQuarter:       "DATE_FORMAT(MAKEDATE(YEAR({col}), 1) + INTERVAL QUARTER({col}) - 1 QUARTER, '%Y-%m-%d')",
			models.GranularityYear:          "DATE_FORMAT({col}, '%Y-01-01')",
			models.GranularityMinuteOfHour:  "MINUTE({col})",
			models.GranularityHourOfDay:     "HOUR({col})",
			models.GranularityDayOfWeek:     "DAYNAME({col})",
			models.GranularityDayOfMonth:    "DAYOFMONTH({col})",
			models.GranularityDayOfYear:     "DAYOFYEAR({col})",
			models.GranularityMonthOfYear:   "MONTH({col})",
			models.GranularityQuarterOfYear: "QUARTER({col})",
		},
		raw: rawFormatter{
			prefix: "DATE_FORMAT({col}, '",
			suffix: "')",
			specs: map[byte]string{
				'Y': "%Y", 'm': "%m", 'd': "%d", 'H': "%H", 'M': "%i", 'S': "%s", 'j': "%j",
			},
			literal: percentEscapedLiteral,
			dialect: "MariaDB",
		},
		placeholder: questionPlaceholder,
		match: func(column, placeholder string, m MatchSpec) (string, any) {
			arg := likePattern(bangEscaper.Replace(m.Value), "%", m.Kind)
			if m.CaseSensitive {
				return column + " LIKE BINARY " + placeholder + " ESCAPE '!'", arg
			}
			return "LOWER(" + column + ") LIKE LOWER(" + placeholder + ") ESCAPE '!'", arg
		},
		castText: "CAST({col} AS CHAR)",
	}
}
