package models

import (
	"fmt"
	"strings"
)

// DateGranularity selects how a temporal column is bucketed or which part is extracted.
type DateGranularity string

const (
	GranularityMinute  DateGranularity = "minute"
	GranularityHour    DateGranularity = "hour"
	GranularityDay     DateGranularity = "day"
	GranularityWeek    DateGranularity = "week"
	GranularityMonth   DateGranularity = "month"
	GranularityQuarter DateGranularity = "quarter"
	GranularityYear    DateGranularity = "year"

	GranularityMinuteOfHour  DateGranularity = "minute_of_hour"
	GranularityHourOfDay     DateGranularity = "hour_of_day"
	GranularityDayOfWeek     DateGranularity = "day_of_week"
	GranularityDayOfMonth    DateGranularity = "day_of_month"
	GranularityDayOfYear     DateGranularity = "day_of_year"
	GranularityMonthOfYear   DateGranularity = "month_of_year"
	GranularityQuarterOfYear DateGranularity = "quarter_of_year"

	// GranularityRaw formats the column with a caller-supplied strftime-style pattern.
	GranularityRaw DateGranularity = "raw"
)

// Granularities lists every non-raw granularity in declaration order.
var Granularities = []DateGranularity{
	GranularityMinute,
	GranularityHour,
	GranularityDay,
	GranularityWeek,
	GranularityMonth,
	GranularityQuarter,
	GranularityYear,
	GranularityMinuteOfHour,
	GranularityHourOfDay,
	GranularityDayOfWeek,
	GranularityDayOfMonth,
	GranularityDayOfYear,
	GranularityMonthOfYear,
	GranularityQuarterOfYear,
}

// ParseGranularity accepts the snake_case name or the CamelCase form ("MonthOfYear").
func ParseGranularity(s string) (DateGranularity, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	for _, g := range append(Granularities, GranularityRaw) {
		if normalized == string(g) || normalized == strings.ReplaceAll(string(g), "_", "") {
			return g, nil
		}
	}
	return "", fmt.Errorf("unknown date granularity %q", s)
}

// IsPeriod reports whether g truncates to a calendar period rather than extracting a part.
func (g DateGranularity) IsPeriod() bool {
	switch g {
	case GranularityMinute, GranularityHour, GranularityDay, GranularityWeek,
		GranularityMonth, GranularityQuarter, GranularityYear:
		return true
	}
	return false
}

// ResultType is the generic type of a bucket expression built with g.
func (g DateGranularity) ResultType() GenericType {
	switch {
	case g.IsPeriod():
		return TypeDatetime
	case g == GranularityDayOfWeek:
		return TypeText
	case g == GranularityRaw:
		return TypeString
	default:
		return TypeInteger
	}
}
