package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveLabel(t *testing.T) {
	tests := []struct {
		identifier string
		want       string
	}{
		{"orders", "Orders"},
		{"order_items", "Order Items"},
		{"public.order_items", "Order Items"},
		{"sales_2024.daily-totals", "Daily Totals"},
		{"__internal__meta", "Internal Meta"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.identifier, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveLabel(tt.identifier))
			assert.Equal(t, DeriveLabel(tt.identifier), DeriveLabel(tt.identifier))
		})
	}
}

func TestTableSchema_Column(t *testing.T) {
	schema := TableSchema{Columns: []ColumnDescriptor{
		{Name: "id", Type: TypeInteger},
		{Name: "Amount", Type: TypeDecimal},
	}}

	col, ok := schema.Column("Amount")
	assert.True(t, ok)
	assert.Equal(t, TypeDecimal, col.Type)

	_, ok = schema.Column("amount")
	assert.False(t, ok, "lookup is case-sensitive")
}

func TestParseGranularity(t *testing.T) {
	g, err := ParseGranularity("MonthOfYear")
	assert.NoError(t, err)
	assert.Equal(t, GranularityMonthOfYear, g)

	g, err = ParseGranularity("quarter")
	assert.NoError(t, err)
	assert.Equal(t, GranularityQuarter, g)

	_, err = ParseGranularity("fortnight")
	assert.Error(t, err)
}

func TestDateGranularity_ResultType(t *testing.T) {
	assert.Equal(t, TypeDatetime, GranularityMonth.ResultType())
	assert.Equal(t, TypeText, GranularityDayOfWeek.ResultType())
	assert.Equal(t, TypeInteger, GranularityQuarterOfYear.ResultType())
	assert.Equal(t, TypeString, GranularityRaw.ResultType())
}
