package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

func TestCheckValueForInjection(t *testing.T) {
	tests := []struct {
		name            string
		value           any
		expectInjection bool
	}{
		// Clean values
		{"clean string value", "12345", false},
		{"clean email address", "user@example.com", false},
		{"clean date string", "2024-01-15", false},
		{"clean UUID", "550e8400-e29b-41d4-a716-446655440000", false},
		{"clean search term", "laptop computers", false},
		{"integer value", 100, false},
		{"float value", 99.95, false},
		{"boolean value", true, false},
		{"nil value", nil, false},
		{"empty string", "", false},
		{"legitimate apostrophe", "O'Brien", false},
		{"double dash in text", "This is a note -- with dashes", false},
		{"SQL keywords without injection context", "SELECT the best option from the menu", false},

		// Classic payloads
		{"classic quote injection", "' OR '1'='1", true},
		{"drop table injection", "'; DROP TABLE users--", true},
		{"union select injection", "1 UNION SELECT * FROM passwords", true},
		{"comment injection", "admin'--", true},
		{"OR injection", "' OR 1=1--", true},
		{"time-based blind injection", "1' AND SLEEP(5)--", true},
		{"stacked queries", "admin'; DELETE FROM logs; --", true},
		{"union with null", "' UNION SELECT NULL, NULL--", true},
		{"boolean-based blind injection", "1' AND '1'='1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckValueForInjection("filters[0].value", tt.value)
			if !tt.expectInjection {
				assert.Nil(t, result)
				return
			}
			require.NotNil(t, result)
			assert.Equal(t, "filters[0].value", result.Field)
			assert.Equal(t, tt.value, result.Value)
			assert.NotEmpty(t, result.Fingerprint)
		})
	}
}

func TestCheckValueForInjection_RealWorldValues(t *testing.T) {
	for _, value := range []string{
		"/usr/local/bin/app",
		`{"key": "value", "enabled": true}`,
		"user+tag@example.com",
		"+1-555-123-4567",
		"$1,234.56",
		"https://example.com/path?query=value&other=123",
		"# Header\n\nThis is **bold** and *italic* text.",
		"function test() { return true; }",
	} {
		assert.Nil(t, CheckValueForInjection("v", value), value)
	}
}

func TestScreenFilters(t *testing.T) {
	req := models.QueryRequest{
		Table: "users",
		Filters: []models.Filter{
			{Column: "name", Operator: models.OpEquals, Value: "alice"},
			{Column: "name", Operator: models.OpIn, Value: []any{"bob", "' OR '1'='1"}},
			{Column: "id", Operator: models.OpGreater, Value: 10},
			{Column: "note", Operator: models.OpContains, Value: "'; DROP TABLE users--"},
			{Column: "tags", Operator: models.OpNotIn, Value: []string{"admin'--"}},
		},
	}

	results := ScreenFilters(req)
	require.Len(t, results, 3)
	assert.Equal(t, "filters[1].value[1]", results[0].Field)
	assert.Equal(t, "filters[3].value", results[1].Field)
	assert.Equal(t, "filters[4].value[0]", results[2].Field)
}

func TestScreenFilters_Clean(t *testing.T) {
	req := models.QueryRequest{
		Table:   "users",
		Filters: []models.Filter{{Column: "email", Operator: models.OpEquals, Value: "user@example.com"}},
	}
	assert.Empty(t, ScreenFilters(req))
}

func TestScreenRequest_RawFormats(t *testing.T) {
	req := models.QueryRequest{
		Table:   "orders",
		Filters: []models.Filter{{Column: "note", Operator: models.OpEquals, Value: "admin'--"}},
		GroupBy: []models.GroupBy{
			{Column: "created_at", Granularity: models.GranularityMonth, Format: "' OR '1'='1"},
			{Column: "created_at", Granularity: models.GranularityRaw, Format: "' OR '1'='1"},
			{Column: "status"},
		},
	}

	results := ScreenRequest(req)
	require.Len(t, results, 2)
	assert.Equal(t, "filters[0].value", results[0].Field)
	assert.Equal(t, "group_by[1].format", results[1].Field, "formats only matter for raw granularity")
}
