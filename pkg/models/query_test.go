package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRow_MarshalJSONPreservesOrder(t *testing.T) {
	row := Row{
		{Name: "zeta", Value: int64(1)},
		{Name: "alpha", Value: "a"},
		{Name: "mid", Value: nil},
	}

	data, err := json.Marshal(row)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":1,"alpha":"a","mid":null}`, string(data))
}

func TestRow_Get(t *testing.T) {
	row := Row{{Name: "count", Value: int64(3)}}

	v, ok := row.Get("count")
	assert.True(t, ok)
	assert.Equal(t, int64(3), v)

	_, ok = row.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, []any{int64(3)}, row.Values())
}
