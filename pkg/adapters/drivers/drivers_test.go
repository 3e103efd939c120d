package drivers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-connect/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

func TestAll(t *testing.T) {
	all := All()
	require.Len(t, all, 5)

	for _, d := range all {
		assert.NotNil(t, d.Dialect, d.Type)
		assert.NotNil(t, d.Open, d.Type)
		assert.NotNil(t, d.IsAuthError, d.Type)
		assert.NotNil(t, d.IsSyntaxError, d.Type)
	}

	f := datasource.NewFactory(all, datasource.Deps{})
	for _, typ := range []models.DatabaseType{
		models.DatabasePostgreSQL, models.DatabaseMariaDB, models.DatabaseMySQL,
		models.DatabaseSQLite, models.DatabaseBigQuery, models.DatabaseSQLServer,
	} {
		d, err := f.Driver(typ)
		require.NoError(t, err, typ)
		assert.NotEmpty(t, d.Dialect.Name(), typ)
	}
}
