// Package drivers lists every database driver compiled into the binary.
package drivers

import (
	"github.com/ekaya-inc/ekaya-connect/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-connect/pkg/adapters/datasource/bigquery"
	"github.com/ekaya-inc/ekaya-connect/pkg/adapters/datasource/mariadb"
	"github.com/ekaya-inc/ekaya-connect/pkg/adapters/datasource/mssql"
	"github.com/ekaya-inc/ekaya-connect/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/ekaya-connect/pkg/adapters/datasource/sqlite"
)

// All returns the driver table handed to datasource.NewFactory.
func All() []datasource.Driver {
	return []datasource.Driver{
		postgres.Driver(),
		mariadb.Driver(),
		sqlite.Driver(),
		bigquery.Driver(),
		mssql.Driver(),
	}
}
