//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-connect/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/testhelpers"
)

func openTestClient(t *testing.T) datasource.Client {
	t.Helper()
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()

	_, err := testDB.Pool.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS sales;
		DROP TABLE IF EXISTS public.pg_orders;
		DROP TABLE IF EXISTS sales.pg_regions;
		CREATE TABLE public.pg_orders (id SERIAL PRIMARY KEY, amount NUMERIC(10,2), created_at TIMESTAMPTZ, note TEXT);
		CREATE TABLE sales.pg_regions (code TEXT);
		INSERT INTO public.pg_orders (amount, created_at, note) VALUES
			(10.50, '2024-01-05T10:00:00Z', 'first'),
			(20.25, '2024-01-20T11:00:00Z', NULL);
	`)
	require.NoError(t, err)

	cm := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = cm.Close() })

	client, err := Open(ctx, models.ConnectionConfig{
		DatabaseType:     models.DatabasePostgreSQL,
		Title:            "Integration",
		ConnectionString: testDB.ConnStr,
	}, datasource.Deps{Pools: cm, Logger: zaptest.NewLogger(t), QueryTimeout: 10 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClient_Integration(t *testing.T) {
	client := openTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.TestConnection(ctx))

	tables, err := client.ListTables(ctx)
	require.NoError(t, err)
	assert.Contains(t, tables, "pg_orders")
	assert.Contains(t, tables, "sales.pg_regions")

	columns, err := client.ListColumns(ctx, "pg_orders")
	require.NoError(t, err)
	require.Len(t, columns, 4)
	assert.Equal(t, "id", columns[0].ColumnName)
	assert.Equal(t, "numeric", columns[1].DataType)
	assert.Equal(t, 4, columns[3].OrdinalPosition)

	result, err := client.Execute(ctx, models.Statement{
		Text: `SELECT "id", "amount", "created_at", "note" FROM "pg_orders" WHERE "amount" > $1 ORDER BY "id"`,
		Args: []any{int64(5)},
	})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, []any{int64(1), 10.5, "2024-01-05T10:00:00Z", "first"}, result.Rows[0].Values())
	note, _ := result.Rows[1].Get("note")
	assert.Nil(t, note)
}

func TestClient_Integration_ExecutionErrors(t *testing.T) {
	client := openTestClient(t)
	ctx := context.Background()

	_, err := client.Execute(ctx, models.Statement{Text: `SELEC 1`})
	require.Error(t, err)
	assert.True(t, apperrors.IsSubkind(err, apperrors.SubkindSyntax))

	_, err = client.Execute(ctx, models.Statement{Text: `SELECT pg_sleep(2)`, Timeout: 100 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, apperrors.IsSubkind(err, apperrors.SubkindTimeout))
}

func TestClient_Integration_WrongPassword(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()

	f := datasource.NewFactory([]datasource.Driver{Driver()}, datasource.Deps{Logger: zaptest.NewLogger(t)})
	off := false
	_, err := f.Connect(ctx, models.ConnectionConfig{
		DatabaseType: models.DatabasePostgreSQL,
		Title:        "Bad",
		Host:         testDB.Host,
		Port:         testDB.Port,
		Username:     testDB.User,
		Password:     "definitely-wrong",
		DatabaseName: testDB.Database,
		UseSSL:       &off,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsSubkind(err, apperrors.SubkindAuthRejected), "got %v", err)
}
