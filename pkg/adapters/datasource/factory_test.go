package datasource

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/dialect"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

type mockClient struct {
	testErr    error
	testCalls  int
	closeCalls int
}

func (c *mockClient) TestConnection(ctx context.Context) error {
	c.testCalls++
	return c.testErr
}

func (c *mockClient) Execute(ctx context.Context, stmt models.Statement) (*QueryResult, error) {
	return &QueryResult{}, nil
}

func (c *mockClient) ListTables(ctx context.Context) ([]string, error) { return nil, nil }

func (c *mockClient) ListColumns(ctx context.Context, table string) ([]ColumnMetadata, error) {
	return nil, nil
}

func (c *mockClient) Close() error {
	c.closeCalls++
	return nil
}

var errBadPassword = errors.New("password authentication failed")

func mockDriver(t *testing.T, typ models.DatabaseType, client *mockClient, openErr error, opened *int) Driver {
	t.Helper()
	d, err := dialect.For(typ)
	require.NoError(t, err)
	return Driver{
		Type:    typ,
		Dialect: d,
		Open: func(ctx context.Context, cfg models.ConnectionConfig, deps Deps) (Client, error) {
			*opened++
			if openErr != nil {
				return nil, openErr
			}
			return client, nil
		},
		IsAuthError: func(err error) bool { return errors.Is(err, errBadPassword) },
	}
}

func sqliteConfig() models.ConnectionConfig {
	return models.ConnectionConfig{DatabaseType: models.DatabaseSQLite, Title: "Sales", DatabaseName: "sales.db"}
}

func TestFactory_Connect_Success(t *testing.T) {
	client := &mockClient{}
	opened := 0
	f := NewFactory([]Driver{mockDriver(t, models.DatabaseSQLite, client, nil, &opened)}, Deps{Logger: zaptest.NewLogger(t)})

	got, err := f.Connect(context.Background(), sqliteConfig())
	require.NoError(t, err)
	assert.Same(t, client, got)
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, client.testCalls)
	assert.Equal(t, 0, client.closeCalls)
}

func TestFactory_Connect_InvalidConfigSkipsDriver(t *testing.T) {
	opened := 0
	f := NewFactory([]Driver{mockDriver(t, models.DatabaseBigQuery, &mockClient{}, nil, &opened)}, Deps{})

	_, err := f.Connect(context.Background(), models.ConnectionConfig{
		DatabaseType:          models.DatabaseBigQuery,
		Title:                 "Warehouse",
		StructuredCredentials: "{not json",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConfiguration))
	assert.Equal(t, 0, opened)
}

func TestFactory_Connect_UnsupportedType(t *testing.T) {
	f := NewFactory(nil, Deps{})

	_, err := f.Connect(context.Background(), sqliteConfig())
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConfiguration))
}

func TestFactory_Connect_ClassifiesTestFailure(t *testing.T) {
	tests := []struct {
		name    string
		testErr error
		want    apperrors.Subkind
	}{
		{"auth", errBadPassword, apperrors.SubkindAuthRejected},
		{"tls", errors.New("tls: handshake failure"), apperrors.SubkindTLS},
		{"unreachable", errors.New("dial tcp 10.0.0.1:5432: connect: connection refused"), apperrors.SubkindUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockClient{testErr: tt.testErr}
			opened := 0
			f := NewFactory([]Driver{mockDriver(t, models.DatabaseSQLite, client, nil, &opened)}, Deps{Logger: zaptest.NewLogger(t)})

			_, err := f.Connect(context.Background(), sqliteConfig())
			require.Error(t, err)
			assert.True(t, apperrors.IsKind(err, apperrors.KindConnection))
			assert.True(t, apperrors.IsSubkind(err, tt.want), "got %v", err)
			assert.Equal(t, 1, client.closeCalls, "failed client is closed")
		})
	}
}

func TestFactory_Connect_OpenError(t *testing.T) {
	opened := 0
	f := NewFactory([]Driver{mockDriver(t, models.DatabaseSQLite, nil, errors.New("no such host"), &opened)}, Deps{})

	_, err := f.Connect(context.Background(), sqliteConfig())
	require.Error(t, err)
	assert.True(t, apperrors.IsSubkind(err, apperrors.SubkindUnreachable))
}

func TestFactory_Driver_MySQLAlias(t *testing.T) {
	opened := 0
	f := NewFactory([]Driver{mockDriver(t, models.DatabaseMariaDB, &mockClient{}, nil, &opened)}, Deps{})

	d, err := f.Driver(models.DatabaseMySQL)
	require.NoError(t, err)
	assert.Equal(t, models.DatabaseMariaDB, d.Type)

	assert.ElementsMatch(t, []models.DatabaseType{models.DatabaseMariaDB}, f.Types())
}
