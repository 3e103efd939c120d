package datasource

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/dialect"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// Deps are the shared resources handed to every OpenFunc.
type Deps struct {
	Pools        *ConnectionManager
	Logger       *zap.Logger
	QueryTimeout time.Duration
}

// OpenFunc builds a client for an already validated config. It should not
// perform remote calls beyond what pool creation requires.
type OpenFunc func(ctx context.Context, cfg models.ConnectionConfig, deps Deps) (Client, error)

// Driver binds a database type to its dialect and client constructor.
type Driver struct {
	Type    models.DatabaseType
	Dialect dialect.Dialect
	Open    OpenFunc

	// IsAuthError recognizes the driver's "credentials rejected" errors.
	IsAuthError func(error) bool
	// IsSyntaxError recognizes statements the remote rejected as invalid.
	IsSyntaxError func(error) bool
}
