package datasource

import "context"

// PoolConnector abstracts connection pool operations across database types so
// the ConnectionManager can cache, health check and evict them uniformly.
type PoolConnector interface {
	// Ping verifies the connection is alive
	Ping(ctx context.Context) error

	// Close closes all connections in the pool
	Close() error

	// GetType returns the database type for logging/stats
	GetType() string
}
