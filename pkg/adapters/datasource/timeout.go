package datasource

import (
	"context"
	"time"
)

// DefaultQueryTimeout applies when neither the statement nor Deps set one.
const DefaultQueryTimeout = 30 * time.Second

// StatementContext bounds ctx by the statement timeout, falling back to def and
// then DefaultQueryTimeout. An earlier deadline already on ctx wins.
func StatementContext(ctx context.Context, timeout, def time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = def
	}
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
