package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsAuthError(t *testing.T) {
	assert.True(t, IsAuthError(&pgconn.PgError{Code: "28P01"}))
	assert.True(t, IsAuthError(fmt.Errorf("connect: %w", &pgconn.PgError{Code: "28000"})))
	assert.True(t, IsAuthError(errors.New(`FATAL: password authentication failed for user "x"`)))
	assert.False(t, IsAuthError(&pgconn.PgError{Code: "3D000"}))
	assert.False(t, IsAuthError(errors.New("connection refused")))
}

func TestIsSyntaxError(t *testing.T) {
	assert.True(t, IsSyntaxError(&pgconn.PgError{Code: "42601"}))
	assert.True(t, IsSyntaxError(&pgconn.PgError{Code: "42P01"}), "undefined table")
	assert.False(t, IsSyntaxError(&pgconn.PgError{Code: "42501"}), "insufficient privilege")
	assert.False(t, IsSyntaxError(errors.New("syntax error")))
}

func TestSplitIdentifier(t *testing.T) {
	c := &Client{defaultSchema: DefaultSchema}

	schema, table := c.splitIdentifier("orders")
	assert.Equal(t, "public", schema)
	assert.Equal(t, "orders", table)

	schema, table = c.splitIdentifier("sales.orders")
	assert.Equal(t, "sales", schema)
	assert.Equal(t, "orders", table)

	assert.Equal(t, "orders", c.tableIdentifier("public", "orders"))
	assert.Equal(t, "sales.orders", c.tableIdentifier("sales", "orders"))
}
