package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TableDescriptor is a catalog entry for one remote table.
type TableDescriptor struct {
	ID               uuid.UUID `json:"id"`
	DataSource       string    `json:"data_source"`
	RemoteIdentifier string    `json:"remote_identifier"` // "orders", "public.orders", "dataset.orders"
	Label            string    `json:"label"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ColumnDescriptor is a catalog entry for one column of a synchronized table.
type ColumnDescriptor struct {
	ID         uuid.UUID   `json:"id"`
	TableID    uuid.UUID   `json:"table_id"`
	Name       string      `json:"name"`
	Label      string      `json:"label"`
	Type       GenericType `json:"type"`
	NativeType string      `json:"native_type"`
	Position   int         `json:"position"`
}

// TableSchema is a read-only snapshot of a table and its columns, in position order.
type TableSchema struct {
	Table   TableDescriptor    `json:"table"`
	Columns []ColumnDescriptor `json:"columns"`
}

// Column returns the named column, matching exactly.
func (s *TableSchema) Column(name string) (ColumnDescriptor, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDescriptor{}, false
}

var labelCaser = cases.Title(language.English)

// DeriveLabel turns a remote identifier into a display label.
// Only the last dotted segment is used: "analytics.order_items" becomes "Order Items".
func DeriveLabel(identifier string) string {
	name := identifier
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	return labelCaser.String(strings.Join(strings.Fields(name), " "))
}
