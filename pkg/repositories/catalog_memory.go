package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// memoryCatalog is an in-process CatalogRepository. It backs the "memory"
// catalog driver and service tests.
type memoryCatalog struct {
	mu      sync.RWMutex
	tables  map[catalogKey]*models.TableDescriptor
	columns map[uuid.UUID][]models.ColumnDescriptor
	now     func() time.Time
}

type catalogKey struct {
	dataSource string
	identifier string
}

// NewMemoryCatalogRepository creates an empty in-memory catalog.
func NewMemoryCatalogRepository() CatalogRepository {
	return &memoryCatalog{
		tables:  make(map[catalogKey]*models.TableDescriptor),
		columns: make(map[uuid.UUID][]models.ColumnDescriptor),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

var _ CatalogRepository = (*memoryCatalog)(nil)

func (m *memoryCatalog) GetTable(ctx context.Context, dataSource, remoteIdentifier string) (*models.TableDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[catalogKey{dataSource, remoteIdentifier}]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memoryCatalog) ListTables(ctx context.Context, dataSource string) ([]*models.TableDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tables := make([]*models.TableDescriptor, 0)
	for k, t := range m.tables {
		if k.dataSource == dataSource {
			cp := *t
			tables = append(tables, &cp)
		}
	}
	sort.Slice(tables, func(i, j int) bool {
		return tables[i].RemoteIdentifier < tables[j].RemoteIdentifier
	})
	return tables, nil
}

func (m *memoryCatalog) UpsertTable(ctx context.Context, t *models.TableDescriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	key := catalogKey{t.DataSource, t.RemoteIdentifier}
	if existing, ok := m.tables[key]; ok {
		existing.UpdatedAt = now
		*t = *existing
		return nil
	}

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Label == "" {
		t.Label = models.DeriveLabel(t.RemoteIdentifier)
	}
	t.CreatedAt = now
	t.UpdatedAt = now

	stored := *t
	m.tables[key] = &stored
	return nil
}

func (m *memoryCatalog) ReplaceColumns(ctx context.Context, tableID uuid.UUID, cols []models.ColumnDescriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.hasTable(tableID) {
		return fmt.Errorf("replace columns for table %s: %w", tableID, apperrors.ErrNotFound)
	}

	seen := make(map[string]struct{}, len(cols))
	stored := make([]models.ColumnDescriptor, len(cols))
	for i := range cols {
		if _, dup := seen[cols[i].Name]; dup {
			return fmt.Errorf("insert catalog column %q: %w", cols[i].Name, apperrors.ErrConflict)
		}
		seen[cols[i].Name] = struct{}{}

		if cols[i].ID == uuid.Nil {
			cols[i].ID = uuid.New()
		}
		cols[i].TableID = tableID
		stored[i] = cols[i]
	}
	sort.SliceStable(stored, func(i, j int) bool { return stored[i].Position < stored[j].Position })

	m.columns[tableID] = stored
	return nil
}

func (m *memoryCatalog) GetSchema(ctx context.Context, dataSource, remoteIdentifier string) (*models.TableSchema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[catalogKey{dataSource, remoteIdentifier}]
	if !ok {
		return nil, apperrors.ErrNotFound
	}

	cols := make([]models.ColumnDescriptor, len(m.columns[t.ID]))
	copy(cols, m.columns[t.ID])
	return &models.TableSchema{Table: *t, Columns: cols}, nil
}

func (m *memoryCatalog) DeleteTable(ctx context.Context, dataSource, remoteIdentifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := catalogKey{dataSource, remoteIdentifier}
	t, ok := m.tables[key]
	if !ok {
		return apperrors.ErrNotFound
	}
	delete(m.columns, t.ID)
	delete(m.tables, key)
	return nil
}

func (m *memoryCatalog) hasTable(id uuid.UUID) bool {
	for _, t := range m.tables {
		if t.ID == id {
			return true
		}
	}
	return false
}
