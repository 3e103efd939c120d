package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// Key layout. Table keys sort by data source then remote identifier, so a
// prefix scan yields ListTables order directly.
const (
	prefixTable   = "t:"  // t:<data source>\x00<remote identifier> -> TableDescriptor
	prefixTableID = "id:" // id:<table id> -> table key
	prefixColumns = "c:"  // c:<table id> -> []ColumnDescriptor
	keySeparator  = "\x00"
)

func tableKey(dataSource, remoteIdentifier string) []byte {
	return []byte(prefixTable + dataSource + keySeparator + remoteIdentifier)
}

func tablePrefix(dataSource string) []byte {
	return []byte(prefixTable + dataSource + keySeparator)
}

func tableIDKey(id uuid.UUID) []byte { return []byte(prefixTableID + id.String()) }

func columnsKey(id uuid.UUID) []byte { return []byte(prefixColumns + id.String()) }

// BadgerCatalog is a CatalogRepository persisted in an embedded Badger store.
// It backs the "badger" catalog driver, which keeps the catalog between CLI
// runs without a PostgreSQL server.
type BadgerCatalog struct {
	db  *badger.DB
	now func() time.Time
}

var _ CatalogRepository = (*BadgerCatalog)(nil)

// OpenBadgerCatalog opens (or creates) the store in dir. An empty dir keeps
// the store in memory.
func OpenBadgerCatalog(dir string, logger *zap.Logger) (*BadgerCatalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(badgerLogger{logger.Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger catalog: %w", err)
	}
	return &BadgerCatalog{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close flushes and closes the store.
func (c *BadgerCatalog) Close() error {
	return c.db.Close()
}

func (c *BadgerCatalog) GetTable(ctx context.Context, dataSource, remoteIdentifier string) (*models.TableDescriptor, error) {
	var t models.TableDescriptor
	err := c.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, tableKey(dataSource, remoteIdentifier), &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *BadgerCatalog) ListTables(ctx context.Context, dataSource string) ([]*models.TableDescriptor, error) {
	tables := make([]*models.TableDescriptor, 0)
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = tablePrefix(dataSource)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var t models.TableDescriptor
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &t)
			}); err != nil {
				return fmt.Errorf("decode %q: %w", it.Item().Key(), err)
			}
			tables = append(tables, &t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tables, nil
}

func (c *BadgerCatalog) UpsertTable(ctx context.Context, t *models.TableDescriptor) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := c.now()
	key := tableKey(t.DataSource, t.RemoteIdentifier)
	stored := *t

	err := c.db.Update(func(txn *badger.Txn) error {
		var existing models.TableDescriptor
		switch err := getJSON(txn, key, &existing); {
		case err == nil:
			existing.UpdatedAt = now
			stored = existing
		case errors.Is(err, apperrors.ErrNotFound):
			if stored.ID == uuid.Nil {
				stored.ID = uuid.New()
			}
			if stored.Label == "" {
				stored.Label = models.DeriveLabel(stored.RemoteIdentifier)
			}
			stored.CreatedAt = now
			stored.UpdatedAt = now
			if err := txn.Set(tableIDKey(stored.ID), key); err != nil {
				return err
			}
		default:
			return err
		}
		return setJSON(txn, key, stored)
	})
	if err != nil {
		return fmt.Errorf("upsert catalog table %s: %w", t.RemoteIdentifier, err)
	}
	*t = stored
	return nil
}

func (c *BadgerCatalog) ReplaceColumns(ctx context.Context, tableID uuid.UUID, cols []models.ColumnDescriptor) error {
	if err := ctx.Err(); err != nil {
		return err
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

	err := c.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(tableIDKey(tableID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return apperrors.ErrNotFound
			}
			return err
		}
		return setJSON(txn, columnsKey(tableID), stored)
	})
	if err != nil {
		return fmt.Errorf("replace columns for table %s: %w", tableID, err)
	}
	return nil
}

func (c *BadgerCatalog) GetSchema(ctx context.Context, dataSource, remoteIdentifier string) (*models.TableSchema, error) {
	var schema models.TableSchema
	err := c.db.View(func(txn *badger.Txn) error {
		if err := getJSON(txn, tableKey(dataSource, remoteIdentifier), &schema.Table); err != nil {
			return err
		}
		err := getJSON(txn, columnsKey(schema.Table.ID), &schema.Columns)
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if schema.Columns == nil {
		schema.Columns = []models.ColumnDescriptor{}
	}
	return &schema, nil
}

func (c *BadgerCatalog) DeleteTable(ctx context.Context, dataSource, remoteIdentifier string) error {
	key := tableKey(dataSource, remoteIdentifier)
	return c.db.Update(func(txn *badger.Txn) error {
		var t models.TableDescriptor
		if err := getJSON(txn, key, &t); err != nil {
			return err
		}
		for _, k := range [][]byte{columnsKey(t.ID), tableIDKey(t.ID), key} {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// getJSON decodes the value at key into v. A missing key is apperrors.ErrNotFound.
func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return apperrors.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// badgerLogger routes Badger's printf-style logging into zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...any)   { l.s.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...any) { l.s.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...any)    { l.s.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...any)   { l.s.Debugf(format, args...) }
