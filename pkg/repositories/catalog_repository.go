package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/database"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// CatalogRepository stores synchronized table and column descriptors.
// Tables are keyed by (data source, remote identifier).
type CatalogRepository interface {
	// GetTable returns the descriptor for a remote table. Returns apperrors.ErrNotFound if absent.
	GetTable(ctx context.Context, dataSource, remoteIdentifier string) (*models.TableDescriptor, error)

	// ListTables returns all tables of a data source ordered by remote identifier.
	ListTables(ctx context.Context, dataSource string) ([]*models.TableDescriptor, error)

	// UpsertTable inserts the table or touches an existing one.
	// An existing row keeps its id and label; ID, Label and timestamps are written back to t.
	UpsertTable(ctx context.Context, t *models.TableDescriptor) error

	// ReplaceColumns atomically replaces every column of a table.
	ReplaceColumns(ctx context.Context, tableID uuid.UUID, cols []models.ColumnDescriptor) error

	// GetSchema returns a table snapshot with columns in position order.
	GetSchema(ctx context.Context, dataSource, remoteIdentifier string) (*models.TableSchema, error)

	// DeleteTable removes a table and its columns. Returns apperrors.ErrNotFound if absent.
	DeleteTable(ctx context.Context, dataSource, remoteIdentifier string) error
}

type catalogRepository struct {
	db *database.DB
}

// NewCatalogRepository creates a catalog repository backed by PostgreSQL.
func NewCatalogRepository(db *database.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

var _ CatalogRepository = (*catalogRepository)(nil)

const tableColumns = `id, data_source, remote_identifier, label, created_at, updated_at`

func (r *catalogRepository) GetTable(ctx context.Context, dataSource, remoteIdentifier string) (*models.TableDescriptor, error) {
	query := `SELECT ` + tableColumns + `
		FROM catalog_tables
		WHERE data_source = $1 AND remote_identifier = $2`

	t, err := scanTable(r.db.QueryRow(ctx, query, dataSource, remoteIdentifier))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get catalog table: %w", err)
	}
	return t, nil
}

func (r *catalogRepository) ListTables(ctx context.Context, dataSource string) ([]*models.TableDescriptor, error) {
	query := `SELECT ` + tableColumns + `
		FROM catalog_tables
		WHERE data_source = $1
		ORDER BY remote_identifier`

	rows, err := r.db.Query(ctx, query, dataSource)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog tables: %w", err)
	}
	defer rows.Close()

	tables := make([]*models.TableDescriptor, 0)
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan catalog table: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating catalog tables: %w", err)
	}
	return tables, nil
}

func (r *catalogRepository) UpsertTable(ctx context.Context, t *models.TableDescriptor) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Label == "" {
		t.Label = models.DeriveLabel(t.RemoteIdentifier)
	}
	now := time.Now().UTC()

	// On conflict only updated_at moves; id, label and created_at are read back.
	query := `
		INSERT INTO catalog_tables (id, data_source, remote_identifier, label, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (data_source, remote_identifier)
		DO UPDATE SET updated_at = EXCLUDED.updated_at
		RETURNING id, label, created_at, updated_at`

	err := r.db.QueryRow(ctx, query, t.ID, t.DataSource, t.RemoteIdentifier, t.Label, now).
		Scan(&t.ID, &t.Label, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert catalog table: %w", err)
	}
	return nil
}

func (r *catalogRepository) ReplaceColumns(ctx context.Context, tableID uuid.UUID, cols []models.ColumnDescriptor) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, `DELETE FROM catalog_columns WHERE table_id = $1`, tableID); err != nil {
		return fmt.Errorf("failed to clear catalog columns: %w", err)
	}

	if len(cols) > 0 {
		batch := &pgx.Batch{}
		for i := range cols {
			c := &cols[i]
			if c.ID == uuid.Nil {
				c.ID = uuid.New()
			}
			c.TableID = tableID
			batch.Queue(`
				INSERT INTO catalog_columns (id, table_id, name, label, generic_type, native_type, position)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				c.ID, tableID, c.Name, c.Label, string(c.Type), c.NativeType, c.Position)
		}

		results := tx.SendBatch(ctx, batch)
		for range cols {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return classifyWriteError("insert catalog column", err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("failed to insert catalog columns: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *catalogRepository) GetSchema(ctx context.Context, dataSource, remoteIdentifier string) (*models.TableSchema, error) {
	t, err := r.GetTable(ctx, dataSource, remoteIdentifier)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, table_id, name, label, generic_type, native_type, position
		FROM catalog_columns
		WHERE table_id = $1
		ORDER BY position, name`

	rows, err := r.db.Query(ctx, query, t.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog columns: %w", err)
	}
	defer rows.Close()

	schema := &models.TableSchema{Table: *t, Columns: []models.ColumnDescriptor{}}
	for rows.Next() {
		var c models.ColumnDescriptor
		var genericType string
		if err := rows.Scan(&c.ID, &c.TableID, &c.Name, &c.Label, &genericType, &c.NativeType, &c.Position); err != nil {
			return nil, fmt.Errorf("failed to scan catalog column: %w", err)
		}
		c.Type = models.GenericType(genericType)
		schema.Columns = append(schema.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating catalog columns: %w", err)
	}
	return schema, nil
}

func (r *catalogRepository) DeleteTable(ctx context.Context, dataSource, remoteIdentifier string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM catalog_tables WHERE data_source = $1 AND remote_identifier = $2`,
		dataSource, remoteIdentifier)
	if err != nil {
		return fmt.Errorf("failed to delete catalog table: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanTable(row pgx.Row) (*models.TableDescriptor, error) {
	var t models.TableDescriptor
	if err := row.Scan(&t.ID, &t.DataSource, &t.RemoteIdentifier, &t.Label, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// classifyWriteError maps unique violations (23505) to apperrors.ErrConflict.
func classifyWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", op, apperrors.ErrConflict)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
