package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"time"

	"github.com/custodia-labs/carchive/internal/adapters/driven/storage/entitysql"
	"github.com/custodia-labs/carchive/internal/core/domain"
	"github.com/custodia-labs/carchive/internal/core/ports/driven"
)

// EntityStore implements driven.EntityStore and driven.EntityWriter.
type EntityStore struct {
	store *Store
}

var (
	_ driven.EntityStore  = (*EntityStore)(nil)
	_ driven.EntityWriter = (*EntityStore)(nil)
)

// Find streams rows matching q. Rows are read lazily; stopping the
// iteration releases the cursor.
func (s *EntityStore) Find(ctx context.Context, q domain.EntityQuery) iter.Seq2[domain.Row, error] {
	return func(yield func(domain.Row, error) bool) {
		stmt, err := entitysql.Find(entitysql.SQLite, q)
		if err != nil {
			yield(domain.Row{}, err)
			return
		}
		rows, err := s.store.db.QueryContext(ctx, stmt.SQL, stmt.Args...)
		if err != nil {
			yield(domain.Row{}, fmt.Errorf("querying %s: %w", q.Type, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			row, err := scanEntity(rows, q)
			if err != nil {
				yield(domain.Row{}, err)
				return
			}
			if !yield(row, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.Row{}, fmt.Errorf("iterating %s: %w", q.Type, err))
		}
	}
}

func scanEntity(rows *sql.Rows, q domain.EntityQuery) (domain.Row, error) {
	columns := q.Type.Schema().Columns
	values := make([]string, len(columns))
	var createdAt, metaJSON string
	var embedding []byte

	dest := make([]any, 0, len(columns)+4)
	row := domain.Row{Type: q.Type}
	dest = append(dest, &row.ID, &createdAt, &metaJSON)
	for i := range values {
		dest = append(dest, &values[i])
	}
	if q.WithVectors {
		dest = append(dest, &embedding)
	}
	if err := rows.Scan(dest...); err != nil {
		return domain.Row{}, fmt.Errorf("scanning %s: %w", q.Type, err)
	}

	ts, err := entitysql.ParseTime(createdAt)
	if err != nil {
		return domain.Row{}, fmt.Errorf("parsing created_at of %s %s: %w", q.Type, row.ID, err)
	}
	row.CreatedAt = ts
	if row.MetaInfo, err = entitysql.DecodeMeta([]byte(metaJSON)); err != nil {
		return domain.Row{}, fmt.Errorf("%s %s: %w", q.Type, row.ID, err)
	}
	row.Columns = make(map[string]string, len(columns))
	for i, col := range columns {
		row.Columns[col] = values[i]
	}
	row.Embedding = bytesToFloat32Slice(embedding)
	return row, nil
}

// PutEntity inserts or replaces one entity row. A row carrying an embedding
// stores it under the empty model name.
func (s *EntityStore) PutEntity(ctx context.Context, row domain.Row) error {
	stmt, err := entitysql.UpsertEntity(entitysql.SQLite, row)
	if err != nil {
		return err
	}
	if _, err := s.store.db.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
		return fmt.Errorf("saving %s %s: %w", row.Type, row.ID, err)
	}
	if len(row.Embedding) > 0 && row.Type.Schema().Vectors {
		return s.PutEmbedding(ctx, row.Ref(), "", row.Embedding)
	}
	return nil
}

// PutEmbedding stores or replaces the vector of an entity for a model.
func (s *EntityStore) PutEmbedding(ctx context.Context, ref domain.EntityRef, model string, vector []float32) error {
	if !ref.Type.Schema().Vectors {
		return fmt.Errorf("%w: %s does not store embeddings", domain.ErrInvalidInput, ref.Type)
	}
	if len(vector) == 0 {
		return fmt.Errorf("%w: empty embedding", domain.ErrInvalidInput)
	}
	// Delete and insert so the replacement gets a fresh seq and sorts newest.
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM embeddings WHERE entity_type = ? AND entity_id = ? AND model = ?
	`, string(ref.Type), ref.ID, model); err != nil {
		return fmt.Errorf("replacing embedding: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO embeddings (entity_type, entity_id, model, dimensions, vector, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(ref.Type), ref.ID, model, len(vector), float32SliceToBytes(vector),
		time.Now().UTC().Format(entitysql.TimeLayout)); err != nil {
		return fmt.Errorf("saving embedding: %w", err)
	}
	return tx.Commit()
}

// DeleteEntity removes an entity and its embeddings.
func (s *EntityStore) DeleteEntity(ctx context.Context, ref domain.EntityRef) error {
	stmts, err := entitysql.DeleteEntity(entitysql.SQLite, ref)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.store.db.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
			return fmt.Errorf("deleting %s: %w", ref, err)
		}
	}
	return nil
}

// Close is a no-op; the owning Store closes the database.
func (s *EntityStore) Close() error {
	return nil
}
