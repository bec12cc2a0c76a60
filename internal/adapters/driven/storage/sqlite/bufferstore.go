package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/carchive/internal/adapters/driven/storage/entitysql"
	"github.com/custodia-labs/carchive/internal/core/domain"
	"github.com/custodia-labs/carchive/internal/core/ports/driven"
)

// bufferStore implements driven.BufferStore.
type bufferStore struct {
	store *Store
}

var _ driven.BufferStore = (*bufferStore)(nil)

// Put creates or replaces a buffer and its items atomically.
func (s *bufferStore) Put(ctx context.Context, buf *domain.Buffer) error {
	var criteria sql.NullString
	if buf.Criteria != nil {
		data, err := json.Marshal(buf.Criteria)
		if err != nil {
			return fmt.Errorf("marshalling criteria: %w", err)
		}
		criteria = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO buffers (name, owner, description, criteria, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			owner = excluded.owner,
			description = excluded.description,
			criteria = excluded.criteria,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`, buf.Name, buf.Owner, buf.Description, criteria, formatTime(buf.CreatedAt), formatTimePtr(buf.ExpiresAt))
	if err != nil {
		return fmt.Errorf("saving buffer: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM buffer_items WHERE buffer_name = ?", buf.Name); err != nil {
		return fmt.Errorf("clearing buffer items: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO buffer_items (buffer_name, position, entity_type, entity_id) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing buffer item insert: %w", err)
	}
	defer stmt.Close()

	for i, ref := range buf.Refs {
		if _, err := stmt.ExecContext(ctx, buf.Name, i, string(ref.Type), ref.ID); err != nil {
			return fmt.Errorf("saving buffer item: %w", err)
		}
	}

	return tx.Commit()
}

// Get retrieves a buffer and its items in order. Both reads share one
// read transaction so a concurrent Put is seen whole or not at all.
func (s *bufferStore) Get(ctx context.Context, name string) (*domain.Buffer, error) {
	tx, err := s.store.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // read-only

	row := tx.QueryRowContext(ctx, `
		SELECT name, owner, description, criteria, created_at, expires_at
		FROM buffers WHERE name = ?
	`, name)

	var buf domain.Buffer
	var criteria, expiresAt sql.NullString
	var createdAt string
	if err := row.Scan(&buf.Name, &buf.Owner, &buf.Description, &criteria, &createdAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBufferNotFound
		}
		return nil, fmt.Errorf("scanning buffer: %w", err)
	}

	if buf.CreatedAt, err = entitysql.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing buffer created_at: %w", err)
	}
	if buf.ExpiresAt, err = parseTimePtr(expiresAt); err != nil {
		return nil, fmt.Errorf("parsing buffer expires_at: %w", err)
	}
	if criteria.Valid {
		var c domain.SearchCriteria
		if err := json.Unmarshal([]byte(criteria.String), &c); err != nil {
			return nil, fmt.Errorf("unmarshaling criteria: %w", err)
		}
		buf.Criteria = &c
	}

	if buf.Refs, err = readItems(ctx, tx, name); err != nil {
		return nil, err
	}
	return &buf, nil
}

func readItems(ctx context.Context, tx *sql.Tx, name string) ([]domain.EntityRef, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT entity_type, entity_id FROM buffer_items
		WHERE buffer_name = ? ORDER BY position
	`, name)
	if err != nil {
		return nil, fmt.Errorf("querying buffer items: %w", err)
	}
	defer rows.Close()

	refs := []domain.EntityRef{}
	for rows.Next() {
		var ref domain.EntityRef
		var entityType string
		if err := rows.Scan(&entityType, &ref.ID); err != nil {
			return nil, fmt.Errorf("scanning buffer item: %w", err)
		}
		ref.Type = domain.EntityType(entityType)
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating buffer items: %w", err)
	}
	return refs, nil
}

// Delete removes a buffer; its items cascade.
func (s *bufferStore) Delete(ctx context.Context, name string) error {
	res, err := s.store.db.ExecContext(ctx, "DELETE FROM buffers WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting buffer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting buffer: %w", err)
	}
	if n == 0 {
		return domain.ErrBufferNotFound
	}
	return nil
}

// DeleteExpired removes the buffer only if it has expired at now.
func (s *bufferStore) DeleteExpired(ctx context.Context, name string, now time.Time) (bool, error) {
	res, err := s.store.db.ExecContext(ctx, `
		DELETE FROM buffers WHERE name = ? AND expires_at IS NOT NULL AND expires_at <= ?
	`, name, formatTime(now))
	if err != nil {
		return false, fmt.Errorf("deleting expired buffer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting expired buffer: %w", err)
	}
	return n > 0, nil
}

// List returns buffer summaries, newest first.
func (s *bufferStore) List(ctx context.Context, owner string) ([]domain.BufferSummary, error) {
	query := `
		SELECT b.name, b.owner, b.description, b.created_at, b.expires_at,
			(SELECT COUNT(*) FROM buffer_items i WHERE i.buffer_name = b.name)
		FROM buffers b`
	var args []any
	if owner != "" {
		query += " WHERE b.owner = ?"
		args = append(args, owner)
	}
	query += " ORDER BY b.created_at DESC, b.name ASC"

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying buffers: %w", err)
	}
	defer rows.Close()

	var summaries []domain.BufferSummary //nolint:prealloc // size unknown from query
	for rows.Next() {
		var sum domain.BufferSummary
		var createdAt string
		var expiresAt sql.NullString
		if err := rows.Scan(&sum.Name, &sum.Owner, &sum.Description, &createdAt, &expiresAt, &sum.Count); err != nil {
			return nil, fmt.Errorf("scanning buffer: %w", err)
		}
		if sum.CreatedAt, err = entitysql.ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing buffer created_at: %w", err)
		}
		if sum.ExpiresAt, err = parseTimePtr(expiresAt); err != nil {
			return nil, fmt.Errorf("parsing buffer expires_at: %w", err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating buffers: %w", err)
	}

	return summaries, nil
}

// Close is a no-op; the owning Store closes the database.
func (s *bufferStore) Close() error {
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(entitysql.TimeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return nullString(formatTime(*t))
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := entitysql.ParseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
