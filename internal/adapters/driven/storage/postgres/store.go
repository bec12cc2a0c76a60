// Package postgres provides a PostgreSQL entity store with pgvector embeddings.
//
// Entities share the table layout of the SQLite store; embeddings are kept
// in a pgvector column so other tools can index them. Scoring still happens
// in the search core.
package postgres

import (
	"context"
	"fmt"
	"io/fs"
	"iter"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/custodia-labs/carchive/internal/adapters/driven/storage/entitysql"
	"github.com/custodia-labs/carchive/internal/adapters/driven/storage/postgres/migrations"
	"github.com/custodia-labs/carchive/internal/core/domain"
	"github.com/custodia-labs/carchive/internal/core/ports/driven"
)

// Store implements driven.EntityStore and driven.EntityWriter over a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ driven.EntityStore  = (*Store)(nil)
	_ driven.EntityWriter = (*Store)(nil)
)

// NewStore connects to dsn, checks the connection and applies migrations.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres DSN is required", domain.ErrInvalidInput)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx, migrations.FS); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context, fsys fs.FS) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(content)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version)
			return err
		})
		if err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
	}
	return nil
}

// Find streams rows matching q.
func (s *Store) Find(ctx context.Context, q domain.EntityQuery) iter.Seq2[domain.Row, error] {
	return func(yield func(domain.Row, error) bool) {
		stmt, err := entitysql.Find(entitysql.Postgres, q)
		if err != nil {
			yield(domain.Row{}, err)
			return
		}
		rows, err := s.pool.Query(ctx, stmt.SQL, stmt.Args...)
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

func scanEntity(rows pgx.Rows, q domain.EntityQuery) (domain.Row, error) {
	columns := q.Type.Schema().Columns
	values := make([]string, len(columns))
	row := domain.Row{Type: q.Type}
	var metaJSON []byte
	var vec *pgvector.Vector

	dest := make([]any, 0, len(columns)+4)
	dest = append(dest, &row.ID, &row.CreatedAt, &metaJSON)
	for i := range values {
		dest = append(dest, &values[i])
	}
	if q.WithVectors {
		dest = append(dest, &vec)
	}
	if err := rows.Scan(dest...); err != nil {
		return domain.Row{}, fmt.Errorf("scanning %s: %w", q.Type, err)
	}

	var err error
	row.CreatedAt = row.CreatedAt.UTC()
	if row.MetaInfo, err = entitysql.DecodeMeta(metaJSON); err != nil {
		return domain.Row{}, fmt.Errorf("%s %s: %w", q.Type, row.ID, err)
	}
	row.Columns = make(map[string]string, len(columns))
	for i, col := range columns {
		row.Columns[col] = values[i]
	}
	if vec != nil {
		row.Embedding = vec.Slice()
	}
	return row, nil
}

// PutEntity inserts or replaces one entity row. A row carrying an embedding
// stores it under the empty model name.
func (s *Store) PutEntity(ctx context.Context, row domain.Row) error {
	stmt, err := entitysql.UpsertEntity(entitysql.Postgres, row)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, stmt.SQL, stmt.Args...); err != nil {
		return fmt.Errorf("saving %s %s: %w", row.Type, row.ID, err)
	}
	if len(row.Embedding) > 0 && row.Type.Schema().Vectors {
		return s.PutEmbedding(ctx, row.Ref(), "", row.Embedding)
	}
	return nil
}

// PutEmbedding stores or replaces the vector of an entity for a model.
func (s *Store) PutEmbedding(ctx context.Context, ref domain.EntityRef, model string, vector []float32) error {
	if !ref.Type.Schema().Vectors {
		return fmt.Errorf("%w: %s does not store embeddings", domain.ErrInvalidInput, ref.Type)
	}
	if len(vector) == 0 {
		return fmt.Errorf("%w: empty embedding", domain.ErrInvalidInput)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			"DELETE FROM embeddings WHERE entity_type = $1 AND entity_id = $2 AND model = $3",
			string(ref.Type), ref.ID, model); err != nil {
			return fmt.Errorf("replacing embedding: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO embeddings (entity_type, entity_id, model, dimensions, vector, created_at)
			VALUES ($1, $2, $3, $4, CAST($5 AS vector), $6)
		`, string(ref.Type), ref.ID, model, len(vector), pgvector.NewVector(vector), time.Now().UTC()); err != nil {
			return fmt.Errorf("saving embedding: %w", err)
		}
		return nil
	})
}

// DeleteEntity removes an entity and its embeddings.
func (s *Store) DeleteEntity(ctx context.Context, ref domain.EntityRef) error {
	stmts, err := entitysql.DeleteEntity(entitysql.Postgres, ref)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.Exec(ctx, stmt.SQL, stmt.Args...); err != nil {
				return fmt.Errorf("deleting %s: %w", ref, err)
			}
		}
		return nil
	})
}
