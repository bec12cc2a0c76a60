// Package entitysql builds the SQL shared by the relational entity stores.
//
// Both the SQLite and PostgreSQL stores keep one table per entity type with
// the same logical layout:
//
//	id TEXT PRIMARY KEY, created_at, meta_info (JSON), <schema columns as TEXT>
//
// plus an embeddings table keyed by (entity_type, entity_id, model). The
// dialects differ in placeholders, JSON access and timestamp encoding only.
package entitysql

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/carchive/internal/core/domain"
)

// Dialect selects the SQL flavour.
type Dialect int

// Supported dialects.
const (
	SQLite Dialect = iota
	Postgres
)

// TimeLayout is the fixed-width UTC layout SQLite stores timestamps in, so
// that text comparison matches time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// tables maps entity types onto physical table names.
var tables = map[domain.EntityType]string{
	domain.EntityConversation: "conversations",
	domain.EntityMessage:      "messages",
	domain.EntityChunk:        "chunks",
	domain.EntityMedia:        "media",
	domain.EntityAgentOutput:  "agent_outputs",
	domain.EntityCollection:   "collections",
}

// Table returns the table holding an entity type.
func Table(t domain.EntityType) (string, error) {
	name, ok := tables[t]
	if !ok {
		return "", fmt.Errorf("%w: unknown entity type %q", domain.ErrInvalidInput, t)
	}
	return name, nil
}

// Statement is a query with its positional arguments.
type Statement struct {
	SQL  string
	Args []any
}

// builder accumulates SQL text and arguments with dialect placeholders.
type builder struct {
	dialect Dialect
	sql     strings.Builder
	args    []any
}

func (b *builder) write(parts ...string) {
	for _, p := range parts {
		b.sql.WriteString(p)
	}
}

// arg binds v and returns its placeholder.
func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	if b.dialect == Postgres {
		return "$" + strconv.Itoa(len(b.args))
	}
	return "?"
}

// timeArg binds a timestamp in the dialect's storage encoding.
func (b *builder) timeArg(t time.Time) string {
	if b.dialect == SQLite {
		return b.arg(t.UTC().Format(TimeLayout))
	}
	return b.arg(t.UTC())
}

// Columns returns the selected columns of an entity table, in scan order:
// id, created_at, meta_info, then the schema columns.
func Columns(t domain.EntityType) []string {
	return append([]string{"id", "created_at", "meta_info"}, t.Schema().Columns...)
}

// Find builds the SELECT for q. When q.WithVectors is set the newest
// matching embedding is selected as a final column.
func Find(d Dialect, q domain.EntityQuery) (Statement, error) {
	table, err := Table(q.Type)
	if err != nil {
		return Statement{}, err
	}
	schema := q.Type.Schema()
	b := &builder{dialect: d}

	b.write("SELECT ")
	for i, col := range Columns(q.Type) {
		if i > 0 {
			b.write(", ")
		}
		if i >= 3 {
			b.write("COALESCE(t.", col, ", '')")
			continue
		}
		b.write("t.", col)
	}
	if q.WithVectors {
		b.write(", (SELECT e.vector FROM embeddings e WHERE e.entity_type = ", b.arg(string(q.Type)),
			" AND e.entity_id = t.id")
		if q.EmbeddingModel != "" {
			b.write(" AND e.model = ", b.arg(q.EmbeddingModel))
		}
		b.write(" ORDER BY e.created_at DESC, e.seq DESC LIMIT 1)")
	}
	b.write(" FROM ", table, " t")

	var where []string
	if len(q.IDs) > 0 {
		where = append(where, b.idsPredicate(q.IDs))
	}
	if q.DateRange != nil {
		if q.DateRange.Start != nil {
			where = append(where, "t.created_at >= "+b.timeArg(*q.DateRange.Start))
		}
		if q.DateRange.End != nil {
			where = append(where, "t.created_at <= "+b.timeArg(*q.DateRange.End))
		}
	}
	for _, f := range q.Columns {
		if !schema.HasColumn(f.Column) {
			return Statement{}, fmt.Errorf("%w: %s has no column %q", domain.ErrInvalidInput, q.Type, f.Column)
		}
		where = append(where, "t."+f.Column+" = "+b.arg(f.Value))
	}
	for _, f := range q.Meta {
		if p := b.metaPredicate(f); p != "" {
			where = append(where, p)
		}
	}
	if len(q.Keywords) > 0 {
		where = append(where, b.keywordPredicate(schema.TextColumns, q.Keywords))
	}
	if q.EmbeddedOnly {
		where = append(where, b.embeddedPredicate(q.Type, q.EmbeddingModel))
	}
	if len(where) > 0 {
		b.write(" WHERE ", strings.Join(where, " AND "))
	}

	b.write(" ORDER BY t.created_at DESC, t.id ASC")
	if q.Limit > 0 {
		b.write(" LIMIT ", b.arg(q.Limit))
	}
	return Statement{SQL: b.sql.String(), Args: b.args}, nil
}

func (b *builder) embeddedPredicate(t domain.EntityType, model string) string {
	p := "EXISTS (SELECT 1 FROM embeddings x WHERE x.entity_type = " + b.arg(string(t)) + " AND x.entity_id = t.id"
	if model != "" {
		p += " AND x.model = " + b.arg(model)
	}
	return p + ")"
}

// idsPredicate binds the id list as a single argument so large scopes never
// hit the bound parameter limit.
func (b *builder) idsPredicate(ids []string) string {
	if b.dialect == Postgres {
		return "t.id = ANY(" + b.arg(ids) + ")"
	}
	data, _ := json.Marshal(ids)
	return "t.id IN (SELECT value FROM json_each(" + b.arg(string(data)) + "))"
}

// metaPredicate requires the key to exist and, when its value is a JSON
// string, to equal the filter value. Non-string values are left to the
// caller to compare. An empty result means the filter cannot be pushed down.
func (b *builder) metaPredicate(f domain.MetaFilter) string {
	if b.dialect == Postgres {
		k := b.arg(f.Key) + "::text"
		v := b.arg(f.Value) + "::text"
		return "(t.meta_info -> " + k + " IS NOT NULL AND (jsonb_typeof(t.meta_info -> " + k +
			") <> 'string' OR t.meta_info ->> " + k + " = " + v + "))"
	}
	// SQLite JSON paths cannot quote a double quote.
	if strings.ContainsAny(f.Key, "\"\\") {
		return ""
	}
	path := `$."` + f.Key + `"`
	p1, p2, p3 := b.arg(path), b.arg(path), b.arg(path)
	return "(json_type(t.meta_info, " + p1 + ") IS NOT NULL AND (json_type(t.meta_info, " + p2 +
		") <> 'text' OR json_extract(t.meta_info, " + p3 + ") = " + b.arg(f.Value) + "))"
}

// keywordPredicate keeps rows whose text columns contain any keyword.
func (b *builder) keywordPredicate(columns, keywords []string) string {
	var ors []string
	for _, kw := range keywords {
		pattern := "%" + EscapeLike(strings.ToLower(kw)) + "%"
		for _, col := range columns {
			ors = append(ors, "LOWER(COALESCE(t."+col+", '')) LIKE "+b.arg(pattern)+` ESCAPE '\'`)
		}
	}
	return "(" + strings.Join(ors, " OR ") + ")"
}

// EscapeLike escapes LIKE wildcards with a backslash.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// UpsertEntity builds the INSERT ... ON CONFLICT for one row.
func UpsertEntity(d Dialect, row domain.Row) (Statement, error) {
	table, err := Table(row.Type)
	if err != nil {
		return Statement{}, err
	}
	if row.ID == "" {
		return Statement{}, fmt.Errorf("%w: entity id is required", domain.ErrInvalidInput)
	}
	meta := row.MetaInfo
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return Statement{}, fmt.Errorf("encoding meta_info: %w", err)
	}

	b := &builder{dialect: d}
	cols := Columns(row.Type)
	values := make([]string, 0, len(cols))
	values = append(values, b.arg(row.ID), b.timeArg(row.CreatedAt))
	if d == Postgres {
		values = append(values, "CAST("+b.arg(string(metaJSON))+" AS JSONB)")
	} else {
		values = append(values, b.arg(string(metaJSON)))
	}
	for _, col := range row.Type.Schema().Columns {
		values = append(values, b.arg(row.Columns[col]))
	}

	updates := make([]string, 0, len(cols)-1)
	for _, col := range cols[1:] {
		updates = append(updates, col+" = excluded."+col)
	}
	b.write("INSERT INTO ", table, " (", strings.Join(cols, ", "), ") VALUES (",
		strings.Join(values, ", "), ") ON CONFLICT (id) DO UPDATE SET ", strings.Join(updates, ", "))
	return Statement{SQL: b.sql.String(), Args: b.args}, nil
}

// DeleteEntity builds the statements removing an entity and its embeddings.
func DeleteEntity(d Dialect, ref domain.EntityRef) ([]Statement, error) {
	table, err := Table(ref.Type)
	if err != nil {
		return nil, err
	}
	del := &builder{dialect: d}
	del.write("DELETE FROM ", table, " WHERE id = ", del.arg(ref.ID))
	emb := &builder{dialect: d}
	emb.write("DELETE FROM embeddings WHERE entity_type = ", emb.arg(string(ref.Type)),
		" AND entity_id = ", emb.arg(ref.ID))
	return []Statement{
		{SQL: emb.sql.String(), Args: emb.args},
		{SQL: del.sql.String(), Args: del.args},
	}, nil
}

// ParseTime decodes a timestamp stored by SQLite.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

// DecodeMeta decodes a stored meta_info document.
func DecodeMeta(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decoding meta_info: %w", err)
	}
	return meta, nil
}
