package domain

import (
	"fmt"
	"strings"
	"time"
)

// EntityType identifies one of the searchable record kinds.
type EntityType string

// Searchable entity types. The set is closed: each type maps to exactly
// one entity adapter in the search core.
const (
	EntityConversation EntityType = "conversation"
	EntityMessage      EntityType = "message"
	EntityChunk        EntityType = "chunk"
	EntityMedia        EntityType = "media"
	EntityAgentOutput  EntityType = "agent_output"
	EntityCollection   EntityType = "collection"
)

// AllEntityTypes returns every entity type in canonical order.
func AllEntityTypes() []EntityType {
	return []EntityType{
		EntityConversation,
		EntityMessage,
		EntityChunk,
		EntityMedia,
		EntityAgentOutput,
		EntityCollection,
	}
}

// IsValid returns true if the entity type is recognised.
func (t EntityType) IsValid() bool {
	_, ok := entitySchemas[t]
	return ok
}

// String returns the string representation.
func (t EntityType) String() string {
	return string(t)
}

// ParseEntityType converts user input into an EntityType.
// Accepts the canonical names plus "gencom" and "agent-output" aliases.
func ParseEntityType(s string) (EntityType, error) {
	normalised := strings.ToLower(strings.TrimSpace(s))
	switch normalised {
	case "gencom", "agent-output", "agentoutput":
		return EntityAgentOutput, nil
	}
	t := EntityType(normalised)
	if !t.IsValid() {
		return "", fmt.Errorf("%w: unknown entity type %q", ErrInvalidInput, s)
	}
	return t, nil
}

// EntitySchema describes the logical shape of an entity's stored rows.
// Storage adapters map these names onto physical columns.
type EntitySchema struct {
	// Type is the entity type this schema describes.
	Type EntityType

	// Columns are the filterable data columns, excluding id, created_at and meta_info.
	Columns []string

	// TextColumns are the columns that make up the searchable text, in order.
	TextColumns []string

	// Vectors is true when embeddings may be stored for this type.
	Vectors bool
}

// HasColumn reports whether name is one of the schema's data columns.
func (s EntitySchema) HasColumn(name string) bool {
	for _, c := range s.Columns {
		if c == name {
			return true
		}
	}
	return false
}

var entitySchemas = map[EntityType]EntitySchema{
	EntityConversation: {
		Type:        EntityConversation,
		Columns:     []string{"title", "provider", "source_id", "is_archived", "is_starred"},
		TextColumns: []string{"title"},
		Vectors:     true,
	},
	EntityMessage: {
		Type:        EntityMessage,
		Columns:     []string{"conversation_id", "role", "author_name", "content", "content_type"},
		TextColumns: []string{"content"},
		Vectors:     true,
	},
	EntityChunk: {
		Type:        EntityChunk,
		Columns:     []string{"message_id", "content", "chunk_type", "position"},
		TextColumns: []string{"content"},
		Vectors:     true,
	},
	EntityMedia: {
		Type:        EntityMedia,
		Columns:     []string{"file_path", "media_type", "mime_type", "original_file_name", "is_generated"},
		TextColumns: []string{"original_file_name", "file_path"},
		Vectors:     true,
	},
	EntityAgentOutput: {
		Type:        EntityAgentOutput,
		Columns:     []string{"target_type", "target_id", "output_type", "content", "agent_name"},
		TextColumns: []string{"content"},
		Vectors:     true,
	},
	EntityCollection: {
		Type:        EntityCollection,
		Columns:     []string{"name"},
		TextColumns: []string{"name"},
		Vectors:     false,
	},
}

// Schema returns the logical schema for the entity type.
// The zero value is returned for unknown types.
func (t EntityType) Schema() EntitySchema {
	return entitySchemas[t]
}

// EntityRef identifies one stored entity.
type EntityRef struct {
	Type EntityType `json:"entity_type"`
	ID   string     `json:"entity_id"`
}

// String returns "type:id".
func (r EntityRef) String() string {
	return string(r.Type) + ":" + r.ID
}

// ParseEntityRef parses the "type:id" form written by String.
func ParseEntityRef(s string) (EntityRef, error) {
	typ, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || id == "" {
		return EntityRef{}, fmt.Errorf("%w: entity reference %q is not type:id", ErrInvalidInput, s)
	}
	t, err := ParseEntityType(typ)
	if err != nil {
		return EntityRef{}, err
	}
	return EntityRef{Type: t, ID: id}, nil
}

// Row is a raw stored entity as returned by an entity store.
// Data columns are rendered as text; meta_info keeps its decoded JSON values.
type Row struct {
	Type      EntityType
	ID        string
	CreatedAt time.Time
	Columns   map[string]string
	MetaInfo  map[string]any
	Embedding []float32
}

// Ref returns the entity reference for the row.
func (r Row) Ref() EntityRef {
	return EntityRef{Type: r.Type, ID: r.ID}
}

// CandidateRecord is a fetched entity normalised for scoring.
type CandidateRecord struct {
	Type      EntityType
	ID        string
	Text      string
	Vector    []float32
	Timestamp time.Time
	Metadata  map[string]any
}

// Ref returns the entity reference for the candidate.
func (c CandidateRecord) Ref() EntityRef {
	return EntityRef{Type: c.Type, ID: c.ID}
}

// ColumnFilter is an equality predicate on a schema column.
type ColumnFilter struct {
	Column string
	Value  string
}

// EntityQuery is the storage-level predicate for one entity type.
// Every populated field is pushed down to storage.
type EntityQuery struct {
	// Type selects the entity table.
	Type EntityType

	// IDs restricts results to the given ids when non-empty.
	IDs []string

	// DateRange bounds created_at inclusively.
	DateRange *DateRange

	// Columns are AND-ed equality filters on schema columns.
	Columns []ColumnFilter

	// Meta are AND-ed equality filters on meta_info entries. Stores may only
	// narrow on string values; callers re-check the exact semantics.
	Meta []MetaFilter

	// Keywords keeps rows whose text contains any keyword, case-insensitively.
	Keywords []string

	// WithVectors loads the stored embedding for each row.
	WithVectors bool

	// EmbeddingModel selects the embedding model; empty means the newest of any model.
	EmbeddingModel string

	// EmbeddedOnly keeps only rows that have a stored embedding of
	// EmbeddingModel (any model when empty).
	EmbeddedOnly bool

	// Limit caps the number of rows; zero means no cap.
	Limit int
}
