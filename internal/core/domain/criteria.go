package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// SortOrder controls the ordering of merged search results.
type SortOrder string

// Available sort orders.
const (
	// SortRelevance orders by combined score, most relevant first.
	SortRelevance SortOrder = "relevance"

	// SortDateAsc orders oldest first.
	SortDateAsc SortOrder = "date_asc"

	// SortDateDesc orders newest first.
	SortDateDesc SortOrder = "date_desc"
)

// IsValid returns true if the sort order is recognised.
func (o SortOrder) IsValid() bool {
	switch o {
	case SortRelevance, SortDateAsc, SortDateDesc:
		return true
	default:
		return false
	}
}

// MatchMode controls how a text query is matched against entity text.
type MatchMode string

// Available match modes.
const (
	// MatchAnyWord matches when the query is a substring or any keyword appears.
	MatchAnyWord MatchMode = "any_word"

	// MatchAllWords matches only when every keyword appears.
	MatchAllWords MatchMode = "all_words"

	// MatchPhrase matches only when the whole query appears as a substring.
	MatchPhrase MatchMode = "phrase"
)

// IsValid returns true if the match mode is recognised.
func (m MatchMode) IsValid() bool {
	switch m {
	case MatchAnyWord, MatchAllWords, MatchPhrase:
		return true
	default:
		return false
	}
}

// DateRange bounds an entity's canonical timestamp. Both ends are inclusive
// and either may be nil.
type DateRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// IsZero reports whether neither bound is set.
func (r *DateRange) IsZero() bool {
	return r == nil || (r.Start == nil && r.End == nil)
}

// Contains reports whether t falls inside the range.
func (r *DateRange) Contains(t time.Time) bool {
	if r == nil {
		return true
	}
	if r.Start != nil && t.Before(*r.Start) {
		return false
	}
	if r.End != nil && t.After(*r.End) {
		return false
	}
	return true
}

// MetaFilter requires an entity metadata entry to equal Value.
type MetaFilter struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// VectorQuery triggers semantic matching. When Vector is empty the
// SourceText is embedded by the configured provider.
type VectorQuery struct {
	SourceText string    `json:"source_text,omitempty"`
	Vector     []float32 `json:"vector,omitempty"`
}

// SearchCriteria is the single query object accepted by the search core.
// Treat it as a value: the search core copies it and never mutates the caller's copy.
type SearchCriteria struct {
	TextQuery       string       `json:"text_query,omitempty"`
	MatchMode       MatchMode    `json:"match_mode,omitempty"`
	VectorQuery     *VectorQuery `json:"vector_query,omitempty"`
	EntityTypes     []EntityType `json:"entity_types,omitempty"`
	DateRange       *DateRange   `json:"date_range,omitempty"`
	Days            int          `json:"days,omitempty"`
	MetaFilters     []MetaFilter `json:"meta_filters,omitempty"`
	SortOrder       SortOrder    `json:"sort_order,omitempty"`
	Limit           int          `json:"limit,omitempty"`
	Offset          int          `json:"offset,omitempty"`
	VectorThreshold *float64     `json:"vector_threshold,omitempty"`
}

// CriteriaDefaults carries the configurable defaults applied by Resolve.
type CriteriaDefaults struct {
	DefaultLimit    int
	MaxLimit        int
	VectorThreshold float64
}

// DefaultCriteriaDefaults returns the built-in pagination and threshold defaults.
func DefaultCriteriaDefaults() CriteriaDefaults {
	return CriteriaDefaults{
		DefaultLimit:    50,
		MaxLimit:        200,
		VectorThreshold: 0.3,
	}
}

// HasText reports whether a lexical query is set.
func (c SearchCriteria) HasText() bool {
	return strings.TrimSpace(c.TextQuery) != ""
}

// HasVector reports whether a vector query is set.
func (c SearchCriteria) HasVector() bool {
	return c.VectorQuery != nil &&
		(len(c.VectorQuery.Vector) > 0 || strings.TrimSpace(c.VectorQuery.SourceText) != "")
}

// HasFilters reports whether any metadata or date criterion is set.
func (c SearchCriteria) HasFilters() bool {
	return len(c.MetaFilters) > 0 || !c.DateRange.IsZero() || c.Days > 0
}

// IsEmpty reports whether no criterion at all is set.
func (c SearchCriteria) IsEmpty() bool {
	return !c.HasText() && !c.HasVector() && !c.HasFilters()
}

// Validate checks a criteria object for a fresh search.
// An empty criteria is rejected to prevent full-table dumps.
func (c SearchCriteria) Validate() error {
	if c.IsEmpty() {
		return &ValidationError{
			Field:  "criteria",
			Reason: "at least one of text query, vector query, meta filters or date range is required",
		}
	}
	return c.ValidateScoped()
}

// ValidateScoped checks a criteria object applied to an already bounded set,
// such as a buffer. Empty criteria are allowed.
func (c SearchCriteria) ValidateScoped() error {
	if c.Limit < 0 {
		return &ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	if c.Offset < 0 {
		return &ValidationError{Field: "offset", Reason: "must not be negative"}
	}
	if c.Days < 0 {
		return &ValidationError{Field: "days", Reason: "must not be negative"}
	}
	if c.VectorThreshold != nil {
		t := *c.VectorThreshold
		if math.IsNaN(t) || t < 0 || t > 1 {
			return &ValidationError{Field: "vector_threshold", Reason: "must be within [0,1]"}
		}
	}
	if c.VectorQuery != nil && !c.HasVector() {
		return &ValidationError{Field: "vector_query", Reason: "needs source text or a vector"}
	}
	if c.SortOrder != "" && !c.SortOrder.IsValid() {
		return &ValidationError{Field: "sort_order", Reason: "unknown sort order " + strconv.Quote(string(c.SortOrder))}
	}
	if c.MatchMode != "" && !c.MatchMode.IsValid() {
		return &ValidationError{Field: "match_mode", Reason: "unknown match mode " + strconv.Quote(string(c.MatchMode))}
	}
	for _, t := range c.EntityTypes {
		if !t.IsValid() {
			return &ValidationError{Field: "entity_types", Reason: "unknown entity type " + strconv.Quote(string(t))}
		}
	}
	if c.DateRange != nil && c.DateRange.Start != nil && c.DateRange.End != nil &&
		c.DateRange.Start.After(*c.DateRange.End) {
		return &ValidationError{Field: "date_range", Reason: "start is after end"}
	}
	for i, f := range c.MetaFilters {
		if strings.TrimSpace(f.Key) == "" {
			return &ValidationError{Field: "meta_filters", Reason: "filter " + strconv.Itoa(i) + " has an empty key"}
		}
	}
	return nil
}

// Resolve returns a deep copy with defaults applied: limit defaulted and
// clamped, sort order and match mode filled in, the threshold set when a
// vector query is present, and Days folded into an absolute DateRange.
func (c SearchCriteria) Resolve(now time.Time, d CriteriaDefaults) SearchCriteria {
	out := c.Clone()
	out.TextQuery = strings.TrimSpace(out.TextQuery)

	if out.Limit == 0 {
		out.Limit = d.DefaultLimit
	}
	if d.MaxLimit > 0 && out.Limit > d.MaxLimit {
		out.Limit = d.MaxLimit
	}
	if out.SortOrder == "" {
		out.SortOrder = SortRelevance
	}
	if out.MatchMode == "" {
		out.MatchMode = MatchAnyWord
	}
	if out.HasVector() && out.VectorThreshold == nil {
		t := d.VectorThreshold
		out.VectorThreshold = &t
	}
	if out.Days > 0 {
		start := now.Add(-time.Duration(out.Days) * 24 * time.Hour)
		if out.DateRange == nil {
			out.DateRange = &DateRange{}
		}
		if out.DateRange.Start == nil || out.DateRange.Start.Before(start) {
			out.DateRange.Start = &start
		}
		out.Days = 0
	}
	return out
}

// TargetTypes returns the entity types in scope, in canonical order.
func (c SearchCriteria) TargetTypes() []EntityType {
	if len(c.EntityTypes) == 0 {
		return AllEntityTypes()
	}
	wanted := make(map[EntityType]bool, len(c.EntityTypes))
	for _, t := range c.EntityTypes {
		wanted[t] = true
	}
	types := make([]EntityType, 0, len(wanted))
	for _, t := range AllEntityTypes() {
		if wanted[t] {
			types = append(types, t)
		}
	}
	return types
}

// Threshold returns the vector threshold, or fallback when unset.
func (c SearchCriteria) Threshold(fallback float64) float64 {
	if c.VectorThreshold == nil {
		return fallback
	}
	return *c.VectorThreshold
}

// Clone returns a deep copy of the criteria.
func (c SearchCriteria) Clone() SearchCriteria {
	out := c
	if c.VectorQuery != nil {
		vq := *c.VectorQuery
		if c.VectorQuery.Vector != nil {
			vq.Vector = append([]float32(nil), c.VectorQuery.Vector...)
		}
		out.VectorQuery = &vq
	}
	if c.EntityTypes != nil {
		out.EntityTypes = append([]EntityType(nil), c.EntityTypes...)
	}
	if c.MetaFilters != nil {
		out.MetaFilters = append([]MetaFilter(nil), c.MetaFilters...)
	}
	if c.DateRange != nil {
		dr := DateRange{}
		if c.DateRange.Start != nil {
			s := *c.DateRange.Start
			dr.Start = &s
		}
		if c.DateRange.End != nil {
			e := *c.DateRange.End
			dr.End = &e
		}
		out.DateRange = &dr
	}
	if c.VectorThreshold != nil {
		t := *c.VectorThreshold
		out.VectorThreshold = &t
	}
	return out
}

// MetaValueString renders a metadata value in the canonical form used for
// equality filtering: strings as-is, numbers without trailing zeros,
// booleans as true/false, null as "null", anything else as compact JSON.
func MetaValueString(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// MatchesMeta reports whether metadata satisfies every filter.
func MatchesMeta(metadata map[string]any, filters []MetaFilter) bool {
	for _, f := range filters {
		v, ok := metadata[f.Key]
		if !ok || MetaValueString(v) != f.Value {
			return false
		}
	}
	return true
}
