package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/carchive/internal/core/domain"
)

// dateLayout is the accepted --since/--until format.
const dateLayout = "2006-01-02"

// criteriaFlags collects the search criteria flags shared by search and
// buffer narrow.
type criteriaFlags struct {
	types     []string
	match     string
	semantic  bool
	similar   string
	since     string
	until     string
	days      int
	meta      []string
	sort      string
	limit     int
	offset    int
	threshold float64
}

func (f *criteriaFlags) bind(cmd *cobra.Command, defaultSort string) {
	fs := cmd.Flags()
	fs.StringSliceVarP(&f.types, "type", "t", nil,
		"entity types to search (conversation, message, chunk, media, agent_output, collection)")
	fs.StringVar(&f.match, "match", "", "text match mode: any_word, all_words or phrase")
	fs.BoolVar(&f.semantic, "semantic", false, "also match the query semantically")
	fs.StringVar(&f.similar, "similar", "", "match semantically against this text")
	fs.StringVar(&f.since, "since", "", "only entities on or after this date (YYYY-MM-DD)")
	fs.StringVar(&f.until, "until", "", "only entities on or before this date (YYYY-MM-DD)")
	fs.IntVar(&f.days, "days", 0, "only entities from the last N days")
	fs.StringArrayVarP(&f.meta, "meta", "m", nil, "metadata filter key=value (repeatable)")
	fs.StringVar(&f.sort, "sort", defaultSort, "sort order: relevance, date_desc or date_asc")
	fs.IntVarP(&f.limit, "limit", "n", 0, "maximum number of results (0 = configured default)")
	fs.IntVar(&f.offset, "offset", 0, "number of results to skip")
	fs.Float64Var(&f.threshold, "threshold", 0, "maximum cosine distance for a semantic match (0 = configured default)")
}

// criteria builds search criteria from the flags and an optional text query.
func (f *criteriaFlags) criteria(query string) (domain.SearchCriteria, error) {
	c := domain.SearchCriteria{
		TextQuery: strings.TrimSpace(query),
		MatchMode: domain.MatchMode(f.match),
		SortOrder: domain.SortOrder(f.sort),
		Days:      f.days,
		Limit:     f.limit,
		Offset:    f.offset,
	}

	for _, raw := range f.types {
		t, err := domain.ParseEntityType(raw)
		if err != nil {
			return c, err
		}
		c.EntityTypes = append(c.EntityTypes, t)
	}

	switch {
	case f.similar != "":
		c.VectorQuery = &domain.VectorQuery{SourceText: f.similar}
	case f.semantic:
		if c.TextQuery == "" {
			return c, fmt.Errorf("%w: --semantic needs a query", domain.ErrInvalidInput)
		}
		c.VectorQuery = &domain.VectorQuery{SourceText: c.TextQuery}
	}
	if f.threshold > 0 {
		t := f.threshold
		c.VectorThreshold = &t
	}

	var err error
	var start, end *time.Time
	if start, err = parseDate(f.since, false); err != nil {
		return c, err
	}
	if end, err = parseDate(f.until, true); err != nil {
		return c, err
	}
	if start != nil || end != nil {
		c.DateRange = &domain.DateRange{Start: start, End: end}
	}

	for _, kv := range f.meta {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return c, fmt.Errorf("%w: meta filter %q must be key=value", domain.ErrInvalidInput, kv)
		}
		c.MetaFilters = append(c.MetaFilters, domain.MetaFilter{Key: strings.TrimSpace(key), Value: value})
	}
	return c, nil
}

// parseDate parses a YYYY-MM-DD date in UTC. endOfDay moves it to the last
// instant of that day so --until is inclusive.
func parseDate(s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q must be YYYY-MM-DD", domain.ErrInvalidInput, s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
