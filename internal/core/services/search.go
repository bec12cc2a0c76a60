package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/carchive/internal/core/domain"
	"github.com/custodia-labs/carchive/internal/core/ports/driven"
	"github.com/custodia-labs/carchive/internal/core/ports/driving"
	"github.com/custodia-labs/carchive/internal/logger"
)

// Ensure SearchService implements the interface.
var _ driving.SearchService = (*SearchService)(nil)

// defaultEmbedTimeout bounds the query embedding call when none is configured.
const defaultEmbedTimeout = 10 * time.Second

// SearchService runs unified searches over every entity type.
// It holds configuration only; no state is kept between calls.
type SearchService struct {
	store            driven.EntityStore
	embeddingService driven.EmbeddingService
	settings         domain.SearchSettings
	embedTimeout     time.Duration

	lexical LexicalMatcher
	vector  VectorMatcher
	ranker  ResultRanker
	now     func() time.Time
}

// NewSearchService creates a new search service.
// The embeddingService parameter is optional (can be nil); without it only
// vector queries carrying a raw vector can be served.
func NewSearchService(
	store driven.EntityStore,
	embeddingService driven.EmbeddingService,
	settings domain.SearchSettings,
) *SearchService {
	return &SearchService{
		store:            store,
		embeddingService: embeddingService,
		settings:         settings,
		embedTimeout:     defaultEmbedTimeout,
		ranker:           NewResultRanker(settings.LexicalWeight, settings.VectorWeight),
		now:              time.Now,
	}
}

// SetEmbeddingTimeout sets the timeout of the per-search embedding call.
func (s *SearchService) SetEmbeddingTimeout(d time.Duration) {
	if d > 0 {
		s.embedTimeout = d
	}
}

// Search validates the criteria and returns one ranked, paginated result set
// across the entity types in scope.
func (s *SearchService) Search(ctx context.Context, criteria domain.SearchCriteria) (*domain.SearchResults, error) {
	logger.Section("Search Execution")
	if err := criteria.Validate(); err != nil {
		logger.Debug("Rejected criteria: %v", err)
		return nil, err
	}
	return s.run(ctx, criteria, nil)
}

// SearchWithin runs the search pipeline restricted to refs.
// References to entities that no longer exist are dropped.
func (s *SearchService) SearchWithin(
	ctx context.Context, criteria domain.SearchCriteria, refs []domain.EntityRef,
) (*domain.SearchResults, error) {
	logger.Section("Scoped Search Execution")
	if err := criteria.ValidateScoped(); err != nil {
		logger.Debug("Rejected criteria: %v", err)
		return nil, err
	}
	scope := make(map[domain.EntityType][]string)
	for _, r := range refs {
		scope[r.Type] = append(scope[r.Type], r.ID)
	}
	logger.Debug("Scope: %d references across %d entity types", len(refs), len(scope))
	return s.run(ctx, criteria, scope)
}

// typePass is the outcome of one entity type's fetch and match pass.
type typePass struct {
	candidates []scoredCandidate
	truncated  bool
	mismatched int
}

// run executes a search. A nil scope searches every stored entity.
func (s *SearchService) run(
	ctx context.Context, criteria domain.SearchCriteria, scope map[domain.EntityType][]string,
) (*domain.SearchResults, error) {
	now := s.now()
	resolved := criteria.Resolve(now, s.settings.CriteriaDefaults())
	results := &domain.SearchResults{
		Results:       []domain.SearchResult{},
		MatchedByType: make(map[domain.EntityType]int),
		GeneratedAt:   now,
	}

	queryVector, model, err := s.resolveVector(ctx, &resolved, results)
	if err != nil {
		return nil, err
	}
	textActive := resolved.HasText()
	vectorActive := queryVector != nil
	matching := textActive || vectorActive
	logger.Debug("Text: %q (%s), vector: %t, filters: %t, sort: %s",
		resolved.TextQuery, resolved.MatchMode, vectorActive, resolved.HasFilters(), resolved.SortOrder)

	targets := resolved.TargetTypes()
	if scope != nil {
		scoped := make([]domain.EntityType, 0, len(targets))
		for _, t := range targets {
			if len(scope[t]) > 0 {
				scoped = append(scoped, t)
			}
		}
		targets = scoped
	}
	logger.Debug("Target entity types: %v", targets)

	plan := fetchPlan{
		criteria: resolved,
		cap:      s.settings.CandidateCap(),
		vectors:  vectorActive,
		model:    model,
		// Text and vector matches are OR-ed; a keyword prefilter would hide
		// rows that only match semantically.
		keywords: textActive && !vectorActive,
	}
	// A vector-only pass can never match a row without a stored vector.
	plan.embeddedOnly = vectorActive && !textActive

	passes := make([]typePass, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range targets {
		g.Go(func() error {
			p := plan
			if scope != nil {
				p.ids = scope[t]
			}
			pass, err := s.runPass(gctx, t, p, queryVector, textActive)
			if err != nil {
				return err
			}
			passes[i] = pass
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Warn("Search failed: %v", err)
		return nil, fmt.Errorf("search: %w", err)
	}

	scored := make([][]scoredCandidate, len(passes))
	for i, pass := range passes {
		scored[i] = pass.candidates
		if pass.truncated {
			results.Truncated = true
			results.Warnings = append(results.Warnings,
				fmt.Sprintf("%s: candidate cap of %d reached, results may be incomplete", targets[i], plan.cap))
		}
		if pass.mismatched > 0 {
			msg := fmt.Sprintf("%s: skipped %d stored vectors with mismatched dimensions", targets[i], pass.mismatched)
			logger.Warn("%s", msg)
			results.Warnings = append(results.Warnings, msg)
		}
	}

	ranked := s.ranker.Rank(scored, resolved.SortOrder, matching)
	results.TotalMatched = len(ranked)
	for i := range ranked {
		results.MatchedByType[ranked[i].record.Type]++
	}

	for _, rc := range paginate(ranked, resolved.Offset, resolved.Limit) {
		results.Results = append(results.Results, s.toResult(rc))
	}
	results.Criteria = resolved

	logger.Info("Matched %d, returning %d (offset %d, limit %d)",
		results.TotalMatched, len(results.Results), resolved.Offset, resolved.Limit)
	return results, nil
}

// resolveVector returns the query vector and the embedding model to select
// stored vectors by. A provider failure degrades the search when another
// criterion remains, and fails it otherwise.
func (s *SearchService) resolveVector(
	ctx context.Context, c *domain.SearchCriteria, results *domain.SearchResults,
) ([]float32, string, error) {
	if !c.HasVector() {
		return nil, "", nil
	}
	if len(c.VectorQuery.Vector) > 0 {
		logger.Debug("Using supplied query vector: %d dimensions", len(c.VectorQuery.Vector))
		return c.VectorQuery.Vector, "", nil
	}

	vec, err := s.embedQuery(ctx, c.VectorQuery.SourceText)
	if err == nil {
		c.VectorQuery.Vector = vec
		return vec, s.embeddingService.ModelName(), nil
	}

	if !c.HasText() && !c.HasFilters() {
		logger.Warn("Vector-only search cannot proceed: %v", err)
		return nil, "", fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
	}
	logger.Warn("Query embedding failed, degrading to lexical and filter matching: %v", err)
	results.VectorDegraded = true
	results.Warnings = append(results.Warnings, "vector query skipped: "+err.Error())
	return nil, "", nil
}

// embedQuery makes the single embedding call of a search.
func (s *SearchService) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if s.embeddingService == nil {
		return nil, fmt.Errorf("%w: no embedding provider configured", domain.ErrProviderUnavailable)
	}
	defer logger.Timed("Query embedding")()

	ctx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()

	vec, err := s.embeddingService.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrProviderTimeout) {
			return nil, fmt.Errorf("%w: %w", domain.ErrProviderTimeout, err)
		}
		return nil, err
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", domain.ErrProviderUnavailable)
	}
	logger.Debug("Query embedding: %d dimensions", len(vec))
	return vec, nil
}

// runPass fetches and scores the candidates of one entity type.
func (s *SearchService) runPass(
	ctx context.Context, t domain.EntityType, p fetchPlan, queryVector []float32, textActive bool,
) (typePass, error) {
	var pass typePass
	adapter, ok := adapterFor(t)
	if !ok {
		return pass, fmt.Errorf("%w: no adapter for entity type %q", domain.ErrInvalidInput, t)
	}
	vectorActive := queryVector != nil
	if vectorActive && !textActive && !adapter.schema.Vectors {
		// Nothing can match semantically and there is no text to match.
		logger.Debug("%s: no stored vectors, skipping vector-only pass", t)
		return pass, nil
	}
	defer logger.Timed(string(t) + " pass")()

	threshold := p.criteria.Threshold(s.settings.VectorThreshold)
	for rec, err := range adapter.FetchCandidates(ctx, s.store, p, &pass.truncated) {
		if err != nil {
			return pass, &domain.StorageError{EntityType: t, Op: "fetch", Err: err}
		}
		sc := scoredCandidate{record: rec}
		if textActive {
			sc.lexical, sc.hasLexical = s.lexical.Score(rec.Text, p.criteria.TextQuery, p.criteria.MatchMode)
			if sc.hasLexical {
				sc.excerpt = s.lexical.Excerpt(rec.Text, p.criteria.TextQuery)
			}
		}
		if vectorActive && len(rec.Vector) > 0 {
			score, ok, err := s.vector.Score(rec, queryVector, threshold)
			if err != nil {
				logger.Debug("%v", err)
				pass.mismatched++
			} else {
				sc.vector, sc.hasVector = score, ok
			}
		}
		if (textActive || vectorActive) && !sc.hasLexical && !sc.hasVector {
			continue
		}
		pass.candidates = append(pass.candidates, sc)
	}
	logger.Debug("%s: %d qualifying candidates (truncated=%t)", t, len(pass.candidates), pass.truncated)
	return pass, nil
}

// toResult builds the public result for a ranked candidate.
func (s *SearchService) toResult(rc rankedCandidate) domain.SearchResult {
	excerpt := rc.excerpt
	if excerpt == "" {
		excerpt = truncate(rc.record.Text, 0)
	}
	return domain.SearchResult{
		EntityType: rc.record.Type,
		EntityID:   rc.record.ID,
		Score:      rc.score,
		Excerpt:    excerpt,
		Timestamp:  rc.record.Timestamp,
		Metadata:   domain.CopyMetadata(rc.record.Metadata),
	}
}
