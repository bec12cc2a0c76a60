package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/carchive/internal/core/domain"
	"github.com/custodia-labs/carchive/internal/core/ports/driven"
	"github.com/custodia-labs/carchive/internal/core/ports/driving"
	"github.com/custodia-labs/carchive/internal/logger"
)

// Ensure BufferService implements the interface.
var _ driving.BufferService = (*BufferService)(nil)

// collectionNamespace seeds collection ids so converting again under the
// same collection name replaces the earlier row.
var collectionNamespace = uuid.MustParse("b7e4d0c3-58a1-4f2e-8d6b-2c91f3a7e605")

// bufferNamePattern restricts names to characters that are safe in file
// names, storage keys and resource URIs.
var bufferNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// BufferService persists named result sets and narrows them later.
type BufferService struct {
	store      driven.BufferStore
	search     driving.SearchService
	writer     driven.EntityWriter
	defaultTTL time.Duration
	now        func() time.Time
}

// NewBufferService creates a new buffer service.
// defaultTTL applies when a save names no TTL; zero means no expiry.
func NewBufferService(store driven.BufferStore, search driving.SearchService, defaultTTL time.Duration) *BufferService {
	return &BufferService{
		store:      store,
		search:     search,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// SetEntityWriter enables ToCollection. Without a writer it fails.
func (s *BufferService) SetEntityWriter(w driven.EntityWriter) {
	s.writer = w
}

// GenerateBufferName returns a fresh buffer name.
func GenerateBufferName() string {
	return "buf-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// ValidateBufferName checks a caller-chosen buffer name.
func ValidateBufferName(name string) error {
	if !bufferNamePattern.MatchString(name) {
		return fmt.Errorf("%w: buffer name %q must be 1-128 letters, digits, '.', '_' or '-'", domain.ErrInvalidInput, name)
	}
	return nil
}

// Save stores the references of results under name.
func (s *BufferService) Save(
	ctx context.Context, name string, results *domain.SearchResults, opts domain.BufferSaveOptions,
) (domain.BufferHandle, error) {
	if results == nil {
		return domain.BufferHandle{}, fmt.Errorf("%w: no results to save", domain.ErrInvalidInput)
	}
	criteria := results.Criteria.Clone()
	return s.put(ctx, name, results.Refs(), &criteria, opts)
}

// SaveRefs stores an arbitrary ordered reference set under name.
func (s *BufferService) SaveRefs(
	ctx context.Context, name string, refs []domain.EntityRef, opts domain.BufferSaveOptions,
) (domain.BufferHandle, error) {
	if err := validateRefs(refs); err != nil {
		return domain.BufferHandle{}, err
	}
	return s.put(ctx, name, refs, nil, opts)
}

func validateRefs(refs []domain.EntityRef) error {
	for _, r := range refs {
		if !r.Type.IsValid() || strings.TrimSpace(r.ID) == "" {
			return fmt.Errorf("%w: invalid entity reference %q", domain.ErrInvalidInput, r.String())
		}
	}
	return nil
}

func (s *BufferService) put(
	ctx context.Context, name string, refs []domain.EntityRef, criteria *domain.SearchCriteria, opts domain.BufferSaveOptions,
) (domain.BufferHandle, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = GenerateBufferName()
	}
	if err := ValidateBufferName(name); err != nil {
		return domain.BufferHandle{}, err
	}
	if opts.TTL < 0 {
		return domain.BufferHandle{}, fmt.Errorf("%w: negative buffer TTL", domain.ErrInvalidInput)
	}

	now := s.now().UTC()
	buf := &domain.Buffer{
		Name:        name,
		Owner:       opts.Owner,
		Description: opts.Description,
		CreatedAt:   now,
		Refs:        dedupeRefs(refs),
		Criteria:    criteria,
	}
	ttl := opts.TTL
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		buf.ExpiresAt = &exp
	}

	if err := s.store.Put(ctx, buf); err != nil {
		return domain.BufferHandle{}, fmt.Errorf("save buffer %s: %w", name, err)
	}
	logger.Info("Saved buffer %q with %d references", name, len(buf.Refs))
	return domain.BufferHandle{Name: name, Count: len(buf.Refs), ExpiresAt: buf.ExpiresAt}, nil
}

// dedupeRefs keeps the first occurrence of each reference.
func dedupeRefs(refs []domain.EntityRef) []domain.EntityRef {
	seen := make(map[domain.EntityRef]bool, len(refs))
	out := make([]domain.EntityRef, 0, len(refs))
	for _, r := range refs {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

// Load returns a buffer by name. An expired buffer is deleted on this read.
func (s *BufferService) Load(ctx context.Context, name string) (*domain.Buffer, error) {
	buf, err := s.store.Get(ctx, name)
	if err != nil {
		if errors.Is(err, domain.ErrBufferNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrBufferNotFound, name)
		}
		return nil, fmt.Errorf("load buffer %s: %w", name, err)
	}

	now := s.now()
	if buf.Expired(now) {
		// Conditional so a concurrent re-save under the same name survives.
		removed, err := s.store.DeleteExpired(ctx, name, now)
		if err != nil {
			logger.Warn("Failed to remove expired buffer %q: %v", name, err)
		} else if removed {
			logger.Info("Removed expired buffer %q", name)
		}
		return nil, fmt.Errorf("%w: %s expired at %s", domain.ErrBufferExpired, name, buf.ExpiresAt.Format(time.RFC3339))
	}
	return buf, nil
}

// Narrow re-resolves the buffered references against current storage and
// applies criteria. The result never contains entities outside the buffer.
func (s *BufferService) Narrow(
	ctx context.Context, name string, criteria domain.SearchCriteria,
) (*domain.SearchResults, error) {
	buf, err := s.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	logger.Debug("Narrowing buffer %q (%d references)", name, len(buf.Refs))
	if len(buf.Refs) == 0 {
		if err := criteria.ValidateScoped(); err != nil {
			return nil, err
		}
		return &domain.SearchResults{
			Results:       []domain.SearchResult{},
			MatchedByType: map[domain.EntityType]int{},
			Criteria:      criteria.Clone(),
			GeneratedAt:   s.now(),
		}, nil
	}
	return s.search.SearchWithin(ctx, criteria, buf.Refs)
}

// List returns unexpired buffers, newest first.
func (s *BufferService) List(ctx context.Context, owner string) ([]domain.BufferSummary, error) {
	all, err := s.store.List(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list buffers: %w", err)
	}
	now := s.now()
	live := make([]domain.BufferSummary, 0, len(all))
	for _, b := range all {
		if !b.Expired(now) {
			live = append(live, b)
		}
	}
	return live, nil
}

// Delete removes a buffer.
func (s *BufferService) Delete(ctx context.Context, name string) error {
	if err := s.store.Delete(ctx, name); err != nil {
		if errors.Is(err, domain.ErrBufferNotFound) {
			return fmt.Errorf("%w: %s", domain.ErrBufferNotFound, name)
		}
		return fmt.Errorf("delete buffer %s: %w", name, err)
	}
	logger.Info("Deleted buffer %q", name)
	return nil
}

// Merge combines source buffers into target. Union keeps first-seen order;
// intersect and difference keep the order of the first source.
func (s *BufferService) Merge(
	ctx context.Context, target string, op domain.BufferOp, sources []string, opts domain.BufferSaveOptions,
) (domain.BufferHandle, error) {
	if !op.IsValid() {
		return domain.BufferHandle{}, fmt.Errorf("%w: unknown buffer operation %q", domain.ErrInvalidInput, op)
	}
	if len(sources) == 0 {
		return domain.BufferHandle{}, fmt.Errorf("%w: merge needs at least one source buffer", domain.ErrInvalidInput)
	}

	sets := make([][]domain.EntityRef, len(sources))
	for i, name := range sources {
		buf, err := s.Load(ctx, name)
		if err != nil {
			return domain.BufferHandle{}, err
		}
		sets[i] = buf.Refs
	}

	var refs []domain.EntityRef
	switch op {
	case domain.BufferUnion:
		for _, set := range sets {
			refs = append(refs, set...)
		}
	case domain.BufferIntersect:
		refs = filterRefs(sets[0], sets[1:], true)
	case domain.BufferDifference:
		refs = filterRefs(sets[0], sets[1:], false)
	}

	if opts.Description == "" {
		opts.Description = fmt.Sprintf("%s of %s", op, strings.Join(sources, ", "))
	}
	return s.put(ctx, target, refs, nil, opts)
}

// Append adds refs to the end of an existing buffer, skipping ones it
// already holds. Owner, description, creation time and expiry are kept.
// The saved criteria are dropped since the buffer no longer matches them.
func (s *BufferService) Append(ctx context.Context, name string, refs []domain.EntityRef) (domain.BufferHandle, error) {
	if err := validateRefs(refs); err != nil {
		return domain.BufferHandle{}, err
	}
	buf, err := s.Load(ctx, name)
	if err != nil {
		return domain.BufferHandle{}, err
	}

	before := len(buf.Refs)
	buf.Refs = dedupeRefs(slices.Concat(buf.Refs, refs))
	if len(buf.Refs) > before {
		buf.Criteria = nil
	}
	if err := s.store.Put(ctx, buf); err != nil {
		return domain.BufferHandle{}, fmt.Errorf("append to buffer %s: %w", name, err)
	}
	logger.Info("Appended %d references to buffer %q", len(buf.Refs)-before, name)
	return domain.BufferHandle{Name: buf.Name, Count: len(buf.Refs), ExpiresAt: buf.ExpiresAt}, nil
}

// ToCollection writes a collection entity whose meta_info lists the
// buffer's references in order. The buffer itself is left in place.
func (s *BufferService) ToCollection(
	ctx context.Context, name, collection, description string,
) (domain.Row, error) {
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return domain.Row{}, fmt.Errorf("%w: collection name is required", domain.ErrInvalidInput)
	}
	if s.writer == nil {
		return domain.Row{}, fmt.Errorf("%w: entity store is read-only", domain.ErrInvalidInput)
	}
	buf, err := s.Load(ctx, name)
	if err != nil {
		return domain.Row{}, err
	}

	members := make([]string, len(buf.Refs))
	for i, r := range buf.Refs {
		members[i] = r.String()
	}
	meta := map[string]any{"members": members, "source_buffer": buf.Name}
	if description != "" {
		meta["description"] = description
	}
	row := domain.Row{
		Type:      domain.EntityCollection,
		ID:        uuid.NewSHA1(collectionNamespace, []byte(collection)).String(),
		CreatedAt: s.now().UTC(),
		Columns:   map[string]string{"name": collection},
		MetaInfo:  meta,
	}
	if err := s.writer.PutEntity(ctx, row); err != nil {
		return domain.Row{}, fmt.Errorf("save collection %s: %w", collection, err)
	}
	logger.Info("Saved buffer %q as collection %q (%d members)", name, collection, len(members))
	return row, nil
}

// filterRefs keeps refs of base that are in every other set (keep=true) or
// in none of them (keep=false).
func filterRefs(base []domain.EntityRef, others [][]domain.EntityRef, keep bool) []domain.EntityRef {
	members := make([]map[domain.EntityRef]bool, len(others))
	for i, set := range others {
		members[i] = make(map[domain.EntityRef]bool, len(set))
		for _, r := range set {
			members[i][r] = true
		}
	}
	out := make([]domain.EntityRef, 0, len(base))
	for _, r := range base {
		inAll, inAny := true, false
		for _, m := range members {
			if m[r] {
				inAny = true
			} else {
				inAll = false
			}
		}
		if (keep && inAll) || (!keep && !inAny) {
			out = append(out, r)
		}
	}
	return out
}

// Prune removes every expired buffer.
func (s *BufferService) Prune(ctx context.Context) (int, error) {
	all, err := s.store.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list buffers: %w", err)
	}
	now := s.now()
	removed := 0
	for _, b := range all {
		if !b.Expired(now) {
			continue
		}
		ok, err := s.store.DeleteExpired(ctx, b.Name, now)
		if err != nil {
			return removed, fmt.Errorf("prune buffer %s: %w", b.Name, err)
		}
		if ok {
			removed++
		}
	}
	logger.Info("Pruned %d expired buffers", removed)
	return removed, nil
}
