package memory

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/custodia-labs/carchive/internal/core/domain"
	"github.com/custodia-labs/carchive/internal/core/ports/driven"
)

// Ensure BufferStore implements the interface.
var _ driven.BufferStore = (*BufferStore)(nil)

// BufferStore is an in-memory implementation of driven.BufferStore for testing.
// Buffers are stored as encoded snapshots so callers never share state with the store.
type BufferStore struct {
	mu      sync.RWMutex
	buffers map[string][]byte
}

// NewBufferStore creates a new in-memory buffer store.
func NewBufferStore() *BufferStore {
	return &BufferStore{
		buffers: make(map[string][]byte),
	}
}

// Put creates or replaces a buffer.
func (s *BufferStore) Put(_ context.Context, buf *domain.Buffer) error {
	data, err := json.Marshal(buf)
	if err != nil {
		return fmt.Errorf("encoding buffer: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers[buf.Name] = data
	return nil
}

// Get retrieves a buffer by name.
func (s *BufferStore) Get(_ context.Context, name string) (*domain.Buffer, error) {
	s.mu.RLock()
	data, ok := s.buffers[name]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrBufferNotFound
	}
	return decodeBuffer(data)
}

// Delete removes a buffer.
func (s *BufferStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buffers[name]; !ok {
		return domain.ErrBufferNotFound
	}
	delete(s.buffers, name)
	return nil
}

// DeleteExpired removes the buffer only if it has expired at now.
func (s *BufferStore) DeleteExpired(_ context.Context, name string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.buffers[name]
	if !ok {
		return false, nil
	}
	buf, err := decodeBuffer(data)
	if err != nil {
		return false, err
	}
	if !buf.Expired(now) {
		return false, nil
	}
	delete(s.buffers, name)
	return true, nil
}

// List returns summaries of stored buffers, newest first.
func (s *BufferStore) List(_ context.Context, owner string) ([]domain.BufferSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.BufferSummary, 0, len(s.buffers))
	for _, data := range s.buffers {
		buf, err := decodeBuffer(data)
		if err != nil {
			return nil, err
		}
		if owner != "" && buf.Owner != owner {
			continue
		}
		out = append(out, buf.Summary())
	}
	slices.SortFunc(out, func(a, b domain.BufferSummary) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out, nil
}

// Close releases resources.
func (s *BufferStore) Close() error {
	return nil
}

func decodeBuffer(data []byte) (*domain.Buffer, error) {
	var buf domain.Buffer
	if err := json.Unmarshal(data, &buf); err != nil {
		return nil, fmt.Errorf("decoding buffer: %w", err)
	}
	return &buf, nil
}
