// Package badger provides a result buffer store on a badger key-value directory.
//
// Each buffer is one JSON value under "buffer/<name>", so a save replaces the
// whole buffer in a single write. Entities are not stored here; use it beside
// the sqlite or postgres entity store.
package badger

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/custodia-labs/carchive/internal/core/domain"
	"github.com/custodia-labs/carchive/internal/core/ports/driven"
	"github.com/custodia-labs/carchive/internal/logger"
)

const keyPrefix = "buffer/"

// BufferStore implements driven.BufferStore over badger.
type BufferStore struct {
	db *badger.DB
}

var _ driven.BufferStore = (*BufferStore)(nil)

// NewBufferStore opens (or creates) the badger directory dir.
// An empty dir uses ~/.carchive/data/buffers.
func NewBufferStore(dir string) (*BufferStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dir = filepath.Join(home, ".carchive", "data", "buffers")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating buffer directory: %w", err)
	}

	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("opening badger: %w", err)
	}
	return &BufferStore{db: db}, nil
}

func key(name string) []byte {
	return []byte(keyPrefix + name)
}

// Put creates or replaces a buffer.
func (s *BufferStore) Put(_ context.Context, buf *domain.Buffer) error {
	data, err := json.Marshal(buf)
	if err != nil {
		return fmt.Errorf("encoding buffer: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(buf.Name), data)
	}); err != nil {
		return fmt.Errorf("saving buffer: %w", err)
	}
	return nil
}

// Get retrieves a buffer by name.
func (s *BufferStore) Get(_ context.Context, name string) (*domain.Buffer, error) {
	var buf *domain.Buffer
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		buf, err = getBuffer(txn, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Delete removes a buffer.
func (s *BufferStore) Delete(_ context.Context, name string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key(name)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrBufferNotFound
			}
			return fmt.Errorf("reading buffer: %w", err)
		}
		if err := txn.Delete(key(name)); err != nil {
			return fmt.Errorf("deleting buffer: %w", err)
		}
		return nil
	})
}

// DeleteExpired removes the buffer only if it has expired at now.
// A save that races with the delete wins; the buffer is then kept.
func (s *BufferStore) DeleteExpired(_ context.Context, name string, now time.Time) (bool, error) {
	deleted := false
	err := s.db.Update(func(txn *badger.Txn) error {
		buf, err := getBuffer(txn, name)
		if errors.Is(err, domain.ErrBufferNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !buf.Expired(now) {
			return nil
		}
		if err := txn.Delete(key(name)); err != nil {
			return fmt.Errorf("deleting buffer: %w", err)
		}
		deleted = true
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		logger.Debug("buffer %q rewritten during expiry, keeping it", name)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// List returns summaries of stored buffers, newest first.
func (s *BufferStore) List(_ context.Context, owner string) ([]domain.BufferSummary, error) {
	var out []domain.BufferSummary
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			buf, err := decodeItem(it.Item())
			if err != nil {
				return err
			}
			if owner != "" && buf.Owner != owner {
				continue
			}
			out = append(out, buf.Summary())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(out, func(a, b domain.BufferSummary) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out, nil
}

// Close closes the badger directory.
func (s *BufferStore) Close() error {
	return s.db.Close()
}

func getBuffer(txn *badger.Txn, name string) (*domain.Buffer, error) {
	item, err := txn.Get(key(name))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, domain.ErrBufferNotFound
		}
		return nil, fmt.Errorf("reading buffer: %w", err)
	}
	return decodeItem(item)
}

func decodeItem(item *badger.Item) (*domain.Buffer, error) {
	var buf domain.Buffer
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &buf)
	})
	if err != nil {
		return nil, fmt.Errorf("decoding buffer %s: %w", item.Key(), err)
	}
	if buf.Refs == nil {
		buf.Refs = []domain.EntityRef{}
	}
	return &buf, nil
}
