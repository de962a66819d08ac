package ledger

import (
	"context"
	"sync"
)

// MemoryStore keeps the chain in process memory. It is used by tests and by
// the daemon when storage.driver is "memory".
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Head implements Store.
func (s *MemoryStore) Head(ctx context.Context) (Head, error) {
	if err := ctx.Err(); err != nil {
		return Head{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Head{}, ErrStoreClosed
	}
	return s.headLocked(), nil
}

func (s *MemoryStore) headLocked() Head {
	if len(s.entries) == 0 {
		return EmptyHead()
	}
	last := s.entries[len(s.entries)-1]
	return Head{ID: last.ID, Hash: last.Hash, CreatedAt: last.CreatedAt}
}

// AppendIfHeadIs implements Store.
func (s *MemoryStore) AppendIfHeadIs(ctx context.Context, expectedID int64, expectedHash string, entry Entry) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	head := s.headLocked()
	if head.ID != expectedID || head.Hash != expectedHash {
		return 0, ErrHeadConflict
	}

	entry.ID = head.ID + 1
	s.entries = append(s.entries, entry)
	return entry.ID, nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if opts.Match(e) {
			out = append(out, e)
		}
	}
	return page(out, opts), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
