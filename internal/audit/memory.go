package audit

import (
	"context"
	"strings"
	"sync"

	"casedesk.org/internal/paging"
)

// InMemory is an append-only Store for tests and database-less runs.
type InMemory struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewInMemory returns an empty store.
func NewInMemory() *InMemory { return &InMemory{} }

func (s *InMemory) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// List returns matching entries newest first (reverse append order) along with the total match count.
func (s *InMemory) List(_ context.Context, f Filter, offset, limit int) ([]Entry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(f.Action))
	var matched []Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if f.ActorID != "" && e.ActorID != f.ActorID {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(e.Action), needle) {
			continue
		}
		if f.Result != "" && e.Result != f.Result {
			continue
		}
		matched = append(matched, e)
	}
	window := paging.Slice(matched, offset, limit)
	out := make([]Entry, len(window))
	copy(out, window)
	return out, len(matched), nil
}

// Entries returns a copy of everything appended so far, oldest first.
func (s *InMemory) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
