package cases

import (
	"context"
	"sort"
	"sync"
	"time"

	"casedesk.org/internal/paging"
)

var _ Repository = (*InMemory)(nil)

// InMemory is a Repository guarded by a single mutex, which stands in for
// the row lock a database transaction would hold.
type InMemory struct {
	mu    sync.Mutex
	cases map[string]*Case
	now   func() time.Time
}

// NewInMemory returns an empty repository.
func NewInMemory() *InMemory {
	return &InMemory{cases: make(map[string]*Case), now: time.Now}
}

func (r *InMemory) Create(_ context.Context, c *Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cases[c.ID]; ok {
		return ErrConflict
	}
	r.cases[c.ID] = c.Clone()
	return nil
}

func (r *InMemory) Get(_ context.Context, id string) (*Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (r *InMemory) List(_ context.Context, scope Scope, f ListFilter, offset, limit int) ([]*Case, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*Case
	for _, c := range r.cases {
		if !scope.Matches(c) || !f.Matches(c) {
			continue
		}
		matched = append(matched, c)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	window := paging.Slice(matched, offset, limit)
	out := make([]*Case, 0, len(window))
	for _, c := range window {
		out = append(out, c.Clone())
	}
	return out, len(matched), nil
}

func (r *InMemory) Update(_ context.Context, id string, fn UpdateFunc) (*Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.ID = current.ID
	working.OwnerID = current.OwnerID
	working.CreatedAt = current.CreatedAt
	working.UpdatedAt = r.now().UTC()
	r.cases[id] = working
	return working.Clone(), nil
}
