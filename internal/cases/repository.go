package cases

import (
	"context"
	"strings"
)

// Scope is the visibility predicate computed for an actor. All means every
// case; otherwise cases owned by or assigned to ActorID.
type Scope struct {
	All     bool
	ActorID string
}

// Matches reports whether c falls inside the scope.
func (s Scope) Matches(c *Case) bool {
	if c == nil {
		return false
	}
	if s.All {
		return true
	}
	return c.OwnedBy(s.ActorID) || c.AssignedTo(s.ActorID)
}

// ListFilter narrows a scoped listing. Search matches title or description case-insensitively.
type ListFilter struct {
	Status          Status
	Priority        Priority
	Search          string
	IncludeInactive bool
}

// Matches applies the filter (not the scope) to c.
func (f ListFilter) Matches(c *Case) bool {
	if !f.IncludeInactive && !c.Active {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.Priority != "" && c.Priority != f.Priority {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		if !strings.Contains(strings.ToLower(c.Title), q) && !strings.Contains(strings.ToLower(c.Description), q) {
			return false
		}
	}
	return true
}

// UpdateFunc mutates the locked row in place. Returning an error aborts the
// transaction and leaves the row unchanged.
type UpdateFunc func(c *Case) error

// Repository persists cases.
type Repository interface {
	Create(ctx context.Context, c *Case) error
	// Get returns the row regardless of its active flag.
	Get(ctx context.Context, id string) (*Case, error)
	// List applies scope first, then filter, then the offset/limit window,
	// newest first. total counts the scoped and filtered set.
	List(ctx context.Context, scope Scope, f ListFilter, offset, limit int) (items []*Case, total int, err error)
	// Update loads id under a row lock, runs fn and persists the result in one transaction.
	Update(ctx context.Context, id string, fn UpdateFunc) (*Case, error)
}
