package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// UserStore manages user accounts.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]*User, error)
}

// InMemoryUsers is a UserStore for tests and database-less runs.
type InMemoryUsers struct {
	mu    sync.RWMutex
	byID  map[string]*User
	order []string
}

// NewInMemoryUsers returns an empty store.
func NewInMemoryUsers() *InMemoryUsers {
	return &InMemoryUsers{byID: make(map[string]*User)}
}

func (s *InMemoryUsers) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if strings.EqualFold(existing.Username, u.Username) || strings.EqualFold(existing.Email, u.Email) {
			return ErrAlreadyExists
		}
	}
	if _, ok := s.byID[u.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *u
	s.byID[u.ID] = &cp
	s.order = append(s.order, u.ID)
	return nil
}

func (s *InMemoryUsers) Find(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *InMemoryUsers) FindByUsername(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.byID {
		if strings.EqualFold(u.Username, username) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryUsers) List(_ context.Context) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*User, 0, len(s.order))
	for _, id := range s.order {
		cp := *s.byID[id]
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// SetActive flips the active flag; used by tests and admin tooling.
func (s *InMemoryUsers) SetActive(id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.Active = active
	return nil
}
