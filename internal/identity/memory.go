package identity

import (
	"context"
	"sync"
)

// InMemoryStore implements Store for degraded mode, mirroring the shape of
// the Postgres schema. Session-scoped only: nothing survives a restart.
type InMemoryStore struct {
	mu         sync.RWMutex
	users      map[string]*User     // id -> user
	byPhone    map[string]*User     // phone -> user
	businesses map[string]*Business // id -> business
	customers  map[string]*Customer // id -> customer
}

// NewInMemoryStore creates an empty identity store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:      make(map[string]*User),
		byPhone:    make(map[string]*User),
		businesses: make(map[string]*Business),
		customers:  make(map[string]*Customer),
	}
}

var _ Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) Users(ctx context.Context) UserStore         { return (*memUsers)(s) }
func (s *InMemoryStore) Businesses(ctx context.Context) BusinessStore { return (*memBusinesses)(s) }
func (s *InMemoryStore) Customers(ctx context.Context) CustomerStore { return (*memCustomers)(s) }

type memUsers InMemoryStore

func (s *memUsers) Create(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byPhone[u.PhoneNumber]; ok {
		return ErrDuplicatePhone
	}
	cp := *u
	s.users[u.ID] = &cp
	s.byPhone[u.PhoneNumber] = &cp
	return nil
}

func (s *memUsers) Find(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memUsers) FindByPhone(ctx context.Context, phone string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byPhone[phone]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

type memBusinesses InMemoryStore

func (s *memBusinesses) Create(ctx context.Context, b *Business) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.businesses[b.ID] = &cp
	return nil
}

func (s *memBusinesses) Find(ctx context.Context, id string) (*Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.businesses[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *memBusinesses) FindByUser(ctx context.Context, userID string) (*Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.businesses {
		if b.UserID == userID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memBusinesses) UpdateProfile(ctx context.Context, id, name, description, pin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.businesses[id]
	if !ok {
		return ErrNotFound
	}
	b.Name = name
	b.Description = description
	b.AccessPIN = pin
	return nil
}

type memCustomers InMemoryStore

func (s *memCustomers) Create(ctx context.Context, c *Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.customers[c.ID] = &cp
	return nil
}

func (s *memCustomers) Find(ctx context.Context, id string) (*Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memCustomers) FindByUser(ctx context.Context, userID string) (*Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.customers {
		if c.UserID == userID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}
