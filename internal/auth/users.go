package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"marketsim/internal/storage"
	"marketsim/pkg/types"
)

var (
	ErrUserExists   = errors.New("identifier already registered")
	ErrUserNotFound = errors.New("user not found")
)

// UserStore keeps accounts in the document store with in-memory lookup
// indexes. Email and username uniqueness are each enforced within their own
// category, so "alice" the username and "alice" in an email never collide.
type UserStore struct {
	docs storage.DocStore

	mu         sync.RWMutex
	byID       map[string]types.User
	byEmail    map[string]string // lowercased email -> user id
	byUsername map[string]string // lowercased username -> user id
}

// NewUserStore loads all existing accounts from docs and builds the indexes.
func NewUserStore(ctx context.Context, docs storage.DocStore) (*UserStore, error) {
	s := &UserStore{
		docs:       docs,
		byID:       make(map[string]types.User),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
	}

	keys, err := docs.Keys(ctx, storage.CollectionUsers)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	for _, key := range keys {
		doc, err := docs.Get(ctx, storage.CollectionUsers, key)
		if err != nil {
			return nil, fmt.Errorf("load user %s: %w", key, err)
		}
		var u types.User
		if err := json.Unmarshal(doc, &u); err != nil {
			return nil, fmt.Errorf("decode user %s: %w", key, err)
		}
		s.indexLocked(u)
	}
	return s, nil
}

func (s *UserStore) indexLocked(u types.User) {
	s.byID[u.UserID] = u
	if u.Email != "" {
		s.byEmail[strings.ToLower(u.Email)] = u.UserID
	}
	if u.Username != "" {
		s.byUsername[strings.ToLower(u.Username)] = u.UserID
	}
}

// Create persists a new account. Fails with ErrUserExists when the email or
// username is already taken in its category.
func (s *UserStore) Create(ctx context.Context, u types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.Email != "" {
		if _, taken := s.byEmail[strings.ToLower(u.Email)]; taken {
			return ErrUserExists
		}
	}
	if u.Username != "" {
		if _, taken := s.byUsername[strings.ToLower(u.Username)]; taken {
			return ErrUserExists
		}
	}

	if err := s.writeLocked(ctx, u); err != nil {
		return err
	}
	s.indexLocked(u)
	return nil
}

// Update overwrites an existing account record.
func (s *UserStore) Update(ctx context.Context, u types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[u.UserID]; !ok {
		return ErrUserNotFound
	}
	if err := s.writeLocked(ctx, u); err != nil {
		return err
	}
	s.indexLocked(u)
	return nil
}

func (s *UserStore) writeLocked(ctx context.Context, u types.User) error {
	doc, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	if err := s.docs.Put(ctx, storage.CollectionUsers, u.UserID, doc); err != nil {
		return fmt.Errorf("write user: %w", err)
	}
	return nil
}

// ByID returns the account with the given id.
func (s *UserStore) ByID(id string) (types.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	return u, ok
}

// ByIdentifier resolves a login identifier, trying email first and falling
// back to username. Matching is case-insensitive.
func (s *UserStore) ByIdentifier(identifier string) (types.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := strings.ToLower(strings.TrimSpace(identifier))
	if id, ok := s.byEmail[key]; ok {
		return s.byID[id], true
	}
	if id, ok := s.byUsername[key]; ok {
		return s.byID[id], true
	}
	return types.User{}, false
}

// Len returns the number of stored accounts.
func (s *UserStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
