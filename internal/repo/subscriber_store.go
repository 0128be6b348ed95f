// Package repo implements the persistence layer for the fallback subscriber
// store. This file defines the store contract and its two implementations:
// a GORM/SQLite store that survives instance recycling, and an in-memory
// store used when no database path is configured (and in tests).
package repo

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hackmum/newsletter-service/internal/domain"
)

// ErrDuplicate indicates a subscriber row already exists for the email.
var ErrDuplicate = errors.New("duplicate subscriber")

// SubscriberStore is the contract for fallback subscriber storage. The
// intake pipeline owns a single store instance for the process lifetime and
// writes to it when the upstream API is unconfigured or unreachable.
type SubscriberStore interface {
	// Add inserts a subscriber, returning ErrDuplicate when the normalized
	// email is already present.
	Add(ctx context.Context, sub *domain.Subscriber) error

	// Exists reports whether a subscriber with the normalized email is
	// present.
	Exists(ctx context.Context, email string) (bool, error)

	// Count returns the number of stored subscribers.
	Count(ctx context.Context) (int64, error)
}

//
// GORM-backed store
//

// GormStore persists fallback subscribers in SQLite via GORM.
type GormStore struct {
	DB *gorm.DB
}

// NewGormStore wraps a GORM handle in a SubscriberStore.
func NewGormStore(db *gorm.DB) *GormStore { return &GormStore{DB: db} }

// Add inserts a subscriber row, assigning a UUID when the caller left the ID
// empty. Unique-index violations map to ErrDuplicate.
func (s *GormStore) Add(ctx context.Context, sub *domain.Subscriber) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if err := s.DB.WithContext(ctx).Create(sub).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// Exists reports membership by normalized email.
func (s *GormStore) Exists(ctx context.Context, email string) (bool, error) {
	var n int64
	err := s.DB.WithContext(ctx).
		Model(&domain.Subscriber{}).
		Where("email = ?", email).
		Count(&n).Error
	return n > 0, err
}

// Count returns the number of stored subscribers.
func (s *GormStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&domain.Subscriber{}).Count(&n).Error
	return n, err
}

//
// In-memory store
//

// MemoryStore keeps fallback subscribers in a process-local map. Contents
// vanish on restart; acceptable for dev and for the best-effort semantics
// of a short-lived instance.
type MemoryStore struct {
	mu   sync.Mutex
	subs map[string]*domain.Subscriber
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*domain.Subscriber)}
}

// Add inserts a subscriber keyed by normalized email.
func (s *MemoryStore) Add(_ context.Context, sub *domain.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.Email]; ok {
		return ErrDuplicate
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	cp := *sub
	s.subs[sub.Email] = &cp
	return nil
}

// Exists reports membership by normalized email.
func (s *MemoryStore) Exists(_ context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[email]
	return ok, nil
}

// Count returns the number of stored subscribers.
func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.subs)), nil
}
