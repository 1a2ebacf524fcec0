// Package memory implements the engine's outbound memory-store capability
// (§6): load/save/delete of a SessionContext by session key.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/first-fluke/cratos-sub006/pkg/models"
)

// ErrNotFound is returned by Load when no session exists for the key.
var ErrNotFound = errors.New("memory: session not found")

// Store is the engine's outbound memory capability. Load returning
// (nil, nil) for a missing session is deliberately disallowed — callers
// get ErrNotFound and build a fresh SessionContext themselves, per §6's
// "load(session_key) → SessionContext?" being an explicit optional, not
// a silent empty value.
type Store interface {
	Load(ctx context.Context, sessionKey string) (*models.SessionContext, error)
	Save(ctx context.Context, session *models.SessionContext) error
	Delete(ctx context.Context, sessionKey string) error
}

// MemoryStore is an in-process Store. Sessions never expire unless TTL is
// set, in which case a session not touched (loaded or saved) within TTL is
// evicted lazily on the next Load/Save/Delete that observes it stale —
// there is no background sweep goroutine here; internal/maintenance owns
// periodic sweeps for deployments that want one.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	ttl      time.Duration
	now      func() time.Time
}

type entry struct {
	session   *models.SessionContext
	lastTouch time.Time
}

// NewMemoryStore creates an in-process Store. ttl <= 0 disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*entry),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *MemoryStore) Load(ctx context.Context, sessionKey string) (*models.SessionContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[sessionKey]
	if !ok {
		return nil, ErrNotFound
	}
	if s.expired(e) {
		delete(s.sessions, sessionKey)
		return nil, ErrNotFound
	}
	e.lastTouch = s.now()
	return e.session.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, session *models.SessionContext) error {
	if session == nil || session.SessionKey == "" {
		return errors.New("memory: session is nil or missing session key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.SessionKey] = &entry{session: session.Clone(), lastTouch: s.now()}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, sessionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionKey)
	return nil
}

func (s *MemoryStore) expired(e *entry) bool {
	return s.ttl > 0 && s.now().Sub(e.lastTouch) > s.ttl
}

// Sweep removes every session whose last touch exceeds TTL and returns
// the count evicted. No-op when TTL is disabled. Intended to be called
// periodically by internal/maintenance.
func (s *MemoryStore) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for k, e := range s.sessions {
		if s.expired(e) {
			delete(s.sessions, k)
			evicted++
		}
	}
	return evicted
}
