// Package memory is a process-local SessionStore with idle expiry.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-mock-interview/internal/domain"
)

type entry struct {
	sess    domain.InterviewSession
	touched time.Time
}

// Store keeps sessions in a map. Every read and write hands out deep copies.
type Store struct {
	mu  sync.RWMutex
	m   map[string]entry
	ttl time.Duration
	now func() time.Time
}

// New creates a Store whose sessions expire after ttl without writes; ttl <= 0 disables expiry.
func New(ttl time.Duration) *Store {
	return &Store{m: make(map[string]entry), ttl: ttl, now: time.Now}
}

func (s *Store) expired(e entry, now time.Time) bool {
	return s.ttl > 0 && now.Sub(e.touched) > s.ttl
}

// Create implements domain.SessionStore.
func (s *Store) Create(_ context.Context, sess domain.InterviewSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.m[sess.ID]; ok && !s.expired(e, now) {
		return fmt.Errorf("op=memory.Create: %w: session %s exists", domain.ErrConflict, sess.ID)
	}
	s.m[sess.ID] = entry{sess: sess.Clone(), touched: now}
	return nil
}

// Get implements domain.SessionStore.
func (s *Store) Get(_ context.Context, id string) (domain.InterviewSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.m[id]
	if !ok || s.expired(e, s.now()) {
		return domain.InterviewSession{}, fmt.Errorf("op=memory.Get: %w", domain.ErrNotFound)
	}
	return e.sess.Clone(), nil
}

// Save implements domain.SessionStore. Saving refreshes expiry.
func (s *Store) Save(_ context.Context, sess domain.InterviewSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	e, ok := s.m[sess.ID]
	if !ok || s.expired(e, now) {
		return fmt.Errorf("op=memory.Save: %w", domain.ErrNotFound)
	}
	if e.sess.Version != sess.Version {
		return fmt.Errorf("op=memory.Save: %w: stale version %d, stored %d", domain.ErrConflict, sess.Version, e.sess.Version)
	}
	stored := sess.Clone()
	stored.Version++
	s.m[sess.ID] = entry{sess: stored, touched: now}
	return nil
}

// Delete implements domain.SessionStore.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[id]; !ok {
		return fmt.Errorf("op=memory.Delete: %w", domain.ErrNotFound)
	}
	delete(s.m, id)
	return nil
}

// Len returns the number of stored sessions, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Sweep drops expired sessions and returns how many were removed.
func (s *Store) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, e := range s.m {
		if s.expired(e, now) {
			delete(s.m, id)
			n++
		}
	}
	return n
}

// RunJanitor sweeps on every tick until ctx is done.
func (s *Store) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("session janitor stopping")
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				slog.Info("expired sessions swept", slog.Int("count", n))
			}
		}
	}
}
