// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"log"
	"sync"
	"time"
)

// =============================================================================
// SESSION STORE
// =============================================================================

// Store holds live sessions keyed by ID and evicts those idle past the
// configured timeout. Eviction clears the session first, so evicted
// conversations are destroyed, not merely unreferenced.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	idleTimeout   time.Duration
	parseCacheTTL time.Duration

	stopSweep chan struct{}
	stopOnce  sync.Once
}

// StoreConfig configures the session store.
type StoreConfig struct {
	// IdleTimeout evicts sessions with no activity for this long
	// (default: 30 minutes)
	IdleTimeout time.Duration

	// ParseCacheTTL is passed to each new session's extraction cache
	// (default: 10 minutes)
	ParseCacheTTL time.Duration

	// SweepInterval is how often idle sessions are checked
	// (default: 1 minute)
	SweepInterval time.Duration
}

// NewStore creates a store and starts its eviction sweep.
func NewStore(cfg StoreConfig) *Store {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.ParseCacheTTL == 0 {
		cfg.ParseCacheTTL = 10 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}

	s := &Store{
		sessions:      make(map[string]*Session),
		idleTimeout:   cfg.IdleTimeout,
		parseCacheTTL: cfg.ParseCacheTTL,
		stopSweep:     make(chan struct{}),
	}
	go s.sweep(cfg.SweepInterval)
	return s
}

// Get returns the session for id, or nil if unknown or evicted.
func (s *Store) Get(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	return sess
}

// Create makes a new session and registers it.
func (s *Store) Create() *Session {
	sess := New(s.parseCacheTTL)

	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()

	return sess
}

// GetOrCreate returns the session for id if it exists, otherwise a new one.
func (s *Store) GetOrCreate(id string) *Session {
	if id != "" {
		if sess := s.Get(id); sess != nil {
			sess.Touch()
			return sess
		}
	}
	return s.Create()
}

// Remove clears and drops a session immediately.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		sess.Clear()
	}
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close stops the eviction sweep and destroys every session.
func (s *Store) Close() {
	s.stopOnce.Do(func() {
		close(s.stopSweep)
	})

	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Clear()
	}
}

// sweep periodically evicts idle sessions.
func (s *Store) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			s.evictIdle()
		}
	}
}

// evictIdle clears and removes sessions idle past the timeout.
func (s *Store) evictIdle() {
	cutoff := time.Now().Add(-s.idleTimeout)

	s.mu.Lock()
	var expired []*Session
	for id, sess := range s.sessions {
		if sess.IdleSince().Before(cutoff) {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		sess.Clear()
		log.Printf("SESSION_EVICTED | idle_timeout=%s", s.idleTimeout)
	}
}
