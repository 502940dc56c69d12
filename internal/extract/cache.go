// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// =============================================================================
// PARSE CACHE
// =============================================================================

// ParseCache memoizes extraction results for a single session, keyed by the
// SHA-256 of the raw file bytes. Re-attaching the same document in the same
// session skips the round-trip to the extraction service. Entries live only
// in process memory and die with the session.
type ParseCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]parseEntry
}

type parseEntry struct {
	result  *Result
	created time.Time
}

// NewParseCache creates a parse cache whose entries expire after ttl.
func NewParseCache(ttl time.Duration) *ParseCache {
	return &ParseCache{
		ttl:     ttl,
		entries: make(map[string]parseEntry),
	}
}

// Key computes the cache key for a document's raw bytes.
func Key(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached result for a key, if present and unexpired.
func (pc *ParseCache) Get(key string) (*Result, bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	entry, ok := pc.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(entry.created) > pc.ttl {
		delete(pc.entries, key)
		return nil, false
	}
	return entry.result, true
}

// Put stores a result. Empty extractions are not cached: a transient parser
// hiccup should not pin an empty result for the TTL.
func (pc *ParseCache) Put(key string, result *Result) {
	if result == nil || result.Text == "" {
		return
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()

	pc.prune()
	pc.entries[key] = parseEntry{result: result, created: time.Now()}
}

// Len returns the number of live entries.
func (pc *ParseCache) Len() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	pc.prune()
	return len(pc.entries)
}

// Clear drops every entry.
func (pc *ParseCache) Clear() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.entries = make(map[string]parseEntry)
}

// prune removes expired entries. Caller must hold pc.mu.
func (pc *ParseCache) prune() {
	now := time.Now()
	for key, entry := range pc.entries {
		if now.Sub(entry.created) > pc.ttl {
			delete(pc.entries, key)
		}
	}
}
