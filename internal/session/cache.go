// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"sync"

	"github.com/jeranaias/ephemeral/internal/model"
)

// =============================================================================
// RESULT CACHE
// =============================================================================

// ResultCache memoizes rendered transcripts per output format, invalidated
// by the conversation signature. Rendering a long transcript on every UI
// refresh is wasted work when nothing changed; a signature mismatch (new
// message, or the last message grew during streaming) recomputes.
type ResultCache struct {
	mu      sync.Mutex
	entries map[string]resultEntry
}

type resultEntry struct {
	sig   model.Signature
	value string
}

// NewResultCache creates an empty result cache.
func NewResultCache() *ResultCache {
	return &ResultCache{entries: make(map[string]resultEntry)}
}

// GetOrCompute returns the cached value for the format if the signature
// still matches, otherwise calls compute, stores the result, and returns it.
func (rc *ResultCache) GetOrCompute(format string, sig model.Signature, compute func() string) string {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if entry, ok := rc.entries[format]; ok && entry.sig == sig {
		return entry.value
	}
	value := compute()
	rc.entries[format] = resultEntry{sig: sig, value: value}
	return value
}

// Clear drops all cached renders.
func (rc *ResultCache) Clear() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.entries = make(map[string]resultEntry)
}
