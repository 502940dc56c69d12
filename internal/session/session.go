// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/ephemeral/internal/extract"
	"github.com/jeranaias/ephemeral/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrTurnInFlight is returned when a new turn is started while an assistant
// response is still streaming for the same session.
var ErrTurnInFlight = errors.New("an assistant response is already in progress")

// ErrNoTurnInFlight is returned by delta and finalize operations when no
// assistant turn has been started.
var ErrNoTurnInFlight = errors.New("no assistant response is in progress")

// =============================================================================
// SESSION
// =============================================================================

// Session is one visitor's in-memory conversation state. All methods are
// safe for concurrent use.
//
// An in-flight assistant message is held on the session, not appended to the
// conversation, until it is finalized. Aborting a turn therefore leaves the
// conversation exactly as it was before the stream began.
type Session struct {
	mu sync.Mutex

	id           string
	createdAt    time.Time
	lastActivity time.Time

	conv      *model.Conversation
	streaming *model.Message

	// cancelStream interrupts an in-flight model stream, set for the
	// duration of a turn.
	cancelStream context.CancelFunc

	// Per-session caches. Both die with the session.
	parseCache  *extract.ParseCache
	exportCache *ResultCache
}

// New creates a session with a fresh conversation and caches.
func New(parseCacheTTL time.Duration) *Session {
	now := time.Now()
	return &Session{
		id:           uuid.New().String(),
		createdAt:    now,
		lastActivity: now,
		conv:         model.NewConversation(),
		parseCache:   extract.NewParseCache(parseCacheTTL),
		exportCache:  NewResultCache(),
	}
}

// ID returns the opaque session identifier.
func (s *Session) ID() string {
	return s.id
}

// ParseCache returns the session's document extraction cache.
func (s *Session) ParseCache() *extract.ParseCache {
	return s.parseCache
}

// ExportCache returns the session's rendered-transcript cache.
func (s *Session) ExportCache() *ResultCache {
	return s.exportCache
}

// Touch records activity, deferring idle eviction.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// IdleSince returns the time of the last recorded activity.
func (s *Session) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// =============================================================================
// TURN LIFECYCLE
// =============================================================================

// AppendUserTurn adds a completed user message to the conversation.
func (s *Session) AppendUserTurn(msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streaming != nil {
		return ErrTurnInFlight
	}
	s.conv.AddMessage(msg)
	s.lastActivity = time.Now()
	return nil
}

// BeginAssistantTurn starts an assistant response. The returned message
// accumulates deltas but is NOT part of the conversation until
// FinalizeAssistantTurn. The cancel function interrupts the upstream stream.
func (s *Session) BeginAssistantTurn(cancel context.CancelFunc) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streaming != nil {
		return nil, ErrTurnInFlight
	}
	s.streaming = model.NewAssistantMessage()
	s.cancelStream = cancel
	s.lastActivity = time.Now()
	return s.streaming, nil
}

// AppendAssistantDelta commits one streamed fragment to the in-flight
// assistant message.
func (s *Session) AppendAssistantDelta(delta string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streaming == nil {
		return ErrNoTurnInFlight
	}
	s.streaming.AppendDelta(delta)
	s.lastActivity = time.Now()
	return nil
}

// FinalizeAssistantTurn seals the in-flight message and appends it to the
// conversation. Returns the finalized message.
func (s *Session) FinalizeAssistantTurn() (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streaming == nil {
		return nil, ErrNoTurnInFlight
	}
	msg := s.streaming
	msg.FinalizeStream()
	s.conv.AddMessage(msg)
	s.streaming = nil
	s.cancelStream = nil
	s.lastActivity = time.Now()
	return msg, nil
}

// AbortAssistantTurn discards the in-flight assistant message, if any. The
// conversation is left exactly as it was before the turn began. Safe to call
// when no turn is in flight.
func (s *Session) AbortAssistantTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelStream != nil {
		s.cancelStream()
	}
	s.streaming = nil
	s.cancelStream = nil
	s.lastActivity = time.Now()
}

// Streaming reports whether an assistant turn is in flight, and the partial
// message if so.
func (s *Session) Streaming() (*model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming, s.streaming != nil
}

// =============================================================================
// CONVERSATION ACCESS
// =============================================================================

// Snapshot returns a copy of the conversation's message slice. Messages are
// shared pointers; callers read, they do not mutate.
func (s *Session) Snapshot() []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Message, len(s.conv.Messages))
	copy(out, s.conv.Messages)
	return out
}

// Signature returns the conversation's change signature for cache
// invalidation.
func (s *Session) Signature() model.Signature {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Signature()
}

// Len returns the number of messages in the conversation.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Len()
}

// Clear synchronously destroys all conversation state: any in-flight stream
// is cancelled, the message history is dropped, and both caches are emptied.
// After Clear returns, nothing from the prior conversation is reachable.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelStream != nil {
		s.cancelStream()
	}
	s.streaming = nil
	s.cancelStream = nil
	s.conv.Clear()
	s.parseCache.Clear()
	s.exportCache.Clear()
	s.lastActivity = time.Now()
}
