// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Content is the ordered list of content parts.
	Parts []ContentPart `json:"parts"`

	// Warnings are the user-visible attachment warnings produced while the
	// turn was processed (rejected uploads, failed extractions, truncation).
	// They annotate the message; they are never sent to the model.
	Warnings []string `json:"warnings,omitempty"`

	// Streaming state. While an assistant message is streaming, content
	// accumulates in streamContent and is merged into Parts on finalize.
	// PERFORMANCE: strings.Builder avoids quadratic allocations
	IsStreaming   bool            `json:"-"`
	streamContent strings.Builder `json:"-"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, parts ...ContentPart) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Timestamp: time.Now(),
		Parts:     parts,
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(parts ...ContentPart) *Message {
	return NewMessage(RoleUser, parts...)
}

// NewTextMessage creates a new message containing a single text part.
func NewTextMessage(role Role, text string) *Message {
	return NewMessage(role, TextPart(text))
}

// NewAssistantMessage creates a new streaming assistant message.
func NewAssistantMessage() *Message {
	return &Message{
		ID:          uuid.NewString(),
		Role:        RoleAssistant,
		Timestamp:   time.Now(),
		IsStreaming: true,
	}
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// AppendDelta appends a streamed content delta to a streaming message.
func (m *Message) AppendDelta(delta string) {
	if m.IsStreaming {
		m.streamContent.WriteString(delta)
	}
}

// FinalizeStream completes streaming and merges the accumulated content
// into the message's parts.
func (m *Message) FinalizeStream() {
	if !m.IsStreaming {
		return
	}
	m.Parts = []ContentPart{TextPart(m.streamContent.String())}
	m.streamContent.Reset()
	m.IsStreaming = false
}

// Text returns the plain-text content of the message: all text parts
// joined, or the accumulated stream content while streaming.
func (m *Message) Text() string {
	if m.IsStreaming {
		return m.streamContent.String()
	}
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// ContentLen returns the length of the message content in bytes. For
// streaming messages it grows with each delta, which makes it usable as a
// cheap change detector.
func (m *Message) ContentLen() int {
	if m.IsStreaming {
		return m.streamContent.Len()
	}
	n := 0
	for _, p := range m.Parts {
		n += len(p.Text) + len(p.DocumentText) + len(p.Base64Data)
	}
	return n
}

// IsEmpty returns true if the message has no content.
func (m *Message) IsEmpty() bool {
	return len(m.Parts) == 0 && m.streamContent.Len() == 0
}
