// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"
)

// MaxMessages is the maximum number of messages to keep in conversation
// history. When exceeded, the oldest non-system messages are pruned to
// prevent unbounded memory growth within a long-lived session.
const MaxMessages = 1000

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds the ordered message history for one session.
//
// Messages are append-only: finalized messages are never edited in place.
// The only mutation beyond appending is the in-progress assistant message
// during streaming, which is owned by the session until finalized.
type Conversation struct {
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Messages  []*Message `json:"messages"`
}

// NewConversation creates a new empty conversation.
func NewConversation() *Conversation {
	now := time.Now()
	return &Conversation{
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]*Message, 0),
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// AddMessage appends a message to the conversation. A system message is
// placed first and replaces any existing system message, keeping the
// "system first, unique" invariant.
func (c *Conversation) AddMessage(msg *Message) {
	if msg.Role == RoleSystem {
		if len(c.Messages) > 0 && c.Messages[0].Role == RoleSystem {
			c.Messages[0] = msg
		} else {
			c.Messages = append([]*Message{msg}, c.Messages...)
		}
	} else {
		c.Messages = append(c.Messages, msg)
	}
	c.UpdatedAt = time.Now()
	c.pruneOldMessages()
}

// Len returns the number of messages in the conversation.
func (c *Conversation) Len() int {
	return len(c.Messages)
}

// Last returns the most recent message, or nil for an empty conversation.
func (c *Conversation) Last() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return c.Messages[len(c.Messages)-1]
}

// Clear drops every message. The backing array is released so the message
// data becomes unreachable immediately.
func (c *Conversation) Clear() {
	c.Messages = make([]*Message, 0)
	c.UpdatedAt = time.Now()
}

// pruneOldMessages enforces MaxMessages, preserving a leading system message.
func (c *Conversation) pruneOldMessages() {
	if len(c.Messages) <= MaxMessages {
		return
	}
	excess := len(c.Messages) - MaxMessages
	if c.Messages[0].Role == RoleSystem {
		c.Messages = append(c.Messages[:1], c.Messages[1+excess:]...)
	} else {
		c.Messages = c.Messages[excess:]
	}
}

// =============================================================================
// CHANGE SIGNATURE
// =============================================================================

// Signature is a cheap, deterministic fingerprint of conversation state.
// It deliberately avoids hashing message content: message count, the ID of
// the last message, and the byte length of its content are enough to detect
// appends and streaming growth in O(1).
type Signature struct {
	MessageCount int
	LastID       string
	LastLen      int
}

// Signature returns the current change signature.
func (c *Conversation) Signature() Signature {
	last := c.Last()
	if last == nil {
		return Signature{}
	}
	return Signature{
		MessageCount: len(c.Messages),
		LastID:       last.ID,
		LastLen:      last.ContentLen(),
	}
}
