// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"

	"github.com/jeranaias/ephemeral/internal/llm"
	"github.com/jeranaias/ephemeral/internal/model"
	"github.com/jeranaias/ephemeral/internal/sanitize"
	"github.com/jeranaias/ephemeral/internal/session"
)

// =============================================================================
// TURN STATE
// =============================================================================

// State tracks one response turn through its lifecycle.
type State int

const (
	// StateIdle: no turn underway.
	StateIdle State = iota
	// StateSending: request issued, no chunk received yet.
	StateSending
	// StateStreaming: at least one chunk received.
	StateStreaming
	// StateFinalized: response complete and committed to the conversation.
	StateFinalized
	// StateErrored: turn failed; any partial response was discarded.
	StateErrored
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateFinalized:
		return "finalized"
	default:
		return "errored"
	}
}

// =============================================================================
// EVENT SINK
// =============================================================================

// Events receives turn progress for relay to the client. Calls arrive in
// order from a single goroutine; a Delta call is made only after the delta
// has been committed to the session.
type Events interface {
	// Warning reports a non-fatal attachment problem.
	Warning(text string)

	// Delta delivers one committed response fragment.
	Delta(text string)

	// Done signals a finalized response.
	Done(msg *model.Message)

	// Error delivers the sanitized, user-facing failure message.
	Error(userMessage string)
}

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator drives one streaming model response into a session. Each
// fragment is committed to the session before the next is consumed from the
// stream, so an interruption never loses acknowledged content ordering. On
// any failure the in-flight response is discarded whole.
type Coordinator struct {
	client *llm.Client
}

// NewCoordinator creates a coordinator for the given model client.
func NewCoordinator(client *llm.Client) *Coordinator {
	return &Coordinator{client: client}
}

// Stream requests a model response for the assembled messages and relays it
// into the session and the event sink. Blocks until the turn finalizes or
// fails. The returned state is the terminal state of this turn alone;
// concurrent sessions each run their own turn. The returned error, if any,
// is already sanitized for display.
func (c *Coordinator) Stream(ctx context.Context, sess *session.Session, messages []llm.Message, events Events) (State, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if _, err := sess.BeginAssistantTurn(cancel); err != nil {
		return StateIdle, err
	}

	// The stream reader invokes the callback from this goroutine, so the
	// turn state needs no locking.
	state := StateSending

	streamErr := c.client.ChatStream(streamCtx, messages, func(chunk llm.StreamChunk) {
		if chunk.Content == "" {
			return
		}
		state = StateStreaming

		// Commit first, then emit. The stream reader will not hand over
		// the next chunk until this callback returns.
		if err := sess.AppendAssistantDelta(chunk.Content); err != nil {
			// Session was cleared mid-stream; the context cancel is
			// already propagating.
			return
		}
		events.Delta(chunk.Content)
	})

	if streamErr != nil {
		sess.AbortAssistantTurn()
		state = StateErrored
		userErr := sanitize.External(sanitize.ServiceLanguageModel, streamErr)
		events.Error(userErr.Error())
		return state, userErr
	}

	msg, err := sess.FinalizeAssistantTurn()
	if err != nil {
		// Clear raced the finalize; the conversation is already empty and
		// there is nothing to report.
		return StateErrored, err
	}

	events.Done(msg)
	return StateFinalized, nil
}
