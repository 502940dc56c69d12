// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/jeranaias/ephemeral/internal/model"
	"github.com/jeranaias/ephemeral/internal/sanitize"
)

// ============================================================================
// SSE WRITER
// ============================================================================

// sseWriter emits chat pipeline events as Server-Sent Events. Events are
// flushed individually so deltas reach the browser as they arrive.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter commits the SSE headers and returns the event sink. It fails
// when the underlying writer cannot flush, since a buffered stream would
// defeat incremental rendering.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: w, flusher: flusher}, nil
}

// emit writes one named event with a JSON payload and flushes it.
func (s *sseWriter) emit(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data)
	s.flusher.Flush()
}

// Warning reports a non-fatal attachment problem.
func (s *sseWriter) Warning(text string) {
	s.emit("warning", map[string]string{"text": text})
}

// Delta streams one increment of assistant text.
func (s *sseWriter) Delta(text string) {
	s.emit("delta", map[string]string{"text": text})
}

// Done marks the turn complete with the finalized assistant message.
func (s *sseWriter) Done(msg *model.Message) {
	s.emit("done", map[string]string{"text": msg.Text()})
}

// Error reports a turn-ending failure. The text is already user-safe.
func (s *sseWriter) Error(userMessage string) {
	s.emit("error", map[string]string{"text": userMessage})
}

// isSanitized reports whether the pipeline already replaced err with a
// user-facing message (and emitted it over the stream).
func isSanitized(err error) (*sanitize.UserFacingError, bool) {
	return sanitize.IsUserFacing(err)
}
