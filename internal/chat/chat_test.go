// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/ephemeral/internal/attachment"
	"github.com/jeranaias/ephemeral/internal/extract"
	"github.com/jeranaias/ephemeral/internal/imaging"
	"github.com/jeranaias/ephemeral/internal/llm"
	"github.com/jeranaias/ephemeral/internal/model"
	"github.com/jeranaias/ephemeral/internal/prompt"
	"github.com/jeranaias/ephemeral/internal/session"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

// recordingEvents captures emitted events in order.
type recordingEvents struct {
	mu       sync.Mutex
	warnings []string
	deltas   []string
	done     *model.Message
	errs     []string
}

func (e *recordingEvents) Warning(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.warnings = append(e.warnings, text)
}

func (e *recordingEvents) Delta(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deltas = append(e.deltas, text)
}

func (e *recordingEvents) Done(msg *model.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.done = msg
}

func (e *recordingEvents) Error(userMessage string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, userMessage)
}

// streamingLLM serves a fixed sequence of NDJSON chat chunks.
func streamingLLM(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		for _, line := range lines {
			w.Write([]byte(line + "\n"))
		}
	}))
}

func memAttachment(filename, mimeType string, data []byte) attachment.Attachment {
	return attachment.Attachment{
		Filename:     filename,
		DeclaredSize: int64(len(data)),
		MIMEType:     mimeType,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func testPipeline(llmURL, tikaURL, modelName string) (*Pipeline, *session.Session) {
	guard := attachment.NewGuard(1_000_000)
	extractor := extract.NewClientWithConfig(&extract.ClientConfig{BaseURL: tikaURL, Timeout: 2 * time.Second})
	normalizer := imaging.NewNormalizer(1568)
	assembler := prompt.NewAssembler(prompt.NewTemplate(""), prompt.AssemblerConfig{})
	client := llm.NewClientWithConfig(&llm.ClientConfig{BaseURL: llmURL, Model: modelName, Timeout: 2 * time.Second})

	return NewPipeline(guard, extractor, normalizer, assembler, client), session.New(time.Minute)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// =============================================================================
// COORDINATOR TESTS
// =============================================================================

func TestStreamHappyPath(t *testing.T) {
	server := streamingLLM(t, []string{
		`{"message":{"content":"Hel"},"done":false}`,
		`{"message":{"content":"lo!"},"done":false}`,
		`{"done":true,"done_reason":"stop"}`,
	})
	defer server.Close()

	pipe, sess := testPipeline(server.URL, "http://127.0.0.1:1", "plain")
	sess.AppendUserTurn(model.NewTextMessage(model.RoleUser, "hi"))

	events := &recordingEvents{}
	state, err := pipe.Coordinator().Stream(context.Background(), sess, nil, events)
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	if state != StateFinalized {
		t.Errorf("Expected StateFinalized, got %s", state)
	}
	if strings.Join(events.deltas, "") != "Hello!" {
		t.Errorf("Expected ordered deltas, got %v", events.deltas)
	}
	if events.done == nil || events.done.Text() != "Hello!" {
		t.Error("Expected finalized message in done event")
	}
	if sess.Len() != 2 {
		t.Errorf("Expected user + assistant messages, got %d", sess.Len())
	}
}

func TestStreamDeltaCommittedBeforeEmitted(t *testing.T) {
	server := streamingLLM(t, []string{
		`{"message":{"content":"ab"},"done":false}`,
		`{"message":{"content":"cd"},"done":false}`,
		`{"done":true}`,
	})
	defer server.Close()

	pipe, sess := testPipeline(server.URL, "http://127.0.0.1:1", "plain")

	var committed []string
	events := &recordingEvents{}
	wrapped := &commitCheckEvents{inner: events, sess: sess, committed: &committed}

	if _, err := pipe.Coordinator().Stream(context.Background(), sess, nil, wrapped); err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	if committed[0] != "ab" || committed[1] != "abcd" {
		t.Errorf("Expected each delta visible in session before emission, got %v", committed)
	}
}

// commitCheckEvents snapshots the in-flight message content at each delta.
type commitCheckEvents struct {
	inner     *recordingEvents
	sess      *session.Session
	committed *[]string
}

func (e *commitCheckEvents) Warning(text string) { e.inner.Warning(text) }
func (e *commitCheckEvents) Delta(text string) {
	if msg, ok := e.sess.Streaming(); ok {
		*e.committed = append(*e.committed, msg.Text())
	}
	e.inner.Delta(text)
}
func (e *commitCheckEvents) Done(msg *model.Message) { e.inner.Done(msg) }
func (e *commitCheckEvents) Error(m string)          { e.inner.Error(m) }

func TestStreamFailureDiscardsPartialAndSanitizes(t *testing.T) {
	// Server sends one chunk then drops the connection mid-stream.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"model crashed at 10.0.0.5:11434"}`))
	}))
	defer server.Close()

	pipe, sess := testPipeline(server.URL, "http://127.0.0.1:1", "plain")
	sess.AppendUserTurn(model.NewTextMessage(model.RoleUser, "hi"))

	events := &recordingEvents{}
	state, err := pipe.Coordinator().Stream(context.Background(), sess, nil, events)
	if err == nil {
		t.Fatal("Expected stream error")
	}

	if state != StateErrored {
		t.Errorf("Expected StateErrored, got %s", state)
	}
	if sess.Len() != 1 {
		t.Errorf("Expected only the user message to survive, got %d messages", sess.Len())
	}
	if len(events.errs) != 1 {
		t.Fatalf("Expected one error event, got %d", len(events.errs))
	}
	if strings.Contains(events.errs[0], "10.0.0.5") || strings.Contains(events.errs[0], "crashed") {
		t.Errorf("Error event leaks backend detail: %q", events.errs[0])
	}
	if !strings.Contains(events.errs[0], "language model") {
		t.Errorf("Expected generic message naming the service, got %q", events.errs[0])
	}
}

func TestStreamCorruptChunkErrorsTurn(t *testing.T) {
	server := streamingLLM(t, []string{
		`{"message":{"content":"par"},"done":false}`,
		`THIS IS NOT JSON {{{`,
		`{"message":{"content":"tial"},"done":false}`,
		`{"done":true}`,
	})
	defer server.Close()

	pipe, sess := testPipeline(server.URL, "http://127.0.0.1:1", "plain")
	sess.AppendUserTurn(model.NewTextMessage(model.RoleUser, "hi"))

	events := &recordingEvents{}
	state, err := pipe.Coordinator().Stream(context.Background(), sess, nil, events)
	if err == nil {
		t.Fatal("Expected a corrupt chunk to fail the turn")
	}
	if state != StateErrored {
		t.Errorf("Expected StateErrored, got %s", state)
	}
	if events.done != nil {
		t.Error("Expected no done event from a corrupted stream")
	}
	if sess.Len() != 1 {
		t.Errorf("Expected partial response discarded, got %d messages", sess.Len())
	}
	if len(events.errs) != 1 {
		t.Fatalf("Expected one error event, got %d", len(events.errs))
	}
	if !strings.Contains(events.errs[0], "language model") {
		t.Errorf("Expected sanitized error message, got %q", events.errs[0])
	}
}

func TestStreamWithoutDoneChunkErrorsTurn(t *testing.T) {
	server := streamingLLM(t, []string{
		`{"message":{"content":"partial answer"},"done":false}`,
	})
	defer server.Close()

	pipe, sess := testPipeline(server.URL, "http://127.0.0.1:1", "plain")
	sess.AppendUserTurn(model.NewTextMessage(model.RoleUser, "hi"))

	events := &recordingEvents{}
	state, err := pipe.Coordinator().Stream(context.Background(), sess, nil, events)
	if err == nil {
		t.Fatal("Expected a truncated stream to fail the turn")
	}
	if state != StateErrored {
		t.Errorf("Expected StateErrored, got %s", state)
	}
	if events.done != nil {
		t.Error("Expected no done event when the stream never completed")
	}
	if sess.Len() != 1 {
		t.Errorf("Expected partial response discarded, got %d messages", sess.Len())
	}
}

func TestConcurrentTurnsReportIndependentStates(t *testing.T) {
	// Fails the turn when the request asks for it, succeeds otherwise.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req llm.ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) > 0 && req.Messages[0].Content == "fail" {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"boom"}`))
			return
		}
		w.Write([]byte(`{"message":{"content":"ok"},"done":false}` + "\n"))
		w.Write([]byte(`{"done":true}` + "\n"))
	}))
	defer server.Close()

	pipe, good := testPipeline(server.URL, "http://127.0.0.1:1", "plain")
	bad := session.New(time.Minute)
	good.AppendUserTurn(model.NewTextMessage(model.RoleUser, "hi"))
	bad.AppendUserTurn(model.NewTextMessage(model.RoleUser, "hi"))

	var wg sync.WaitGroup
	var goodState, badState State
	var goodErr, badErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		goodState, goodErr = pipe.Coordinator().Stream(context.Background(), good,
			[]llm.Message{{Role: "user", Content: "hi"}}, &recordingEvents{})
	}()
	go func() {
		defer wg.Done()
		badState, badErr = pipe.Coordinator().Stream(context.Background(), bad,
			[]llm.Message{{Role: "user", Content: "fail"}}, &recordingEvents{})
	}()
	wg.Wait()

	if goodErr != nil || goodState != StateFinalized {
		t.Errorf("Expected successful turn finalized, got state=%s err=%v", goodState, goodErr)
	}
	if badErr == nil || badState != StateErrored {
		t.Errorf("Expected failing turn errored, got state=%s err=%v", badState, badErr)
	}
	if good.Len() != 2 {
		t.Errorf("Expected successful session to keep its response, got %d messages", good.Len())
	}
	if bad.Len() != 1 {
		t.Errorf("Expected failed session to discard its partial, got %d messages", bad.Len())
	}
}

func TestStreamRejectsConcurrentTurn(t *testing.T) {
	server := streamingLLM(t, []string{`{"done":true}`})
	defer server.Close()

	pipe, sess := testPipeline(server.URL, "http://127.0.0.1:1", "plain")
	sess.BeginAssistantTurn(nil)

	_, err := pipe.Coordinator().Stream(context.Background(), sess, nil, &recordingEvents{})
	if err != session.ErrTurnInFlight {
		t.Errorf("Expected ErrTurnInFlight, got %v", err)
	}
}

// =============================================================================
// PIPELINE TESTS
// =============================================================================

func TestHandleTurnWithDocument(t *testing.T) {
	llmServer := streamingLLM(t, []string{
		`{"message":{"content":"Summarized."},"done":false}`,
		`{"done":true}`,
	})
	defer llmServer.Close()

	tika := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("extracted document text"))
	}))
	defer tika.Close()

	pipe, sess := testPipeline(llmServer.URL, tika.URL, "plain")
	events := &recordingEvents{}

	atts := []attachment.Attachment{
		memAttachment("notes.pdf", "application/pdf", []byte("%PDF")),
	}
	err := pipe.HandleTurn(context.Background(), sess, "summarize this", atts, events)
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	history := sess.Snapshot()
	if len(history) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(history))
	}
	userMsg := history[0]
	if len(userMsg.Parts) != 2 {
		t.Fatalf("Expected text + document parts, got %d", len(userMsg.Parts))
	}
	if userMsg.Parts[1].Type != model.PartDocument || userMsg.Parts[1].DocumentText != "extracted document text" {
		t.Error("Expected document part with extracted text")
	}
	if len(events.warnings) != 0 {
		t.Errorf("Expected no warnings, got %v", events.warnings)
	}
}

func TestHandleTurnOversizedAttachmentWarns(t *testing.T) {
	llmServer := streamingLLM(t, []string{
		`{"message":{"content":"ok"},"done":false}`,
		`{"done":true}`,
	})
	defer llmServer.Close()

	pipe, sess := testPipeline(llmServer.URL, "http://127.0.0.1:1", "plain")

	opened := false
	big := attachment.Attachment{
		Filename:     "huge.pdf",
		DeclaredSize: 10_000_000,
		MIMEType:     "application/pdf",
		Open: func() (io.ReadCloser, error) {
			opened = true
			return io.NopCloser(bytes.NewReader(nil)), nil
		},
	}

	events := &recordingEvents{}
	err := pipe.HandleTurn(context.Background(), sess, "hi", []attachment.Attachment{big}, events)
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	if opened {
		t.Error("Rejected attachment content must never be read")
	}
	if len(events.warnings) != 1 {
		t.Fatalf("Expected exactly one warning, got %v", events.warnings)
	}
	if !strings.Contains(events.warnings[0], "huge.pdf") {
		t.Errorf("Expected warning to name the file, got %q", events.warnings[0])
	}

	userMsg := sess.Snapshot()[0]
	if len(userMsg.Warnings) != 1 {
		t.Errorf("Expected warning recorded on the user message, got %v", userMsg.Warnings)
	}
	if len(userMsg.Parts) != 1 || userMsg.Parts[0].Type != model.PartText {
		t.Error("Expected only the text part to survive")
	}
}

func TestHandleTurnExtractionFailureIsNonFatal(t *testing.T) {
	llmServer := streamingLLM(t, []string{
		`{"message":{"content":"ok"},"done":false}`,
		`{"done":true}`,
	})
	defer llmServer.Close()

	tika := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer tika.Close()

	pipe, sess := testPipeline(llmServer.URL, tika.URL, "plain")
	events := &recordingEvents{}

	atts := []attachment.Attachment{
		memAttachment("weird.xyz", "application/x-unknown", []byte("???")),
	}
	err := pipe.HandleTurn(context.Background(), sess, "what is this", atts, events)
	if err != nil {
		t.Fatalf("Expected extraction failure to be non-fatal, got %v", err)
	}

	if len(events.warnings) != 1 || !strings.Contains(events.warnings[0], "weird.xyz") {
		t.Errorf("Expected one warning naming the file, got %v", events.warnings)
	}
	if events.done == nil {
		t.Error("Expected the turn to complete despite the failed attachment")
	}
}

func TestHandleTurnDocsBeforeImages(t *testing.T) {
	llmServer := streamingLLM(t, []string{`{"done":true}`})
	defer llmServer.Close()

	tika := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("doc text"))
	}))
	defer tika.Close()

	// Vision-capable by name so the image survives.
	pipe, sess := testPipeline(llmServer.URL, tika.URL, "llava-test")
	events := &recordingEvents{}

	atts := []attachment.Attachment{
		memAttachment("photo.png", "image/png", pngBytes(t)),
		memAttachment("notes.txt", "text/plain", []byte("hello")),
	}
	if err := pipe.HandleTurn(context.Background(), sess, "both", atts, events); err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	parts := sess.Snapshot()[0].Parts
	if len(parts) != 3 {
		t.Fatalf("Expected text + doc + image parts, got %d", len(parts))
	}
	if parts[1].Type != model.PartDocument {
		t.Errorf("Expected document before image, got %s", parts[1].Type)
	}
	if parts[2].Type != model.PartImage {
		t.Errorf("Expected image last, got %s", parts[2].Type)
	}
}

func TestHandleTurnImageOnTextOnlyModelWarns(t *testing.T) {
	llmServer := streamingLLM(t, []string{
		`{"message":{"content":"ok"},"done":false}`,
		`{"done":true}`,
	})
	defer llmServer.Close()

	pipe, sess := testPipeline(llmServer.URL, "http://127.0.0.1:1", "plain")
	events := &recordingEvents{}

	atts := []attachment.Attachment{
		memAttachment("photo.png", "image/png", pngBytes(t)),
	}
	if err := pipe.HandleTurn(context.Background(), sess, "", atts, events); err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	if len(events.warnings) != 1 || !strings.Contains(events.warnings[0], "photo.png") {
		t.Errorf("Expected warning about unviewable image, got %v", events.warnings)
	}
}

func TestHandleTurnWarnsOnTruncatedDocument(t *testing.T) {
	llmServer := streamingLLM(t, []string{
		`{"message":{"content":"ok"},"done":false}`,
		`{"done":true}`,
	})
	defer llmServer.Close()

	tika := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", 5000)))
	}))
	defer tika.Close()

	pipe, sess := testPipeline(llmServer.URL, tika.URL, "plain")
	events := &recordingEvents{}

	atts := []attachment.Attachment{
		memAttachment("long.txt", "text/plain", []byte("seed")),
	}
	if err := pipe.HandleTurn(context.Background(), sess, "read", atts, events); err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	if len(events.warnings) != 1 {
		t.Fatalf("Expected one truncation warning, got %v", events.warnings)
	}
	if !strings.Contains(events.warnings[0], "long.txt") || !strings.Contains(events.warnings[0], "4000") {
		t.Errorf("Expected warning naming the file and cap, got %q", events.warnings[0])
	}

	// The full extraction is kept on the message; truncation happens at
	// assembly time.
	part := sess.Snapshot()[0].Parts[1]
	if part.CharCount != 5000 {
		t.Errorf("Expected full text retained on the part, got %d chars", part.CharCount)
	}
}

func TestHandleTurnUsesParseCache(t *testing.T) {
	llmServer := streamingLLM(t, []string{
		`{"message":{"content":"ok"},"done":false}`,
		`{"done":true}`,
	})
	defer llmServer.Close()

	var extractions int
	tika := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		extractions++
		w.Write([]byte("cached text"))
	}))
	defer tika.Close()

	pipe, sess := testPipeline(llmServer.URL, tika.URL, "plain")

	data := []byte("same document")
	for i := 0; i < 2; i++ {
		atts := []attachment.Attachment{memAttachment("again.txt", "text/plain", data)}
		if err := pipe.HandleTurn(context.Background(), sess, "look", atts, &recordingEvents{}); err != nil {
			t.Fatalf("HandleTurn %d failed: %v", i, err)
		}
	}

	if extractions != 1 {
		t.Errorf("Expected one extraction for identical re-attachment, got %d", extractions)
	}
}
