// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/jeranaias/ephemeral/internal/attachment"
	"github.com/jeranaias/ephemeral/internal/chat"
	"github.com/jeranaias/ephemeral/internal/config"
	"github.com/jeranaias/ephemeral/internal/export"
	"github.com/jeranaias/ephemeral/internal/extract"
	"github.com/jeranaias/ephemeral/internal/llm"
	"github.com/jeranaias/ephemeral/internal/model"
	"github.com/jeranaias/ephemeral/internal/session"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// sessionCookie names the cookie carrying the opaque session ID.
	sessionCookie = "session_id"

	// maxMessageLength bounds the typed message field.
	maxMessageLength = 100000

	// Version is the server version.
	Version = "1.0.0"
)

//go:embed static
var staticFS embed.FS

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP server for the chat service.
type Server struct {
	cfg    *config.Config
	router *http.ServeMux
	server *http.Server

	store     *session.Store
	pipeline  *chat.Pipeline
	llmClient *llm.Client
	extractor *extract.Client
}

// NewServer wires the service from its components.
func NewServer(
	cfg *config.Config,
	store *session.Store,
	pipeline *chat.Pipeline,
	llmClient *llm.Client,
	extractor *extract.Client,
) *Server {
	s := &Server{
		cfg:       cfg,
		router:    http.NewServeMux(),
		store:     store,
		pipeline:  pipeline,
		llmClient: llmClient,
		extractor: extractor,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /{$}", s.handleIndex)
	s.router.HandleFunc("POST /api/chat", s.handleChat)
	s.router.HandleFunc("POST /api/conversation/clear", s.handleClear)
	s.router.HandleFunc("GET /api/transcript", s.handleTranscript)
	s.router.HandleFunc("GET /api/export", s.handleExport)
	s.router.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns the full handler chain, for serving and for tests.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(log.Default()),
		RateLimitMiddleware(NewIPRateLimiter(s.cfg.Server.RateLimitPerSecond, s.cfg.Server.RateLimitBurst)),
	)(s.router)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.cfg.Server.ListenAddr,
		Handler:     s.Handler(),
		ReadTimeout: 2 * time.Minute,
		// No write timeout: responses stream for as long as the model
		// generates. Cancellation comes from the client disconnecting.
		IdleTimeout: 2 * time.Minute,
	}

	log.Printf("SERVER_START | addr=%s version=%s", s.cfg.Server.ListenAddr, Version)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server and destroys all sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	err := s.server.Shutdown(ctx)
	s.store.Close()
	return err
}

// ============================================================================
// SESSION RESOLUTION
// ============================================================================

// resolveSession finds or creates the visitor's session and refreshes the
// cookie.
func (s *Server) resolveSession(w http.ResponseWriter, r *http.Request) *session.Session {
	var id string
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		id = cookie.Value
	}

	sess := s.store.GetOrCreate(id)

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.ID(),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sess
}

// ============================================================================
// INDEX HANDLER
// ============================================================================

// handleIndex serves the single-page chat UI.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// ============================================================================
// CHAT HANDLER
// ============================================================================

// handleChat handles POST /api/chat: a multipart submission answered with a
// Server-Sent-Events stream.
//
// Multipart protocol: an optional "message" text field, then for each
// attached file a "size" field carrying the byte count the client measured,
// immediately followed by the "file" part itself. Declared sizes let the
// guard reject a file without its content ever being buffered.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	sess := s.resolveSession(w, r)

	// Cap the whole request body; individual files are screened by
	// declared size before their content is touched.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes()*4+1_000_000)

	text, atts, err := s.parseChatRequest(r)
	if err != nil {
		log.Printf("CHAT_BAD_REQUEST | err=%v", err)
		s.writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	if text == "" && len(atts) == 0 {
		s.writeError(w, http.StatusBadRequest, "Message or attachment required")
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	err = s.pipeline.HandleTurn(r.Context(), sess, text, atts, sse)
	switch {
	case err == nil:
		// done event already sent
	case errors.Is(err, session.ErrTurnInFlight):
		// Headers are already committed to the SSE stream; report over it.
		sse.Error("A response is already in progress. Wait for it to finish.")
	default:
		// Stream errors were already emitted as error events by the
		// pipeline; anything else gets a generic event here.
		if _, sanitized := isSanitized(err); !sanitized {
			log.Printf("CHAT_TURN_FAILED | err=%v", err)
			sse.Error("An error occurred. Try again.")
		}
	}
}

// parseChatRequest walks the multipart body in order. File content for a
// part whose declared size exceeds the limit is never read; the multipart
// reader discards it when advancing.
func (s *Server) parseChatRequest(r *http.Request) (string, []attachment.Attachment, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return "", nil, fmt.Errorf("reading multipart body: %w", err)
	}

	var text string
	var atts []attachment.Attachment
	var declaredSize int64 = -1
	limit := s.cfg.MaxUploadBytes()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("reading multipart part: %w", err)
		}

		switch part.FormName() {
		case "message":
			data, err := io.ReadAll(io.LimitReader(part, maxMessageLength))
			if err != nil {
				return "", nil, fmt.Errorf("reading message field: %w", err)
			}
			text = string(data)

		case "size":
			data, err := io.ReadAll(io.LimitReader(part, 32))
			if err != nil {
				return "", nil, fmt.Errorf("reading size field: %w", err)
			}
			n, err := strconv.ParseInt(string(data), 10, 64)
			if err != nil || n < 0 {
				return "", nil, fmt.Errorf("invalid declared size %q", string(data))
			}
			declaredSize = n

		case "file":
			att, err := s.readFilePart(part, declaredSize, limit)
			if err != nil {
				return "", nil, err
			}
			atts = append(atts, att)
			declaredSize = -1
		}
	}

	return text, atts, nil
}

// readFilePart converts one multipart file part into an attachment. Within
// the declared limit the content is buffered so the pipeline can open it
// later; past the limit the body is left unread for the multipart reader to
// discard.
func (s *Server) readFilePart(part *multipart.Part, declaredSize, limit int64) (attachment.Attachment, error) {
	filename := part.FileName()
	mimeType := part.Header.Get("Content-Type")

	if declaredSize < 0 {
		// No size field preceded the file; fall back to trusting the
		// transport but keep the cap.
		declaredSize = 0
	}

	att := attachment.Attachment{
		Filename:     filename,
		DeclaredSize: declaredSize,
		MIMEType:     mimeType,
	}

	if declaredSize > limit {
		att.Open = func() (io.ReadCloser, error) {
			return nil, fmt.Errorf("attachment %s was rejected before reading", filename)
		}
		return att, nil
	}

	data, err := io.ReadAll(io.LimitReader(part, limit+1))
	if err != nil {
		return attachment.Attachment{}, fmt.Errorf("buffering %s: %w", filename, err)
	}
	att.Open = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	if att.DeclaredSize == 0 {
		att.DeclaredSize = int64(len(data))
	}
	return att, nil
}

// ============================================================================
// CLEAR HANDLER
// ============================================================================

// handleClear handles POST /api/conversation/clear. Clearing is idempotent
// and synchronous: when the response arrives, the conversation is gone.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	sess := s.resolveSession(w, r)
	sess.Clear()
	log.Printf("CONVERSATION_CLEARED")

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// ============================================================================
// TRANSCRIPT HANDLER
// ============================================================================

// TranscriptMessage is one message in the transcript response. Attachments
// are summaries only.
type TranscriptMessage struct {
	Role        string   `json:"role"`
	Timestamp   string   `json:"timestamp"`
	Text        string   `json:"text"`
	Attachments []string `json:"attachments,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// handleTranscript handles GET /api/transcript.
func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sess := s.resolveSession(w, r)

	messages := sess.Snapshot()
	out := make([]TranscriptMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			continue
		}
		tm := TranscriptMessage{
			Role:      msg.Role.String(),
			Timestamp: msg.Timestamp.Format(time.RFC3339),
			Warnings:  msg.Warnings,
		}
		for _, part := range msg.Parts {
			switch part.Type {
			case model.PartText:
				tm.Text += part.Text
			case model.PartDocument:
				tm.Attachments = append(tm.Attachments,
					fmt.Sprintf("%s (%d characters extracted)", part.Filename, part.CharCount))
			case model.PartImage:
				tm.Attachments = append(tm.Attachments, fmt.Sprintf("%s (image)", part.Filename))
			}
		}
		out = append(out, tm)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

// ============================================================================
// EXPORT HANDLER
// ============================================================================

// handleExport handles GET /api/export?format=markdown|html.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess := s.resolveSession(w, r)

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "markdown"
	}
	exporter := export.ForFormat(format)
	if exporter == nil {
		s.writeError(w, http.StatusBadRequest, "Unknown export format")
		return
	}

	messages := sess.Snapshot()
	if len(messages) == 0 {
		s.writeError(w, http.StatusNotFound, "Nothing to export")
		return
	}

	rendered := sess.ExportCache().GetOrCompute(format, sess.Signature(), func() string {
		data, err := exporter.Export(messages)
		if err != nil {
			log.Printf("EXPORT_FAILED | format=%s err=%v", format, err)
			return ""
		}
		return string(data)
	})
	if rendered == "" {
		s.writeError(w, http.StatusInternalServerError, "Export failed")
		return
	}

	filename := "conversation-" + time.Now().Format("20060102-150405") + exporter.FileExtension()
	w.Header().Set("Content-Type", exporter.MimeType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Write([]byte(rendered))
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Model      string `json:"model_status"`
	Extraction string `json:"extraction_status"`
	Sessions   int    `json:"active_sessions"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:   "ok",
		Version:  Version,
		Sessions: s.store.Len(),
	}

	if s.llmClient.Healthy(r.Context()) {
		health.Model = "ok"
	} else {
		health.Model = "unavailable"
		health.Status = "degraded"
	}

	if s.extractor.Healthy(r.Context()) {
		health.Extraction = "ok"
	} else {
		health.Extraction = "unavailable"
		health.Status = "degraded"
	}

	s.writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    status,
		},
	})
}
