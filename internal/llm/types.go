// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import "time"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message is a single chat message in the model API format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// Images holds base64-encoded image payloads for vision models.
	Images []string `json:"images,omitempty"`
}

// ChatRequest is the request body for /api/chat.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  *Options  `json:"options,omitempty"`
}

// Options holds model generation parameters. Zero-valued fields are omitted
// so the model's own defaults apply.
type Options struct {
	Temperature   float64 `json:"temperature,omitempty"`
	TopK          int     `json:"top_k,omitempty"`
	TopP          float64 `json:"top_p,omitempty"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
	NumCtx        int     `json:"num_ctx,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ChatResponse is a complete (non-streaming) chat response.
type ChatResponse struct {
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	Message   Message   `json:"message"`
	Done      bool      `json:"done"`
}

// StreamChunk is one fragment of a streaming response.
type StreamChunk struct {
	Content    string
	Done       bool
	DoneReason string
	Model      string

	// Completion statistics, populated on the final chunk.
	TotalDuration    time.Duration
	EvalDuration     time.Duration
	PromptTokens     int
	CompletionTokens int
}

// apiError is the error body the model API returns on failure.
type apiError struct {
	Error string `json:"error"`
}

// ListModelsResponse is the response body for /api/tags.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// ModelInfo describes one installed model.
type ModelInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// ShowModelRequest is the request body for /api/show.
type ShowModelRequest struct {
	Name string `json:"name"`
}

// ShowModelResponse is the response body for /api/show. ModelInfo is a flat
// key space of architecture-prefixed attributes; vision-capable models carry
// keys mentioning vision, clip, or projector.
type ShowModelResponse struct {
	ModelInfo    map[string]any `json:"model_info"`
	Capabilities []string       `json:"capabilities"`
}
