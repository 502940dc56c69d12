// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/ephemeral/internal/util"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the model client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeConnection
	ErrTypeInvalidResponse
)

// Sentinel errors for easy checking.
var (
	ErrNotRunning    = &ClientError{Type: ErrTypeNotRunning, Message: "model service is not running"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
)

// maxAPIErrorRunes bounds server-supplied error bodies carried into a
// ClientError message.
const maxAPIErrorRunes = 500

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the model client.
type ClientConfig struct {
	// BaseURL is the model API base URL (default: http://ollama:11434)
	BaseURL string

	// Model is the model name sent with every request (default: "gemma3-prod")
	Model string

	// Timeout for non-streaming requests (default: 30s)
	Timeout time.Duration

	// HealthTimeout bounds health probes (default: 2s)
	HealthTimeout time.Duration

	// HealthCacheTTL is how long a health probe result is reused (default: 5s)
	HealthCacheTTL time.Duration

	// Options are generation parameters sent with chat requests.
	Options *Options
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:        "http://ollama:11434",
		Model:          "gemma3-prod",
		Timeout:        30 * time.Second,
		HealthTimeout:  2 * time.Second,
		HealthCacheTTL: 5 * time.Second,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the model API.
// The Client is thread-safe for concurrent use.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client

	// Cached health probe result
	healthMu      sync.Mutex
	healthValue   bool
	healthChecked time.Time

	// Cached vision-capability answer, resolved once per model
	visionMu       sync.Mutex
	visionResolved bool
	visionValue    bool
}

// NewClient creates a new model client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new model client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	// Fill in defaults for any zero values
	if config.BaseURL == "" {
		config.BaseURL = "http://ollama:11434"
	}
	if config.Model == "" {
		config.Model = "gemma3-prod"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HealthTimeout == 0 {
		config.HealthTimeout = 2 * time.Second
	}
	if config.HealthCacheTTL == 0 {
		config.HealthCacheTTL = 5 * time.Second
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.config.Model
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// Healthy reports whether the model service is reachable. The probe hits
// /api/tags; an auth rejection (401/403) still proves the service is alive.
// Results are cached briefly.
func (c *Client) Healthy(ctx context.Context) bool {
	c.healthMu.Lock()
	if time.Since(c.healthChecked) < c.config.HealthCacheTTL {
		cached := c.healthValue
		c.healthMu.Unlock()
		return cached
	}
	c.healthMu.Unlock()

	alive := c.probe(ctx)

	c.healthMu.Lock()
	c.healthValue = alive
	c.healthChecked = time.Now()
	c.healthMu.Unlock()

	return alive
}

func (c *Client) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, c.config.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true
	}
	// A gated endpoint is still a live endpoint.
	return resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels retrieves all available models.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ErrNotRunning
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: "failed to list models: " + resp.Status,
		}
	}

	var result ListModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}

	return result.Models, nil
}

// ShowModel retrieves metadata for the configured model.
func (c *Client) ShowModel(ctx context.Context) (*ShowModelResponse, error) {
	reqBody := ShowModelRequest{Name: c.config.Model}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/show", bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ErrNotRunning
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrModelNotFound
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: "failed to get model: " + resp.Status,
		}
	}

	var result ShowModelResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}

	return &result, nil
}

// =============================================================================
// VISION CAPABILITY
// =============================================================================

// visionNameHints appear in the names of common vision-capable models.
var visionNameHints = []string{"llava", "vision", "gemma3", "qwen2.5vl", "qwen-vl", "minicpm-v", "moondream", "bakllava"}

// SupportsVision reports whether the configured model accepts image inputs.
// Detection order: model name heuristic first, then the /api/show metadata
// (capability list, or model_info keys mentioning vision, clip, or
// projector). The answer is resolved once and cached for the client's
// lifetime; an unreachable service defaults to text-only rather than
// sending payloads the model would reject.
func (c *Client) SupportsVision(ctx context.Context) bool {
	c.visionMu.Lock()
	defer c.visionMu.Unlock()

	if c.visionResolved {
		return c.visionValue
	}

	name := strings.ToLower(c.config.Model)
	for _, hint := range visionNameHints {
		if strings.Contains(name, hint) {
			c.visionResolved = true
			c.visionValue = true
			return true
		}
	}

	show, err := c.ShowModel(ctx)
	if err != nil {
		// Leave unresolved so a later probe can retry once the service
		// comes up.
		return false
	}

	c.visionResolved = true
	c.visionValue = showsVision(show)
	return c.visionValue
}

// ForceVision pins the vision capability decision, bypassing detection.
// Used when the operator configures the capability explicitly.
func (c *Client) ForceVision(value bool) {
	c.visionMu.Lock()
	defer c.visionMu.Unlock()
	c.visionResolved = true
	c.visionValue = value
}

// showsVision inspects /api/show metadata for vision capability markers.
func showsVision(show *ShowModelResponse) bool {
	for _, cap := range show.Capabilities {
		if strings.EqualFold(cap, "vision") {
			return true
		}
	}
	for key := range show.ModelInfo {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "vision") || strings.Contains(lower, "clip") || strings.Contains(lower, "projector") {
			return true
		}
	}
	return false
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// StreamCallback is called for each chunk received during streaming.
type StreamCallback func(chunk StreamChunk)

// ChatStream sends a streaming chat request and calls the callback for each
// chunk. The callback is called synchronously in the order chunks are
// received. Returns when streaming is complete or an error occurs.
func (c *Client) ChatStream(ctx context.Context, messages []Message, callback StreamCallback) error {
	reqBody := ChatRequest{
		Model:    c.config.Model,
		Messages: messages,
		Stream:   true,
		Options:  c.config.Options,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	// Use a client without timeout for streaming; cancellation comes from
	// the context.
	streamClient := &http.Client{}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := streamClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return ErrTimeout
		}
		return ErrNotRunning
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrModelNotFound
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			// Error bodies are server-controlled; bound them before
			// they reach logs.
			return &ClientError{
				Type:    ErrTypeInvalidResponse,
				Message: util.TruncateRunes(apiErr.Error, maxAPIErrorRunes),
			}
		}
		return &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: "stream request failed: " + resp.Status,
		}
	}

	reader := NewStreamReader(resp.Body)
	return reader.Process(ctx, callback)
}

// Chat sends a chat request and returns the complete response (non-streaming).
func (c *Client) Chat(ctx context.Context, messages []Message) (*ChatResponse, error) {
	reqBody := ChatRequest{
		Model:    c.config.Model,
		Messages: messages,
		Stream:   false,
		Options:  c.config.Options,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ErrNotRunning
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrModelNotFound
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return nil, &ClientError{
				Type:    ErrTypeInvalidResponse,
				Message: util.TruncateRunes(apiErr.Error, maxAPIErrorRunes),
			}
		}
		return nil, &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: "chat request failed: " + resp.Status,
		}
	}

	var result ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}

	return &result, nil
}
