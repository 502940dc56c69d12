// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package extract

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorKind categorizes extraction failures for handling.
type ErrorKind int

const (
	// KindUnreachable means the service could not be contacted in time.
	KindUnreachable ErrorKind = iota
	// KindUnsupportedType means the service refused the media type.
	KindUnsupportedType
	// KindParserFailure means the service accepted the request but failed
	// to produce text.
	KindParserFailure
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindUnreachable:
		return "unreachable"
	case KindUnsupportedType:
		return "unsupported_type"
	default:
		return "parser_failure"
	}
}

// ExtractionError is a typed, attachment-scoped extraction failure.
type ExtractionError struct {
	Kind     ErrorKind
	Filename string
	Cause    error
}

func (e *ExtractionError) Error() string {
	msg := "extraction failed (" + e.Kind.String() + ") for " + e.Filename
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error {
	return e.Cause
}

// AsExtractionError extracts a typed extraction error from an error chain.
func AsExtractionError(err error) (*ExtractionError, bool) {
	var ee *ExtractionError
	ok := errors.As(err, &ee)
	return ee, ok
}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the extraction client.
type ClientConfig struct {
	// BaseURL is the extraction service base URL (default: http://tika-server:9998)
	BaseURL string

	// Timeout bounds each extraction request (default: 15s)
	Timeout time.Duration

	// HealthTimeout bounds health probes (default: 2s)
	HealthTimeout time.Duration

	// HealthCacheTTL is how long a health probe result is reused (default: 5s)
	HealthCacheTTL time.Duration
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:        "http://tika-server:9998",
		Timeout:        15 * time.Second,
		HealthTimeout:  2 * time.Second,
		HealthCacheTTL: 5 * time.Second,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Result is a successful extraction: normalized plain text and its length
// in characters.
type Result struct {
	Text      string
	CharCount int
}

// Client handles communication with the extraction service.
// It is safe for concurrent use.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client

	// Cached health probe result
	healthMu      sync.Mutex
	healthValue   bool
	healthChecked time.Time
}

// NewClient creates a new extraction client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new extraction client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://tika-server:9998"
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
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

// =============================================================================
// EXTRACTION
// =============================================================================

// Extract sends document bytes to the extraction service and returns the
// normalized plain text. One attempt per call; retries are the caller's
// decision (the submission pipeline makes none).
func (c *Client) Extract(ctx context.Context, data []byte, mimeType, filename string) (*Result, error) {
	url := strings.TrimRight(c.config.BaseURL, "/") + "/tika"

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return nil, &ExtractionError{Kind: KindUnreachable, Filename: filename, Cause: err}
	}
	if mimeType != "" {
		req.Header.Set("Content-Type", mimeType)
	} else {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ExtractionError{Kind: KindUnreachable, Filename: filename, Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		// Tika signals an unsupported or unparsable media type with 422.
		return nil, &ExtractionError{Kind: KindUnsupportedType, Filename: filename}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &ExtractionError{
			Kind:     KindParserFailure,
			Filename: filename,
			Cause:    errors.New("unexpected status: " + resp.Status),
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ExtractionError{Kind: KindParserFailure, Filename: filename, Cause: err}
	}

	text := normalizeText(string(raw))
	return &Result{
		Text:      text,
		CharCount: len([]rune(text)),
	}, nil
}

// normalizeText canonicalizes extracted text: NFC normalization so that
// visually identical output compares equal regardless of how the parser
// composed it, then surrounding whitespace is trimmed.
func normalizeText(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// Healthy reports whether the extraction service is reachable. The probe
// tries /tika, /version, and the bare base URL in order, and the result is
// cached briefly to avoid hammering the service from UI refreshes.
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

// probe performs the uncached reachability check.
func (c *Client) probe(ctx context.Context) bool {
	base := strings.TrimRight(c.config.BaseURL, "/")
	endpoints := []string{base + "/tika", base + "/version", base}

	probeClient := &http.Client{Timeout: c.config.HealthTimeout}
	for _, url := range endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			continue
		}
		resp, err := probeClient.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return true
		}
	}
	return false
}

// BaseURL returns the configured service base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}
