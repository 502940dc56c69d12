// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package attachment

import (
	"io"
	"strings"
	"testing"
)

// =============================================================================
// GUARD TESTS
// =============================================================================

func TestGuardAcceptsUnderLimit(t *testing.T) {
	g := NewGuard(50_000_000)
	att := &Attachment{Filename: "small.pdf", DeclaredSize: 1_000_000}

	if err := g.Check(att); err != nil {
		t.Errorf("Check() = %v, want nil", err)
	}
}

func TestGuardRejectsOverLimit(t *testing.T) {
	g := NewGuard(50_000_000)
	att := &Attachment{Filename: "big.bin", DeclaredSize: 90_000_000}

	err := g.Check(att)
	if err == nil {
		t.Fatal("Check() = nil, want rejection")
	}
	if !IsRejected(err) {
		t.Errorf("IsRejected(%v) = false, want true", err)
	}

	rejected := err.(*RejectedError)
	warning := rejected.Warning()
	if !strings.Contains(warning, "big.bin") {
		t.Errorf("warning %q does not name the file", warning)
	}
	if !strings.Contains(warning, "50 MB") {
		t.Errorf("warning %q does not name the limit", warning)
	}
}

func TestGuardAcceptsExactLimit(t *testing.T) {
	g := NewGuard(50_000_000)
	att := &Attachment{Filename: "edge.pdf", DeclaredSize: 50_000_000}

	if err := g.Check(att); err != nil {
		t.Errorf("Check() at exact limit = %v, want nil", err)
	}
}

// TestGuardNeverReadsRejectedContent is the core correctness property: the
// content-read primitive must not be invoked for an attachment whose
// declared size already fails the policy.
func TestGuardNeverReadsRejectedContent(t *testing.T) {
	g := NewGuard(50_000_000)

	att := &Attachment{
		Filename:     "huge.bin",
		DeclaredSize: 90_000_000,
		Open: func() (io.ReadCloser, error) {
			t.Fatal("content-read primitive invoked for rejected attachment")
			return nil, nil
		},
	}

	if err := g.Check(att); err == nil {
		t.Fatal("Check() = nil, want rejection")
	}
}

// =============================================================================
// CATEGORY TESTS
// =============================================================================

func TestCategoryFromMIMEType(t *testing.T) {
	tests := []struct {
		mimeType string
		want     Category
	}{
		{"image/png", CategoryImage},
		{"image/jpeg", CategoryImage},
		{"application/pdf", CategoryDocument},
		{"text/plain", CategoryDocument},
		{"", CategoryDocument},
	}

	for _, tt := range tests {
		att := &Attachment{MIMEType: tt.mimeType}
		if got := att.Category(); got != tt.want {
			t.Errorf("Category(%q) = %v, want %v", tt.mimeType, got, tt.want)
		}
	}
}

// =============================================================================
// READ TESTS
// =============================================================================

func TestReadAllEnforcesByteCap(t *testing.T) {
	att := &Attachment{
		Filename:     "liar.bin",
		DeclaredSize: 10, // under-reported
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(strings.Repeat("x", 100))), nil
		},
	}

	if _, err := att.ReadAll(50); err == nil {
		t.Error("ReadAll() = nil, want rejection for oversized actual content")
	}
}

func TestReadAllReturnsContent(t *testing.T) {
	att := &Attachment{
		Filename: "ok.txt",
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("hello")), nil
		},
	}

	data, err := att.ReadAll(1000)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("ReadAll() = %q, want 'hello'", data)
	}
}
