// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package attachment

import (
	"fmt"
	"io"
	"strings"
)

// =============================================================================
// ATTACHMENT TYPE
// =============================================================================

// Category classifies an attachment by how its content will be consumed.
type Category int

const (
	// CategoryDocument is anything sent to the extraction service.
	CategoryDocument Category = iota
	// CategoryImage is decoded and transported as an image content part.
	CategoryImage
)

// String returns the string representation of the category.
func (c Category) String() string {
	if c == CategoryImage {
		return "image"
	}
	return "document"
}

// Attachment is one user-supplied file submitted alongside a turn.
//
// DeclaredSize is the size reported by the transport layer, not a measured
// value; the guard trusts it for the pre-read check and the reader enforces
// the limit again while consuming bytes. Raw bytes are transient: they are
// read once, converted into a content part or dropped, and never retained
// past the turn that produced them.
type Attachment struct {
	Filename     string
	DeclaredSize int64
	MIMEType     string

	// Open is the content-read primitive. It must not be invoked before the
	// guard has accepted the attachment.
	Open func() (io.ReadCloser, error)
}

// Category derives the attachment category from the declared MIME type.
// Everything that is not an image goes to the extraction service, which
// accepts over a hundred document formats; there is no allowlist here.
func (a *Attachment) Category() Category {
	if strings.HasPrefix(a.MIMEType, "image/") {
		return CategoryImage
	}
	return CategoryDocument
}

// ReadAll reads the attachment content, enforcing limit as a hard byte cap.
// The declared size already passed the guard; the cap defends against a
// transport that under-reports.
func (a *Attachment) ReadAll(limit int64) ([]byte, error) {
	rc, err := a.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open attachment %s: %w", a.Filename, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment %s: %w", a.Filename, err)
	}
	if int64(len(data)) > limit {
		return nil, &RejectedError{
			Filename:     a.Filename,
			DeclaredSize: int64(len(data)),
			LimitBytes:   limit,
		}
	}
	return data, nil
}
