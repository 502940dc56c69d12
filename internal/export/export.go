// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders conversation transcripts for download. Attachments
// appear as one-line summaries only; extracted document text and image
// payloads never leave the server through an export.
package export

import (
	"fmt"
	"time"

	"github.com/jeranaias/ephemeral/internal/model"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter defines the interface for transcript exporters.
type Exporter interface {
	// Export renders the messages to the target format.
	Export(messages []*model.Message) ([]byte, error)

	// FileExtension returns the appropriate file extension (e.g., ".md", ".html").
	FileExtension() string

	// MimeType returns the MIME type for the exported format.
	MimeType() string
}

// ForFormat returns the exporter for a format name, or nil if unknown.
func ForFormat(format string) Exporter {
	switch format {
	case "markdown", "md":
		return NewMarkdownExporter()
	case "html":
		return NewHTMLExporter()
	default:
		return nil
	}
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// roleLabel maps a message role to its transcript heading.
func roleLabel(role model.Role) string {
	switch role {
	case model.RoleUser:
		return "You"
	case model.RoleAssistant:
		return "Assistant"
	default:
		return "System"
	}
}

// attachmentSummary renders the one-line stand-in for an attachment part.
// The extracted text itself is deliberately absent.
func attachmentSummary(part model.ContentPart) string {
	switch part.Type {
	case model.PartDocument:
		return fmt.Sprintf("%s (%d characters extracted)", part.Filename, part.CharCount)
	case model.PartImage:
		return fmt.Sprintf("%s (image)", part.Filename)
	default:
		return ""
	}
}

// formatTimestamp renders a message timestamp for transcripts.
func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04")
}
