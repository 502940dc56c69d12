// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/ephemeral/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports transcripts to Markdown format.
type MarkdownExporter struct{}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter() *MarkdownExporter {
	return &MarkdownExporter{}
}

// Export converts a transcript to Markdown format.
func (e *MarkdownExporter) Export(messages []*model.Message) ([]byte, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("conversation has no messages")
	}

	var sb strings.Builder

	sb.WriteString("# Conversation Transcript\n\n")
	sb.WriteString(fmt.Sprintf("Exported %s\n\n", time.Now().Format("2006-01-02 15:04")))
	sb.WriteString("---\n\n")

	for i, msg := range messages {
		if msg.Role == model.RoleSystem {
			continue
		}

		sb.WriteString(fmt.Sprintf("### %s <sub>%s</sub>\n\n", roleLabel(msg.Role), formatTimestamp(msg.Timestamp)))

		for _, part := range msg.Parts {
			switch part.Type {
			case model.PartText:
				if part.Text != "" {
					sb.WriteString(part.Text)
					sb.WriteString("\n\n")
				}
			default:
				if summary := attachmentSummary(part); summary != "" {
					sb.WriteString(fmt.Sprintf("> 📎 %s\n\n", summary))
				}
			}
		}

		for _, warning := range msg.Warnings {
			sb.WriteString(fmt.Sprintf("> ⚠️ %s\n\n", warning))
		}

		if i < len(messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	return []byte(sb.String()), nil
}

// FileExtension returns ".md".
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the Markdown MIME type.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown; charset=utf-8"
}
