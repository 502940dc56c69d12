// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// =============================================================================
// CONTENT PART TYPES
// =============================================================================

// PartType identifies which member of the ContentPart union is populated.
type PartType string

const (
	// PartText is plain conversational text.
	PartText PartType = "text"

	// PartDocument is text extracted from an uploaded document.
	PartDocument PartType = "document"

	// PartImage is a base64-encoded image attachment.
	PartImage PartType = "image"
)

// ContentPart is one typed unit of message content. Exactly one group of
// fields is populated, selected by Type.
type ContentPart struct {
	Type PartType `json:"type"`

	// Text content (PartText).
	Text string `json:"text,omitempty"`

	// Document content (PartDocument).
	Filename     string `json:"filename,omitempty"`
	DocumentText string `json:"document_text,omitempty"`
	CharCount    int    `json:"char_count,omitempty"`

	// Image content (PartImage). Base64Data is the raw base64 payload
	// without a data: URL prefix; MIMEType qualifies it.
	MIMEType   string `json:"mime_type,omitempty"`
	Base64Data string `json:"base64_data,omitempty"`
}

// TextPart creates a plain text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// DocumentPart creates an extracted-document content part.
func DocumentPart(filename, text string) ContentPart {
	return ContentPart{
		Type:         PartDocument,
		Filename:     filename,
		DocumentText: text,
		CharCount:    len([]rune(text)),
	}
}

// ImagePart creates an image content part from base64 payload data.
func ImagePart(filename, mimeType, base64Data string) ContentPart {
	return ContentPart{
		Type:       PartImage,
		Filename:   filename,
		MIMEType:   mimeType,
		Base64Data: base64Data,
	}
}

// IsDocument returns true for extracted-document parts.
func (p ContentPart) IsDocument() bool {
	return p.Type == PartDocument
}

// IsImage returns true for image parts.
func (p ContentPart) IsImage() bool {
	return p.Type == PartImage
}
