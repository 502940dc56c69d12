// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompt

import (
	"strings"
	"time"

	"github.com/jeranaias/ephemeral/internal/llm"
	"github.com/jeranaias/ephemeral/internal/model"
	"github.com/jeranaias/ephemeral/internal/util"
)

// =============================================================================
// ASSEMBLER
// =============================================================================

// DefaultUploadPrompt stands in for the user's text when files are attached
// with no accompanying message.
const DefaultUploadPrompt = "Please analyze the uploaded files."

// AssemblerConfig configures prompt assembly.
type AssemblerConfig struct {
	// DefaultUploadPrompt replaces empty user text on attachment-only turns.
	DefaultUploadPrompt string

	// DocMaxChars bounds the total document text across one assembled
	// request (default: 12000)
	DocMaxChars int

	// DocMaxCharsPerDoc bounds each individual document block
	// (default: 4000)
	DocMaxCharsPerDoc int
}

// Assembler converts conversation history into the model's message format.
// Assembly is deterministic: identical history yields an identical request.
type Assembler struct {
	template *Template
	cfg      AssemblerConfig
}

// NewAssembler creates an assembler with the given template and config.
func NewAssembler(template *Template, cfg AssemblerConfig) *Assembler {
	if cfg.DefaultUploadPrompt == "" {
		cfg.DefaultUploadPrompt = DefaultUploadPrompt
	}
	if cfg.DocMaxChars == 0 {
		cfg.DocMaxChars = 12000
	}
	if cfg.DocMaxCharsPerDoc == 0 {
		cfg.DocMaxCharsPerDoc = 4000
	}
	return &Assembler{template: template, cfg: cfg}
}

// DocCharLimit returns the per-document character cap applied during
// assembly, so upstream stages can warn about truncation.
func (a *Assembler) DocCharLimit() int {
	return a.cfg.DocMaxCharsPerDoc
}

// Assemble builds the model request messages: rendered system prompt first,
// then history in order. Document parts become labeled text blocks inside
// the user message content. Image parts attach to the message only when the
// model accepts them; withVision=false drops image payloads entirely.
func (a *Assembler) Assemble(history []*model.Message, withVision bool) []llm.Message {
	out := make([]llm.Message, 0, len(history)+1)
	out = append(out, llm.Message{
		Role:    model.RoleSystem.String(),
		Content: a.template.Render(time.Now()),
	})

	// Total document budget spans the whole request.
	docBudget := a.cfg.DocMaxChars

	for _, msg := range history {
		if msg.Role == model.RoleSystem {
			// The rendered template is the single source of the system
			// prompt.
			continue
		}

		m := llm.Message{Role: msg.Role.String()}

		var content strings.Builder
		if msg.Role == model.RoleUser && attachmentOnly(msg) {
			// Attachment-only turns still need an instruction ahead of
			// the document blocks.
			content.WriteString(a.cfg.DefaultUploadPrompt)
		}
		for _, part := range msg.Parts {
			switch part.Type {
			case model.PartText:
				if part.Text == "" {
					continue
				}
				if content.Len() > 0 {
					content.WriteString("\n\n")
				}
				content.WriteString(part.Text)

			case model.PartDocument:
				block, used := a.documentBlock(part, docBudget)
				if block == "" {
					continue
				}
				docBudget -= used
				if content.Len() > 0 {
					content.WriteString("\n\n")
				}
				content.WriteString(block)

			case model.PartImage:
				if withVision && part.Base64Data != "" {
					m.Images = append(m.Images, part.Base64Data)
				}
			}
		}

		m.Content = content.String()
		if m.Content == "" && len(m.Images) == 0 {
			continue
		}
		out = append(out, m)
	}

	return out
}

// attachmentOnly reports whether the message carries attachments but no
// typed text.
func attachmentOnly(msg *model.Message) bool {
	hasAttachment := false
	for _, part := range msg.Parts {
		switch part.Type {
		case model.PartText:
			if part.Text != "" {
				return false
			}
		case model.PartDocument, model.PartImage:
			hasAttachment = true
		}
	}
	return hasAttachment
}

// documentBlock renders one document part as a labeled block, honoring both
// the per-document and the remaining total character budgets. Documents
// whose extraction came back empty produce no block at all.
func (a *Assembler) documentBlock(part model.ContentPart, remaining int) (string, int) {
	if part.DocumentText == "" || remaining <= 0 {
		return "", 0
	}

	budget := a.cfg.DocMaxCharsPerDoc
	if remaining < budget {
		budget = remaining
	}

	text, _ := util.TruncateDocument(part.DocumentText, budget)

	used := len([]rune(part.DocumentText))
	if used > budget {
		used = budget
	}

	return "[document: " + part.Filename + "]\n" + text, used
}
