// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"

	"github.com/jeranaias/ephemeral/internal/model"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports transcripts to a standalone HTML document with
// embedded CSS and syntax-highlighted code blocks.
type HTMLExporter struct{}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter() *HTMLExporter {
	return &HTMLExporter{}
}

// codeBlockRe matches fenced code blocks with an optional language tag.
var codeBlockRe = regexp.MustCompile("(?s)```(\\w*)\\n(.*?)```")

// Export converts a transcript to HTML format.
func (e *HTMLExporter) Export(messages []*model.Message) ([]byte, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("conversation has no messages")
	}

	var sb strings.Builder

	sb.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	sb.WriteString("<meta charset=\"utf-8\">\n")
	sb.WriteString("<title>Conversation Transcript</title>\n")
	sb.WriteString("<style>\n")
	sb.WriteString(transcriptCSS)
	sb.WriteString("</style>\n</head>\n<body>\n")
	sb.WriteString("<h1>Conversation Transcript</h1>\n")
	sb.WriteString(fmt.Sprintf("<p class=\"meta\">Exported %s</p>\n", time.Now().Format("2006-01-02 15:04")))

	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			continue
		}

		roleClass := "user"
		if msg.Role == model.RoleAssistant {
			roleClass = "assistant"
		}

		sb.WriteString(fmt.Sprintf("<div class=\"message %s\">\n", roleClass))
		sb.WriteString(fmt.Sprintf("<div class=\"role\">%s <span class=\"time\">%s</span></div>\n",
			roleLabel(msg.Role), formatTimestamp(msg.Timestamp)))

		for _, part := range msg.Parts {
			switch part.Type {
			case model.PartText:
				if part.Text != "" {
					sb.WriteString("<div class=\"content\">")
					sb.WriteString(formatHTMLContent(part.Text))
					sb.WriteString("</div>\n")
				}
			default:
				if summary := attachmentSummary(part); summary != "" {
					sb.WriteString(fmt.Sprintf("<div class=\"attachment\">&#128206; %s</div>\n",
						html.EscapeString(summary)))
				}
			}
		}

		for _, warning := range msg.Warnings {
			sb.WriteString(fmt.Sprintf("<div class=\"warning\">&#9888; %s</div>\n",
				html.EscapeString(warning)))
		}

		sb.WriteString("</div>\n")
	}

	sb.WriteString("</body>\n</html>\n")
	return []byte(sb.String()), nil
}

// FileExtension returns ".html".
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the HTML MIME type.
func (e *HTMLExporter) MimeType() string {
	return "text/html; charset=utf-8"
}

// =============================================================================
// CONTENT FORMATTING
// =============================================================================

// formatHTMLContent escapes message text, rendering fenced code blocks with
// syntax highlighting and plain text as paragraphs with preserved breaks.
func formatHTMLContent(text string) string {
	var sb strings.Builder
	last := 0

	for _, match := range codeBlockRe.FindAllStringSubmatchIndex(text, -1) {
		writeParagraphs(&sb, text[last:match[0]])

		language := text[match[2]:match[3]]
		code := text[match[4]:match[5]]
		sb.WriteString(highlightCode(code, language))

		last = match[1]
	}
	writeParagraphs(&sb, text[last:])

	return sb.String()
}

// writeParagraphs escapes plain text and converts newlines to breaks.
func writeParagraphs(sb *strings.Builder, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	escaped := html.EscapeString(text)
	sb.WriteString("<p>")
	sb.WriteString(strings.ReplaceAll(escaped, "\n", "<br>\n"))
	sb.WriteString("</p>\n")
}

// highlightCode applies syntax highlighting using the chroma library.
func highlightCode(code, language string) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get("monokai")
	if style == nil {
		style = chromaStyles.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return "<pre><code>" + html.EscapeString(code) + "</code></pre>\n"
	}

	var buf bytes.Buffer
	formatter := chromahtml.New(chromahtml.WithClasses(false))
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return "<pre><code>" + html.EscapeString(code) + "</code></pre>\n"
	}
	return buf.String()
}

// transcriptCSS is the embedded stylesheet for exported transcripts.
const transcriptCSS = `
body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; color: #1a1a2e; background: #fafafa; }
h1 { font-size: 1.4rem; }
.meta { color: #888; font-size: 0.85rem; }
.message { margin: 1rem 0; padding: 0.8rem 1rem; border-radius: 8px; }
.message.user { background: #e8eef7; }
.message.assistant { background: #ffffff; border: 1px solid #e0e0e0; }
.role { font-weight: 600; margin-bottom: 0.4rem; }
.time { font-weight: 400; color: #999; font-size: 0.8rem; }
.attachment { color: #555; font-size: 0.9rem; font-style: italic; margin: 0.3rem 0; }
.warning { color: #8a6d1a; font-size: 0.9rem; margin: 0.3rem 0; }
pre { border-radius: 6px; padding: 0.7rem; overflow-x: auto; }
`
