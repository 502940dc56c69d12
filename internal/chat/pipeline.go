// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jeranaias/ephemeral/internal/attachment"
	"github.com/jeranaias/ephemeral/internal/extract"
	"github.com/jeranaias/ephemeral/internal/imaging"
	"github.com/jeranaias/ephemeral/internal/llm"
	"github.com/jeranaias/ephemeral/internal/model"
	"github.com/jeranaias/ephemeral/internal/prompt"
	"github.com/jeranaias/ephemeral/internal/session"
)

// =============================================================================
// PIPELINE
// =============================================================================

// Pipeline wires the per-turn processing chain: attachment screening,
// document extraction, image normalization, prompt assembly, and the
// streamed model response.
type Pipeline struct {
	guard       *attachment.Guard
	extractor   *extract.Client
	normalizer  *imaging.Normalizer
	assembler   *prompt.Assembler
	coordinator *Coordinator
	llmClient   *llm.Client
}

// NewPipeline assembles a pipeline from its stages.
func NewPipeline(
	guard *attachment.Guard,
	extractor *extract.Client,
	normalizer *imaging.Normalizer,
	assembler *prompt.Assembler,
	llmClient *llm.Client,
) *Pipeline {
	return &Pipeline{
		guard:       guard,
		extractor:   extractor,
		normalizer:  normalizer,
		assembler:   assembler,
		coordinator: NewCoordinator(llmClient),
		llmClient:   llmClient,
	}
}

// Coordinator exposes the turn coordinator, mainly for tests.
func (p *Pipeline) Coordinator() *Coordinator {
	return p.coordinator
}

// HandleTurn processes one user submission end to end. Attachment failures
// are per-attachment warnings, never turn failures; the turn itself fails
// only if the user message cannot be committed or the model stream errors.
// The returned error from a stream failure is already sanitized.
func (p *Pipeline) HandleTurn(ctx context.Context, sess *session.Session, text string, atts []attachment.Attachment, events Events) error {
	withVision := p.llmClient.SupportsVision(ctx)

	parts, warnings := p.processAttachments(ctx, sess, atts, withVision)

	msgParts := make([]model.ContentPart, 0, len(parts)+1)
	if text != "" {
		msgParts = append(msgParts, model.TextPart(text))
	}
	msgParts = append(msgParts, parts...)

	if len(msgParts) == 0 && len(warnings) == 0 {
		return fmt.Errorf("empty submission")
	}

	userMsg := model.NewUserMessage(msgParts...)
	userMsg.Warnings = warnings
	if err := sess.AppendUserTurn(userMsg); err != nil {
		return err
	}

	for _, w := range warnings {
		events.Warning(w)
	}

	// Everything attachments contributed is now part of the committed user
	// message; assembly sees only conversation state.
	messages := p.assembler.Assemble(sess.Snapshot(), withVision)
	_, err := p.coordinator.Stream(ctx, sess, messages, events)
	return err
}

// processAttachments screens and converts attachments in upload order,
// returning documents before images. Each failed attachment contributes
// exactly one warning and is otherwise dropped.
func (p *Pipeline) processAttachments(ctx context.Context, sess *session.Session, atts []attachment.Attachment, withVision bool) ([]model.ContentPart, []string) {
	var docParts, imageParts []model.ContentPart
	var warnings []string

	for i := range atts {
		att := &atts[i]
		if err := p.guard.Check(att); err != nil {
			var rejected *attachment.RejectedError
			if errors.As(err, &rejected) {
				log.Printf("ATTACHMENT_REJECTED | filename=%s declared_size=%d", att.Filename, att.DeclaredSize)
				warnings = append(warnings, rejected.Warning())
				continue
			}
			warnings = append(warnings, fmt.Sprintf("%s could not be processed and was not included.", att.Filename))
			continue
		}

		switch att.Category() {
		case attachment.CategoryImage:
			if !withVision {
				warnings = append(warnings, fmt.Sprintf("The current model cannot view images – %s was not included.", att.Filename))
				continue
			}
			part, warning := p.processImage(att)
			if warning != "" {
				warnings = append(warnings, warning)
				continue
			}
			imageParts = append(imageParts, part)

		default:
			part, warning := p.processDocument(ctx, sess, att)
			if warning != "" {
				warnings = append(warnings, warning)
				continue
			}
			if limit := p.assembler.DocCharLimit(); part.CharCount > limit {
				warnings = append(warnings, fmt.Sprintf("%s is long – only the first %d characters are included.", att.Filename, limit))
			}
			docParts = append(docParts, part)
		}
	}

	return append(docParts, imageParts...), warnings
}

// processDocument reads a document attachment and extracts its text,
// consulting the session's parse cache first.
func (p *Pipeline) processDocument(ctx context.Context, sess *session.Session, att *attachment.Attachment) (model.ContentPart, string) {
	data, err := att.ReadAll(p.guard.LimitBytes())
	if err != nil {
		log.Printf("ATTACHMENT_READ_FAILED | filename=%s err=%v", att.Filename, err)
		return model.ContentPart{}, fmt.Sprintf("%s could not be read and was not included.", att.Filename)
	}

	key := extract.Key(data)
	if cached, ok := sess.ParseCache().Get(key); ok {
		return model.DocumentPart(att.Filename, cached.Text), ""
	}

	result, err := p.extractor.Extract(ctx, data, att.MIMEType, att.Filename)
	if err != nil {
		log.Printf("EXTRACT_FAILED | filename=%s err=%v", att.Filename, err)
		if ee, ok := extract.AsExtractionError(err); ok && ee.Kind == extract.KindUnsupportedType {
			return model.ContentPart{}, fmt.Sprintf("%s is not a supported document type and was not included.", att.Filename)
		}
		return model.ContentPart{}, fmt.Sprintf("Text could not be extracted from %s – it was not included.", att.Filename)
	}

	sess.ParseCache().Put(key, result)
	return model.DocumentPart(att.Filename, result.Text), ""
}

// processImage reads and normalizes an image attachment.
func (p *Pipeline) processImage(att *attachment.Attachment) (model.ContentPart, string) {
	data, err := att.ReadAll(p.guard.LimitBytes())
	if err != nil {
		log.Printf("ATTACHMENT_READ_FAILED | filename=%s err=%v", att.Filename, err)
		return model.ContentPart{}, fmt.Sprintf("%s could not be read and was not included.", att.Filename)
	}

	img, err := p.normalizer.Normalize(data, att.MIMEType, att.Filename)
	if err != nil {
		log.Printf("IMAGE_DECODE_FAILED | filename=%s err=%v", att.Filename, err)
		return model.ContentPart{}, fmt.Sprintf("%s could not be decoded as an image and was not included.", att.Filename)
	}

	return model.ImagePart(img.Filename, img.MIMEType, img.Base64Data), ""
}
