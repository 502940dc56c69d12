// ephemeral - single-page multimodal chat with nothing-persists semantics.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeranaias/ephemeral/internal/attachment"
	"github.com/jeranaias/ephemeral/internal/chat"
	"github.com/jeranaias/ephemeral/internal/config"
	"github.com/jeranaias/ephemeral/internal/extract"
	"github.com/jeranaias/ephemeral/internal/imaging"
	"github.com/jeranaias/ephemeral/internal/llm"
	"github.com/jeranaias/ephemeral/internal/prompt"
	"github.com/jeranaias/ephemeral/internal/server"
	"github.com/jeranaias/ephemeral/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	extractor := extract.NewClientWithConfig(&extract.ClientConfig{
		BaseURL: cfg.Extract.TikaURL,
		Timeout: cfg.Extract.Timeout.Duration,
	})

	llmClient := llm.NewClientWithConfig(&llm.ClientConfig{
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Options: &llm.Options{
			Temperature:   cfg.LLM.Temperature,
			TopK:          cfg.LLM.TopK,
			TopP:          cfg.LLM.TopP,
			RepeatPenalty: cfg.LLM.RepeatPenalty,
			NumCtx:        cfg.LLM.NumCtx,
		},
	})
	if forced, ok := cfg.VisionOverride(); ok {
		llmClient.ForceVision(forced)
		log.Printf("VISION_OVERRIDE | supports_vision=%t", forced)
	}

	template := prompt.NewTemplate(cfg.Prompt.SystemPromptPath)
	defer template.Close()

	assembler := prompt.NewAssembler(template, prompt.AssemblerConfig{
		DefaultUploadPrompt: cfg.Prompt.DefaultUploadPrompt,
		DocMaxChars:         cfg.Prompt.DocContextMaxChars,
		DocMaxCharsPerDoc:   cfg.Prompt.DocContextMaxCharsPerDoc,
	})

	pipeline := chat.NewPipeline(
		attachment.NewGuard(cfg.MaxUploadBytes()),
		extractor,
		imaging.NewNormalizer(cfg.Upload.MaxImageDimension),
		assembler,
		llmClient,
	)

	store := session.NewStore(session.StoreConfig{
		IdleTimeout:   cfg.Server.SessionIdleTimeout.Duration,
		ParseCacheTTL: cfg.Extract.ParseCacheTTL.Duration,
	})

	srv := server.NewServer(cfg, store, pipeline, llmClient, extractor)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Printf("SIGNAL_RECEIVED | signal=%s", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
