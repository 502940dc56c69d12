// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP surface for the chat service.
//
// Endpoints:
//   - GET  /                       - Single-page chat UI
//   - POST /api/chat               - Submit a turn (multipart), streamed reply (SSE)
//   - POST /api/conversation/clear - Destroy the conversation immediately
//   - GET  /api/transcript         - Conversation state for UI rebuilds
//   - GET  /api/export             - Download transcript (markdown or html)
//   - GET  /health                 - Service and dependency health
//
// There is no login and no account state; a cookie-scoped in-memory session
// is the only identity a visitor has.
package server
