// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt builds the message list sent to the model: the rendered
// system prompt first, then the conversation history with document text
// inlined as labeled blocks and images attached as base64 payloads. The
// system prompt comes from a template file with live reload, falling back
// to a built-in default.
package prompt
