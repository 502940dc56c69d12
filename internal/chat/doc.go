// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat runs one conversation turn end to end: attachments are
// screened and processed in upload order, the user message is committed,
// the prompt is assembled, and the model's streamed response is relayed
// delta by delta. A turn that fails mid-stream leaves the conversation
// with the user message and its warnings, and nothing else.
package chat
