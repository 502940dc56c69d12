// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llm provides the HTTP client for the local Ollama-compatible
// language model API: streaming chat, health probing, and vision-capability
// detection. Requests carry the full conversation on every call; the model
// service holds no state between turns.
package llm
