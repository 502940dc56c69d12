// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations, messages,
// and multimodal message content.
//
// A Message carries an ordered list of ContentPart values. Parts are a tagged
// union: plain text, extracted document text, or a base64-encoded image. The
// system message, when present, is always first and unique; the Conversation
// type enforces this.
//
// Nothing in this package performs I/O. Conversations live only in memory and
// are dropped when their owning session ends.
package model
