// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session holds per-visitor conversation state in process memory
// only. A session owns its conversation, its in-flight assistant turn, and
// its caches; nothing it contains ever touches disk, and Clear zeroes all
// of it synchronously. The Store keyed by opaque session ID evicts idle
// sessions so an abandoned tab cannot pin a conversation in memory.
package session
