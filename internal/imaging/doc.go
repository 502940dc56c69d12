// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package imaging prepares uploaded images for a vision model: it decodes
// the common web formats, downsizes anything whose long edge exceeds the
// configured bound, and yields base64 payloads ready for the model request.
// Images that fit within the bound pass through byte-for-byte.
package imaging
