// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package extract provides the HTTP client for the external text-extraction
// service (an Apache-Tika-shaped API).
//
// The core depends only on the request/response contract: raw document bytes
// plus a media-type hint go in, plain UTF-8 text comes out. Which engine
// backs the endpoint is irrelevant here.
//
// Failures are typed (ExtractionError) and always attachment-scoped: one
// document that cannot be parsed never aborts the rest of a submission.
package extract
