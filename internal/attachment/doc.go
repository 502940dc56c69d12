// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package attachment defines uploaded attachments and the acceptance policy
// applied to them before any content is read.
//
// The ordering matters: the guard inspects only the size and type the
// transport layer declared. An attachment that fails the policy is rejected
// without its content-read primitive ever being invoked, so an oversized
// upload can never exhaust memory. Reading first and checking second is a
// defect, not an implementation choice.
package attachment
