// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package attachment

import (
	"errors"
	"fmt"
)

// =============================================================================
// REJECTION ERROR
// =============================================================================

// RejectedError reports an attachment dropped by the acceptance policy.
type RejectedError struct {
	Filename     string
	DeclaredSize int64
	LimitBytes   int64
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("attachment %s rejected: %d bytes exceeds the %d MB limit",
		e.Filename, e.DeclaredSize, e.LimitBytes/1_000_000)
}

// Warning returns the user-visible form of the rejection. It names the file
// and the limit and nothing else.
func (e *RejectedError) Warning() string {
	return fmt.Sprintf("%s is too large (%.1f MB) – the limit is %d MB and it was not included.",
		e.Filename, float64(e.DeclaredSize)/1e6, e.LimitBytes/1_000_000)
}

// IsRejected checks if an error is an attachment rejection.
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}

// =============================================================================
// GUARD
// =============================================================================

// Guard validates attachments against the upload policy before any content
// is read. One limit applies uniformly to images and documents.
type Guard struct {
	limitBytes int64
}

// NewGuard creates a guard with the given limit in bytes.
func NewGuard(limitBytes int64) *Guard {
	return &Guard{limitBytes: limitBytes}
}

// LimitBytes returns the configured limit in bytes.
func (g *Guard) LimitBytes() int64 {
	return g.limitBytes
}

// Check validates the attachment's declared size against the policy.
// It never touches the attachment content: acceptance or rejection is
// decided purely on what the transport layer declared.
func (g *Guard) Check(att *Attachment) error {
	if att.DeclaredSize > g.limitBytes {
		return &RejectedError{
			Filename:     att.Filename,
			DeclaredSize: att.DeclaredSize,
			LimitBytes:   g.limitBytes,
		}
	}
	return nil
}
