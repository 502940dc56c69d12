// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sanitize keeps backend failure detail out of user-facing output.
// Full errors go to the server log; users see a generic one-liner naming
// only which service failed. Hostnames, ports, and driver internals never
// cross the boundary.
package sanitize

import (
	"errors"
	"log"
)

// Service names used in user-facing messages.
const (
	ServiceLanguageModel = "language model"
	ServiceExtraction    = "document reader"
)

// UserFacingError carries a message safe to show in the conversation.
type UserFacingError struct {
	Service string
	cause   error
}

// Error returns the generic user-facing message.
func (e *UserFacingError) Error() string {
	return "An error occurred while contacting the " + e.Service + ". Try again."
}

// Unwrap exposes the original error for server-side inspection only.
// Callers must not render the unwrapped error to users.
func (e *UserFacingError) Unwrap() error {
	return e.cause
}

// External logs the full error server-side and returns the sanitized
// replacement. The returned error's message is the complete user-visible
// text; nothing from err leaks into it.
func External(service string, err error) *UserFacingError {
	log.Printf("EXTERNAL_ERROR | service=%s err=%v", service, err)
	return &UserFacingError{Service: service, cause: err}
}

// IsUserFacing reports whether err is already sanitized.
func IsUserFacing(err error) (*UserFacingError, bool) {
	var ue *UserFacingError
	ok := errors.As(err, &ue)
	return ue, ok
}
