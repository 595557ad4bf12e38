// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fetch

import (
	"errors"
	"fmt"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrTooFewVersions indicates the locator resolved to fewer than two
	// versions, so there is nothing to compare.
	ErrTooFewVersions = errors.New("need at least two document versions to compare")

	// ErrUnsupportedLocator indicates the locator matches none of the
	// supported forms (GitHub blob URL, gs:// URL, local path).
	ErrUnsupportedLocator = errors.New("unsupported document locator")

	// ErrNoHistory indicates the repository has no commits touching the
	// requested file.
	ErrNoHistory = errors.New("no history found for document")
)

// =============================================================================
// Typed Errors
// =============================================================================

// FetchError wraps any failure to retrieve a document's version history.
// The locator is preserved so callers can report which source failed
// without threading it separately.
type FetchError struct {
	Locator string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %q: %v", e.Locator, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// wrapFetch wraps err in a *FetchError unless it already is one.
func wrapFetch(locator string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &FetchError{Locator: locator, Err: err}
}
