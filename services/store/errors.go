// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"errors"
	"fmt"
)

var (
	// ErrRunNotFound indicates no artifact exists for the requested run.
	ErrRunNotFound = errors.New("run artifact not found")

	// ErrMissingRoot indicates the store was created without a root
	// directory.
	ErrMissingRoot = errors.New("store root directory is required")
)

// StoreError wraps a filesystem failure with the operation and path that
// hit it.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ImmutableArtifactError reports an attempt to overwrite a finalized
// report. Final reports are written exactly once; any later write to the
// same path is a bug in the caller or a concurrent approval.
type ImmutableArtifactError struct {
	Path string
}

func (e *ImmutableArtifactError) Error() string {
	return fmt.Sprintf("final report %s already exists and is immutable", e.Path)
}

// IsImmutable reports whether err is, or wraps, an
// *ImmutableArtifactError.
func IsImmutable(err error) bool {
	var ie *ImmutableArtifactError
	return errors.As(err, &ie)
}
