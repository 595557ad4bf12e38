// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrNoChoices indicates the model returned an empty choice list.
	ErrNoChoices = errors.New("model returned no choices")

	// ErrEmptyResponse indicates the model returned a choice with no
	// content.
	ErrEmptyResponse = errors.New("model returned empty content")

	// ErrMissingAPIKey indicates the engine was constructed without a
	// sealed credential.
	ErrMissingAPIKey = errors.New("api key is required")
)

// =============================================================================
// Typed Errors
// =============================================================================

// AnalysisError wraps a failure of the model call itself: transport
// errors, provider errors, and malformed transport-level responses. The
// run that hit it is marked failed, never retried silently.
type AnalysisError struct {
	// Model is the model name the request was sent with.
	Model string

	// Err is the underlying cause.
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis with %s failed: %v", e.Model, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// SchemaError reports a model response that arrived but does not satisfy
// the response contract: unparseable JSON, an unknown reason kind, an
// out-of-range or duplicate diff id, or a missing explanation.
//
// Violations holds one human-readable line per problem so the failure
// message can name everything wrong at once.
type SchemaError struct {
	Violations []string

	// Err carries the decode error when the body was not JSON at all.
	Err error
}

func (e *SchemaError) Error() string {
	if len(e.Violations) == 0 && e.Err != nil {
		return fmt.Sprintf("model response failed schema validation: %v", e.Err)
	}
	return fmt.Sprintf("model response failed schema validation: %s",
		strings.Join(e.Violations, "; "))
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// IsSchemaError reports whether err is, or wraps, a *SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}
