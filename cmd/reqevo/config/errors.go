// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import "fmt"

// ConfigurationError reports an unusable configuration: a missing
// credential, an unreadable file, or a value that fails validation. It
// is raised before any Domain-level state is touched.
type ConfigurationError struct {
	// Field names the offending setting, or "config" for file-level
	// problems.
	Field string

	// Reason describes what is wrong and, where possible, how to fix it.
	Reason string

	// Wrapped is the underlying cause, may be nil.
	Wrapped error
}

func (e *ConfigurationError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("configuration %s: %s: %v", e.Field, e.Reason, e.Wrapped)
	}
	return fmt.Sprintf("configuration %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Wrapped
}
