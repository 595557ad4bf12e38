// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package feedback

import "errors"

var (
	// ErrMissingController means Config.Controller was nil.
	ErrMissingController = errors.New("feedback: controller is required")

	// ErrMissingArtifacts means Config.Artifacts was nil.
	ErrMissingArtifacts = errors.New("feedback: artifact store is required")

	// ErrNotStarted means Serve was called before Start bound a listener.
	ErrNotStarted = errors.New("feedback: server not started")
)
