// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"

	"github.com/achiyae/ReqEvo/cmd/reqevo/config"
	"github.com/achiyae/ReqEvo/services/analysis"
	"github.com/achiyae/ReqEvo/services/fetch"
	"github.com/achiyae/ReqEvo/services/store"
	"github.com/achiyae/ReqEvo/services/workflow"
)

// Process exit codes, stable for scripting.
const (
	exitOK       = 0
	exitGeneric  = 1
	exitConfig   = 2
	exitFetch    = 3
	exitAnalysis = 4
	exitState    = 5
)

// exitCodeFor maps an error chain to its exit code. The first matching
// category in the chain wins; anything unrecognized is generic.
func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}

	var (
		confErr      *config.ConfigurationError
		fetchErr     *fetch.FetchError
		analysisErr  *analysis.AnalysisError
		schemaErr    *analysis.SchemaError
		staleErr     *workflow.StaleRunError
		finalizedErr *workflow.AlreadyFinalizedError
		invalidErr   *workflow.InvalidStateError
		malformedErr *workflow.MalformedSubmissionError
		capErr       *workflow.IterationLimitError
		lockErr      *workflow.LockHeldError
		notFoundErr  *workflow.NotFoundError
		immutableErr *store.ImmutableArtifactError
		storeErr     *store.StoreError
	)

	switch {
	case errors.As(err, &confErr):
		return exitConfig
	case errors.As(err, &fetchErr):
		return exitFetch
	case errors.As(err, &analysisErr), errors.As(err, &schemaErr):
		return exitAnalysis
	case errors.As(err, &staleErr),
		errors.As(err, &finalizedErr),
		errors.As(err, &invalidErr),
		errors.As(err, &malformedErr),
		errors.As(err, &capErr),
		errors.As(err, &lockErr),
		errors.As(err, &notFoundErr),
		errors.As(err, &immutableErr),
		errors.As(err, &storeErr):
		return exitState
	default:
		return exitGeneric
	}
}
