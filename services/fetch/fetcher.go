// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fetch retrieves the version history of a requirements document
// from one of three sources: a file tracked in git (named by a GitHub
// blob URL or a path inside a local worktree), a local directory of
// versioned files, or a Google Cloud Storage prefix. Remote histories
// are cached on disk per domain so repeat runs skip the network.
package fetch

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/achiyae/ReqEvo/pkg/logging"
)

// Version is one entry in a document's history, oldest first.
type Version struct {
	// Index is the 1-based position in the history.
	Index int

	// Ref identifies the version at its source: a short commit hash, a
	// GCS object generation, or a file name stem.
	Ref string

	// Name is the display name, usually the source file name.
	Name string

	// Path is the cached copy on disk, empty when the version was read
	// in place.
	Path string

	// Author and Date come from git history when available.
	Author string
	Date   string

	// Text is the full document content.
	Text string
}

// Fetcher resolves a locator into the document's version history.
//
// Implementations must return at least two versions or fail with a
// *FetchError wrapping ErrTooFewVersions; cacheDir may be empty to
// disable caching.
type Fetcher interface {
	Fetch(ctx context.Context, locator string, cacheDir string) ([]Version, error)
}

// =============================================================================
// Dispatching Fetcher
// =============================================================================

// Config configures a MultiFetcher.
type Config struct {
	// CredentialsFile is an optional service account key for GCS
	// locators. When empty, application default credentials apply.
	CredentialsFile string

	// Logger for fetch diagnostics. Default: logging.Default().
	Logger *logging.Logger
}

// MultiFetcher routes a locator to the matching backend:
//
//   - "gs://bucket/prefix" lists the object versions under the prefix
//   - "https://github.com/owner/repo/blob/branch/path" walks git history
//   - a local file inside a git worktree walks its git history
//   - a local file outside git falls back to same-extension siblings
//   - a local directory treats its files, sorted by name, as history
type MultiFetcher struct {
	git    *GitFetcher
	local  *LocalFetcher
	gcs    *GCSFetcher
	logger *logging.Logger
}

// New builds a MultiFetcher with all three backends wired.
func New(cfg Config) *MultiFetcher {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &MultiFetcher{
		git:    &GitFetcher{logger: logger},
		local:  &LocalFetcher{logger: logger},
		gcs:    &GCSFetcher{credentialsFile: cfg.CredentialsFile, logger: logger},
		logger: logger,
	}
}

// Fetch implements Fetcher.
func (f *MultiFetcher) Fetch(ctx context.Context, locator string, cacheDir string) ([]Version, error) {
	versions, err := f.dispatch(ctx, locator, cacheDir)
	if err != nil {
		return nil, wrapFetch(locator, err)
	}
	if len(versions) < 2 {
		return nil, wrapFetch(locator,
			fmt.Errorf("%w: found %d", ErrTooFewVersions, len(versions)))
	}

	f.logger.Info("fetched document history",
		"locator", locator,
		"versions", len(versions))
	return versions, nil
}

func (f *MultiFetcher) dispatch(ctx context.Context, locator string, cacheDir string) ([]Version, error) {
	switch {
	case strings.HasPrefix(locator, "gs://"):
		return f.gcs.Fetch(ctx, locator, cacheDir)

	case isGitHubBlobURL(locator):
		return f.git.Fetch(ctx, locator, cacheDir)

	case strings.HasPrefix(locator, "http://"), strings.HasPrefix(locator, "https://"):
		return nil, fmt.Errorf("%w: only github.com blob URLs are supported, got %q",
			ErrUnsupportedLocator, locator)
	}

	info, err := os.Stat(locator)
	if err != nil {
		return nil, fmt.Errorf("locate document: %w", err)
	}
	if info.IsDir() {
		return f.local.Fetch(ctx, locator, cacheDir)
	}
	if f.git.InsideWorkTree(ctx, locator) {
		return f.git.FetchWorkTree(ctx, locator, cacheDir)
	}
	return f.local.Fetch(ctx, locator, cacheDir)
}
