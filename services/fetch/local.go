// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/achiyae/ReqEvo/pkg/logging"
)

// LocalFetcher reads a version history straight off the filesystem, for
// documents that were never tracked in git: either a directory whose
// files are the versions, or a file whose same-extension siblings are.
type LocalFetcher struct {
	logger *logging.Logger
}

// Fetch implements the backend contract. Files are ordered by name, so a
// v1/v2/v3 or 2025-01-10/2025-02-02 naming convention reads as history.
// Hidden files are skipped. No caching happens; the files are already
// local.
func (l *LocalFetcher) Fetch(ctx context.Context, locator string, _ string) ([]Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(locator)
	if err != nil {
		return nil, fmt.Errorf("locate document: %w", err)
	}

	dir := locator
	matchExt := ""
	if !info.IsDir() {
		dir = filepath.Dir(locator)
		matchExt = filepath.Ext(locator)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read version directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if matchExt != "" && filepath.Ext(entry.Name()) != matchExt {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	versions := make([]Version, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		text, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read version %s: %w", name, err)
		}
		versions = append(versions, Version{
			Index: len(versions) + 1,
			Ref:   strings.TrimSuffix(name, filepath.Ext(name)),
			Name:  name,
			Path:  path,
			Text:  string(text),
		})
	}

	l.logger.Debug("read local versions", "dir", dir, "count", len(versions))
	return versions, nil
}
