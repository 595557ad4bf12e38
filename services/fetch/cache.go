// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fetch

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// cacheFileRe matches cached version files: a zero-padded index, the
// source ref, and the original extension, e.g. "v0003_9fe2c1a.md".
var cacheFileRe = regexp.MustCompile(`^v(\d{4})_(.+?)(\.[^.]*)?$`)

// cacheVersions writes each version to its own file under dir and fills
// in Version.Path. The zero-padded index keeps lexical order equal to
// history order, so a later load never shuffles versions.
func cacheVersions(dir string, versions []Version) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create version cache: %w", err)
	}
	for i := range versions {
		v := &versions[i]
		ext := filepath.Ext(v.Name)
		name := fmt.Sprintf("v%04d_%s%s", v.Index, sanitizeRef(v.Ref), ext)
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(v.Text), 0o640); err != nil {
			return fmt.Errorf("write cached version %s: %w", name, err)
		}
		v.Path = path
	}
	return nil
}

// loadCachedVersions reads a previously written cache. It reports ok only
// when the directory holds at least two well-formed version files, so a
// partial cache falls through to a fresh fetch.
func loadCachedVersions(dir string) ([]Version, bool) {
	if dir == "" {
		return nil, false
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, false
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if cacheFileRe.MatchString(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	if len(names) < 2 {
		return nil, false
	}
	sort.Strings(names)

	versions := make([]Version, 0, len(names))
	for i, name := range names {
		m := cacheFileRe.FindStringSubmatch(name)
		path := filepath.Join(dir, name)
		text, err := os.ReadFile(path)
		if err != nil {
			return nil, false
		}
		versions = append(versions, Version{
			Index: i + 1,
			Ref:   m[2],
			Name:  name,
			Path:  path,
			Text:  string(text),
		})
	}
	return versions, true
}

// sanitizeRef strips path separators and whitespace so a ref is always a
// safe file name component.
func sanitizeRef(ref string) string {
	ref = strings.TrimSpace(ref)
	replacer := strings.NewReplacer("/", "-", "\\", "-", " ", "_", ":", "-")
	ref = replacer.Replace(ref)
	if ref == "" {
		ref = "unknown"
	}
	return ref
}
