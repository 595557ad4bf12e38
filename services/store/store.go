// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists analysis artifacts under the workspace:
//
//	<root>/domains/<id>/runs/run_0001.json              structured results
//	<root>/domains/<id>/reports/run_0001_editable.html  editable report per run
//	<root>/domains/<id>/reports/final.html              immutable approved report
//	<root>/domains/<id>/versions/                       fetched document cache
//
// Artifacts are plain files so a workspace survives restarts, diffs
// cleanly, and can be inspected with nothing but a browser and a pager.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/achiyae/ReqEvo/services/analysis"
)

// ReportKind distinguishes the one report that may be rewritten from the
// one that never is.
type ReportKind string

const (
	// KindEditable is the per-run report carrying the feedback form.
	KindEditable ReportKind = "editable"

	// KindFinal is the approved report, written exactly once.
	KindFinal ReportKind = "final"
)

// Store reads and writes artifacts for all domains under one root.
//
// # Thread Safety
//
// Store is safe for concurrent use. Writes go to a temp file in the
// target directory followed by a rename, so readers never observe a
// half-written artifact.
type Store struct {
	root string
}

// New validates the root and returns a Store. The directory tree is
// created lazily as artifacts are written.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, ErrMissingRoot
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &StoreError{Op: "resolve", Path: root, Err: err}
	}
	return &Store{root: abs}, nil
}

// Root returns the workspace root the store was created with.
func (s *Store) Root() string {
	return s.root
}

// DomainDir returns the directory holding everything for one domain.
func (s *Store) DomainDir(domainID string) string {
	return filepath.Join(s.root, "domains", domainID)
}

// VersionsDir returns the fetched-document cache directory for a domain.
func (s *Store) VersionsDir(domainID string) string {
	return filepath.Join(s.DomainDir(domainID), "versions")
}

// RunPath returns where the structured result of one run lives.
func (s *Store) RunPath(domainID string, seq int) string {
	return filepath.Join(s.DomainDir(domainID), "runs", fmt.Sprintf("run_%04d.json", seq))
}

// ReportPath returns where a rendered report lives. Editable reports are
// one file per run; the final report is a single well-known name so a
// reviewer can always find the approved copy.
func (s *Store) ReportPath(domainID string, seq int, kind ReportKind) string {
	reports := filepath.Join(s.DomainDir(domainID), "reports")
	if kind == KindFinal {
		return filepath.Join(reports, "final.html")
	}
	return filepath.Join(reports, fmt.Sprintf("run_%04d_editable.html", seq))
}

// =============================================================================
// Run Artifacts
// =============================================================================

// SaveRunJSON persists the structured result of one run and returns the
// path written. Re-rendering the same run overwrites in place; runs are
// superseded by higher sequence numbers, never edited across sequences.
func (s *Store) SaveRunJSON(domainID string, seq int, result *analysis.Result) (string, error) {
	path := s.RunPath(domainID, seq)
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", &StoreError{Op: "marshal", Path: path, Err: err}
	}
	if err := s.writeAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// LoadRunJSON reads the structured result of one run back.
func (s *Store) LoadRunJSON(domainID string, seq int) (*analysis.Result, error) {
	path := s.RunPath(domainID, seq)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &StoreError{Op: "load", Path: path, Err: ErrRunNotFound}
		}
		return nil, &StoreError{Op: "load", Path: path, Err: err}
	}
	var result analysis.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &StoreError{Op: "decode", Path: path, Err: err}
	}
	return &result, nil
}

// =============================================================================
// Report Artifacts
// =============================================================================

// SaveReport persists a rendered report and returns the path written.
// Writing KindFinal when a final report already exists fails with
// *ImmutableArtifactError and leaves the existing file untouched.
func (s *Store) SaveReport(domainID string, seq int, html string, kind ReportKind) (string, error) {
	path := s.ReportPath(domainID, seq, kind)
	if kind == KindFinal {
		if _, err := os.Stat(path); err == nil {
			return "", &ImmutableArtifactError{Path: path}
		}
	}
	if err := s.writeAtomic(path, []byte(html)); err != nil {
		return "", err
	}
	return path, nil
}

// LoadReport reads a rendered report back.
func (s *Store) LoadReport(domainID string, seq int, kind ReportKind) (string, error) {
	path := s.ReportPath(domainID, seq, kind)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &StoreError{Op: "load", Path: path, Err: err}
	}
	return string(data), nil
}

// HasFinalReport reports whether the domain has been approved already.
func (s *Store) HasFinalReport(domainID string) bool {
	_, err := os.Stat(s.ReportPath(domainID, 0, KindFinal))
	return err == nil
}

// writeAtomic writes data to path via a sibling temp file and a rename.
func (s *Store) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return &StoreError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return &StoreError{Op: "create", Path: dir, Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &StoreError{Op: "write", Path: tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &StoreError{Op: "close", Path: tmpName, Err: err}
	}
	if err := os.Chmod(tmpName, 0o640); err != nil {
		os.Remove(tmpName)
		return &StoreError{Op: "chmod", Path: tmpName, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &StoreError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
