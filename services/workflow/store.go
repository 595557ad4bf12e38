// Copyright (C) 2025 The ReqEvo Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// domainFileName is the state record inside each domain directory.
const domainFileName = "domain.json"

// DomainStore persists Domain state records under the workspace root.
//
// # Description
//
// One JSON file per Domain at domains/<id>/domain.json. Writes go
// through a temp file and rename so a crash never leaves a truncated
// record behind.
//
// # Thread Safety
//
// Safe for concurrent use across Domains. Writes to the SAME Domain
// must be serialized by the caller (the controller's per-domain mutex).
type DomainStore struct {
	root string
}

// NewDomainStore validates the workspace root and returns a store.
func NewDomainStore(root string) (*DomainStore, error) {
	if root == "" {
		return nil, ErrMissingStore
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %s: %w", root, err)
	}
	return &DomainStore{root: abs}, nil
}

// DomainDir returns the directory holding one Domain's state and
// artifacts.
func (s *DomainStore) DomainDir(id string) string {
	return filepath.Join(s.root, "domains", id)
}

func (s *DomainStore) domainPath(id string) string {
	return filepath.Join(s.DomainDir(id), domainFileName)
}

// Exists reports whether a Domain record is on disk.
func (s *DomainStore) Exists(id string) bool {
	_, err := os.Stat(s.domainPath(id))
	return err == nil
}

// Save writes the Domain record atomically.
func (s *DomainStore) Save(d *Domain) error {
	if d.ID == "" {
		return fmt.Errorf("domain record has no id")
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling domain %s: %w", d.ID, err)
	}

	dir := s.DomainDir(d.ID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating domain directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-domain-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing domain %s: %w", d.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file for domain %s: %w", d.ID, err)
	}
	if err := os.Chmod(tmpName, 0640); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("setting permissions for domain %s: %w", d.ID, err)
	}
	if err := os.Rename(tmpName, s.domainPath(d.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing domain record %s: %w", d.ID, err)
	}
	return nil
}

// Load reads one Domain record.
//
// # Outputs
//
//   - *Domain: the persisted record.
//   - error: *NotFoundError when no record exists for the id.
func (s *DomainStore) Load(id string) (*Domain, error) {
	data, err := os.ReadFile(s.domainPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Domain: id}
		}
		return nil, fmt.Errorf("reading domain %s: %w", id, err)
	}

	var d Domain
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing domain record %s: %w", id, err)
	}
	return &d, nil
}

// List returns every persisted Domain, ordered by id. Directories
// without a domain.json are skipped.
func (s *DomainStore) List() ([]*Domain, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "domains"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing domains: %w", err)
	}

	var domains []*Domain
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		d, err := s.Load(entry.Name())
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		domains = append(domains, d)
	}

	sort.Slice(domains, func(i, j int) bool { return domains[i].ID < domains[j].ID })
	return domains, nil
}

// AllocateID turns a seed (operator-chosen name, or the locator) into a
// workspace-unique Domain id, suffixing on collision.
func (s *DomainStore) AllocateID(seed string) (string, error) {
	slug := Slugify(seed)
	if !s.Exists(slug) {
		return slug, nil
	}
	for i := 2; i < 1000; i++ {
		candidate := fmt.Sprintf("%s-%d", slug, i)
		if !s.Exists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free id for %q after 999 attempts", slug)
}
