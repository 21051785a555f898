// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package cassette persists and locates Cassette files on disk.
//
// The on-disk layout is one directory per upstream domain, one file per
// MatchingKey. The filename is the sole locator: Lookup never scans a
// directory, it computes the filename from the key and opens it directly.
package cassette

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/maruel/vcrproxy"
	"github.com/maruel/vcrproxy/internal/matching"
)

// ErrCorrupt is returned by Lookup when a cassette file exists but fails to
// unmarshal. Callers must treat this as distinct from "not found": the file
// is present but unusable.
var ErrCorrupt = errors.New("cassette: malformed cassette file")

var slugRe = regexp.MustCompile(`[^a-zA-Z0-9_\-]`)

// pathSlug converts a URL path into a filesystem-safe fragment, matching the
// reference implementation: strip leading/trailing slashes, replace internal
// slashes with underscores, and replace anything else unsafe with an
// underscore. An empty result (the root path) becomes "root".
func pathSlug(path string) string {
	slug := strings.Trim(path, "/")
	slug = strings.ReplaceAll(slug, "/", "_")
	slug = slugRe.ReplaceAllString(slug, "_")
	if slug == "" {
		return "root"
	}
	return slug
}

// OnWritten is invoked after a cassette is successfully persisted. Store
// never performs network I/O itself; internal/hooks supplies this callback
// to fire hook_on_cassette_written.
type OnWritten func(domain, path, hash string)

// Store is a content-addressed cassette directory.
type Store struct {
	// Dir is the root cassettes directory, one subdirectory per domain.
	Dir string
	// Overwrite controls whether Save replaces an existing file. When false,
	// Save silently keeps the first recording for a given key.
	Overwrite bool
	// OnWritten, if non-nil, is called after every Save that writes a file.
	// It is not called when Overwrite is false and the file already exists.
	OnWritten OnWritten
}

// New returns a Store rooted at dir.
func New(dir string, overwrite bool) *Store {
	return &Store{Dir: dir, Overwrite: overwrite}
}

func (s *Store) domainDir(domain string) string {
	return filepath.Join(s.Dir, domain)
}

func (s *Store) filename(key vcrproxy.MatchingKey) string {
	return fmt.Sprintf("%s_%s_%s.json", key.Method, pathSlug(key.Path), matching.ComputeHash(key))
}

// Save writes c under the filename derived from key, creating the domain
// directory if needed. If Overwrite is false and the target file already
// exists, Save is a no-op and returns the existing path. Returns the full
// path written (or already present).
func (s *Store) Save(c vcrproxy.Cassette, key vcrproxy.MatchingKey) (string, error) {
	domainDir := s.domainDir(c.Meta.Domain)
	if err := os.MkdirAll(domainDir, 0o755); err != nil {
		return "", fmt.Errorf("cassette: create domain directory: %w", err)
	}

	name := s.filename(key)
	path := filepath.Join(domainDir, name)

	if !s.Overwrite {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	raw, err := json.MarshalIndent(&c, "", "  ")
	if err != nil {
		return "", fmt.Errorf("cassette: marshal: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("cassette: write %s: %w", path, err)
	}

	if s.OnWritten != nil {
		s.OnWritten(c.Meta.Domain, path, matching.ComputeHash(key))
	}
	return path, nil
}

// Lookup returns the cassette matching (domain, key), nil if no such file
// exists, or ErrCorrupt if the file exists but cannot be parsed.
func (s *Store) Lookup(domain string, key vcrproxy.MatchingKey) (*vcrproxy.Cassette, error) {
	path := filepath.Join(s.domainDir(domain), s.filename(key))
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cassette: read %s: %w", path, err)
	}

	var c vcrproxy.Cassette
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return &c, nil
}

// List returns the sorted cassette filenames for one domain.
func (s *Store) List(domain string) ([]string, error) {
	return globSorted(s.domainDir(domain))
}

// ListAll returns the sorted cassette paths across every domain, relative to
// Dir.
func (s *Store) ListAll() ([]string, error) {
	var out []string
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cassette: list all: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		files, err := globSorted(filepath.Join(s.Dir, e.Name()))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			out = append(out, filepath.Join(e.Name(), f))
		}
	}
	sort.Strings(out)
	return out, nil
}

func globSorted(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cassette: list %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// Delete removes one cassette by domain and ID (the filename without the
// .json extension). Returns whether a file was actually removed.
func (s *Store) Delete(domain, id string) (bool, error) {
	path := filepath.Join(s.domainDir(domain), id+".json")
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("cassette: delete %s: %w", path, err)
	}
	return true, nil
}

// DeleteDomain removes every cassette under domain and returns the count
// removed.
func (s *Store) DeleteDomain(domain string) (int, error) {
	files, err := s.List(domain)
	if err != nil {
		return 0, err
	}
	domainDir := s.domainDir(domain)
	for _, f := range files {
		if err := os.Remove(filepath.Join(domainDir, f)); err != nil && !os.IsNotExist(err) {
			return 0, fmt.Errorf("cassette: delete %s: %w", f, err)
		}
	}
	return len(files), nil
}

// DeleteAll removes every cassette across every domain and returns the count
// removed.
func (s *Store) DeleteAll() (int, error) {
	files, err := s.ListAll()
	if err != nil {
		return 0, err
	}
	for _, f := range files {
		if err := os.Remove(filepath.Join(s.Dir, f)); err != nil && !os.IsNotExist(err) {
			return 0, fmt.Errorf("cassette: delete %s: %w", f, err)
		}
	}
	return len(files), nil
}
