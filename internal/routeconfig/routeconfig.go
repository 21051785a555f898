// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package routeconfig manages the per-route RouteMatchingOverride documents
// that declare which request fields a recording cares about, and which it
// ignores when computing a matching key.
package routeconfig

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/maruel/vcrproxy"
	"gopkg.in/yaml.v3"
)

var slugRe = regexp.MustCompile(`[^a-zA-Z0-9_\-]`)

func pathSlug(path string) string {
	slug := strings.Trim(path, "/")
	slug = strings.ReplaceAll(slug, "/", "_")
	slug = slugRe.ReplaceAllString(slug, "_")
	if slug == "" {
		return "root"
	}
	return slug
}

// Manager reads and writes route override documents under
// <cassettesDir>/_routes/<domain>/<METHOD>_<path-slug>.yaml.
type Manager struct {
	RoutesDir string
}

// New returns a Manager rooted at <cassettesDir>/_routes.
func New(cassettesDir string) *Manager {
	return &Manager{RoutesDir: filepath.Join(cassettesDir, "_routes")}
}

func (m *Manager) configPath(domain, method, path string) string {
	filename := fmt.Sprintf("%s_%s.yaml", strings.ToUpper(method), pathSlug(path))
	return filepath.Join(m.RoutesDir, domain, filename)
}

// AutoGenerate creates or updates the route override document for req's
// (method, path) under domain. On first call it writes a fresh document with
// empty ignore rules; on subsequent calls it merges the newly observed field
// names into the existing matched set without touching ignore.
func (m *Manager) AutoGenerate(domain string, req vcrproxy.RecordedRequest) (string, error) {
	path := m.configPath(domain, req.Method, req.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("routeconfig: create directory: %w", err)
	}

	bodyFields := extractBodyFields(req.Body, req.ContentType)
	queryParams := sortedKeys(req.Query)
	headers := sortedLowerKeys(req.Headers)

	existing, err := m.Load(domain, req.Method, req.Path)
	if err != nil {
		return "", err
	}

	var override vcrproxy.RouteMatchingOverride
	if existing != nil {
		override = *existing
		override.Matched.BodyFields = unionSorted(override.Matched.BodyFields, bodyFields)
		override.Matched.QueryParams = unionSorted(override.Matched.QueryParams, queryParams)
		override.Matched.Headers = unionSorted(override.Matched.Headers, headers)
	} else {
		override = vcrproxy.RouteMatchingOverride{
			Route: vcrproxy.RouteMatchRule{
				Method: strings.ToUpper(req.Method),
				Path:   req.Path,
			},
			Matched: vcrproxy.MatchedFields{
				QueryParams: queryParams,
				Headers:     headers,
				BodyFields:  bodyFields,
			},
		}
	}

	raw, err := yaml.Marshal(&override)
	if err != nil {
		return "", fmt.Errorf("routeconfig: marshal: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("routeconfig: write %s: %w", path, err)
	}
	return path, nil
}

// Load reads the route override document for (domain, method, path), or nil
// if none has been recorded yet.
func (m *Manager) Load(domain, method, path string) (*vcrproxy.RouteMatchingOverride, error) {
	configPath := m.configPath(domain, method, path)
	raw, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("routeconfig: read %s: %w", configPath, err)
	}
	var override vcrproxy.RouteMatchingOverride
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return nil, fmt.Errorf("routeconfig: parse %s: %w", configPath, err)
	}
	return &override, nil
}

// extractBodyFields returns the sorted top-level field names found in body,
// given its content type. Anything that isn't a JSON object or a form body
// yields no fields.
func extractBodyFields(body *string, contentType *string) []string {
	if body == nil || contentType == nil {
		return nil
	}
	ct := *contentType

	if strings.Contains(ct, "application/json") {
		var parsed any
		if err := json.Unmarshal([]byte(*body), &parsed); err == nil {
			if obj, ok := parsed.(map[string]any); ok {
				return sortedKeysAny(obj)
			}
		}
		return nil
	}

	if strings.Contains(ct, "application/x-www-form-urlencoded") {
		values, err := url.ParseQuery(*body)
		if err != nil {
			return nil
		}
		return sortedKeys(values)
	}

	return nil
}

func sortedKeys(m map[string][]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysAny(m map[string]any) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedLowerKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, strings.ToLower(k))
	}
	sort.Strings(keys)
	return keys
}

func unionSorted(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		set[s] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
