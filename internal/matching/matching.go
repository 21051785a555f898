// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package matching normalizes a RecordedRequest into a canonical MatchingKey
// and derives the short content hash used to name cassette files.
//
// Every function here is pure: identical inputs always yield identical
// output, which is what lets the cassette store locate files by computing a
// filename instead of scanning a directory.
package matching

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/maruel/vcrproxy"
)

// ComputeKey derives the canonical MatchingKey for req.
//
// alwaysIgnoreHeaders and routeIgnore (which may be nil) together decide
// which headers, query parameters, and top-level JSON object body fields are
// excluded from the key. Form-urlencoded bodies are normalized but no field
// is removed from them.
func ComputeKey(req vcrproxy.RecordedRequest, alwaysIgnoreHeaders map[string]struct{}, routeIgnore *vcrproxy.RouteIgnoreConfig) vcrproxy.MatchingKey {
	var ignoreQuery, ignoreHeaders, ignoreBody []string
	if routeIgnore != nil {
		ignoreQuery = routeIgnore.QueryParams
		ignoreHeaders = routeIgnore.Headers
		ignoreBody = routeIgnore.BodyFields
	}

	ignoredQuerySet := toSet(ignoreQuery)
	filteredQuery := make(map[string][]string, len(req.Query))
	for k, v := range req.Query {
		if _, ok := ignoredQuerySet[k]; ok {
			continue
		}
		filteredQuery[k] = v
	}

	path := strings.ToLower(req.Path)
	if path != "/" {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}

	var contentType string
	if req.ContentType != nil {
		contentType = *req.ContentType
	}

	return vcrproxy.MatchingKey{
		Method:  strings.ToUpper(req.Method),
		Path:    path,
		Query:   normalizeQuery(filteredQuery),
		Headers: normalizeHeaders(req.Headers, alwaysIgnoreHeaders, ignoreHeaders),
		Body:    normalizeBody(req.Body, contentType, ignoreBody),
	}
}

// ComputeHash returns the first 8 hex characters of the SHA-256 of a
// canonical JSON encoding of key, with fields ordered method, path, query,
// body, headers.
func ComputeHash(key vcrproxy.MatchingKey) string {
	type hashOrder struct {
		Method  string  `json:"method"`
		Path    string  `json:"path"`
		Query   *string `json:"query"`
		Body    *string `json:"body"`
		Headers *string `json:"headers"`
	}
	raw, err := json.Marshal(hashOrder{
		Method:  key.Method,
		Path:    key.Path,
		Query:   key.Query,
		Body:    key.Body,
		Headers: key.Headers,
	})
	if err != nil {
		// Marshaling a MatchingKey (plain strings and *string) never fails.
		panic(fmt.Sprintf("matching: marshal key: %v", err))
	}
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%x", sum)[:8]
}

func toSet(items []string) map[string]struct{} {
	if len(items) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(items))
	for _, i := range items {
		m[i] = struct{}{}
	}
	return m
}

// normalizeQuery sorts each parameter's values, then the parameters
// themselves by name, and serializes with one occurrence per value --
// matching Python's urlencode(doseq=True) over a pre-sorted item list.
func normalizeQuery(query map[string][]string) *string {
	if len(query) == 0 {
		return nil
	}
	values := make(url.Values, len(query))
	for k, v := range query {
		sorted := append([]string(nil), v...)
		sort.Strings(sorted)
		values[k] = sorted
	}
	s := values.Encode()
	return &s
}

// normalizeHeaders lowercases header names, drops any in the union of
// alwaysIgnore and routeIgnore, and serializes the remainder sorted by key
// as "k1=v1&k2=v2" with no URL encoding.
func normalizeHeaders(headers map[string]string, alwaysIgnore map[string]struct{}, routeIgnore []string) *string {
	ignored := make(map[string]struct{}, len(alwaysIgnore)+len(routeIgnore))
	for k := range alwaysIgnore {
		ignored[strings.ToLower(k)] = struct{}{}
	}
	for _, h := range routeIgnore {
		ignored[strings.ToLower(h)] = struct{}{}
	}

	filtered := make(map[string]string, len(headers))
	for k, v := range headers {
		lk := strings.ToLower(k)
		if _, ok := ignored[lk]; ok {
			continue
		}
		filtered[lk] = v
	}
	if len(filtered) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filtered))
	for k := range filtered {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + filtered[k]
	}
	s := strings.Join(parts, "&")
	return &s
}

// normalizeBody canonicalizes the request body based on contentType. JSON
// objects have ignoreFields removed at the top level and are re-serialized
// with recursively sorted keys; form bodies are sorted by key; anything else
// passes through unchanged.
func normalizeBody(body *string, contentType string, ignoreFields []string) *string {
	if body == nil {
		return nil
	}

	if strings.Contains(contentType, "application/json") {
		if normalized, ok := normalizeJSONBody(*body, ignoreFields); ok {
			return &normalized
		}
		return body
	}

	if strings.Contains(contentType, "application/x-www-form-urlencoded") {
		normalized := normalizeFormBody(*body)
		return &normalized
	}

	return body
}

func normalizeJSONBody(body string, ignoreFields []string) (string, bool) {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var parsed any
	if err := dec.Decode(&parsed); err != nil {
		return "", false
	}

	if obj, ok := parsed.(map[string]any); ok {
		for _, f := range ignoreFields {
			delete(obj, f)
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(parsed); err != nil {
		return "", false
	}
	// json.Encoder.Encode appends a trailing newline; json.Marshal does not
	// and neither does Python's json.dumps.
	return strings.TrimSuffix(buf.String(), "\n"), true
}

func normalizeFormBody(body string) string {
	parsed, err := url.ParseQuery(body)
	if err != nil {
		return body
	}
	for k, v := range parsed {
		sorted := append([]string(nil), v...)
		sort.Strings(sorted)
		parsed[k] = sorted
	}
	return parsed.Encode()
}
