// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package routeconfig

import (
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/maruel/vcrproxy"
	"gopkg.in/yaml.v3"
)

func strp(s string) *string { return &s }

func TestManager_AutoGenerate_FirstWrite(t *testing.T) {
	m := New(t.TempDir())
	req := vcrproxy.RecordedRequest{
		Method:      "post",
		Path:        "/v1/search",
		Query:       map[string][]string{"page": {"1"}},
		Headers:     map[string]string{"Accept": "application/json", "X-Request-Id": "abc"},
		Body:        strp(`{"query":"a","limit":10}`),
		ContentType: strp("application/json"),
	}

	path, err := m.AutoGenerate("api.example.com", req)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(path, "POST_v1_search.yaml") {
		t.Errorf("unexpected path: %s", path)
	}

	got, err := m.Load("api.example.com", "post", "/v1/search")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected an override document")
	}
	want := vcrproxy.RouteMatchingOverride{
		Route: vcrproxy.RouteMatchRule{Method: "POST", Path: "/v1/search"},
		Matched: vcrproxy.MatchedFields{
			QueryParams: []string{"page"},
			Headers:     []string{"accept", "x-request-id"},
			BodyFields:  []string{"limit", "query"},
		},
		// The empty ignore lists are written as "[]" and read back as empty,
		// non-nil slices.
		Ignore: vcrproxy.RouteIgnoreConfig{
			Headers:     []string{},
			BodyFields:  []string{},
			QueryParams: []string{},
		},
	}
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestManager_AutoGenerate_MergesMatchedWithoutTouchingIgnore(t *testing.T) {
	m := New(t.TempDir())

	first := vcrproxy.RecordedRequest{
		Method:      "POST",
		Path:        "/v1/search",
		Body:        strp(`{"query":"a"}`),
		ContentType: strp("application/json"),
	}
	if _, err := m.AutoGenerate("api.example.com", first); err != nil {
		t.Fatal(err)
	}

	existing, err := m.Load("api.example.com", "POST", "/v1/search")
	if err != nil {
		t.Fatal(err)
	}
	existing.Ignore.BodyFields = []string{"session_id"}
	raw, err := yaml.Marshal(existing)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(m.configPath("api.example.com", "POST", "/v1/search"), raw, 0o644); err != nil {
		t.Fatal(err)
	}

	second := vcrproxy.RecordedRequest{
		Method:      "POST",
		Path:        "/v1/search",
		Body:        strp(`{"query":"b","page":2}`),
		ContentType: strp("application/json"),
	}
	if _, err := m.AutoGenerate("api.example.com", second); err != nil {
		t.Fatal(err)
	}

	got, err := m.Load("api.example.com", "POST", "/v1/search")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"page", "query"}, got.Matched.BodyFields); diff != "" {
		t.Errorf("matched body fields mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"session_id"}, got.Ignore.BodyFields); diff != "" {
		t.Errorf("ignore rules were touched by auto-generation (-want +got):\n%s", diff)
	}
}

func TestManager_Load_Missing(t *testing.T) {
	m := New(t.TempDir())
	got, err := m.Load("nowhere.example.com", "GET", "/x")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestExtractBodyFields_FormBody(t *testing.T) {
	got := extractBodyFields(strp("b=2&a=1"), strp("application/x-www-form-urlencoded"))
	if diff := cmp.Diff([]string{"a", "b"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractBodyFields_NonObjectJSON(t *testing.T) {
	got := extractBodyFields(strp(`[1,2,3]`), strp("application/json"))
	if got != nil {
		t.Errorf("expected nil for a non-object JSON body, got %v", got)
	}
}

func TestExtractBodyFields_NilInputs(t *testing.T) {
	if got := extractBodyFields(nil, strp("application/json")); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
	if got := extractBodyFields(strp("{}"), nil); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestPathSlug(t *testing.T) {
	if got := pathSlug("/v1/search"); got != "v1_search" {
		t.Errorf("got %q", got)
	}
	if got := pathSlug("/"); got != "root" {
		t.Errorf("got %q", got)
	}
}
