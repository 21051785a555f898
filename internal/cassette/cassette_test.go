// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cassette

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/maruel/vcrproxy"
)

func testCassette(domain string) vcrproxy.Cassette {
	body := `{"id":1}`
	return vcrproxy.Cassette{
		Meta: vcrproxy.CassetteMeta{
			RecordedAt:      time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
			Target:          "https://" + domain,
			Domain:          domain,
			VCRProxyVersion: "dev",
		},
		Request: vcrproxy.RecordedRequest{
			Method: "GET",
			Path:   "/v1/users",
		},
		Response: vcrproxy.RecordedResponse{
			StatusCode:   200,
			Body:         &body,
			BodyEncoding: "utf-8",
		},
	}
}

func testKey() vcrproxy.MatchingKey {
	return vcrproxy.MatchingKey{Method: "GET", Path: "/v1/users"}
}

func TestStore_SaveLookupRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, true)
	c := testCassette("api.example.com")
	key := testKey()

	path, err := s.Save(c, key)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(path) != filepath.Join(dir, "api.example.com") {
		t.Errorf("unexpected directory: %s", path)
	}

	got, err := s.Lookup("api.example.com", key)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected a cassette, got nil")
	}
	if diff := cmp.Diff(c, *got); diff != "" {
		t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_Filename(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, true)
	key := testKey()
	name := s.filename(key)
	if filepath.Ext(name) != ".json" {
		t.Errorf("expected .json suffix, got %q", name)
	}
	if got := name[:len("GET_v1_users_")]; got != "GET_v1_users_" {
		t.Errorf("unexpected filename prefix: %q", name)
	}
}

func TestStore_LookupMiss(t *testing.T) {
	s := New(t.TempDir(), true)
	got, err := s.Lookup("nowhere.example.com", testKey())
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestStore_LookupCorrupt(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, true)
	key := testKey()
	domainDir := filepath.Join(dir, "api.example.com")
	if err := os.MkdirAll(domainDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(domainDir, s.filename(key)), []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := s.Lookup("api.example.com", key)
	if err == nil {
		t.Fatal("expected an error for a malformed cassette")
	}
	if !isCorrupt(err) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}

func isCorrupt(err error) bool {
	for err != nil {
		if err == ErrCorrupt {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func TestStore_OverwriteFalseKeepsFirst(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, false)
	key := testKey()

	first := testCassette("api.example.com")
	if _, err := s.Save(first, key); err != nil {
		t.Fatal(err)
	}

	second := testCassette("api.example.com")
	second.Response.StatusCode = 500
	if _, err := s.Save(second, key); err != nil {
		t.Fatal(err)
	}

	got, err := s.Lookup("api.example.com", key)
	if err != nil {
		t.Fatal(err)
	}
	if got.Response.StatusCode != 200 {
		t.Errorf("expected the first recording to survive, got status %d", got.Response.StatusCode)
	}
}

func TestStore_OverwriteTrueReplaces(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, true)
	key := testKey()

	first := testCassette("api.example.com")
	if _, err := s.Save(first, key); err != nil {
		t.Fatal(err)
	}

	second := testCassette("api.example.com")
	second.Response.StatusCode = 500
	if _, err := s.Save(second, key); err != nil {
		t.Fatal(err)
	}

	got, err := s.Lookup("api.example.com", key)
	if err != nil {
		t.Fatal(err)
	}
	if got.Response.StatusCode != 500 {
		t.Errorf("expected the overwritten recording, got status %d", got.Response.StatusCode)
	}
}

func TestStore_OnWrittenFires(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, true)
	var gotDomain, gotPath, gotHash string
	s.OnWritten = func(domain, path, hash string) {
		gotDomain, gotPath, gotHash = domain, path, hash
	}

	if _, err := s.Save(testCassette("api.example.com"), testKey()); err != nil {
		t.Fatal(err)
	}
	if gotDomain != "api.example.com" {
		t.Errorf("domain = %q", gotDomain)
	}
	if gotPath == "" {
		t.Error("expected a non-empty path")
	}
	if len(gotHash) != 8 {
		t.Errorf("expected 8-char hash, got %q", gotHash)
	}
}

func TestStore_ListAndListAll(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, true)

	keyA := vcrproxy.MatchingKey{Method: "GET", Path: "/a"}
	keyB := vcrproxy.MatchingKey{Method: "GET", Path: "/b"}
	if _, err := s.Save(testCassette("api.example.com"), keyA); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save(testCassette("api.example.com"), keyB); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save(testCassette("other.example.com"), keyA); err != nil {
		t.Fatal(err)
	}

	files, err := s.List("api.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Errorf("expected 2 files, got %d: %v", len(files), files)
	}

	all, err := s.ListAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 files across domains, got %d: %v", len(all), all)
	}
}

func TestStore_ListMissingDomainIsEmpty(t *testing.T) {
	s := New(t.TempDir(), true)
	files, err := s.List("nowhere.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Errorf("expected no files, got %v", files)
	}
}

func TestStore_Delete(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, true)
	key := testKey()
	if _, err := s.Save(testCassette("api.example.com"), key); err != nil {
		t.Fatal(err)
	}

	id := s.filename(key)
	id = id[:len(id)-len(".json")]

	ok, err := s.Delete("api.example.com", id)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected delete to report true")
	}

	ok, err = s.Delete("api.example.com", id)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected a second delete to report false")
	}
}

func TestStore_DeleteDomain(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, true)
	if _, err := s.Save(testCassette("api.example.com"), vcrproxy.MatchingKey{Method: "GET", Path: "/a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save(testCassette("api.example.com"), vcrproxy.MatchingKey{Method: "GET", Path: "/b"}); err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteDomain("api.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}

	files, err := s.List("api.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Errorf("expected domain emptied, got %v", files)
	}
}

func TestStore_DeleteAll(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, true)
	if _, err := s.Save(testCassette("api.example.com"), vcrproxy.MatchingKey{Method: "GET", Path: "/a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save(testCassette("other.example.com"), vcrproxy.MatchingKey{Method: "GET", Path: "/b"}); err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteAll()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}

	all, err := s.ListAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("expected nothing left, got %v", all)
	}
}

func TestPathSlug(t *testing.T) {
	for _, tc := range []struct{ in, want string }{
		{"/v1/users", "v1_users"},
		{"/", "root"},
		{"", "root"},
		{"/v1/users/123", "v1_users_123"},
		{"/weird path!", "weird_path_"},
	} {
		if got := pathSlug(tc.in); got != tc.want {
			t.Errorf("pathSlug(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
