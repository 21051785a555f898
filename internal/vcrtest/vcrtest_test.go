// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package vcrtest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/dnaeon/go-vcr.v4/pkg/recorder"
)

func TestNew_RecordThenReplay(t *testing.T) {
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("upstream did not receive Authorization header, got %q", got)
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("hello"))
	}))
	defer upstream.Close()

	fixture := filepath.Join(t.TempDir(), "fixture")

	rec, err := New(fixture, http.DefaultTransport, []string{"Authorization"})
	if err != nil {
		t.Fatal(err)
	}
	client := &http.Client{Transport: rec}
	req, _ := http.NewRequest("GET", upstream.URL+"/widgets", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "hello" {
		t.Fatalf("body = %q", body)
	}
	if err := rec.Stop(); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected one upstream call, got %d", calls)
	}

	raw, err := io.ReadAll(mustOpen(t, fixture+".yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "secret-token") {
		t.Errorf("fixture leaked the sensitive header value:\n%s", raw)
	}

	rec2, err := recorder.New(fixture, recorder.WithMode(recorder.ModeReplayOnly))
	if err != nil {
		t.Fatal(err)
	}
	defer rec2.Stop()
	client2 := &http.Client{Transport: rec2}
	req2, _ := http.NewRequest("GET", upstream.URL+"/widgets", nil)
	resp2, err := client2.Do(req2)
	if err != nil {
		t.Fatal(err)
	}
	body2, _ := io.ReadAll(resp2.Body)
	resp2.Body.Close()
	if string(body2) != "hello" {
		t.Fatalf("replayed body = %q", body2)
	}
	if calls != 1 {
		t.Errorf("replay should not hit upstream, total calls = %d", calls)
	}
}

func mustOpen(t *testing.T, path string) io.Reader {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}
