// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package vcrtest provides a recorded-fixture HTTP transport for tests. It
// lets a test exercise a full RECORD-then-REPLAY cycle against a
// deterministic, reviewable YAML fixture instead of a live upstream, without
// ever risking a sensitive header leaking into a committed file.
package vcrtest

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"gopkg.in/dnaeon/go-vcr.v4/pkg/cassette"
	"gopkg.in/dnaeon/go-vcr.v4/pkg/recorder"
)

// New starts a fixture recording/playback session rooted at path (without
// the ".yaml" suffix). sensitiveHeaders names request headers (matched
// case-insensitively) to strip before a fixture is ever written to disk
// and to ignore when matching a replayed request against one.
//
// It also ignores the host port number, so fixtures recorded against one
// ephemeral httptest.Server port replay correctly against another.
//
// Callers must call Stop() on the returned recorder.
func New(path string, h http.RoundTripper, sensitiveHeaders []string, opts ...recorder.Option) (*recorder.Recorder, error) {
	lower := make([]string, len(sensitiveHeaders))
	for i, s := range sensitiveHeaders {
		lower[i] = strings.ToLower(s)
	}
	matcher := cassette.NewDefaultMatcher(cassette.WithIgnoreHeaders(sensitiveHeaders...))
	hook := trimSensitiveHeaders(lower)
	args := []recorder.Option{
		recorder.WithHook(func(i *cassette.Interaction) error { return hook(i) }, recorder.AfterCaptureHook),
		recorder.WithSkipRequestLatency(true),
		recorder.WithRealTransport(h),
		recorder.WithMatcher(func(r *http.Request, i cassette.Request) bool { return matchIgnorePort(r, i, matcher) }),
		recorder.WithFS(&skipEmptyFS{FS: cassette.NewDiskFS()}),
	}
	return recorder.New(path, append(args, opts...)...)
}

// skipEmptyFS refuses to write a cassette file that recorded no
// interactions, matching the teacher's rationale: an empty fixture is
// noise, not a useful regression artifact.
type skipEmptyFS struct {
	cassette.FS
}

func (c *skipEmptyFS) WriteFile(name string, data []byte) error {
	if bytes.Contains(data, []byte("interactions: []")) {
		return nil
	}
	return c.FS.WriteFile(name, data)
}

// trimSensitiveHeaders deletes the configured header names from both the
// request and the response side of a captured interaction before it is
// persisted to disk.
func trimSensitiveHeaders(lowerHeaders []string) func(*cassette.Interaction) error {
	return func(i *cassette.Interaction) error {
		for _, h := range lowerHeaders {
			i.Request.Headers.Del(h)
			i.Response.Headers.Del(h)
		}
		i.Response.Duration = i.Response.Duration.Round(time.Millisecond)
		return nil
	}
}

// matchIgnorePort ignores the host port number before delegating to base,
// since fixture servers bind to a fresh ephemeral port on every run.
func matchIgnorePort(r *http.Request, i cassette.Request, base func(*http.Request, cassette.Request) bool) bool {
	r = r.Clone(r.Context())
	r.URL.Host = stripPort(r.URL.Host)
	r.Host = stripPort(r.Host)
	return base(r, i)
}

func stripPort(hostport string) string {
	if i := strings.LastIndex(hostport, ":"); i >= 0 {
		return hostport[:i]
	}
	return hostport
}
