// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package dispatcher implements the RECORD/REPLAY/SPY state machine that
// ties the Recording Builder, Matcher, Cassette Store, Route Config Manager,
// and forwarding transport together behind a single Handle entry point.
package dispatcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/maruel/vcrproxy"
	"github.com/maruel/vcrproxy/internal/cassette"
	"github.com/maruel/vcrproxy/internal/matching"
	"github.com/maruel/vcrproxy/internal/recording"
	"github.com/maruel/vcrproxy/internal/routeconfig"
	"github.com/maruel/vcrproxy/internal/transport"
)

// Sensitive reports whether a lowercased header name must be redacted
// before a recording is persisted.
type Sensitive func(lowerHeader string) bool

// Dispatcher resolves inbound requests to an upstream target and serves
// them according to the current Mode. The zero value is not usable; use
// New.
type Dispatcher struct {
	targets             map[string]string
	sortedPrefixes      []string
	alwaysIgnoreHeaders map[string]struct{}
	sensitive           Sensitive
	store               *cassette.Store
	routes              *routeconfig.Manager
	forwarder           transport.Forwarder
	maxBodySize         int
	version             string

	mode atomic.Value // vcrproxy.Mode

	total    atomic.Int64
	hits     atomic.Int64
	misses   atomic.Int64
	recorded atomic.Int64
	errs     atomic.Int64
}

// New constructs a Dispatcher. targets maps an inbound path prefix to an
// upstream base URL (e.g. "/api" -> "https://api.example.com").
func New(mode vcrproxy.Mode, targets map[string]string, alwaysIgnoreHeaders map[string]struct{}, sensitive Sensitive, store *cassette.Store, routes *routeconfig.Manager, forwarder transport.Forwarder, maxBodySize int, version string) *Dispatcher {
	prefixes := make([]string, 0, len(targets))
	for p := range targets {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })

	d := &Dispatcher{
		targets:             targets,
		sortedPrefixes:      prefixes,
		alwaysIgnoreHeaders: alwaysIgnoreHeaders,
		sensitive:           sensitive,
		store:               store,
		routes:              routes,
		forwarder:           forwarder,
		maxBodySize:         maxBodySize,
		version:             version,
	}
	d.mode.Store(mode)
	return d
}

// Mode returns the current dispatch mode. Safe for concurrent use.
func (d *Dispatcher) Mode() vcrproxy.Mode {
	return d.mode.Load().(vcrproxy.Mode)
}

// SetMode changes the dispatch mode for every subsequent request. Safe for
// concurrent use; there is no in-flight transition semantics beyond "the
// next request sees the new mode".
func (d *Dispatcher) SetMode(m vcrproxy.Mode) {
	d.mode.Store(m)
}

// Stats returns a snapshot of the five monotonic counters.
func (d *Dispatcher) Stats() vcrproxy.Stats {
	return vcrproxy.Stats{
		Total:    d.total.Load(),
		Hits:     d.hits.Load(),
		Misses:   d.misses.Load(),
		Recorded: d.recorded.Load(),
		Errors:   d.errs.Load(),
	}
}

// Store exposes the underlying cassette store for callers that need direct
// access to it (tests, primarily).
func (d *Dispatcher) Store() *cassette.Store {
	return d.store
}

// ListAll, List, Delete, DeleteDomain, and DeleteAll pass through to the
// cassette store, satisfying adminapi.Handler.

func (d *Dispatcher) ListAll() ([]string, error) { return d.store.ListAll() }

func (d *Dispatcher) List(domain string) ([]string, error) { return d.store.List(domain) }

func (d *Dispatcher) Delete(domain, id string) (bool, error) { return d.store.Delete(domain, id) }

func (d *Dispatcher) DeleteDomain(domain string) (int, error) { return d.store.DeleteDomain(domain) }

func (d *Dispatcher) DeleteAll() (int, error) { return d.store.DeleteAll() }

func resolveTarget(path string, targets map[string]string, sortedPrefixes []string) (targetURL, domain, remaining string, ok bool) {
	for _, prefix := range sortedPrefixes {
		if path != prefix && !strings.HasPrefix(path, prefix+"/") && prefix != "/" {
			continue
		}
		base := targets[prefix]
		remaining = path
		if prefix != "/" {
			remaining = path[len(prefix):]
		}
		if remaining == "" {
			remaining = "/"
		}
		domain := base
		if i := strings.Index(domain, "://"); i >= 0 {
			domain = domain[i+3:]
		}
		domain = strings.TrimSuffix(domain, "/")
		return base, domain, remaining, true
	}
	return "", "", "", false
}

func errorBody(msg string) []byte {
	raw, _ := json.Marshal(vcrproxy.ErrorBody{Error: msg})
	return raw
}

var jsonContentType = map[string]string{"content-type": "application/json"}

// Handle resolves and serves one inbound request, returning the status,
// headers, and body to send back to the caller.
func (d *Dispatcher) Handle(ctx context.Context, method, path, queryString string, headers map[string]string, body []byte) (int, map[string]string, []byte) {
	d.total.Add(1)

	targetURL, domain, remaining, ok := resolveTarget(path, d.targets, d.sortedPrefixes)
	if !ok {
		d.errs.Add(1)
		return 502, jsonContentType, errorBody("no target configured for path")
	}

	req, err := recording.BuildRequest(method, remaining, queryString, headers, body, d.sensitive, d.maxBodySize)
	if err != nil {
		d.errs.Add(1)
		return 413, jsonContentType, errorBody(err.Error())
	}

	var routeIgnore *vcrproxy.RouteIgnoreConfig
	if override, lerr := d.routes.Load(domain, req.Method, req.Path); lerr == nil && override != nil {
		routeIgnore = &override.Ignore
	}
	key := matching.ComputeKey(req, d.alwaysIgnoreHeaders, routeIgnore)

	switch d.Mode() {
	case vcrproxy.Replay:
		if c, hit := d.lookup(domain, key); hit {
			return d.serveCassette(c)
		}
		d.misses.Add(1)
		return 404, jsonContentType, errorBody("no matching cassette found")

	case vcrproxy.Spy:
		if c, hit := d.lookup(domain, key); hit {
			return d.serveCassette(c)
		}
		d.misses.Add(1)
		return d.record(ctx, targetURL, domain, method, remaining, queryString, headers, body, req, key)

	default: // vcrproxy.Record
		return d.record(ctx, targetURL, domain, method, remaining, queryString, headers, body, req, key)
	}
}

// lookup returns (cassette, true) on a hit. A malformed cassette file is
// logged and treated as a miss, never as an error -- a corrupt file must
// not wedge the proxy.
func (d *Dispatcher) lookup(domain string, key vcrproxy.MatchingKey) (*vcrproxy.Cassette, bool) {
	c, err := d.store.Lookup(domain, key)
	if err != nil {
		if errors.Is(err, cassette.ErrCorrupt) {
			slog.WarnContext(context.Background(), "dispatcher: malformed cassette treated as miss", "domain", domain, "err", err)
			return nil, false
		}
		slog.ErrorContext(context.Background(), "dispatcher: cassette lookup failed", "domain", domain, "err", err)
		return nil, false
	}
	if c == nil {
		return nil, false
	}
	d.hits.Add(1)
	return c, true
}

func (d *Dispatcher) serveCassette(c *vcrproxy.Cassette) (int, map[string]string, []byte) {
	body, err := decodeBody(c.Response.Body, c.Response.BodyEncoding)
	if err != nil {
		d.errs.Add(1)
		return 500, jsonContentType, errorBody("stored cassette body is not valid " + c.Response.BodyEncoding)
	}
	return c.Response.StatusCode, c.Response.Headers, body
}

func (d *Dispatcher) record(ctx context.Context, targetURL, domain, method, path, queryString string, headers map[string]string, body []byte, req vcrproxy.RecordedRequest, key vcrproxy.MatchingKey) (int, map[string]string, []byte) {
	u := strings.TrimSuffix(targetURL, "/") + path
	if queryString != "" {
		u += "?" + queryString
	}

	resp, err := d.forwarder.Forward(ctx, transport.Request{Method: method, URL: u, Headers: headers, Body: body})
	if err != nil {
		d.errs.Add(1)
		switch {
		case errors.Is(err, transport.ErrTimeout):
			return 504, jsonContentType, errorBody("target timeout")
		case errors.Is(err, transport.ErrUnreachable):
			return 502, jsonContentType, errorBody("target unreachable")
		default:
			return 502, jsonContentType, errorBody("target unreachable")
		}
	}

	recordedResp, err := recording.BuildResponse(resp.StatusCode, resp.Headers, resp.Body, d.sensitive, d.maxBodySize)
	if err != nil {
		d.errs.Add(1)
		return 413, jsonContentType, errorBody(err.Error())
	}

	c := vcrproxy.Cassette{
		Meta: vcrproxy.CassetteMeta{
			RecordedAt:      time.Now().UTC(),
			Target:          targetURL,
			Domain:          domain,
			VCRProxyVersion: d.version,
		},
		Request:  req,
		Response: recordedResp,
	}
	if _, serr := d.store.Save(c, key); serr != nil {
		d.errs.Add(1)
		slog.ErrorContext(ctx, "dispatcher: cassette save failed", "domain", domain, "err", serr)
		return 500, jsonContentType, errorBody("cassette save failed: " + serr.Error())
	}
	if _, gerr := d.routes.AutoGenerate(domain, req); gerr != nil {
		slog.ErrorContext(ctx, "dispatcher: route config auto-generate failed", "domain", domain, "err", gerr)
	}
	d.recorded.Add(1)

	return resp.StatusCode, resp.Headers, resp.Body
}

func decodeBody(body *string, encoding string) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	if encoding == "base64" {
		return base64.StdEncoding.DecodeString(*body)
	}
	return []byte(*body), nil
}
