// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package vcrproxy

import "time"

// Mode selects how the proxy resolves an inbound request.
type Mode string

// Valid proxy modes.
const (
	// Record forwards every request to the upstream and persists the
	// response.
	Record Mode = "record"
	// Replay serves every request from the cassette store; a miss is a 404.
	Replay Mode = "replay"
	// Spy serves from the cassette store when possible, and forwards plus
	// records on a miss.
	Spy Mode = "spy"
)

// RecordedRequest is the canonical, self-describing representation of an
// inbound HTTP request, as persisted inside a Cassette.
type RecordedRequest struct {
	Method       string              `json:"method"`
	Path         string              `json:"path"`
	Query        map[string][]string `json:"query"`
	Headers      map[string]string   `json:"headers"`
	Body         *string             `json:"body"`
	BodyEncoding string              `json:"body_encoding"`
	ContentType  *string             `json:"content_type"`
}

// RecordedResponse is the canonical representation of an upstream HTTP
// response, as persisted inside a Cassette.
type RecordedResponse struct {
	StatusCode   int               `json:"status_code"`
	Headers      map[string]string `json:"headers"`
	Body         *string           `json:"body"`
	BodyEncoding string            `json:"body_encoding"`
}

// CassetteMeta carries provenance for a recorded exchange.
type CassetteMeta struct {
	RecordedAt      time.Time `json:"recorded_at"`
	Target          string    `json:"target"`
	Domain          string    `json:"domain"`
	VCRProxyVersion string    `json:"vcr_proxy_version"`
}

// Cassette is one persisted request/response exchange.
type Cassette struct {
	Meta     CassetteMeta     `json:"meta"`
	Request  RecordedRequest  `json:"request"`
	Response RecordedResponse `json:"response"`
}

// MatchingKey is the canonical tuple used to locate a cassette. Equality is
// structural on all five fields.
type MatchingKey struct {
	Method  string
	Path    string
	Query   *string
	Headers *string
	Body    *string
}

// RouteIgnoreConfig lists request fields that are semantically insignificant
// for a given route and are excluded when computing a MatchingKey.
type RouteIgnoreConfig struct {
	Headers     []string `yaml:"headers" json:"headers"`
	BodyFields  []string `yaml:"body_fields" json:"body_fields"`
	QueryParams []string `yaml:"query_params" json:"query_params"`
}

// MatchedFields is the union of field names observed across all recordings
// for a route. It is informational only.
type MatchedFields struct {
	QueryParams []string `yaml:"query_params" json:"query_params"`
	Headers     []string `yaml:"headers" json:"headers"`
	BodyFields  []string `yaml:"body_fields" json:"body_fields"`
}

// RouteMatchRule identifies a route by method and path.
type RouteMatchRule struct {
	Method string `yaml:"method" json:"method"`
	Path   string `yaml:"path" json:"path"`
}

// RouteMatchingOverride is the persisted, user-editable document declaring
// which fields are ignored when matching requests for one (domain, method,
// path) route.
type RouteMatchingOverride struct {
	Route   RouteMatchRule    `yaml:"route" json:"route"`
	Matched MatchedFields     `yaml:"matched" json:"matched"`
	Ignore  RouteIgnoreConfig `yaml:"ignore" json:"ignore"`
}

// Stats holds the monotonic counters a Dispatcher exposes to the Admin
// Facade. See internal/dispatcher for the mutable, concurrency-safe version.
type Stats struct {
	Total    int64 `json:"total_requests"`
	Hits     int64 `json:"cache_hits"`
	Misses   int64 `json:"cache_misses"`
	Recorded int64 `json:"recorded"`
	Errors   int64 `json:"errors"`
}

// ErrorBody is the JSON shape of every error response the proxy returns.
type ErrorBody struct {
	Error string `json:"error"`
}
