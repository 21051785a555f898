// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package vcrproxy defines the data model shared by every component of the
// record/replay HTTP proxy: recorded requests and responses, cassettes, the
// matching key used to locate them on disk, and the per-route override
// documents that tune matching.
//
// Subpackages under internal/ implement the components that operate on
// these types: internal/recording builds them from raw HTTP bytes,
// internal/matching derives a MatchingKey from a RecordedRequest,
// internal/cassette persists and locates Cassette files, internal/routeconfig
// manages RouteMatchingOverride documents, and internal/dispatcher ties it
// all together behind the three proxy modes.
package vcrproxy
