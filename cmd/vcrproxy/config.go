// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config holds every option in SPEC_FULL.md §6's configuration table, one
// field per row, populated directly by kong from CLI flags / VCR_*
// environment variables. It has no YAML/JSON layer: this is a CLI tool, not
// a daemon reading a config file, matching the teacher's flag-driven CLIs.
type Config struct {
	Mode                  string        `help:"Initial dispatch mode." enum:"record,replay,spy" default:"spy"`
	Targets               []string      `help:"Inbound path prefix to upstream base URL, as prefix=baseURL. Repeatable." name:"target"`
	CassettesDir          string        `help:"Root directory for persisted cassettes." default:"cassettes" env:"VCR_CASSETTES_DIR"`
	AlwaysIgnoreHeaders   []string      `help:"Header names never part of the matching key." default:"date,x-request-id,x-trace-id,traceparent,tracestate" env:"VCR_ALWAYS_IGNORE_HEADERS"`
	SensitiveHeaders      []string      `help:"Header names redacted in persisted cassettes." default:"authorization,cookie,set-cookie" env:"VCR_SENSITIVE_HEADERS"`
	ProxyTimeout          time.Duration `help:"Upstream request timeout." default:"30s" env:"VCR_PROXY_TIMEOUT"`
	MaxBodySize           int           `help:"Maximum accepted request/response body size, in bytes." default:"10485760" env:"VCR_MAX_BODY_SIZE"`
	CassettesOverwrite    bool          `help:"Overwrite an existing cassette file on re-record." default:"true" env:"VCR_CASSETTES_OVERWRITE"`
	Port                  int           `help:"Proxy listen port." default:"8080" env:"VCR_PORT"`
	AdminPort             int           `help:"Admin Facade listen port." default:"8081" env:"VCR_ADMIN_PORT"`
	HookOnStart           string        `help:"Shell command run once at startup; it completes before the proxy and admin listeners start." env:"VCR_HOOK_ON_START"`
	HookOnStop            string        `help:"Shell command run once after the proxy and admin listeners have shut down." env:"VCR_HOOK_ON_STOP"`
	HookOnCassetteWritten string        `help:"HTTP URL notified after each successful cassette write." env:"VCR_HOOK_ON_CASSETTE_WRITTEN" name:"hook-on-cassette-written"`
	LogLevel              string        `help:"slog level." enum:"debug,info,warn,error" default:"info" env:"VCR_LOG_LEVEL"`
	LogFormat             string        `help:"slog handler." enum:"json,text" default:"json" env:"VCR_LOG_FORMAT"`
}

func (c *Config) targetsMap() (map[string]string, error) {
	m := make(map[string]string, len(c.Targets))
	for _, t := range c.Targets {
		prefix, base, ok := strings.Cut(t, "=")
		if !ok {
			return nil, fmt.Errorf("invalid -target %q, want prefix=baseURL", t)
		}
		m[prefix] = base
	}
	return m, nil
}

func (c *Config) slogLevel() slog.Level {
	var l slog.Level
	_ = l.UnmarshalText([]byte(c.LogLevel))
	return l
}
