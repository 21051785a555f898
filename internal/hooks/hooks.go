// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package hooks runs the lifecycle hooks a deployment can configure: a
// shell command on server start/stop, and a webhook after every cassette
// write. All three are optional; an empty configuration value is a no-op.
package hooks

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/maruel/httpjson"
)

// RunCommand runs command through the shell if non-empty, inheriting the
// current process's environment and streaming its output to stderr. Used
// for hook_on_start and hook_on_stop.
func RunCommand(ctx context.Context, command string) error {
	if strings.TrimSpace(command) == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("hooks: run %q: %w", command, err)
	}
	return nil
}

// cassetteWrittenPayload is the JSON body posted to hook_on_cassette_written.
type cassetteWrittenPayload struct {
	Domain string `json:"domain"`
	Path   string `json:"path"`
	Hash   string `json:"hash"`
}

// Webhook posts a notification to url whenever a cassette is written.
// cmd/vcrproxy wires Webhook.Notify into internal/cassette.Store.OnWritten.
type Webhook struct {
	URL    string
	Client httpjson.Client
}

// NewWebhook returns a Webhook that POSTs to url. A zero-value url makes
// Notify a no-op, matching hook_on_cassette_written defaulting to "".
func NewWebhook(url string) *Webhook {
	return &Webhook{URL: url}
}

// Notify posts {domain, path, hash} to the configured URL. Errors are
// returned for the caller to log; a failed webhook never undoes the
// cassette write that triggered it.
func (w *Webhook) Notify(ctx context.Context, domain, path, hash string) error {
	if w == nil || strings.TrimSpace(w.URL) == "" {
		return nil
	}
	resp, err := w.Client.PostRequest(ctx, w.URL, nil, cassetteWrittenPayload{Domain: domain, Path: path, Hash: hash})
	if err != nil {
		return fmt.Errorf("hooks: post %s: %w", w.URL, err)
	}
	defer resp.Body.Close()
	return nil
}
