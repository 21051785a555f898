// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maruel/vcrproxy"
	"github.com/maruel/vcrproxy/internal/adminapi"
	"github.com/maruel/vcrproxy/internal/cassette"
	"github.com/maruel/vcrproxy/internal/dispatcher"
	"github.com/maruel/vcrproxy/internal/hooks"
	"github.com/maruel/vcrproxy/internal/routeconfig"
	"github.com/maruel/vcrproxy/internal/transport"
)

// shutdownGrace bounds how long a listener waits for in-flight requests to
// finish once the context is cancelled.
const shutdownGrace = 5 * time.Second

// version is overridden at build time with -ldflags.
var version = "dev"

// cmdServe starts the proxy and Admin Facade listeners and blocks until the
// context is cancelled.
type cmdServe struct{}

func (cmdServe) Run(ctx context.Context, cfg *Config) error {
	targets, err := cfg.targetsMap()
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return errors.New("serve: at least one -target prefix=baseURL is required")
	}

	webhook := hooks.NewWebhook(cfg.HookOnCassetteWritten)
	store := cassette.New(cfg.CassettesDir, cfg.CassettesOverwrite)
	store.OnWritten = func(domain, path, hash string) {
		if err := webhook.Notify(ctx, domain, path, hash); err != nil {
			slog.WarnContext(ctx, "serve: cassette-written webhook failed", "err", err)
		}
	}
	routes := routeconfig.New(cfg.CassettesDir)
	client := transport.New(cfg.ProxyTimeout, nil)
	alwaysIgnore := toLowerSet(cfg.AlwaysIgnoreHeaders)
	sensitive := toLowerSet(cfg.SensitiveHeaders)

	d := dispatcher.New(vcrproxy.Mode(cfg.Mode), targets, alwaysIgnore, sensitive.contains, store, routes, client, cfg.MaxBodySize, version)

	if err := hooks.RunCommand(ctx, cfg.HookOnStart); err != nil {
		return err
	}
	if cfg.HookOnStop != "" {
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ProxyTimeout)
			defer cancel()
			if err := hooks.RunCommand(stopCtx, cfg.HookOnStop); err != nil {
				slog.Error("serve: hook_on_stop failed", "err", err)
			}
		}()
	}

	proxySrv := &http.Server{Addr: ":" + strconv.Itoa(cfg.Port), Handler: proxyHandler(d)}
	adminSrv := &http.Server{Addr: ":" + strconv.Itoa(cfg.AdminPort), Handler: adminapi.NewMux(d)}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return serveUntilDone(ctx, proxySrv) })
	eg.Go(func() error { return serveUntilDone(ctx, adminSrv) })
	slog.InfoContext(ctx, "serve: listening", "proxy_port", cfg.Port, "admin_port", cfg.AdminPort, "mode", cfg.Mode)
	return eg.Wait()
}

// serveUntilDone runs srv until ctx is cancelled, then shuts it down
// gracefully.
func serveUntilDone(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}
}

type headerSet map[string]struct{}

func toLowerSet(names []string) headerSet {
	s := make(headerSet, len(names))
	for _, n := range names {
		s[strings.ToLower(n)] = struct{}{}
	}
	return s
}

func (s headerSet) contains(lowerHeader string) bool {
	_, ok := s[lowerHeader]
	return ok
}

// proxyHandler adapts net/http to Dispatcher.Handle, the server framing
// contract described in spec.md §6.
func proxyHandler(d *dispatcher.Dispatcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := make(map[string]string, len(r.Header))
		for k := range r.Header {
			headers[k] = r.Header.Get(k)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.Header().Set("content-type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, `{"error":%q}`, err.Error())
			return
		}
		status, respHeaders, respBody := d.Handle(r.Context(), r.Method, r.URL.Path, r.URL.RawQuery, headers, body)
		for k, v := range respHeaders {
			w.Header().Set(k, v)
		}
		w.WriteHeader(status)
		_, _ = w.Write(respBody)
	})
}
