// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package adminapi exposes the runtime management surface described in
// spec.md's Admin Facade: mode switching, stats, and cassette listing/
// deletion, over a small net/http mux.
package adminapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/maruel/vcrproxy"
)

// Handler is the contract the Admin Facade needs from a Dispatcher: a
// read/write mode field, the five counters, and pass-through access to the
// cassette store's admin operations.
type Handler interface {
	Mode() vcrproxy.Mode
	SetMode(vcrproxy.Mode)
	Stats() vcrproxy.Stats
	ListAll() ([]string, error)
	List(domain string) ([]string, error)
	Delete(domain, id string) (bool, error)
	DeleteDomain(domain string) (int, error)
	DeleteAll() (int, error)
}

type modeBody struct {
	Mode vcrproxy.Mode `json:"mode"`
}

type deleteBody struct {
	Deleted int `json:"deleted"`
}

// NewMux builds the Admin Facade's http.Handler.
func NewMux(h Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/mode", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, modeBody{Mode: h.Mode()})
	})

	mux.HandleFunc("PUT /api/mode", func(w http.ResponseWriter, r *http.Request) {
		var body modeBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		switch body.Mode {
		case vcrproxy.Record, vcrproxy.Replay, vcrproxy.Spy:
		default:
			writeError(w, http.StatusBadRequest, "unknown mode: "+string(body.Mode))
			return
		}
		h.SetMode(body.Mode)
		writeJSON(w, http.StatusOK, modeBody{Mode: h.Mode()})
	})

	mux.HandleFunc("GET /api/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.Stats())
	})

	mux.HandleFunc("GET /api/cassettes", func(w http.ResponseWriter, r *http.Request) {
		files, err := h.ListAll()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, files)
	})

	mux.HandleFunc("GET /api/cassettes/{domain}", func(w http.ResponseWriter, r *http.Request) {
		files, err := h.List(r.PathValue("domain"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, files)
	})

	mux.HandleFunc("DELETE /api/cassettes", func(w http.ResponseWriter, r *http.Request) {
		n, err := h.DeleteAll()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, deleteBody{Deleted: n})
	})

	mux.HandleFunc("DELETE /api/cassettes/{domain}", func(w http.ResponseWriter, r *http.Request) {
		n, err := h.DeleteDomain(r.PathValue("domain"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, deleteBody{Deleted: n})
	})

	mux.HandleFunc("DELETE /api/cassettes/{domain}/{id}", func(w http.ResponseWriter, r *http.Request) {
		ok, err := h.Delete(r.PathValue("domain"), r.PathValue("id"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		deleted := 0
		if ok {
			deleted = 1
		}
		writeJSON(w, http.StatusOK, deleteBody{Deleted: deleted})
	})

	mux.HandleFunc("GET /api/schema/{kind}", func(w http.ResponseWriter, r *http.Request) {
		var schema *jsonschema.Schema
		switch strings.ToLower(r.PathValue("kind")) {
		case "cassette":
			schema = jsonschema.Reflect(&vcrproxy.Cassette{})
		case "route":
			schema = jsonschema.Reflect(&vcrproxy.RouteMatchingOverride{})
		default:
			writeError(w, http.StatusNotFound, "unknown schema kind, want cassette or route")
			return
		}
		writeJSON(w, http.StatusOK, schema)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("adminapi: encode response failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, vcrproxy.ErrorBody{Error: msg})
}
