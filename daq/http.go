// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
)

// NewHandler returns the HTTP status and control endpoints of a session:
//   - GET  /status: status of the session,
//   - GET  /boards/{id}: status of a board,
//   - POST /cmd/{cmd}: send a command (s, R, q, toggle, start, stop, restart, quit).
//
// Unlike toggle, start and stop leave a run already in the requested
// state as is.
func NewHandler(s *Session) http.Handler {
	mux := chi.NewRouter()
	mux.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		encode(w, http.StatusOK, s.Status())
	})
	mux.Get("/boards/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "invalid board id", http.StatusBadRequest)
			return
		}
		brd, err := s.Board(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		encode(w, http.StatusOK, brd)
	})
	mux.Post("/cmd/{cmd}", func(w http.ResponseWriter, r *http.Request) {
		cmd, err := ParseCommand(chi.URLParam(r, "cmd"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !s.Send(cmd) {
			http.Error(w, "command queue full", http.StatusServiceUnavailable)
			return
		}
		encode(w, http.StatusAccepted, struct {
			Command string `json:"command"`
		}{cmd.String()})
	})
	return mux
}

func encode(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
