// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package status serves live component counters over a small HTTP JSON
// API for operators; it is read-only and optional.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"iris/internal/logger"
)

// Source yields one component's counter snapshot.
type Source func() interface{}

// Server is the HTTP status endpoint.
type Server struct {
	addr   string
	logger zerolog.Logger
	http   *http.Server

	mu      sync.RWMutex
	sources map[string]Source
}

// NewServer creates a status server for the given listen address.
func NewServer(addr string) *Server {
	return &Server{
		addr:    addr,
		logger:  logger.New(),
		sources: make(map[string]Source),
	}
}

// Register adds a named counter source. Must be called before Start.
func (s *Server) Register(name string, source Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[name] = source
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/status/{component}", s.handleComponent).Methods("GET")
	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	return router
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:         s.addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.logger.Info().Str("addr", s.addr).Msg("Status endpoint listening")

	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Status endpoint failed")
		}
	}()
	return nil
}

// Stop shuts the endpoint down.
func (s *Server) Stop() error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	snapshot := make(map[string]interface{}, len(s.sources))
	for name, source := range s.sources {
		snapshot[name] = source()
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleComponent(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["component"]
	s.mu.RLock()
	source, ok := s.sources[name]
	s.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown component: " + name})
		return
	}
	writeJSON(w, http.StatusOK, source())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
