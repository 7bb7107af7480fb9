// Package server provides the HTTP control surface for the scanner: the
// overlay renderer API, torch and zoom, the preview stream and results.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ayusman/scanview/internal/session"
	"github.com/ayusman/scanview/internal/store"
	"github.com/gorilla/mux"
)

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	Session   *session.Session
	Stream    *StreamSurface
}

// Server represents the HTTP server for the scanner.
type Server struct {
	config  Config
	router  *mux.Router
	results *ResultsHandler
	start   time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		router: mux.NewRouter(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	r := s.router
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)

	if s.config.Session != nil {
		r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
		r.HandleFunc("/api/scan/resume", s.handleResume).Methods(http.MethodPost)
		r.HandleFunc("/api/scan/pause", s.handlePause).Methods(http.MethodPost)
		r.HandleFunc("/api/scan/rescan", s.handleRescan).Methods(http.MethodPost)

		r.HandleFunc("/api/framing", s.handleFramingRect).Methods(http.MethodGet)
		r.HandleFunc("/api/framing/screen", s.handleGetScreenRect).Methods(http.MethodGet)
		r.HandleFunc("/api/framing/screen", s.handleSetScreenRect).Methods(http.MethodPost)
		r.HandleFunc("/api/framing/manual", s.handleManualFraming).Methods(http.MethodPost)

		r.HandleFunc("/api/torch", s.handleGetTorch).Methods(http.MethodGet)
		r.HandleFunc("/api/torch", s.handleSetTorch).Methods(http.MethodPut)

		r.HandleFunc("/api/zoom", s.handleGetZoom).Methods(http.MethodGet)
		r.HandleFunc("/api/zoom", s.handleSetZoom).Methods(http.MethodPut)
		r.HandleFunc("/api/zoom/{direction:in|out}", s.handleZoomStep).Methods(http.MethodPost)

		s.results = NewResultsHandler(s.config.Session)
		r.Handle("/api/results", s.results).Methods(http.MethodGet)
	}

	if s.config.Store != nil {
		r.HandleFunc("/api/settings", s.handleListSettings).Methods(http.MethodGet)
		r.HandleFunc("/api/settings/{key}", s.handleGetSetting).Methods(http.MethodGet)
		r.HandleFunc("/api/settings/{key}", s.handlePutSetting).Methods(http.MethodPut)
		r.HandleFunc("/api/settings/{key}", s.handleDeleteSetting).Methods(http.MethodDelete)
	}

	if s.config.Stream != nil {
		r.Handle("/api/stream", NewStreamHandler(s.config.Stream)).Methods(http.MethodGet)
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.config.StaticDir)))
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close disconnects result listeners from the session.
func (s *Server) Close() {
	if s.results != nil {
		s.results.Close()
	}
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
