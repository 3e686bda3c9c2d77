// Package server provides the HTTP dashboard for the chili disease detector.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ayusman/chilieye/internal/logger"
	"github.com/ayusman/chilieye/internal/server/api"
	"github.com/ayusman/chilieye/internal/store"
)

// Config holds the server configuration. Nil components disable their routes.
type Config struct {
	StaticDir string
	ExportDir string
	Store     *store.Store
	Frames    *FrameBuffer
	Hub       *Hub
	Location  api.LocationSource
	Logger    *logger.Logger
}

// Server represents the dashboard HTTP server.
type Server struct {
	config Config
	router *mux.Router
	log    *logger.Logger
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.Logger == nil {
		config.Logger = logger.NewNopLogger()
	}
	s := &Server{
		config: config,
		router: mux.NewRouter(),
		log:    config.Logger,
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	r := s.router.PathPrefix("/api").Subrouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	detections := api.NewDetectionHandler(s.config.Store, s.config.ExportDir, s.config.Location)
	r.HandleFunc("/detections", detections.List).Methods(http.MethodGet)
	r.HandleFunc("/stats", detections.Stats).Methods(http.MethodGet)
	r.HandleFunc("/detection-files", detections.Files).Methods(http.MethodGet)
	r.HandleFunc("/clear-detections", detections.Clear).Methods(http.MethodPost)
	r.HandleFunc("/current-location", detections.CurrentLocation).Methods(http.MethodGet)

	if s.config.Store != nil {
		sessions := api.NewSessionHandler(s.config.Store)
		r.HandleFunc("/sessions", sessions.List).Methods(http.MethodGet)
		r.HandleFunc("/sessions/{id}", sessions.Get).Methods(http.MethodGet)
	}

	if s.config.Frames != nil {
		r.Handle("/stream", NewStreamHandler(s.config.Frames)).Methods(http.MethodGet)
		r.Handle("/snapshot", NewSnapshotHandler(s.config.Frames)).Methods(http.MethodGet)
	}

	if s.config.Hub != nil {
		s.router.Handle("/ws", s.config.Hub)
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.config.StaticDir)))
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.config.Hub != nil {
		response["ws_clients"] = s.config.Hub.Clients()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// Run serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("dashboard listening", "addr", addr)
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	if s.config.Hub != nil {
		s.config.Hub.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
