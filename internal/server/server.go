// Package server provides the HTTP server for the Bhava affect classifier.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/ayusman/bhava/internal/app"
	"github.com/ayusman/bhava/internal/detector"
	"github.com/ayusman/bhava/internal/server/api"
	"github.com/ayusman/bhava/internal/store"
)

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	// App is the running capture loop behind analytics, predictions and the stream.
	App *app.App
	// Classifier is a ready detector dedicated to /api/classify uploads.
	Classifier *detector.Detector
}

// Server represents the HTTP server for the Bhava application.
type Server struct {
	config      Config
	mux         *http.ServeMux
	start       time.Time
	predictions *PredictionsHandler
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	// Register profile API handler if Store is configured
	if s.config.Store != nil {
		profileHandler := api.NewProfileHandler(s.config.Store)
		s.mux.Handle("/api/profiles", profileHandler)
		s.mux.Handle("/api/profiles/", profileHandler)
	}

	if s.config.Classifier != nil {
		s.mux.Handle("/api/classify", api.NewClassifyHandler(s.config.Classifier))
	}

	// Register live endpoints if the capture loop is configured
	if s.config.App != nil {
		s.mux.Handle("/api/analytics", api.NewAnalyticsHandler(s.config.App))
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.App))

		s.predictions = NewPredictionsHandler(s.config.App)
		s.mux.Handle("/api/predictions/ws", s.predictions)
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(s.start)

	response := map[string]interface{}{
		"status": "ok",
		"uptime": uptime.String(),
	}
	if s.config.App != nil {
		response["capture"] = map[string]interface{}{
			"running":  s.config.App.IsRunning(),
			"enabled":  s.config.App.IsEnabled(),
			"detector": s.config.App.State().String(),
		}
	}
	if s.config.Classifier != nil {
		response["classifier"] = s.config.Classifier.State().String()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// Close stops the prediction broadcaster.
func (s *Server) Close() {
	if s.predictions != nil {
		s.predictions.Close()
	}
}

// ListenAndServe starts the HTTP server on the given address and shuts it
// down gracefully when ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:    addr,
		Handler: s,
		// Streaming handlers end with the request context
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
