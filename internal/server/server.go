// Package server exposes the search service over HTTP.
//
// Single JSON endpoint contract:
//
//	POST /search {"query": "..."} or {"vector": [...]}, optional "k"
//	200 -> array of {"content", "metadata"} plus "score" when enabled
//	400 -> {"error": "Missing query"} and other validation failures
//	500 -> {"error": "Internal server error", "details": "..."}
//
// Plus /healthz and /stats for operators.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/marketlink/semsearch/internal/config"
	"github.com/marketlink/semsearch/internal/errors"
	"github.com/marketlink/semsearch/internal/index"
	"github.com/marketlink/semsearch/internal/service"
)

// searchRequest is the POST /search body.
type searchRequest struct {
	Query  string    `json:"query"`
	Vector []float32 `json:"vector"`
	K      int       `json:"k"`
}

// searchResult is one entry of the POST /search response array.
type searchResult struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
	Score    *float64          `json:"score,omitempty"`
}

// errorResponse is the error body shape.
type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Server serves the search HTTP surface.
type Server struct {
	svc          *service.Service
	cfg          config.ServerConfig
	returnScores bool
}

// New creates a Server around svc.
func New(svc *service.Service, cfg config.ServerConfig) *Server {
	return &Server{svc: svc, cfg: cfg, returnScores: cfg.ReturnScores}
}

// Router builds the HTTP router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware)

	r.HandleFunc("/search", s.handleSearch).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server_listening", slog.String("addr", addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleSearch handles POST /search.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Missing query"})
		return
	}

	results, err := s.svc.Search(r.Context(), service.Request{
		Text:   req.Query,
		Vector: req.Vector,
		K:      req.K,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, s.formatResults(results))
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"records": s.svc.Index().Len(),
	})
}

// handleStats handles GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Stats())
}

// formatResults shapes service results for the wire. Scores are
// included only when the score-returning variant is enabled.
func (s *Server) formatResults(results []index.SearchResult) []searchResult {
	out := make([]searchResult, len(results))
	for i, res := range results {
		out[i] = searchResult{
			Content:  res.Text,
			Metadata: res.Metadata,
		}
		if s.returnScores {
			score := res.Score
			out[i].Score = &score
		}
	}
	return out
}

// writeError converts a service failure into a structured response.
// Validation failures surface their message; everything else becomes a
// generic 500 with the error text as diagnostic detail, never a stack
// trace.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)

	if status == http.StatusBadRequest {
		msg := err.Error()
		var coded *errors.Error
		if stderrors.As(err, &coded) {
			msg = coded.Message
		}
		writeJSON(w, status, errorResponse{Error: msg})
		return
	}

	slog.Error("search_failed",
		slog.String("code", errors.CodeOf(err)),
		slog.String("error", err.Error()))
	writeJSON(w, status, errorResponse{Error: "Internal server error", Details: err.Error()})
}

// loggingMiddleware logs request method, path, and latency.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("http_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("duration", time.Since(start)))
	})
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response_encode_failed", slog.String("error", err.Error()))
	}
}
