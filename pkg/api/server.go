package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/vjranagit/hearth/pkg/issues"
	"github.com/vjranagit/hearth/pkg/storage"
	"github.com/vjranagit/hearth/pkg/types"
)

// Server exposes the dashboard HTTP API: active issues and long-term
// statistics.
type Server struct {
	store    storage.Store
	registry *issues.Registry
	addr     string
	log      *slog.Logger
	server   *http.Server
}

// NewServer creates a new API server
func NewServer(addr string, store storage.Store, registry *issues.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		store:    store,
		registry: registry,
		addr:     addr,
		log:      log.With("component", "api"),
	}
}

// routes builds the router
func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/issues", s.handleListIssues).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/issues/{domain}/{id}", s.handleDismissIssue).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/statistics", s.handleListStatistics).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/statistics/{id}", s.handleQueryStatistics).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/statistics/{id}", s.handleIngestStatistics).Methods(http.MethodPost)

	return r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      handlers.LoggingHandler(os.Stdout, s.routes()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.log.Info("http server starting", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

// handleListIssues returns all active issues
func (s *Server) handleListIssues(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]issues.Issue{
		"issues": s.registry.List(),
	})
}

// handleDismissIssue removes one issue from the registry
func (s *Server) handleDismissIssue(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if !s.registry.Delete(vars["domain"], vars["id"]) {
		http.Error(w, "Issue not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListStatistics returns the metadata of all known series
func (s *Server) handleListStatistics(w http.ResponseWriter, r *http.Request) {
	metas, err := s.store.ListMetadata(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("Listing failed: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]types.Metadata{
		"statistics": metas,
	})
}

// handleQueryStatistics returns the rows of one series in a time range.
// Without explicit bounds it covers the last 24 hours.
func (s *Server) handleQueryStatistics(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	statisticID := vars["id"]

	var startTime, endTime time.Time
	var err error

	if endStr := r.URL.Query().Get("end"); endStr != "" {
		endTime, err = time.Parse(time.RFC3339, endStr)
		if err != nil {
			http.Error(w, "Invalid end time", http.StatusBadRequest)
			return
		}
	} else {
		endTime = time.Now()
	}

	if startStr := r.URL.Query().Get("start"); startStr != "" {
		startTime, err = time.Parse(time.RFC3339, startStr)
		if err != nil {
			http.Error(w, "Invalid start time", http.StatusBadRequest)
			return
		}
	} else {
		startTime = endTime.Add(-24 * time.Hour)
	}

	ctx := r.Context()

	meta, err := s.store.Metadata(ctx, statisticID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Statistic not found", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Query failed: %v", err), http.StatusInternalServerError)
		return
	}

	points, err := s.store.Query(ctx, statisticID, startTime, endTime)
	if err != nil {
		http.Error(w, fmt.Sprintf("Query failed: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(types.Series{
		Metadata: meta,
		Points:   points,
	})
}

// handleIngestStatistics accepts external statistics for one series
func (s *Server) handleIngestStatistics(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	statisticID := vars["id"]

	var req types.Series
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	if req.Metadata.StatisticID != statisticID {
		http.Error(w, "Statistic id in body does not match the path", http.StatusBadRequest)
		return
	}

	if err := s.store.Ingest(r.Context(), req.Metadata, req.Points); err != nil {
		if errors.Is(err, storage.ErrInvalid) {
			http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
			return
		}
		http.Error(w, fmt.Sprintf("Ingest failed: %v", err), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "success",
	})
}
