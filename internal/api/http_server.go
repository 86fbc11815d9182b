package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"fleetsync/internal/config"
	"fleetsync/internal/domain"
	"fleetsync/internal/gps"
	"fleetsync/internal/models"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// SyncService is the part of the sync engine exposed over HTTP.
type SyncService interface {
	CreateWithOfflineSupport(ctx context.Context, sub models.ProofSubmission) models.CreateResult
	SyncAll(ctx context.Context) models.SyncResult
	Pending(ctx context.Context) ([]models.PendingSubmission, error)
	Exhausted(ctx context.Context) ([]models.PendingSubmission, error)
	MaxRetries() int
}

// Tracker is the part of the GPS reporter exposed over HTTP.
type Tracker interface {
	SetStatus(status models.TruckStatus)
	Snapshot() gps.TrackingState
}

// HTTPServer is the local control API used by the driver UI.
type HTTPServer struct {
	sync    SyncService
	status  domain.SyncStatusReader
	tracker Tracker
	online  domain.OnlineChecker
	logger  *zerolog.Logger
	server  *http.Server
}

func NewHTTPServer(
	cfg config.ServerConfig,
	syncSvc SyncService,
	status domain.SyncStatusReader,
	tracker Tracker,
	online domain.OnlineChecker,
	logger *zerolog.Logger,
) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	srv := &HTTPServer{
		sync:    syncSvc,
		status:  status,
		tracker: tracker,
		online:  online,
		logger:  logger,
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.routes(NewHTTPAuth(cfg)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
	return srv
}

func (s *HTTPServer) routes(auth *HTTPAuth) http.Handler {
	r := mux.NewRouter()
	r.Use(loggingMiddleware(s.logger))

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(auth.Middleware)

	v1.HandleFunc("/trips/{tripId}/proof", s.handleCreateProof).Methods(http.MethodPost)
	v1.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	v1.HandleFunc("/sync/status", s.handleSyncStatus).Methods(http.MethodGet)
	v1.HandleFunc("/sync/pending", s.handlePending).Methods(http.MethodGet)
	v1.HandleFunc("/sync/exhausted", s.handleExhausted).Methods(http.MethodGet)
	v1.HandleFunc("/sync/report.xlsx", s.handleReport).Methods(http.MethodGet)
	v1.HandleFunc("/tracking", s.handleTracking).Methods(http.MethodGet)
	v1.HandleFunc("/tracking/status", s.handleTrackingStatus).Methods(http.MethodPut)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return r
}

// Handler exposes the router, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Addr() string {
	return s.server.Addr
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return errors.New("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("Control API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
