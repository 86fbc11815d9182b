package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"fleetsync/internal/models"
	"fleetsync/internal/report"

	"github.com/gorilla/mux"
)

// Proof bodies carry base64 images.
const maxProofBody = 32 << 20

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.status.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"online":  s.online.IsOnline(),
		"pending": st.PendingCount,
	})
}

func (s *HTTPServer) handleCreateProof(w http.ResponseWriter, r *http.Request) {
	tripID := strings.TrimSpace(mux.Vars(r)["tripId"])
	if tripID == "" {
		writeError(w, http.StatusBadRequest, "tripId is required")
		return
	}

	var req models.ProofRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxProofBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := s.sync.CreateWithOfflineSupport(r.Context(), models.ProofSubmission{TripID: tripID, Request: req})
	if !res.Success {
		s.logger.Error().Err(res.Err).Str("trip_id", tripID).Msg("Proof could not be stored locally")
		writeError(w, http.StatusInternalServerError, "failed to store proof locally")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	res := s.sync.SyncAll(r.Context())
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleSyncStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Snapshot())
}

func (s *HTTPServer) handlePending(w http.ResponseWriter, r *http.Request) {
	items, err := s.sync.Pending(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("List pending submissions failed")
		writeError(w, http.StatusInternalServerError, "failed to read offline queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(items)})
}

func (s *HTTPServer) handleExhausted(w http.ResponseWriter, r *http.Request) {
	items, err := s.sync.Exhausted(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("List exhausted submissions failed")
		writeError(w, http.StatusInternalServerError, "failed to read offline queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(items)})
}

func (s *HTTPServer) handleReport(w http.ResponseWriter, r *http.Request) {
	items, err := s.sync.Pending(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("List pending submissions failed")
		writeError(w, http.StatusInternalServerError, "failed to read offline queue")
		return
	}

	var buf bytes.Buffer
	if err := report.WritePendingReport(&buf, items, s.sync.MaxRetries()); err != nil {
		s.logger.Error().Err(err).Msg("Render pending report failed")
		writeError(w, http.StatusInternalServerError, "failed to render report")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="pending_submissions.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *HTTPServer) handleTracking(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Snapshot())
}

func (s *HTTPServer) handleTrackingStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status models.TruckStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !body.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown truck status")
		return
	}

	s.tracker.SetStatus(body.Status)
	writeJSON(w, http.StatusOK, s.tracker.Snapshot())
}

func nonNil(items []models.PendingSubmission) []models.PendingSubmission {
	if items == nil {
		return []models.PendingSubmission{}
	}
	return items
}
