package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fleetsync/internal/config"
	"fleetsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate func(*config.APIConfig)) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	cfg := config.APIConfig{BaseURL: ts.URL + "/", Token: "secret", Timeout: 2 * time.Second}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewClient(context.Background(), cfg, nil)
}

func sampleProof() models.ProofRequest {
	return models.ProofRequest{
		Status:         models.ProofSigned,
		SignatureImage: "sig",
		Latitude:       48.85,
		Longitude:      2.35,
		GPSAccuracy:    4,
		CapturedAt:     time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestSubmitProof(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/trips/trip%2F1/proof", r.URL.EscapedPath())
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body models.ProofRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, models.ProofSigned, body.Status)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(models.ProofResponse{ID: "p-1", TripID: "trip/1", Status: models.ProofSigned, PhotoCount: 0})
	}, nil)

	resp, err := client.SubmitProof(context.Background(), "trip/1", sampleProof())
	require.NoError(t, err)
	assert.Equal(t, "p-1", resp.ID)
	assert.Equal(t, "trip/1", resp.TripID)
}

func TestSubmitProofAPIError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		permanent bool
		code      string
		message   string
	}{
		{name: "validation", status: 400, body: `{"status":400,"code":"VALIDATION_ERROR","message":"signature image is required"}`, permanent: true, code: "VALIDATION_ERROR", message: "signature image is required"},
		{name: "conflict", status: 409, body: `{"status":409,"code":"PROOF_EXISTS","message":"proof already recorded"}`, permanent: true, code: "PROOF_EXISTS", message: "proof already recorded"},
		{name: "timeout", status: 408, body: ``, permanent: false, message: "Request Timeout"},
		{name: "throttled", status: 429, body: `slow down`, permanent: false, message: "slow down"},
		{name: "server", status: 503, body: `<html>down</html>`, permanent: false, message: "<html>down</html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, nil)

			_, err := client.SubmitProof(context.Background(), "trip-1", sampleProof())
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.message, apiErr.Message)
			assert.Equal(t, tt.permanent, apiErr.Permanent())
		})
	}
}

func TestTransportErrorIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := ts.URL
	ts.Close()

	client := NewClient(context.Background(), config.APIConfig{BaseURL: url, Timeout: time.Second}, nil)
	_, err := client.SubmitProof(context.Background(), "trip-1", sampleProof())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Zero(t, apiErr.Status)
	assert.False(t, apiErr.Permanent())
	assert.NotNil(t, errors.Unwrap(apiErr))
}

func TestCanceledRequestReturnsContextError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.SubmitProof(ctx, "trip-1", sampleProof())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSendPositionAndBatch(t *testing.T) {
	var single, bulk int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gps/positions":
			single++
			var pos models.GPSPosition
			require.NoError(t, json.NewDecoder(r.Body).Decode(&pos))
			assert.Equal(t, "TRK-001", pos.TruckID)
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"eventId":"e-1"}`))
		case "/gps/positions/bulk":
			bulk++
			var batch []models.GPSPosition
			require.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
			_ = json.NewEncoder(w).Encode(models.BatchResult{Accepted: len(batch) - 1, Rejected: 1})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}, nil)

	ctx := context.Background()
	pos := models.NewGPSPosition("TRK-001", models.Location{Latitude: 1, Longitude: 2}, time.Now())

	require.NoError(t, client.SendPosition(ctx, pos))

	res, err := client.SendPositionBatch(ctx, []models.GPSPosition{pos, pos, pos})
	require.NoError(t, err)
	assert.Equal(t, models.BatchResult{Accepted: 2, Rejected: 1}, *res)

	assert.Equal(t, 1, single)
	assert.Equal(t, 1, bulk)
}

func TestClientCredentialsAuth(t *testing.T) {
	var tokenCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"cc-token","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/gps/positions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer cc-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusAccepted)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	client := NewClient(context.Background(), config.APIConfig{
		BaseURL: ts.URL,
		Timeout: 2 * time.Second,
		OAuth2: config.OAuth2Config{
			ClientID:     "device-1",
			ClientSecret: "s3cret",
			TokenURL:     ts.URL + "/oauth/token",
		},
	}, nil)

	pos := models.NewGPSPosition("TRK-001", models.Location{Latitude: 1}, time.Now())
	require.NoError(t, client.SendPosition(context.Background(), pos))
	require.NoError(t, client.SendPosition(context.Background(), pos))
	assert.Equal(t, 1, tokenCalls, "token is cached between calls")
}

func TestClientRateLimit(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusAccepted)
	}, func(cfg *config.APIConfig) {
		cfg.RateLimit = config.RateLimitConfig{RPS: 0.001, Burst: 1}
	})

	pos := models.NewGPSPosition("TRK-001", models.Location{Latitude: 1}, time.Now())
	require.NoError(t, client.SendPosition(context.Background(), pos))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, client.SendPosition(ctx, pos))
	assert.Equal(t, 1, calls)
}
