package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"fleetsync/internal/config"
	"fleetsync/internal/gps"
	"fleetsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeSync struct {
	mu        sync.Mutex
	created   []models.ProofSubmission
	syncCalls int
	pending   []models.PendingSubmission
	result    *models.CreateResult
}

func (f *fakeSync) CreateWithOfflineSupport(_ context.Context, sub models.ProofSubmission) models.CreateResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, sub)
	if f.result != nil {
		return *f.result
	}
	return models.CreateResult{Success: true, IsOffline: true, PendingID: "local_x"}
}

func (f *fakeSync) SyncAll(context.Context) models.SyncResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncCalls++
	return models.SyncResult{Synced: 2, Failed: 1}
}

func (f *fakeSync) Pending(context.Context) ([]models.PendingSubmission, error) {
	return f.pending, nil
}

func (f *fakeSync) Exhausted(context.Context) ([]models.PendingSubmission, error) {
	var out []models.PendingSubmission
	for _, p := range f.pending {
		if p.Exhausted(models.DefaultMaxRetries) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeSync) MaxRetries() int { return models.DefaultMaxRetries }

type fakeStatus struct{ st models.SyncStatus }

func (f fakeStatus) Snapshot() models.SyncStatus { return f.st }
func (f fakeStatus) Subscribe(func(models.SyncStatus)) func() { return func() {} }

type fakeTracker struct {
	status models.TruckStatus
}

func (f *fakeTracker) SetStatus(s models.TruckStatus) { f.status = s }
func (f *fakeTracker) Snapshot() gps.TrackingState {
	return gps.TrackingState{IsTracking: f.status.Trackable(), Status: f.status}
}

type fakeOnline bool

func (f fakeOnline) IsOnline() bool { return bool(f) }

type testEnv struct {
	sync    *fakeSync
	tracker *fakeTracker
	ts      *httptest.Server
}

func newTestEnv(t *testing.T, cfg config.ServerConfig) *testEnv {
	t.Helper()
	env := &testEnv{sync: &fakeSync{}, tracker: &fakeTracker{}}
	srv := NewHTTPServer(cfg, env.sync, fakeStatus{st: models.SyncStatus{PendingCount: 4}}, env.tracker, fakeOnline(true), nil)
	env.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(env.ts.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req, err := http.NewRequest(method, e.ts.URL+path, &buf)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func validProof() models.ProofRequest {
	return models.ProofRequest{
		Status:         models.ProofSigned,
		SignatureImage: "data:image/png;base64,AAAA",
		SignerName:     "Jane",
		Latitude:       48.8,
		Longitude:      2.3,
		GPSAccuracy:    6,
		CapturedAt:     time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{APIKey: "k"})
	resp := env.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["online"])
	assert.Equal(t, float64(4), body["pending"])
}

func TestCreateProof(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	resp := env.do(t, http.MethodPost, "/api/v1/trips/trip-7/proof", validProof(), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["isOffline"])
	assert.Equal(t, "local_x", body["pendingId"])

	require.Len(t, env.sync.created, 1)
	assert.Equal(t, "trip-7", env.sync.created[0].TripID)
}

func TestCreateProofLocalStoreFailure(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})
	env.sync.result = &models.CreateResult{IsOffline: true, Err: errors.New("disk full")}

	resp := env.do(t, http.MethodPost, "/api/v1/trips/trip-7/proof", validProof(), nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "failed to store proof locally", body["error"])
}

func TestCreateProofValidation(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	refused := validProof()
	refused.Status = models.ProofRefused

	noSignature := validProof()
	noSignature.SignatureImage = ""

	badLat := validProof()
	badLat.Latitude = 91

	tests := []struct {
		name    string
		body    any
		wantMsg string
	}{
		{name: "refused without reason", body: refused, wantMsg: "refusal reason is required"},
		{name: "missing signature", body: noSignature, wantMsg: "signature image is required"},
		{name: "latitude out of range", body: badLat, wantMsg: "latitude"},
		{name: "malformed json", body: "{", wantMsg: "invalid JSON body"},
		{name: "unknown field", body: `{"status":"SIGNED","bogus":1}`, wantMsg: "invalid JSON body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/v1/trips/trip-1/proof", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Contains(t, body["error"], tt.wantMsg)
		})
	}
	assert.Empty(t, env.sync.created)
}

func TestSyncEndpoints(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})
	msg := "boom"
	env.sync.pending = []models.PendingSubmission{
		{LocalID: "local_a", Payload: models.ProofSubmission{TripID: "t1"}},
		{LocalID: "local_b", Payload: models.ProofSubmission{TripID: "t2"}, RetryCount: 3, LastError: &msg},
	}

	t.Run("SyncAll", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/v1/sync", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var res models.SyncResult
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
		assert.Equal(t, models.SyncResult{Synced: 2, Failed: 1}, res)
	})

	t.Run("Status", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/v1/sync/status", nil, nil)
		var st models.SyncStatus
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
		assert.Equal(t, 4, st.PendingCount)
	})

	t.Run("Pending", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/v1/sync/pending", nil, nil)
		var body struct {
			Items []models.PendingSubmission `json:"items"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Len(t, body.Items, 2)
	})

	t.Run("Exhausted", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/v1/sync/exhausted", nil, nil)
		var body struct {
			Items []models.PendingSubmission `json:"items"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Len(t, body.Items, 1)
		assert.Equal(t, "local_b", body.Items[0].LocalID)
	})

	t.Run("Report", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/v1/sync/report.xlsx", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Type"), "spreadsheetml")

		f, err := excelize.OpenReader(resp.Body)
		require.NoError(t, err)
		defer f.Close()
		rows, err := f.GetRows("Pending")
		require.NoError(t, err)
		assert.Len(t, rows, 3)
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/v1/sync", nil, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestTrackingEndpoints(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})

	resp := env.do(t, http.MethodPut, "/api/v1/tracking/status", map[string]string{"status": "IN_DELIVERY"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st gps.TrackingState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.True(t, st.IsTracking)
	assert.Equal(t, models.TruckInDelivery, env.tracker.status)

	resp = env.do(t, http.MethodPut, "/api/v1/tracking/status", map[string]string{"status": "PARKED"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/tracking", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{APIKey: "device-key"})

	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{name: "missing key", want: http.StatusUnauthorized},
		{name: "wrong key", headers: map[string]string{"X-API-Key": "nope"}, want: http.StatusUnauthorized},
		{name: "valid key", headers: map[string]string{"X-API-Key": "device-key"}, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, "/api/v1/sync/status", nil, tt.headers)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{RateLimit: config.RateLimitConfig{RPS: 0.001, Burst: 2}})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp := env.do(t, http.MethodGet, "/api/v1/sync/status", nil, nil)
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t, config.ServerConfig{})
	resp := env.do(t, http.MethodGet, "/api/v2/unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, strings.Contains(body["error"], "not found"))
}

func TestHTTPServerStartStop(t *testing.T) {
	srv := NewHTTPServer(config.ServerConfig{Port: 0}, &fakeSync{}, fakeStatus{}, &fakeTracker{}, fakeOnline(false), nil)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, <-errCh)
}
