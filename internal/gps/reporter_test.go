package gps

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fleetsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepProvider returns a new latitude on every sample so positions can be
// told apart.
type stepProvider struct {
	n     atomic.Int64
	err   error
	block chan struct{}
}

func (p *stepProvider) CurrentLocation(ctx context.Context) (models.Location, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return models.Location{}, ctx.Err()
		}
	}
	if p.err != nil {
		return models.Location{}, p.err
	}
	n := p.n.Add(1)
	return models.Location{Latitude: float64(n), Longitude: 2.35, Heading: 89.6, Accuracy: 4}, nil
}

type fakeSender struct {
	mu        sync.Mutex
	failOne   bool
	failBatch bool
	sent      []models.GPSPosition
	batches   [][]models.GPSPosition
}

func (s *fakeSender) SendPosition(_ context.Context, pos models.GPSPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOne {
		return errors.New("network unreachable")
	}
	s.sent = append(s.sent, pos)
	return nil
}

func (s *fakeSender) SendPositionBatch(_ context.Context, positions []models.GPSPosition) (*models.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, positions)
	if s.failBatch {
		return nil, errors.New("bulk endpoint down")
	}
	return &models.BatchResult{Accepted: len(positions)}, nil
}

func (s *fakeSender) set(failOne, failBatch bool) {
	s.mu.Lock()
	s.failOne, s.failBatch = failOne, failBatch
	s.mu.Unlock()
}

func (s *fakeSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func newTestReporter(sender *fakeSender, provider *stepProvider) *Reporter {
	return NewReporter(provider, sender, Config{TruckID: "TRK-001", Interval: time.Hour}, nil)
}

func TestTickSendsPosition(t *testing.T) {
	sender := &fakeSender{}
	r := newTestReporter(sender, &stepProvider{})
	r.now = func() time.Time { return time.Date(2024, 2, 1, 8, 0, 0, 750_000_000, time.UTC) }

	r.tick(context.Background())

	require.Equal(t, 1, sender.sentCount())
	pos := sender.sent[0]
	assert.Equal(t, "TRK-001", pos.TruckID)
	require.NotNil(t, pos.Heading)
	assert.Equal(t, 90, *pos.Heading)
	assert.Equal(t, time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC), pos.Timestamp)

	st := r.Snapshot()
	assert.Equal(t, 1, st.PositionsSent)
	assert.NotNil(t, st.LastSentAt)
	assert.Empty(t, st.Error)
}

func TestTickLocationError(t *testing.T) {
	sender := &fakeSender{}
	r := newTestReporter(sender, &stepProvider{err: errors.New("permission denied")})

	r.tick(context.Background())

	assert.Zero(t, sender.sentCount())
	assert.Equal(t, "failed to get location", r.Snapshot().Error)
}

func TestFailedSendsAreBufferedThenFlushed(t *testing.T) {
	sender := &fakeSender{}
	r := newTestReporter(sender, &stepProvider{})
	ctx := context.Background()

	sender.set(true, false)
	for i := 0; i < 5; i++ {
		r.tick(ctx)
	}
	st := r.Snapshot()
	assert.Equal(t, 5, st.Buffered)
	assert.Equal(t, "failed to send position", st.Error)

	sender.set(false, false)
	r.tick(ctx)

	require.Len(t, sender.batches, 1)
	assert.Len(t, sender.batches[0], 5)
	assert.Equal(t, float64(1), sender.batches[0][0].Latitude)
	assert.Equal(t, 0, r.Snapshot().Buffered)
}

func TestFailedBatchKeepsBuffer(t *testing.T) {
	sender := &fakeSender{}
	r := newTestReporter(sender, &stepProvider{})
	ctx := context.Background()

	sender.set(true, false)
	for i := 0; i < 5; i++ {
		r.tick(ctx)
	}

	sender.set(false, true)
	r.tick(ctx)

	require.Len(t, sender.batches, 1)
	assert.Equal(t, 5, r.Snapshot().Buffered)
	assert.Equal(t, 1, r.Snapshot().PositionsSent)
}

func TestBufferCapacityKeepsOldest(t *testing.T) {
	sender := &fakeSender{}
	r := newTestReporter(sender, &stepProvider{})
	ctx := context.Background()

	sender.set(true, false)
	for i := 0; i < models.DefaultGPSBufferCapacity+5; i++ {
		r.tick(ctx)
	}

	st := r.Snapshot()
	assert.Equal(t, models.DefaultGPSBufferCapacity, st.Buffered)
	assert.Equal(t, 5, st.Dropped)

	r.mu.Lock()
	first := r.buffer[0].Latitude
	last := r.buffer[len(r.buffer)-1].Latitude
	r.mu.Unlock()
	assert.Equal(t, float64(1), first)
	assert.Equal(t, float64(models.DefaultGPSBufferCapacity), last)
}

func TestStatusDrivesTracking(t *testing.T) {
	sender := &fakeSender{}
	r := NewReporter(&stepProvider{}, sender, Config{TruckID: "TRK-001", Interval: 10 * time.Millisecond}, nil)

	r.SetStatus(models.TruckOnBreak)
	assert.False(t, r.Snapshot().IsTracking)

	r.SetStatus(models.TruckInDelivery)
	assert.True(t, r.Snapshot().IsTracking)
	require.Eventually(t, func() bool { return sender.sentCount() >= 3 }, 2*time.Second, 5*time.Millisecond)

	r.SetStatus(models.TruckOffline)
	assert.False(t, r.Snapshot().IsTracking)

	after := sender.sentCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, sender.sentCount(), "no samples after stop")
}

func TestImmediateSampleOnStart(t *testing.T) {
	sender := &fakeSender{}
	r := NewReporter(&stepProvider{}, sender, Config{TruckID: "TRK-001", Interval: time.Hour}, nil)
	defer r.Stop()

	r.SetStatus(models.TruckAvailable)
	require.Eventually(t, func() bool { return sender.sentCount() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestNoTrackingWithoutTruckID(t *testing.T) {
	sender := &fakeSender{}
	r := NewReporter(&stepProvider{}, sender, Config{Interval: 10 * time.Millisecond}, nil)

	r.SetStatus(models.TruckAvailable)
	assert.False(t, r.Snapshot().IsTracking)

	r.SetTruckID("TRK-009")
	assert.True(t, r.Snapshot().IsTracking)

	r.SetTruckID("")
	assert.False(t, r.Snapshot().IsTracking)
}

func TestStopWaitsForInFlightTick(t *testing.T) {
	provider := &stepProvider{block: make(chan struct{})}
	sender := &fakeSender{}
	r := NewReporter(provider, sender, Config{TruckID: "TRK-001", Interval: time.Hour}, nil)

	r.SetStatus(models.TruckAvailable)
	require.Eventually(t, func() bool { return r.inFlight.Load() }, 2*time.Second, time.Millisecond)

	r.Stop()
	assert.False(t, r.inFlight.Load())
	assert.Zero(t, sender.sentCount())
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	provider := &stepProvider{block: make(chan struct{})}
	sender := &fakeSender{}
	r := newTestReporter(sender, provider)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.wg.Add(1)
	r.spawnTick(ctx)
	require.True(t, r.inFlight.Load())
	r.spawnTick(ctx)

	close(provider.block)
	r.wg.Done()
	r.wg.Wait()

	assert.Equal(t, int64(1), provider.n.Load())
	assert.Equal(t, 1, sender.sentCount())
}
