// Package gps samples the truck location while it is on duty and reports
// it to the ingestion service, buffering positions the service did not get.
package gps

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"fleetsync/internal/domain"
	"fleetsync/internal/metrics"
	"fleetsync/internal/models"

	"github.com/rs/zerolog"
)

const (
	errLocation = "failed to get location"
	errSend     = "failed to send position"
)

var ErrNoTruck = errors.New("truck id is not set")

// TrackingState is a point-in-time view of the reporter.
type TrackingState struct {
	IsTracking    bool                `json:"isTracking"`
	TruckID       string              `json:"truckId,omitempty"`
	Status        models.TruckStatus  `json:"status,omitempty"`
	LastPosition  *models.GPSPosition `json:"lastPosition,omitempty"`
	LastSentAt    *time.Time          `json:"lastSentAt,omitempty"`
	Error         string              `json:"error,omitempty"`
	PositionsSent int                 `json:"positionsSent"`
	Buffered      int                 `json:"buffered"`
	Dropped       int                 `json:"dropped"`
}

type Config struct {
	TruckID        string
	Interval       time.Duration
	BufferCapacity int
}

// Reporter runs the NOT_TRACKING/TRACKING state machine.
type Reporter struct {
	provider domain.LocationProvider
	sender   domain.PositionSender
	logger   *zerolog.Logger
	interval time.Duration
	capacity int
	now      func() time.Time

	// runMu serializes start and stop
	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	inFlight atomic.Bool

	mu      sync.Mutex
	truckID string
	status  models.TruckStatus
	buffer  []models.GPSPosition
	state   TrackingState
}

func NewReporter(provider domain.LocationProvider, sender domain.PositionSender, cfg Config, logger *zerolog.Logger) *Reporter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if cfg.Interval <= 0 {
		cfg.Interval = models.DefaultTrackingInterval * time.Second
	}
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = models.DefaultGPSBufferCapacity
	}
	return &Reporter{
		provider: provider,
		sender:   sender,
		logger:   logger,
		interval: cfg.Interval,
		capacity: cfg.BufferCapacity,
		now:      time.Now,
		truckID:  cfg.TruckID,
	}
}

// SetStatus moves the state machine. Trackable statuses start sampling
// when a truck id is known; anything else stops it.
func (r *Reporter) SetStatus(status models.TruckStatus) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	r.mu.Lock()
	r.status = status
	r.state.Status = status
	r.mu.Unlock()

	r.reconcileLocked()
}

// SetTruckID changes the reported truck. An empty id stops tracking.
func (r *Reporter) SetTruckID(truckID string) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	r.mu.Lock()
	r.truckID = truckID
	r.state.TruckID = truckID
	r.mu.Unlock()

	r.reconcileLocked()
}

// Stop halts sampling and waits until no tick is running.
func (r *Reporter) Stop() {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	r.stopLocked()
}

func (r *Reporter) Snapshot() TrackingState {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state
	st.Buffered = len(r.buffer)
	if st.LastPosition != nil {
		p := *st.LastPosition
		st.LastPosition = &p
	}
	if st.LastSentAt != nil {
		t := *st.LastSentAt
		st.LastSentAt = &t
	}
	return st
}

func (r *Reporter) reconcileLocked() {
	r.mu.Lock()
	want := r.status.Trackable() && r.truckID != ""
	r.mu.Unlock()

	switch {
	case want && r.cancel == nil:
		r.startLocked()
	case !want && r.cancel != nil:
		r.stopLocked()
	}
}

func (r *Reporter) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.mu.Lock()
	r.state.IsTracking = true
	r.state.Error = ""
	truckID := r.truckID
	r.mu.Unlock()

	r.logger.Info().Str("truck_id", truckID).Dur("interval", r.interval).Msg("GPS tracking started")

	r.wg.Add(1)
	go r.loop(ctx)
}

func (r *Reporter) stopLocked() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.wg.Wait()
	r.cancel = nil

	r.mu.Lock()
	r.state.IsTracking = false
	r.mu.Unlock()

	r.logger.Info().Msg("GPS tracking stopped")
}

func (r *Reporter) loop(ctx context.Context) {
	defer r.wg.Done()

	r.spawnTick(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.spawnTick(ctx)
		}
	}
}

func (r *Reporter) spawnTick(ctx context.Context) {
	if !r.inFlight.CompareAndSwap(false, true) {
		r.logger.Debug().Msg("Previous GPS tick still running, skipping")
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.inFlight.Store(false)
		r.tick(ctx)
	}()
}

func (r *Reporter) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	loc, err := r.provider.CurrentLocation(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Location sample failed")
		r.setError(errLocation)
		return
	}

	r.mu.Lock()
	truckID := r.truckID
	r.mu.Unlock()
	if truckID == "" {
		r.setError(ErrNoTruck.Error())
		return
	}

	pos := models.NewGPSPosition(truckID, loc, r.now())
	r.mu.Lock()
	r.state.LastPosition = &pos
	r.mu.Unlock()

	if err := r.sender.SendPosition(ctx, pos); err != nil {
		r.logger.Warn().Err(err).Str("truck_id", truckID).Msg("Position send failed, buffering")
		r.bufferPosition(pos)
		return
	}

	sentAt := r.now()
	r.mu.Lock()
	r.state.PositionsSent++
	r.state.LastSentAt = &sentAt
	r.state.Error = ""
	r.mu.Unlock()
	metrics.IncGPSPosition("sent")

	r.flush(ctx)
}

func (r *Reporter) bufferPosition(pos models.GPSPosition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.Error = errSend
	if len(r.buffer) >= r.capacity {
		r.state.Dropped++
		metrics.IncGPSPosition("dropped")
		return
	}
	r.buffer = append(r.buffer, pos)
	metrics.IncGPSPosition("buffered")
}

// flush sends the buffered positions in one batch and drops exactly the
// entries it sent once the batch is accepted.
func (r *Reporter) flush(ctx context.Context) {
	r.mu.Lock()
	if len(r.buffer) == 0 {
		r.mu.Unlock()
		return
	}
	batch := make([]models.GPSPosition, len(r.buffer))
	copy(batch, r.buffer)
	r.mu.Unlock()

	res, err := r.sender.SendPositionBatch(ctx, batch)
	if err != nil {
		metrics.IncGPSBatchFlush("failed")
		r.logger.Warn().Err(err).Int("size", len(batch)).Msg("Buffered positions flush failed")
		return
	}
	metrics.IncGPSBatchFlush("ok")

	r.mu.Lock()
	r.buffer = append([]models.GPSPosition(nil), r.buffer[len(batch):]...)
	r.mu.Unlock()

	ev := r.logger.Info().Int("size", len(batch))
	if res != nil {
		ev = ev.Int("accepted", res.Accepted).Int("rejected", res.Rejected)
	}
	ev.Msg("Buffered positions flushed")
}

func (r *Reporter) setError(msg string) {
	r.mu.Lock()
	r.state.Error = msg
	r.mu.Unlock()
}
