package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"fleetsync/internal/domain"
	"fleetsync/internal/metrics"
	"fleetsync/internal/models"
	"fleetsync/internal/queue"
	"fleetsync/internal/status"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Options tunes an Engine. Zero values select defaults.
type Options struct {
	Retry    RetryPolicy
	Limiter  *rate.Limiter
	Notifier domain.ExhaustedNotifier
	Logger   *zerolog.Logger
}

// Engine routes proof submissions online or into the offline queue and
// replays the queue when connectivity returns.
type Engine struct {
	queue     *queue.Queue
	status    *status.Store
	submitter domain.ProofSubmitter
	online    domain.OnlineChecker
	retry     RetryPolicy
	limiter   *rate.Limiter
	notifier  domain.ExhaustedNotifier
	logger    *zerolog.Logger
	now       func() time.Time

	isSyncing atomic.Bool
}

func NewEngine(q *queue.Queue, st *status.Store, submitter domain.ProofSubmitter, online domain.OnlineChecker, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Engine{
		queue:     q,
		status:    st,
		submitter: submitter,
		online:    online,
		retry:     opts.Retry,
		limiter:   opts.Limiter,
		notifier:  opts.Notifier,
		logger:    logger,
		now:       time.Now,
	}
}

// MaxRetries is the effective retry ceiling.
func (e *Engine) MaxRetries() int {
	return e.retry.maxRetries()
}

// CreateWithOfflineSupport submits sub directly when online and queues it
// otherwise. Submission failures are reported as a successful offline
// capture carrying its PendingID. Only a failed queue write reports
// Success=false, with the PersistenceError in Err.
func (e *Engine) CreateWithOfflineSupport(ctx context.Context, sub models.ProofSubmission) models.CreateResult {
	reason := "offline"
	if e.online.IsOnline() {
		proof, err := e.submitter.SubmitProof(ctx, sub.TripID, sub.Request)
		if err == nil {
			e.logger.Info().Str("trip_id", sub.TripID).Msg("Proof submitted online")
			return models.CreateResult{Success: true, Proof: proof}
		}
		e.logger.Warn().Err(err).Str("trip_id", sub.TripID).Msg("Online submission failed, queueing")
		reason = "submit_failed"
	}

	// the capture must be queued even if the caller gave up on the send
	queueCtx := context.WithoutCancel(ctx)

	item, err := e.queue.Append(queueCtx, sub)
	if err != nil {
		e.logger.Error().Err(err).Str("trip_id", sub.TripID).Msg("Failed to queue submission")
		metrics.IncOfflineSubmission("persist_failed")
		return models.CreateResult{Success: false, IsOffline: true, Err: err}
	}
	metrics.IncOfflineSubmission(reason)
	e.refreshStatus(queueCtx, nil)

	e.logger.Info().Str("trip_id", sub.TripID).Str("local_id", item.LocalID).Str("reason", reason).Msg("Proof queued for sync")
	return models.CreateResult{Success: true, IsOffline: true, PendingID: item.LocalID}
}

// SyncAll replays eligible queued submissions, oldest first. Only one pass
// runs at a time; a call made while a pass is running returns a zero result.
func (e *Engine) SyncAll(ctx context.Context) models.SyncResult {
	if !e.isSyncing.CompareAndSwap(false, true) {
		e.logger.Debug().Msg("Sync already in progress, skipping")
		return models.SyncResult{}
	}
	defer e.isSyncing.Store(false)

	// status writes must land even when ctx is canceled mid-pass
	statusCtx := context.WithoutCancel(ctx)

	e.updateStatus(statusCtx, func(st *models.SyncStatus) {
		st.IsSyncing = true
		st.LastError = ""
	})

	var result models.SyncResult
	var lastFailure error

	items, err := e.queue.ListAll(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to read offline queue")
		lastFailure = err
	}

	candidates := e.retry.Candidates(items)
	if len(candidates) > 0 {
		e.logger.Info().Int("candidates", len(candidates)).Int("queued", len(items)).Msg("Sync pass started")
	}

	for _, item := range candidates {
		if ctx.Err() != nil {
			e.logger.Info().Msg("Sync pass canceled")
			break
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				break
			}
		}

		if err := e.processItem(ctx, item); err != nil {
			if errors.Is(err, errPassCanceled) {
				e.logger.Info().Str("local_id", item.LocalID).Msg("Sync pass canceled mid-send")
				break
			}
			result.Failed++
			lastFailure = err
			continue
		}
		result.Synced++
	}

	finishedAt := e.now().UTC()
	e.refreshStatus(statusCtx, func(st *models.SyncStatus) {
		st.IsSyncing = false
		st.LastSyncAt = &finishedAt
		switch {
		case result.Failed > 0:
			st.LastError = fmt.Sprintf("%d submission(s) failed to sync", result.Failed)
		case lastFailure != nil:
			st.LastError = lastFailure.Error()
		}
	})
	metrics.IncSyncPass()

	e.logger.Info().Int("synced", result.Synced).Int("failed", result.Failed).Msg("Sync pass finished")
	return result
}

var errPassCanceled = errors.New("sync pass canceled")

func (e *Engine) processItem(ctx context.Context, item models.PendingSubmission) error {
	_, err := e.submitter.SubmitProof(ctx, item.Payload.TripID, item.Payload.Request)

	// the remote outcome is final, so bookkeeping outlives cancellation
	bookCtx := context.WithoutCancel(ctx)

	if err == nil {
		metrics.IncSyncItem("synced")
		if rmErr := e.queue.Remove(bookCtx, item.LocalID); rmErr != nil {
			// the item stays queued and will be sent again next pass
			e.logger.Error().Err(rmErr).Str("local_id", item.LocalID).Msg("Failed to remove synced submission")
		} else {
			e.refreshStatus(bookCtx, nil)
		}
		e.logger.Debug().Str("local_id", item.LocalID).Msg("Submission synced")
		return nil
	}

	if ctx.Err() != nil {
		return errPassCanceled
	}

	metrics.IncSyncItem("failed")
	msg := describeFailure(err)
	recErr := e.queue.RecordFailure(bookCtx, item.LocalID, msg)
	if recErr != nil {
		e.logger.Error().Err(recErr).Str("local_id", item.LocalID).Msg("Failed to record sync failure")
	} else {
		e.refreshStatus(bookCtx, nil)
	}

	e.logger.Warn().Err(err).
		Str("local_id", item.LocalID).
		Str("trip_id", item.Payload.TripID).
		Int("attempt", item.RetryCount+1).
		Msg("Submission sync failed")

	// an unrecorded failure leaves the stored count unchanged
	if recErr == nil && e.retry.ExhaustedAfter(item) {
		exhausted := item
		exhausted.RetryCount++
		exhausted.LastError = &msg
		e.alertExhausted(bookCtx, exhausted)
	}
	return err
}

func (e *Engine) alertExhausted(ctx context.Context, item models.PendingSubmission) {
	e.logger.Error().Err(ErrExhaustedRetries).
		Str("local_id", item.LocalID).
		Str("trip_id", item.Payload.TripID).
		Int("retry_count", item.RetryCount).
		Msg("Submission excluded from automatic sync")

	if e.notifier == nil {
		return
	}
	if err := e.notifier.NotifyExhausted(ctx, item); err != nil {
		e.logger.Warn().Err(err).Str("local_id", item.LocalID).Msg("Failed to send exhausted-retries alert")
	}
}

// Status returns the current sync status.
func (e *Engine) Status() models.SyncStatus {
	return e.status.Snapshot()
}

// Exhausted lists queued submissions excluded from automatic retry.
func (e *Engine) Exhausted(ctx context.Context) ([]models.PendingSubmission, error) {
	items, err := e.queue.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return e.retry.Exhausted(items), nil
}

// Pending lists every queued submission, oldest first.
func (e *Engine) Pending(ctx context.Context) ([]models.PendingSubmission, error) {
	return e.queue.ListAll(ctx)
}

// Clear drops all queued submissions and resets the status record.
func (e *Engine) Clear(ctx context.Context) error {
	if err := e.queue.Clear(ctx); err != nil {
		return err
	}
	metrics.SetQueueDepth(0, 0)
	return e.status.Reset(ctx)
}

// RefreshStatus recomputes queue-derived counters, e.g. after startup.
func (e *Engine) RefreshStatus(ctx context.Context) {
	e.refreshStatus(ctx, nil)
}

// refreshStatus rebuilds the queue-derived counters and applies extra.
func (e *Engine) refreshStatus(ctx context.Context, extra func(*models.SyncStatus)) {
	items, err := e.queue.ListAll(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to read offline queue for status")
	}
	exhausted := len(e.retry.Exhausted(items))
	metrics.SetQueueDepth(len(items), exhausted)

	e.updateStatus(ctx, func(st *models.SyncStatus) {
		if err == nil {
			st.PendingCount = len(items)
			st.ExhaustedCount = exhausted
		}
		if extra != nil {
			extra(st)
		}
	})
}

func (e *Engine) updateStatus(ctx context.Context, fn func(*models.SyncStatus)) {
	if _, err := e.status.Update(ctx, fn); err != nil {
		e.logger.Warn().Err(err).Msg("Sync status not persisted")
	}
}

// describeFailure renders err for LastError, tagging rejections the server
// will keep refusing.
func describeFailure(err error) string {
	var perm interface{ Permanent() bool }
	if errors.As(err, &perm) && perm.Permanent() {
		return "rejected: " + err.Error()
	}
	return err.Error()
}
