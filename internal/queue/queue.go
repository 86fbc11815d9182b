// Package queue is the durable FIFO of proof submissions waiting to reach
// the remote service.
//
// Persistence is coarse-grained: every mutation re-serializes the whole list
// and writes it under a single key. That keeps each mutation one atomic KV
// write, but the cost grows with queue length, so the queue is meant for tens
// to low hundreds of items.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"fleetsync/internal/domain"
	"fleetsync/internal/models"
	"fleetsync/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PersistenceError is returned when the durable store rejects a write.
// The previously persisted list is left untouched.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("queue %s: persist: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

type Queue struct {
	kv     domain.KVStore
	key    string
	logger *zerolog.Logger
	now    func() time.Time
	newID  func() string

	mu     sync.Mutex
	items  []models.PendingSubmission
	loaded bool
}

func New(kv domain.KVStore, logger *zerolog.Logger) *Queue {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Queue{
		kv:     kv,
		key:    models.KeyPendingSubmissions,
		logger: logger,
		now:    time.Now,
		newID: func() string {
			return models.LocalIDPrefix + uuid.NewString()
		},
	}
}

// Append enqueues payload with a fresh local id and zero retries.
func (q *Queue) Append(ctx context.Context, payload models.ProofSubmission) (models.PendingSubmission, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.loadLocked(ctx); err != nil {
		return models.PendingSubmission{}, err
	}

	item := models.PendingSubmission{
		LocalID:    q.newID(),
		Payload:    payload,
		CreatedAt:  q.now().UTC(),
		RetryCount: 0,
	}

	next := make([]models.PendingSubmission, 0, len(q.items)+1)
	next = append(next, q.items...)
	next = append(next, item)

	if err := q.commitLocked(ctx, "append", next); err != nil {
		return models.PendingSubmission{}, err
	}

	q.logger.Debug().Str("local_id", item.LocalID).Str("trip_id", payload.TripID).Int("pending", len(next)).Msg("Submission queued")
	return item, nil
}

// Remove deletes the entry with localID. A missing id is a no-op.
func (q *Queue) Remove(ctx context.Context, localID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.loadLocked(ctx); err != nil {
		return err
	}

	idx := q.indexLocked(localID)
	if idx < 0 {
		return nil
	}

	next := make([]models.PendingSubmission, 0, len(q.items)-1)
	next = append(next, q.items[:idx]...)
	next = append(next, q.items[idx+1:]...)

	return q.commitLocked(ctx, "remove", next)
}

// RecordFailure bumps the retry counter of localID and stores errMsg.
// A missing id is a no-op.
func (q *Queue) RecordFailure(ctx context.Context, localID, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.loadLocked(ctx); err != nil {
		return err
	}

	idx := q.indexLocked(localID)
	if idx < 0 {
		return nil
	}

	next := make([]models.PendingSubmission, len(q.items))
	copy(next, q.items)
	msg := errMsg
	next[idx].RetryCount++
	next[idx].LastError = &msg

	return q.commitLocked(ctx, "record_failure", next)
}

// ListAll returns a snapshot ordered by CreatedAt, oldest first.
// Entries with equal timestamps keep their append order.
func (q *Queue) ListAll(ctx context.Context) ([]models.PendingSubmission, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.loadLocked(ctx); err != nil {
		return nil, err
	}

	out := make([]models.PendingSubmission, len(q.items))
	copy(out, q.items)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Len returns the number of queued entries.
func (q *Queue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.loadLocked(ctx); err != nil {
		return 0, err
	}
	return len(q.items), nil
}

// Clear drops every queued entry, e.g. on logout.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.kv.Delete(ctx, q.key); err != nil {
		return &PersistenceError{Op: "clear", Err: err}
	}
	q.items = nil
	q.loaded = true
	q.logger.Info().Msg("Offline queue cleared")
	return nil
}

func (q *Queue) indexLocked(localID string) int {
	for i := range q.items {
		if q.items[i].LocalID == localID {
			return i
		}
	}
	return -1
}

func (q *Queue) loadLocked(ctx context.Context) error {
	if q.loaded {
		return nil
	}

	data, err := q.kv.Get(ctx, q.key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			q.items = nil
			q.loaded = true
			return nil
		}
		return fmt.Errorf("load pending submissions: %w", err)
	}

	var items []models.PendingSubmission
	if len(data) > 0 {
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("decode pending submissions: %w", err)
		}
	}

	q.items = items
	q.loaded = true
	q.logger.Debug().Int("pending", len(items)).Msg("Offline queue loaded")
	return nil
}

// commitLocked persists next as the whole list and only then adopts it.
func (q *Queue) commitLocked(ctx context.Context, op string, next []models.PendingSubmission) error {
	if next == nil {
		next = []models.PendingSubmission{}
	}
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode pending submissions: %w", err)
	}
	if err := q.kv.Set(ctx, q.key, data); err != nil {
		q.logger.Error().Err(err).Str("op", op).Msg("Failed to persist offline queue")
		return &PersistenceError{Op: op, Err: err}
	}
	q.items = next
	return nil
}
