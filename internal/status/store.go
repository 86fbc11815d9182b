package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"fleetsync/internal/domain"
	"fleetsync/internal/events"
	"fleetsync/internal/models"
	"fleetsync/internal/repository"

	"github.com/rs/zerolog"
)

// Store owns the process-wide SyncStatus record.
//
// Updates are serialized and subscribers are notified synchronously, in
// commit order. Handlers must not call Update.
type Store struct {
	kv       domain.KVStore
	key      string
	logger   *zerolog.Logger
	notifier *events.Notifier[models.SyncStatus]

	updateMu sync.Mutex
	mu       sync.RWMutex
	current  models.SyncStatus
}

func NewStore(kv domain.KVStore, logger *zerolog.Logger) *Store {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Store{
		kv:       kv,
		key:      models.KeySyncStatus,
		logger:   logger,
		notifier: events.NewNotifier[models.SyncStatus](),
	}
}

// Load restores the persisted record. A sync flag left set by a crashed
// run is cleared.
func (s *Store) Load(ctx context.Context) error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	data, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load sync status: %w", err)
	}

	var st models.SyncStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode sync status: %w", err)
	}
	if st.IsSyncing {
		s.logger.Warn().Msg("Sync flag left over from previous run, resetting")
		st.IsSyncing = false
	}

	s.mu.Lock()
	s.current = st
	s.mu.Unlock()
	return nil
}

// Update applies fn, persists the result and notifies subscribers.
// A persistence failure is returned but the in-memory record is still
// committed and published, since every field is derived state.
func (s *Store) Update(ctx context.Context, fn func(*models.SyncStatus)) (models.SyncStatus, error) {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	s.mu.RLock()
	next := clone(s.current)
	s.mu.RUnlock()

	fn(&next)

	var persistErr error
	data, err := json.Marshal(next)
	if err != nil {
		persistErr = fmt.Errorf("encode sync status: %w", err)
	} else if err := s.kv.Set(ctx, s.key, data); err != nil {
		persistErr = fmt.Errorf("persist sync status: %w", err)
	}
	if persistErr != nil {
		s.logger.Error().Err(persistErr).Msg("Failed to persist sync status")
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()

	s.notifier.Publish(clone(next))
	return clone(next), persistErr
}

// Reset replaces the record with the zero status.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.Update(ctx, func(st *models.SyncStatus) {
		*st = models.SyncStatus{}
	})
	return err
}

func (s *Store) Snapshot() models.SyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.current)
}

// Subscribe registers fn for committed updates and returns its disposer.
func (s *Store) Subscribe(fn func(models.SyncStatus)) func() {
	return s.notifier.Subscribe(fn)
}

func clone(st models.SyncStatus) models.SyncStatus {
	if st.LastSyncAt != nil {
		t := *st.LastSyncAt
		st.LastSyncAt = &t
	}
	return st
}
