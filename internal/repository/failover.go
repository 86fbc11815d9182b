package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fleetsync/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverKVStore writes to primary and falls back to a secondary store
// while primary is failing. Recovery is attempted on writes only, so a
// recovered primary is brought up to date by the next full-record Set.
//
// A fallback miss is never reported as ErrNotFound unless primary agrees:
// callers rewrite whole records, and an empty read would overwrite what
// primary still holds once it recovers.
type FailoverKVStore struct {
	primary   domain.KVStore
	fallback  domain.KVStore
	logger    *zerolog.Logger
	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	// keys deleted while primary was down
	deleted map[string]struct{}
}

func NewFailoverKVStore(primary, fallback domain.KVStore, logger *zerolog.Logger) *FailoverKVStore {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverKVStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		deleted:  make(map[string]struct{}),
	}
}

func (r *FailoverKVStore) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary kv store failed, falling back")
	r.isDown.Store(true)
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

func (r *FailoverKVStore) shouldProbe() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastCheck) <= recoveryInterval {
		return false
	}
	r.lastCheck = time.Now()
	return true
}

func (r *FailoverKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	var primaryErr error
	if !r.isDown.Load() {
		val, err := r.primary.Get(ctx, key)
		if err == nil || errors.Is(err, ErrNotFound) {
			return val, err
		}
		r.markDown(err)
		primaryErr = err
	}

	val, err := r.fallback.Get(ctx, key)
	if !errors.Is(err, ErrNotFound) {
		return val, err
	}
	if r.deletedWhileDown(key) {
		return nil, ErrNotFound
	}

	if primaryErr == nil {
		val, primaryErr = r.primary.Get(ctx, key)
		if primaryErr == nil || errors.Is(primaryErr, ErrNotFound) {
			return val, primaryErr
		}
	}
	return nil, fmt.Errorf("primary kv store unavailable and %s not in fallback: %w", key, primaryErr)
}

func (r *FailoverKVStore) Set(ctx context.Context, key string, value []byte) error {
	if r.isDown.Load() && r.shouldProbe() {
		if err := r.primary.Set(ctx, key, value); err == nil {
			r.logger.Info().Msg("Primary kv store recovered")
			r.isDown.Store(false)
			r.replayDeletes(ctx, key)
			return r.fallback.Set(ctx, key, value)
		}
	}

	if !r.isDown.Load() {
		err := r.primary.Set(ctx, key, value)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}

	r.mu.Lock()
	delete(r.deleted, key)
	r.mu.Unlock()
	return r.fallback.Set(ctx, key, value)
}

func (r *FailoverKVStore) Delete(ctx context.Context, key string) error {
	if !r.isDown.Load() {
		err := r.primary.Delete(ctx, key)
		if err == nil {
			_ = r.fallback.Delete(ctx, key)
			return nil
		}
		r.markDown(err)
	}

	r.mu.Lock()
	r.deleted[key] = struct{}{}
	r.mu.Unlock()
	return r.fallback.Delete(ctx, key)
}

func (r *FailoverKVStore) deletedWhileDown(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.deleted[key]
	return ok
}

// replayDeletes applies deletes made while down to the recovered primary.
func (r *FailoverKVStore) replayDeletes(ctx context.Context, written string) {
	r.mu.Lock()
	keys := make([]string, 0, len(r.deleted))
	for k := range r.deleted {
		if k != written {
			keys = append(keys, k)
		}
	}
	r.deleted = make(map[string]struct{})
	r.mu.Unlock()

	for _, k := range keys {
		if err := r.primary.Delete(ctx, k); err != nil {
			r.logger.Warn().Err(err).Str("key", k).Msg("Failed to replay delete on recovered primary")
		}
	}
}
