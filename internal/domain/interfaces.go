package domain

import (
	"context"

	"fleetsync/internal/models"
)

// KVStore is the durable key-value record store. Get returns
// repository.ErrNotFound for a missing key. Set replaces the whole value
// atomically.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// ProofSubmitter delivers a proof of delivery to the remote service.
type ProofSubmitter interface {
	SubmitProof(ctx context.Context, tripID string, req models.ProofRequest) (*models.ProofResponse, error)
}

// PositionSender delivers GPS positions to the ingestion service.
type PositionSender interface {
	SendPosition(ctx context.Context, pos models.GPSPosition) error
	SendPositionBatch(ctx context.Context, positions []models.GPSPosition) (*models.BatchResult, error)
}

// OnlineChecker is a best-effort connectivity check.
type OnlineChecker interface {
	IsOnline() bool
}

// LocationProvider samples the device location.
type LocationProvider interface {
	CurrentLocation(ctx context.Context) (models.Location, error)
}

// ExhaustedNotifier is told when a submission runs out of automatic retries.
type ExhaustedNotifier interface {
	NotifyExhausted(ctx context.Context, item models.PendingSubmission) error
}

// SyncStatusReader is the read-only status facade handed to outer layers.
type SyncStatusReader interface {
	Snapshot() models.SyncStatus
	Subscribe(fn func(models.SyncStatus)) func()
}
