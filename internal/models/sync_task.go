package models

import "time"

// PendingSubmission is a durably queued proof awaiting transmission.
type PendingSubmission struct {
	LocalID    string          `json:"local_id"`
	Payload    ProofSubmission `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	RetryCount int             `json:"retry_count"`
	LastError  *string         `json:"last_error,omitempty"`
}

// Exhausted reports whether the item has used up its automatic retries.
func (p PendingSubmission) Exhausted(maxRetries int) bool {
	return p.RetryCount >= maxRetries
}

// SyncStatus is the observable state of the offline queue.
type SyncStatus struct {
	LastSyncAt     *time.Time `json:"last_sync_at"`
	PendingCount   int        `json:"pending_count"`
	IsSyncing      bool       `json:"is_syncing"`
	LastError      string     `json:"last_error,omitempty"`
	ExhaustedCount int        `json:"exhausted_count"`
}

// CreateResult is returned by an offline-aware create. Submission failures
// still report Success; only a failed local write clears it and sets Err.
type CreateResult struct {
	Success   bool           `json:"success"`
	IsOffline bool           `json:"isOffline"`
	Proof     *ProofResponse `json:"proof,omitempty"`
	PendingID string         `json:"pendingId,omitempty"`
	Err       error          `json:"-"`
}

// SyncResult aggregates one sync pass.
type SyncResult struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}
