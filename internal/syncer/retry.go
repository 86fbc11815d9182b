package syncer

import (
	"errors"

	"fleetsync/internal/models"
)

// ErrExhaustedRetries marks a submission that no longer takes part in
// automatic sync passes. It stays queued until cleared.
var ErrExhaustedRetries = errors.New("submission exhausted automatic retries")

// RetryPolicy bounds how many failed attempts a queued submission gets.
type RetryPolicy struct {
	MaxRetries int
}

func (r RetryPolicy) maxRetries() int {
	if r.MaxRetries <= 0 {
		return models.DefaultMaxRetries
	}
	return r.MaxRetries
}

// Eligible reports whether item is a candidate for the next pass.
func (r RetryPolicy) Eligible(item models.PendingSubmission) bool {
	return !item.Exhausted(r.maxRetries())
}

// ExhaustedAfter reports whether one more failure exhausts item.
func (r RetryPolicy) ExhaustedAfter(item models.PendingSubmission) bool {
	return item.RetryCount+1 >= r.maxRetries()
}

// Candidates keeps the eligible items in their original order.
func (r RetryPolicy) Candidates(items []models.PendingSubmission) []models.PendingSubmission {
	out := make([]models.PendingSubmission, 0, len(items))
	for _, item := range items {
		if r.Eligible(item) {
			out = append(out, item)
		}
	}
	return out
}

// Exhausted returns the items excluded from automatic retry.
func (r RetryPolicy) Exhausted(items []models.PendingSubmission) []models.PendingSubmission {
	var out []models.PendingSubmission
	for _, item := range items {
		if !r.Eligible(item) {
			out = append(out, item)
		}
	}
	return out
}
