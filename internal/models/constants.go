package models

const (
	// DefaultMaxRetries is how many failed sync attempts an item gets before
	// it is excluded from automatic retry.
	DefaultMaxRetries = 3

	// DefaultGPSBufferCapacity bounds the in-memory failed-position buffer.
	DefaultGPSBufferCapacity = 100

	// DefaultTrackingInterval is the GPS sampling period in seconds.
	DefaultTrackingInterval = 10

	// LocalIDPrefix marks ids generated on the device.
	LocalIDPrefix = "local_"
)

const (
	// KeyPendingSubmissions holds the JSON list of PendingSubmission.
	KeyPendingSubmissions = "fleetsync:pending_submissions"
	// KeySyncStatus holds the JSON SyncStatus record.
	KeySyncStatus = "fleetsync:sync_status"
)
