package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fleetsync"

var (
	once sync.Once

	syncItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_items_total",
			Help:      "Queued submissions attempted during sync passes, by result.",
		},
		[]string{"result"},
	)

	syncPasses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_passes_total",
			Help:      "Completed sync passes.",
		},
	)

	queuePending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_pending",
			Help:      "Submissions waiting in the durable queue.",
		},
	)

	queueExhausted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_exhausted",
			Help:      "Queued submissions excluded from automatic retry.",
		},
	)

	offlineSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_submissions_total",
			Help:      "Submissions routed to the offline queue, by reason.",
		},
		[]string{"reason"},
	)

	gpsPositions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gps_positions_total",
			Help:      "GPS positions by outcome (sent, buffered, dropped).",
		},
		[]string{"result"},
	)

	gpsBatchFlush = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gps_batch_flush_total",
			Help:      "Batch flushes of buffered GPS positions, by result.",
		},
		[]string{"result"},
	)

	connectivityTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connectivity_transitions_total",
			Help:      "Observed connectivity transitions, by new state.",
		},
		[]string{"state"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			syncItems,
			syncPasses,
			queuePending,
			queueExhausted,
			offlineSubmissions,
			gpsPositions,
			gpsBatchFlush,
			connectivityTransitions,
		)
	})
}

func IncSyncItem(result string) {
	syncItems.WithLabelValues(result).Inc()
}

func IncSyncPass() {
	syncPasses.Inc()
}

// SetQueueDepth publishes the pending and exhausted queue sizes.
func SetQueueDepth(pending, exhausted int) {
	queuePending.Set(float64(pending))
	queueExhausted.Set(float64(exhausted))
}

func IncOfflineSubmission(reason string) {
	offlineSubmissions.WithLabelValues(reason).Inc()
}

func IncGPSPosition(result string) {
	gpsPositions.WithLabelValues(result).Inc()
}

func IncGPSBatchFlush(result string) {
	gpsBatchFlush.WithLabelValues(result).Inc()
}

func IncConnectivityTransition(state string) {
	connectivityTransitions.WithLabelValues(state).Inc()
}
