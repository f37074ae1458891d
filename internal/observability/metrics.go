package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	recordPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "biosync",
		Subsystem: "persistence",
		Name:      "last_record_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent canonical record upsert.",
	})

	syncRunsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "biosync",
		Subsystem: "sync",
		Name:      "runs_total",
		Help:      "Finished sync runs, labeled by source and outcome status.",
	}, []string{"source", "status"})

	providerCallsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "biosync",
		Subsystem: "provider",
		Name:      "api_calls_total",
		Help:      "Outbound provider API call attempts, labeled by source.",
	}, []string{"source"})

	cacheHitsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "biosync",
		Subsystem: "sync",
		Name:      "cache_hits_total",
		Help:      "Dates served from the object cache instead of the provider API.",
	}, []string{"source"})

	leaseContentionCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "biosync",
		Subsystem: "sync",
		Name:      "lease_contention_total",
		Help:      "Sync attempts skipped because the lease was already held.",
	})

	syncDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "biosync",
		Subsystem: "sync",
		Name:      "run_duration_seconds",
		Help:      "Wall time of a per-source sync run.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"source"})
)

func init() {
	prometheus.MustRegister(
		recordPersistGauge,
		syncRunsCounter,
		providerCallsCounter,
		cacheHitsCounter,
		leaseContentionCounter,
		syncDuration,
	)
}

// RecordPersisted updates the persistence watermark gauge.
func RecordPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	recordPersistGauge.Set(float64(ts.Unix()))
}

// RecordSyncOutcome counts a finished per-source run.
func RecordSyncOutcome(source, status string) {
	syncRunsCounter.WithLabelValues(source, status).Inc()
}

// RecordProviderCall counts an outbound API call attempt.
func RecordProviderCall(source string) {
	providerCallsCounter.WithLabelValues(source).Inc()
}

// RecordCacheHit counts a date served from the object cache.
func RecordCacheHit(source string) {
	cacheHitsCounter.WithLabelValues(source).Inc()
}

// RecordLeaseContention counts a skipped sync attempt.
func RecordLeaseContention() {
	leaseContentionCounter.Inc()
}

// ObserveSyncDuration records the wall time of a per-source run.
func ObserveSyncDuration(source string, d time.Duration) {
	syncDuration.WithLabelValues(source).Observe(d.Seconds())
}
