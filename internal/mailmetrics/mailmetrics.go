// Package mailmetrics exposes the engine's operational counters through
// github.com/prometheus/client_golang, the way the surrounding server
// stack instruments its other subsystems.
package mailmetrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ScanDuration observes how long a directory scan + header-parse pass
	// takes, labelled by mailbox format.
	ScanDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mailstore",
		Subsystem: "engine",
		Name:      "scan_duration_seconds",
		Help:      "Time spent scanning and lazily parsing a mailbox.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	// SyncTotal counts Sync calls and their outcome.
	SyncTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailstore",
		Subsystem: "engine",
		Name:      "sync_total",
		Help:      "Number of Sync calls, by mailbox format and result.",
	}, []string{"kind", "result"})

	// HeaderCacheHits counts header-cache fetch outcomes.
	HeaderCacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mailstore",
		Subsystem: "headercache",
		Name:      "lookups_total",
		Help:      "Header cache lookups, partitioned by hit or miss.",
	}, []string{"outcome"})

	// MessagesTotal is a gauge of the current message count per open
	// mailbox, labelled by format.
	MessagesTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "mailstore",
		Subsystem: "engine",
		Name:      "messages",
		Help:      "Current message count of an open mailbox.",
	}, []string{"kind"})
)

// MustRegister registers every collector above against reg. Call once at
// process startup.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(ScanDuration, SyncTotal, HeaderCacheHits, MessagesTotal)
}
