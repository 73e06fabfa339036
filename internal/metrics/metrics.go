package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// FilterRequests counts visibility filter calls by role and view mode.
	FilterRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "labtrack",
		Name:      "filter_requests_total",
		Help:      "Visibility filter evaluations by role and view mode.",
	}, []string{"role", "mode"})

	// FilterResults observes how many labs each filter call returned.
	FilterResults = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "labtrack",
		Name:      "filter_result_labs",
		Help:      "Number of labs returned by a visibility filter call.",
		Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
	})

	// Mutations counts dataset mutations by operation and outcome.
	Mutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "labtrack",
		Name:      "mutations_total",
		Help:      "Dataset mutations by operation and result (ok, not_found, invalid).",
	}, []string{"op", "result"})

	// SnapshotSaves counts persistence attempts by result.
	SnapshotSaves = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "labtrack",
		Name:      "snapshot_saves_total",
		Help:      "Snapshot save attempts by result.",
	}, []string{"result"})

	// AuditEvents counts worker-processed queue messages.
	AuditEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "labtrack",
		Name:      "audit_events_total",
		Help:      "Queue messages processed by the worker by type and result.",
	}, []string{"type", "result"})
)

func init() {
	prometheus.MustRegister(FilterRequests, FilterResults, Mutations, SnapshotSaves, AuditEvents)
}

// Result maps an error into a label value.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
