package lab

import "github.com/prometheus/client_golang/prometheus"

var (
	createsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labcontroller_lab_creates_total",
			Help: "Lab create requests, by outcome (success, rejected, config_error, namespace_collision, failed).",
		},
		[]string{"outcome"},
	)
	deletesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labcontroller_lab_deletes_total",
			Help: "Lab delete requests, by outcome (success or failed).",
		},
		[]string{"outcome"},
	)
)

// Collectors returns the metrics this package contributes to the process
// registry.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{createsTotal, deletesTotal}
}
