package events

import "github.com/prometheus/client_golang/prometheus"

var queueDepth = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "labcontroller_event_queue_depth",
		Help: "Total events queued across every user's event stream.",
	},
)

// Collectors returns the metrics this package contributes to the process
// registry.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{queueDepth}
}
