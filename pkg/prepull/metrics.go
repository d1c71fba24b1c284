package prepull

import "github.com/prometheus/client_golang/prometheus"

var (
	campaignDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "labcontroller_prepull_campaign_duration_seconds",
			Help:    "Time to pull one image onto every node missing it, from campaign start to close.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	campaignsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labcontroller_prepull_campaigns_total",
			Help: "Prepull campaigns run, by outcome (success or failure).",
		},
		[]string{"outcome"},
	)
	activeCampaigns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "labcontroller_prepull_active_campaigns",
			Help: "Number of images currently being pulled onto one or more nodes.",
		},
	)
)

// Collectors returns the metrics this package contributes to the process
// registry.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{campaignDuration, campaignsTotal, activeCampaigns}
}
