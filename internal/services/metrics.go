package services

import "github.com/prometheus/client_golang/prometheus"

// scanOutcomes counts finished scans by outcome: safe, unsafe, not_found,
// network_error, error, superseded or invalid.
var scanOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "allergen_scans_total",
		Help: "Completed barcode scans by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(scanOutcomes)
}
