package openfoodfacts

import "github.com/prometheus/client_golang/prometheus"

// Fetch outcomes and sources used as metric labels.
const (
	SourceNetwork = "network"
	SourceCache   = "cache"

	outcomeOK       = "ok"
	outcomeNotFound = "not_found"
	outcomeNetwork  = "network_error"
	outcomeDecode   = "decode_error"
)

var productFetches = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "allergen_product_fetch_total",
		Help: "Product lookups by source (network, cache) and outcome.",
	},
	[]string{"source", "outcome"},
)

func init() {
	prometheus.MustRegister(productFetches)
}
