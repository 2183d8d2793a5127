// Package metrics exposes the install pipeline's per-phase counters as
// Prometheus metrics (spec.md §4.M's observability surface), grounded on
// the teacher's own promauto idiom (indexer/controller2/metrics.go).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vgem/vgem/install"
)

var unitsProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "vgem",
		Subsystem: "install",
		Name:      "units_total",
		Help:      "Total number of install pipeline units completed per phase and outcome.",
	},
	[]string{"phase", "outcome"},
)

// Observer counts every completed unit by phase and outcome ("ok" or
// "error"), suitable as an [install.Observer].
type Observer struct{}

func (Observer) OnUnit(phase install.Phase, gem string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	unitsProcessed.WithLabelValues(phase.String(), outcome).Inc()
}

// Handler returns the standard Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
