package limit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// minimizations counts fits by outcome.
	minimizations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "golimit_minimizations_total",
		Help: "Total likelihood minimizations by outcome",
	}, []string{"result"})

	// fitRetries counts snapshot fallbacks after a failed fit.
	fitRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "golimit_fit_retries_total",
		Help: "Total fit retries from fallback snapshots",
	})

	// limitIterations tracks outer iterations per limit.
	limitIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "golimit_limit_iterations",
		Help:    "Outer iterations needed per limit",
		Buckets: []float64{1, 2, 3, 4, 5, 7, 10, 15, 25},
	})

	// fatalErrors counts fatal numerical failures by operation.
	fatalErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "golimit_fatal_errors_total",
		Help: "Total fatal numerical errors by operation",
	}, []string{"op"})
)
