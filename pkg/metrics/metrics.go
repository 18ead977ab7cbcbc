package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	stageLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "statline_stage_latency_ms",
		Help:    "Latency of pipeline stages in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"stage"})

	queriesByIntent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "statline_queries_total",
		Help: "Interpreted queries by intent",
	}, []string{"intent"})

	degradedRetrievals = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "statline_retrieval_degraded_total",
		Help: "Retrievals that absorbed an upstream failure",
	})

	evidenceItems = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "statline_evidence_items",
		Help:    "Evidence items returned per source type",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
	}, []string{"source"})

	generations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "statline_generations_total",
		Help: "Generation calls by cache status and outcome",
	}, []string{"cache", "outcome"})

	generationCost = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "statline_generation_cost_total",
		Help: "Cumulative generation cost by model",
	}, []string{"model"})
)

func ensureRegistered() {
	once.Do(func() {
		prometheus.MustRegister(stageLatency, queriesByIntent, degradedRetrievals, evidenceItems, generations, generationCost)
	})
}

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, start time.Time) {
	ensureRegistered()
	stageLatency.WithLabelValues(stage).Observe(float64(time.Since(start).Milliseconds()))
}

// IncIntent counts an interpreted query.
func IncIntent(intent string) {
	ensureRegistered()
	queriesByIntent.WithLabelValues(intent).Inc()
}

// IncDegraded counts a degraded retrieval.
func IncDegraded() {
	ensureRegistered()
	degradedRetrievals.Inc()
}

// ObserveEvidence records the number of items of one source type.
func ObserveEvidence(source string, n int) {
	ensureRegistered()
	evidenceItems.WithLabelValues(source).Observe(float64(n))
}

// IncGeneration counts a finished generation call.
func IncGeneration(cache, outcome string) {
	ensureRegistered()
	generations.WithLabelValues(cache, outcome).Inc()
}

// AddCost accumulates spend for a model.
func AddCost(model string, cost float64) {
	if cost <= 0 {
		return
	}
	ensureRegistered()
	generationCost.WithLabelValues(model).Add(cost)
}

// Handler serves every registered metric in the Prometheus text format.
func Handler() http.Handler {
	ensureRegistered()
	return promhttp.Handler()
}
