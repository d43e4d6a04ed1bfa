// Package metrics holds the indexer's Prometheus metrics, registered once
// per process on the default registry. Handler serves the registry of the
// process it runs in: cmd/api mounts it at /metrics, while cmd/indexer,
// which records the pipeline metrics, serves no HTTP endpoint.
package metrics

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the indexer pipeline.
type Metrics struct {
	chainLogsFetched  *prometheus.CounterVec
	fusionOutcomes    *prometheus.CounterVec
	policyMerges      *prometheus.CounterVec
	storageUpserts    *prometheus.CounterVec
	pollingPassSecs   *prometheus.HistogramVec
}

// New creates and registers all indexer metrics.
func New() *Metrics {
	m := &Metrics{
		chainLogsFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pm_indexer_chain_logs_fetched_total",
				Help: "Total number of logs fetched by the chain listener, per chain",
			},
			[]string{"chain_id"},
		),
		fusionOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pm_indexer_fusion_outcomes_total",
				Help: "Fusion processor outcomes per chain: paired, unpaired, dropped_disallowed",
			},
			[]string{"chain_id", "outcome"},
		),
		policyMerges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pm_indexer_policy_merges_total",
				Help: "Completed usage-counter merges per scope (GLOBAL or USER)",
			},
			[]string{"scope"},
		),
		storageUpserts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pm_indexer_storage_upserts_total",
				Help: "Storage writer upserts per outcome: insert, update_status, update_aux",
			},
			[]string{"outcome"},
		),
		pollingPassSecs: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pm_indexer_polling_pass_duration_seconds",
				Help:    "Duration of one chain listener polling pass",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"chain_id"},
		),
	}

	prometheus.MustRegister(
		m.chainLogsFetched,
		m.fusionOutcomes,
		m.policyMerges,
		m.storageUpserts,
		m.pollingPassSecs,
	)

	return m
}

// RecordChainLogsFetched adds n to the per-chain fetched-log counter.
func (m *Metrics) RecordChainLogsFetched(chainID uint64, n int) {
	if n <= 0 {
		return
	}
	m.chainLogsFetched.WithLabelValues(strconv.FormatUint(chainID, 10)).Add(float64(n))
}

// RecordFusionOutcome increments the per-chain fusion outcome counter.
func (m *Metrics) RecordFusionOutcome(chainID uint64, outcome string) {
	m.fusionOutcomes.WithLabelValues(strconv.FormatUint(chainID, 10), outcome).Inc()
}

// RecordPolicyMerge increments the completed-merge counter for a scope
// ("GLOBAL" or "USER").
func (m *Metrics) RecordPolicyMerge(scope string) {
	m.policyMerges.WithLabelValues(scope).Inc()
}

// RecordStorageUpsert increments the storage writer's per-outcome counter.
func (m *Metrics) RecordStorageUpsert(outcome string) {
	m.storageUpserts.WithLabelValues(outcome).Inc()
}

// ObservePollingPass records one chain listener polling pass's duration.
func (m *Metrics) ObservePollingPass(chainID uint64, seconds float64) {
	m.pollingPassSecs.WithLabelValues(strconv.FormatUint(chainID, 10)).Observe(seconds)
}

// Handler returns the Prometheus scrape handler as a Gin handler.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
