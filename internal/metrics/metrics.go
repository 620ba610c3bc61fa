// ============================================================================
// Contract Net Metrics - Prometheus Collector
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: Collects and exposes protocol activity metrics in Prometheus
//          format.
//
// Metric families:
//
//   Counters (monotonic):
//     - contractnet_rounds_total:        allocation rounds started
//     - contractnet_rounds_no_bid_total: rounds that closed with zero bids
//     - contractnet_bids_received_total: bids collected inside open rounds
//     - contractnet_awards_total:        awards broadcast
//     - contractnet_completions_total:   completion events observed
//
//   Gauges:
//     - contractnet_busy_workers: workers currently executing an awarded
//       job (up on award, down on completion)
//
//   Histograms:
//     - contractnet_round_duration_seconds: wall-clock length of a round
//     - contractnet_execution_seconds:      reported execution durations
//
// Useful queries:
//
//   # allocation failure ratio
//   rate(contractnet_rounds_no_bid_total[5m]) / rate(contractnet_rounds_total[5m])
//
//   # average bids per round
//   rate(contractnet_bids_received_total[5m]) / rate(contractnet_rounds_total[5m])
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the protocol's Prometheus instruments. A Collector
// registers on the Registerer it is given, so tests can use private
// registries and the CLI can use a fresh one per process.
type Collector struct {
	rounds      prometheus.Counter
	roundsNoBid prometheus.Counter
	bids        prometheus.Counter
	awards      prometheus.Counter
	completions prometheus.Counter

	busyWorkers prometheus.Gauge

	roundDuration prometheus.Histogram
	execDuration  prometheus.Histogram
}

// NewCollector creates and registers the protocol metrics.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contractnet_rounds_total",
			Help: "Total number of allocation rounds started",
		}),
		roundsNoBid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contractnet_rounds_no_bid_total",
			Help: "Total number of rounds that received no bids",
		}),
		bids: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contractnet_bids_received_total",
			Help: "Total number of bids collected inside open rounds",
		}),
		awards: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contractnet_awards_total",
			Help: "Total number of awards broadcast to winning workers",
		}),
		completions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contractnet_completions_total",
			Help: "Total number of completion events observed",
		}),
		busyWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "contractnet_busy_workers",
			Help: "Number of workers currently executing an awarded job",
		}),
		roundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "contractnet_round_duration_seconds",
			Help:    "Wall-clock duration of allocation rounds in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		execDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "contractnet_execution_seconds",
			Help:    "Execution durations reported by completion events",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.rounds,
		c.roundsNoBid,
		c.bids,
		c.awards,
		c.completions,
		c.busyWorkers,
		c.roundDuration,
		c.execDuration,
	)

	return c
}

// RecordRound records an allocation round starting.
func (c *Collector) RecordRound() {
	c.rounds.Inc()
}

// RecordNoBid records a round that closed without bids.
func (c *Collector) RecordNoBid() {
	c.roundsNoBid.Inc()
}

// RecordBid records a bid collected inside an open round.
func (c *Collector) RecordBid() {
	c.bids.Inc()
}

// RecordAward records an award broadcast. The awarded worker is executing
// from this point until its completion is observed.
func (c *Collector) RecordAward() {
	c.awards.Inc()
	c.busyWorkers.Inc()
}

// RecordCompletion records an observed completion and its reported
// execution duration, and marks the reporting worker idle again.
func (c *Collector) RecordCompletion(seconds float64) {
	c.completions.Inc()
	c.execDuration.Observe(seconds)
	c.busyWorkers.Dec()
}

// ObserveRoundDuration records the wall-clock length of a finished round.
func (c *Collector) ObserveRoundDuration(seconds float64) {
	c.roundDuration.Observe(seconds)
}

// StartServer serves the given registry's metrics on /metrics. Blocks, so
// callers run it in a goroutine.
func StartServer(port int, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}
