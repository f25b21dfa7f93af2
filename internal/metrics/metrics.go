// Package metrics exposes Prometheus counters for the ask pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes recorded by RecordAsk.
const (
	OutcomeOK               = "ok"
	OutcomeRateLimited      = "rate_limited"
	OutcomeInvalid          = "invalid_request"
	OutcomeNotFound         = "not_found"
	OutcomeGenerationFailed = "generation_failed"
	OutcomeInternal         = "internal"
)

// Recorder is what the chat service and HTTP layer report to.
type Recorder interface {
	RecordAsk(outcome string)
	RecordGenerationLatency(d time.Duration)
	RecordRetrievalLatency(d time.Duration)
	RecordJob(status string)
	RecordHTTPStatus(code int)
}

type Collector struct {
	asks              *prometheus.CounterVec
	generationLatency prometheus.Histogram
	retrievalLatency  prometheus.Histogram
	jobs              *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		asks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookchat_asks_total",
			Help: "Questions asked, by outcome.",
		}, []string{"outcome"}),
		generationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bookchat_generation_latency_seconds",
			Help:    "Latency of language-model calls.",
			Buckets: prometheus.DefBuckets,
		}),
		retrievalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bookchat_retrieval_latency_seconds",
			Help:    "Latency of passage ranking including embeddings.",
			Buckets: prometheus.DefBuckets,
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookchat_jobs_total",
			Help: "Async ask jobs finished, by final status.",
		}, []string{"status"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookchat_http_responses_total",
			Help: "HTTP responses by status code.",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.asks,
		c.generationLatency,
		c.retrievalLatency,
		c.jobs,
		c.httpStatus,
	)
	return c
}

func (c *Collector) RecordAsk(outcome string) {
	c.asks.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordGenerationLatency(d time.Duration) {
	c.generationLatency.Observe(d.Seconds())
}

func (c *Collector) RecordRetrievalLatency(d time.Duration) {
	c.retrievalLatency.Observe(d.Seconds())
}

func (c *Collector) RecordJob(status string) {
	c.jobs.WithLabelValues(status).Inc()
}

func (c *Collector) RecordHTTPStatus(code int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(code)).Inc()
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordAsk(string)                      {}
func (Nop) RecordGenerationLatency(time.Duration) {}
func (Nop) RecordRetrievalLatency(time.Duration)  {}
func (Nop) RecordJob(string)                      {}
func (Nop) RecordHTTPStatus(int)                  {}

// Handler serves the Prometheus scrape endpoint for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
