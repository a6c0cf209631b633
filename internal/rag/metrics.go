package rag

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the session counters. A nil *Metrics records nothing.
type Metrics struct {
	uploads        *prometheus.CounterVec
	queries        *prometheus.CounterVec
	resets         prometheus.Counter
	indexedChunks  prometheus.Histogram
	uploadDuration prometheus.Histogram
	queryDuration  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "document_qa",
			Name:      "uploads_total",
			Help:      "Uploads by result.",
		}, []string{"result"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "document_qa",
			Name:      "queries_total",
			Help:      "Queries by outcome.",
		}, []string{"outcome"}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "document_qa",
			Name:      "resets_total",
			Help:      "Session resets.",
		}),
		indexedChunks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "document_qa",
			Name:      "indexed_chunks",
			Help:      "Chunks indexed per successful upload.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		uploadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "document_qa",
			Name:      "upload_duration_seconds",
			Help:      "Time spent staging, extracting and indexing an upload.",
			Buckets:   prometheus.DefBuckets,
		}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "document_qa",
			Name:      "query_duration_seconds",
			Help:      "Time spent answering a query.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.uploads, m.queries, m.resets, m.indexedChunks, m.uploadDuration, m.queryDuration)
	}
	return m
}

func (m *Metrics) observeUpload(result string, chunks int, start time.Time) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result).Inc()
	m.uploadDuration.Observe(time.Since(start).Seconds())
	if result == resultOK {
		m.indexedChunks.Observe(float64(chunks))
	}
}

func (m *Metrics) observeQuery(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(outcome).Inc()
	m.queryDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeReset() {
	if m == nil {
		return
	}
	m.resets.Inc()
}
