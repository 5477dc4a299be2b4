// Package metrics provides Prometheus metrics for newscontinent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "newscontinent"

var (
	// StageRecords counts records leaving each ingestion stage by outcome.
	StageRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_records_total",
			Help:      "Records processed per ingestion stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	// StageDuration measures how long each ingestion stage takes.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of ingestion stages in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	// CacheLookups counts reader snapshot lookups by result (hit, miss).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Reader snapshot lookups by result",
		},
		[]string{"result"},
	)

	// ChatExchanges counts chatbot exchanges by outcome.
	ChatExchanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_exchanges_total",
			Help:      "Chatbot exchanges by outcome",
		},
		[]string{"outcome"},
	)

	// SpeechRequests counts text-to-speech requests by result.
	SpeechRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_requests_total",
			Help:      "Text-to-speech requests by result (cached, generated, error)",
		},
		[]string{"result"},
	)

	// HTTPRequests counts web requests by route and status code.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)
)

// RecordStage records the outcome counts and duration of one stage run.
func RecordStage(stage string, seconds float64, outcomes map[string]int) {
	StageDuration.WithLabelValues(stage).Observe(seconds)
	for outcome, n := range outcomes {
		if n > 0 {
			StageRecords.WithLabelValues(stage, outcome).Add(float64(n))
		}
	}
}

// Handler serves the default registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
