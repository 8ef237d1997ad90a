package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scheduled / API-triggered job metrics
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insiderlens_job_runs_total",
			Help: "Total number of engine job runs",
		},
		[]string{"job", "status"}, // baseline_full/baseline_incremental/feedback/..., success/error
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insiderlens_job_duration_seconds",
			Help:    "Duration of engine job runs",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 900},
		},
		[]string{"job"},
	)

	// Scoring metrics
	TradesScored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insiderlens_trades_scored_total",
			Help: "Total number of trades scored",
		},
		[]string{"status"}, // success, error
	)

	AnomalyScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "insiderlens_anomaly_scores",
			Help:    "Distribution of composite anomaly scores",
			Buckets: []float64{.1, .2, .3, .4, .5, .6, .7, .8, .9, .95, 1},
		},
	)

	TrinityMatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "insiderlens_trinity_matches_total",
			Help: "Total number of scored trades flagged with the trinity pattern",
		},
	)

	// Baseline metrics
	BaselinesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insiderlens_baselines_written_total",
			Help: "Total number of baseline rows written",
		},
		[]string{"mode"}, // full, incremental, insider
	)

	BaselinesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insiderlens_baselines_skipped_total",
			Help: "Total number of (category, metric) pairs skipped for insufficient data",
		},
		[]string{"mode"},
	)

	// Discovery and investigation metrics
	CandidatesDiscovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insiderlens_candidates_discovered_total",
			Help: "Total number of investigation candidates discovered",
		},
		[]string{"priority"}, // critical, high, medium, low
	)

	CandidateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insiderlens_candidate_transitions_total",
			Help: "Total number of investigation state transitions",
		},
		[]string{"to"},
	)

	// Pattern quality
	PatternF1 = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "insiderlens_pattern_f1",
			Help: "F1 score of each pattern at its last validation",
		},
		[]string{"pattern"},
	)

	// Alert metrics
	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insiderlens_alerts_sent_total",
			Help: "Total number of alerts sent",
		},
		[]string{"status", "type"}, // success/error, discord/log
	)

	// Database metrics
	DatabaseQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insiderlens_database_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"}, // query/create/update/delete, success/error
	)

	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insiderlens_database_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
		[]string{"operation"},
	)

	// System health
	HealthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insiderlens_health_checks_total",
			Help: "Total number of health check requests",
		},
		[]string{"status"}, // healthy/unhealthy
	)

	// API
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insiderlens_http_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insiderlens_http_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"route", "method"},
	)
)

// RecordJob records the outcome of one engine job run
func RecordJob(job string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	JobRuns.WithLabelValues(job, status).Inc()
	JobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordTradeScore records one scoring attempt
func RecordTradeScore(anomalyScore float64, trinity bool, err error) {
	if err != nil {
		TradesScored.WithLabelValues("error").Inc()
		return
	}
	TradesScored.WithLabelValues("success").Inc()
	AnomalyScores.Observe(anomalyScore)
	if trinity {
		TrinityMatches.Inc()
	}
}

// RecordBaselines records written and skipped baseline rows for one pass
func RecordBaselines(mode string, written, skipped int) {
	BaselinesWritten.WithLabelValues(mode).Add(float64(written))
	BaselinesSkipped.WithLabelValues(mode).Add(float64(skipped))
}

// RecordCandidate records a newly discovered candidate
func RecordCandidate(priority string) {
	CandidatesDiscovered.WithLabelValues(priority).Inc()
}

// RecordTransition records an investigation state change
func RecordTransition(to string) {
	CandidateTransitions.WithLabelValues(to).Inc()
}

// RecordPatternF1 records a pattern's validated F1
func RecordPatternF1(pattern string, f1 float64) {
	PatternF1.WithLabelValues(pattern).Set(f1)
}

// RecordAlert records alert delivery
func RecordAlert(sendStatus, alertType string) {
	AlertsSent.WithLabelValues(sendStatus, alertType).Inc()
}

// RecordDatabaseQuery records database query metrics
func RecordDatabaseQuery(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseQueries.WithLabelValues(operation, status).Inc()
	DatabaseQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHealthCheck records health check status
func RecordHealthCheck(healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	HealthChecks.WithLabelValues(status).Inc()
}

// RecordHTTPRequest records one API request against its route template
func RecordHTTPRequest(route, method string, status int, duration time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}
