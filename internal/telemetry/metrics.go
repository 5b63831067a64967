package telemetry

import (
	"strconv"
	"time"

	"github.com/ComUnity/voiceid-service/internal/models"
	"github.com/ComUnity/voiceid-service/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics implements service.Metrics and records store latency.
type Metrics struct {
	Outcomes         *prometheus.CounterVec
	MatchDuration    *prometheus.HistogramVec
	CallFailures     prometheus.Counter
	AuditFailures    *prometheus.CounterVec
	ProfileSyncFails prometheus.Counter
	RedisOpDuration  *prometheus.HistogramVec
	AuditDrops       *prometheus.CounterVec
	HTTPRequests     *prometheus.HistogramVec
}

// NewMetrics registers all service metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceid_operation_outcomes_total",
			Help: "Orchestrator operation outcomes",
		}, []string{"operation", "outcome"}),
		MatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voiceid_match_duration_seconds",
			Help:    "Biometric matcher call latency",
			Buckets: latencyBuckets,
		}, []string{"result"}),
		CallFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "voiceid_call_placement_failures_total",
			Help: "Outbound calls the telephony provider refused",
		}),
		AuditFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceid_audit_failures_total",
			Help: "Audit events at least one sink failed to record",
		}, []string{"action"}),
		ProfileSyncFails: f.NewCounter(prometheus.CounterOpts{
			Name: "voiceid_profile_sync_failures_total",
			Help: "Failure counts the profile store could not mirror after the ledger decided",
		}),
		RedisOpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voiceid_redis_op_duration_seconds",
			Help:    "Redis command latency",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}, []string{"op", "result"}),
		AuditDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceid_audit_events_dropped_total",
			Help: "Audit events an asynchronous sink discarded",
		}, []string{"sink"}),
		HTTPRequests: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voiceid_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: latencyBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) ObserveOutcome(operation string, outcome service.Outcome) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(operation, string(outcome)).Inc()
}

func (m *Metrics) ObserveMatch(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.MatchDuration.WithLabelValues(resultLabel(err)).Observe(d.Seconds())
}

func (m *Metrics) CallPlacementFailed() {
	if m == nil {
		return
	}
	m.CallFailures.Inc()
}

func (m *Metrics) AuditFailed(action models.AuditAction) {
	if m == nil {
		return
	}
	m.AuditFailures.WithLabelValues(string(action)).Inc()
}

func (m *Metrics) ProfileSyncFailed() {
	if m == nil {
		return
	}
	m.ProfileSyncFails.Inc()
}

// ObserveRedis matches client.LatencyObserver.
func (m *Metrics) ObserveRedis(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.RedisOpDuration.WithLabelValues(op, resultLabel(err)).Observe(d.Seconds())
}

func (m *Metrics) AuditDropped(sink string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AuditDrops.WithLabelValues(sink).Add(float64(n))
}

// ObserveHTTP matches middleware.RequestObserver.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
