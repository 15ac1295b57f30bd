package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fluentvoice/usageledger/pkg/ledger"
)

// Metrics implements ledger.Metrics using Prometheus. User IDs are not used
// as labels to keep cardinality bounded.
type Metrics struct {
	creditChecksTotal  *prometheus.CounterVec
	sessionStartsTotal *prometheus.CounterVec
	sessionEndsTotal   *prometheus.CounterVec
	sessionMinutes     *prometheus.HistogramVec
	heartbeatsTotal    prometheus.Counter
	syncDuration       prometheus.Histogram
	syncErrorsTotal    prometheus.Counter
	planChangesTotal   *prometheus.CounterVec
	rehydrationsTotal  *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		creditChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_checks_total",
			Help:      "Total number of quota credit checks.",
		}, []string{"allowed"}),

		sessionStartsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_starts_total",
			Help:      "Total number of session start attempts.",
		}, []string{"success"}),

		sessionEndsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_ends_total",
			Help:      "Total number of session ends by reason.",
		}, []string{"reason"}),

		sessionMinutes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_minutes",
			Help:      "Distribution of billed session minutes.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60},
		}, []string{"reason"}),

		heartbeatsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Total number of session heartbeats.",
		}),

		syncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Latency of write-back flushes to the durable store.",
			Buckets:   prometheus.DefBuckets,
		}),

		syncErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_errors_total",
			Help:      "Total number of failed write-back flushes.",
		}),

		planChangesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_changes_total",
			Help:      "Total number of plan changes.",
		}, []string{"from", "to"}),

		rehydrationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rehydrations_total",
			Help:      "Total number of actor cold starts.",
		}, []string{"hit"}),
	}
}

func (m *Metrics) RecordCreditCheck(_ string, allowed bool) {
	m.creditChecksTotal.WithLabelValues(strconv.FormatBool(allowed)).Inc()
}

func (m *Metrics) RecordSessionStart(_ string, success bool) {
	m.sessionStartsTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func (m *Metrics) RecordSessionEnd(_ string, reason ledger.EndReason, minutes int) {
	m.sessionEndsTotal.WithLabelValues(string(reason)).Inc()
	m.sessionMinutes.WithLabelValues(string(reason)).Observe(float64(minutes))
}

func (m *Metrics) RecordHeartbeat(_ string) {
	m.heartbeatsTotal.Inc()
}

func (m *Metrics) RecordSync(_ string, duration time.Duration, err error) {
	m.syncDuration.Observe(duration.Seconds())
	if err != nil {
		m.syncErrorsTotal.Inc()
	}
}

func (m *Metrics) RecordPlanChange(_ string, from, to ledger.Plan) {
	m.planChangesTotal.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) RecordRehydration(_ string, hit bool) {
	m.rehydrationsTotal.WithLabelValues(strconv.FormatBool(hit)).Inc()
}
