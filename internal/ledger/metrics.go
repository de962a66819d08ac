package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the ledger's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	appends        *prometheus.CounterVec
	appendFailures *prometheus.CounterVec
	headConflicts  prometheus.Counter
	appendDuration prometheus.Histogram
	chainLength    prometheus.Gauge
	verifyBreaks   *prometheus.GaugeVec
	lastVerified   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		appends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "appends_total",
			Help:      "Entries appended to the ledger, by entity type.",
		}, []string{"entity_type"}),
		appendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "append_failures_total",
			Help:      "Failed appends, by reason.",
		}, []string{"reason"}),
		headConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "head_conflicts_total",
			Help:      "Compare-and-append attempts that lost a race for the chain head.",
		}),
		appendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ledger",
			Name:      "append_duration_seconds",
			Help:      "Time spent in Append, including lock wait and retries.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		chainLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledger",
			Name:      "chain_length",
			Help:      "Entries seen by the last verification run.",
		}),
		verifyBreaks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ledger",
			Name:      "verify_breaks",
			Help:      "Breaks found by the last verification run, by kind.",
		}, []string{"kind"}),
		lastVerified: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledger",
			Name:      "last_verified_timestamp_seconds",
			Help:      "Unix time of the last completed verification run.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.appends, m.appendFailures, m.headConflicts, m.appendDuration,
			m.chainLength, m.verifyBreaks, m.lastVerified)
	}
	return m
}

func (m *Metrics) observeAppend(entityType EntityType, took time.Duration) {
	if m == nil {
		return
	}
	m.appends.WithLabelValues(string(entityType)).Inc()
	m.appendDuration.Observe(took.Seconds())
}

func (m *Metrics) observeFailure(reason string) {
	if m == nil {
		return
	}
	m.appendFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeConflict() {
	if m == nil {
		return
	}
	m.headConflicts.Inc()
}

func (m *Metrics) observeVerify(r Report, at time.Time) {
	if m == nil {
		return
	}
	m.chainLength.Set(float64(r.Checked))
	m.verifyBreaks.WithLabelValues(string(LinkMismatch)).Set(float64(r.Count(LinkMismatch)))
	m.verifyBreaks.WithLabelValues(string(ContentMismatch)).Set(float64(r.Count(ContentMismatch)))
	m.lastVerified.Set(float64(at.Unix()))
}
