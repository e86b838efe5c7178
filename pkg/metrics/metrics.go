package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// WizardMetrics exposes counters/histograms for the quote flow
type WizardMetrics struct {
	transitionsTotal  *prometheus.CounterVec
	submissionsTotal  *prometheus.CounterVec
	verificationTotal *prometheus.CounterVec
	externalLatency   *prometheus.HistogramVec
}

func NewWizardMetrics(reg prometheus.Registerer) *WizardMetrics {
	m := &WizardMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quote_wizard",
			Subsystem: "wizard",
			Name:      "transitions_total",
			Help:      "Wizard step transitions by step and result",
		}, []string{"step", "result"}),
		submissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quote_wizard",
			Subsystem: "leads",
			Name:      "submissions_total",
			Help:      "Lead submissions by classified outcome",
		}, []string{"outcome"}),
		verificationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quote_wizard",
			Subsystem: "verification",
			Name:      "events_total",
			Help:      "SMS verification dispatches and confirmations",
		}, []string{"event", "status"}),
		externalLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quote_wizard",
			Subsystem: "external",
			Name:      "call_latency_seconds",
			Help:      "Latency of calls to geocoding, SMS and lead APIs",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitionsTotal, m.submissionsTotal, m.verificationTotal, m.externalLatency)
	return m
}

func (m *WizardMetrics) ObserveTransition(step int, result string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(stepLabel(step), result).Inc()
}

func (m *WizardMetrics) ObserveSubmission(outcome string) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(outcome).Inc()
}

func (m *WizardMetrics) ObserveVerification(event string, ok bool) {
	if m == nil {
		return
	}
	status := "failed"
	if ok {
		status = "ok"
	}
	m.verificationTotal.WithLabelValues(event, status).Inc()
}

func (m *WizardMetrics) ObserveExternalLatency(service string, seconds float64) {
	if m == nil {
		return
	}
	m.externalLatency.WithLabelValues(service).Observe(seconds)
}

func stepLabel(step int) string {
	if step < 1 || step > 12 {
		return "unknown"
	}
	return strconv.Itoa(step)
}
