package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/youtubeintel/admission/pkg/admission"
)

// Metrics implements admission.Metrics using Prometheus.
type Metrics struct {
	admissionsTotal           *prometheus.CounterVec
	denialsTotal              *prometheus.CounterVec
	admissionDuration         *prometheus.HistogramVec
	storeOpsDuration          *prometheus.HistogramVec
	storeOpsErrors            *prometheus.CounterVec
	failOpenTotal             *prometheus.CounterVec
	credentialSelectionsTotal *prometheus.CounterVec
	credentialErrorsTotal     *prometheus.CounterVec
	credentialDeactivations   *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		admissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Total number of admission decisions.",
		}, []string{"tier", "operation", "allowed"}),

		denialsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "denials_total",
			Help:      "Total number of denials by exceeded limit kind.",
		}, []string{"tier", "kind"}),

		admissionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admission_duration_seconds",
			Help:      "Latency of full admission checks.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storeOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "counter_store_operation_duration_seconds",
			Help:      "Latency of counter store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storeOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_store_operation_errors_total",
			Help:      "Total number of counter store operation errors.",
		}, []string{"operation"}),

		failOpenTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fail_open_admissions_total",
			Help:      "Total number of admissions granted while the counter store was unavailable.",
		}, []string{"operation"}),

		credentialSelectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_selections_total",
			Help:      "Total number of credential selection attempts.",
		}, []string{"service", "found"}),

		credentialErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_errors_total",
			Help:      "Total number of upstream errors charged to credentials.",
		}, []string{"credential_id"}),

		credentialDeactivations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_deactivations_total",
			Help:      "Total number of credentials deactivated for repeated errors.",
		}, []string{"credential_id"}),
	}
}

func (m *Metrics) RecordAdmission(tier admission.Tier, operation string, allowed bool, kind admission.LimitKind) {
	allowedLabel := "false"
	if allowed {
		allowedLabel = "true"
	}
	m.admissionsTotal.WithLabelValues(string(tier), operation, allowedLabel).Inc()
	if !allowed {
		m.denialsTotal.WithLabelValues(string(tier), string(kind)).Inc()
	}
}

func (m *Metrics) RecordAdmissionDuration(operation string, duration time.Duration) {
	m.admissionDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordStoreOperation(operation string, duration time.Duration, err error) {
	m.storeOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storeOpsErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordFailOpen(operation string) {
	m.failOpenTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordCredentialSelection(service string, found bool) {
	foundLabel := "false"
	if found {
		foundLabel = "true"
	}
	m.credentialSelectionsTotal.WithLabelValues(service, foundLabel).Inc()
}

func (m *Metrics) RecordCredentialError(credentialID string) {
	m.credentialErrorsTotal.WithLabelValues(credentialID).Inc()
}

func (m *Metrics) RecordCredentialDeactivation(credentialID string) {
	m.credentialDeactivations.WithLabelValues(credentialID).Inc()
}

// DefaultMetrics returns a Metrics implementation using the default
// Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
