package admission

import "time"

// Metrics defines the interface for tracking admission and rotation operations.
type Metrics interface {
	// RecordAdmission records an admission decision. kind is the exceeded
	// limit kind on denial, empty on allow.
	RecordAdmission(tier Tier, operation string, allowed bool, kind LimitKind)

	// RecordAdmissionDuration records the latency of a full admission check.
	RecordAdmissionDuration(operation string, duration time.Duration)

	// RecordStoreOperation records the duration and status of a counter-store call.
	RecordStoreOperation(operation string, duration time.Duration, err error)

	// RecordFailOpen records an admission allowed because the counter store
	// was unavailable.
	RecordFailOpen(operation string)

	// RecordCredentialSelection records a credential selection attempt.
	RecordCredentialSelection(service string, found bool)

	// RecordCredentialError records an upstream error charged to a
	// credential. Credential pools are small, so the ID is a safe label.
	RecordCredentialError(credentialID string)

	// RecordCredentialDeactivation records a credential crossing the error
	// threshold. This is the operational signal for alerting.
	RecordCredentialDeactivation(credentialID string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordAdmission(tier Tier, operation string, allowed bool, kind LimitKind) {}
func (n *NoopMetrics) RecordAdmissionDuration(operation string, duration time.Duration)         {}
func (n *NoopMetrics) RecordStoreOperation(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordFailOpen(operation string)                                          {}
func (n *NoopMetrics) RecordCredentialSelection(service string, found bool)                     {}
func (n *NoopMetrics) RecordCredentialError(credentialID string)                                {}
func (n *NoopMetrics) RecordCredentialDeactivation(credentialID string)                         {}
