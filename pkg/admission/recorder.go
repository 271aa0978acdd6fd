package admission

import "context"

// UsageRecorder receives metadata about admitted calls, for analytics and
// billing reconciliation. Implementations should be fast; the gate invokes
// them off the request path and drops entries that fail to record.
type UsageRecorder interface {
	Record(ctx context.Context, entry UsageEntry) error
}

// NoopRecorder discards all entries.
type NoopRecorder struct{}

func (n *NoopRecorder) Record(ctx context.Context, entry UsageEntry) error { return nil }
