package admission

// Field is one key/value pair attached to a log line.
type Field struct {
	Key   string
	Value interface{}
}

// Logger is the minimal structured-logging surface the gate and rotator
// need. Adapters for real backends live under logger/; the core only emits
// through this interface so callers choose the sink.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)

	// Warn carries the operationally interesting events: fail-open
	// admissions, recording failures, credential deactivations.
	Warn(msg string, fields ...Field)

	Error(msg string, fields ...Field)
}

// NoopLogger drops everything. It is the default when no logger is
// configured, so the core never nil-checks before logging.
type NoopLogger struct{}

func (n *NoopLogger) Debug(msg string, fields ...Field) {}
func (n *NoopLogger) Info(msg string, fields ...Field)  {}
func (n *NoopLogger) Warn(msg string, fields ...Field)  {}
func (n *NoopLogger) Error(msg string, fields ...Field) {}
