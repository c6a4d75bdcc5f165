package logger

// Logger is the minimal structured logging contract used by every nan package.
// Fields are rendered as key/value attributes by the concrete implementation.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// ComponentAwareLogger can derive a child logger tagged with a component name,
// e.g. "memory/pool" or "store/redis".
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// ForComponent returns l tagged with component when l supports it, l otherwise.
// A nil logger yields a NoOpLogger so callers never need a nil check.
func ForComponent(l Logger, component string) Logger {
	if l == nil {
		return &NoOpLogger{}
	}
	if cal, ok := l.(ComponentAwareLogger); ok {
		return cal.WithComponent(component)
	}
	return l
}

// NoOpLogger discards everything.
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}
