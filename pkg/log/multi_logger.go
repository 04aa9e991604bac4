package log

// MultiLogger fans events out to several loggers in order, typically a
// SlogAdapter for the console and a FileLogger for the capture file.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a MultiLogger. Nil loggers are skipped and
// nested MultiLoggers are flattened.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		m.add(l)
	}
	return m
}

func (m *MultiLogger) add(l Logger) {
	switch l := l.(type) {
	case nil:
	case *MultiLogger:
		if l != nil {
			m.loggers = append(m.loggers, l.loggers...)
		}
	default:
		m.loggers = append(m.loggers, l)
	}
}

// Len returns the number of loggers events are sent to.
func (m *MultiLogger) Len() int {
	return len(m.loggers)
}

// Log sends the event to every logger.
func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}

// Combine returns a logger writing to every non-nil logger given: nil
// when there are none, the logger itself when there is one.
func Combine(loggers ...Logger) Logger {
	m := NewMultiLogger(loggers...)
	switch len(m.loggers) {
	case 0:
		return nil
	case 1:
		return m.loggers[0]
	}
	return m
}

var _ Logger = (*MultiLogger)(nil)
