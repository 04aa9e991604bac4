package log

// Logger receives protocol capture events. Implementations must be safe
// for concurrent use and should not block: Log runs on the send and
// receive paths of the connection.
type Logger interface {
	Log(event Event)
}

// LoggerFunc adapts a plain function to Logger.
type LoggerFunc func(event Event)

// Log calls f(event).
func (f LoggerFunc) Log(event Event) { f(event) }

// NoopLogger discards all events. The zero value is ready to use.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// Filtered returns a logger that forwards only the events matching
// filter. A nil logger stays nil.
func Filtered(logger Logger, filter Filter) Logger {
	if logger == nil {
		return nil
	}
	return LoggerFunc(func(event Event) {
		if filter.matches(event) {
			logger.Log(event)
		}
	})
}

var (
	_ Logger = NoopLogger{}
	_ Logger = LoggerFunc(nil)
)
