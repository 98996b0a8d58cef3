package rdns

// Logger is the logging-sink collaborator. It is deliberately tiny: two printf-style methods. The
// stdlib *log.Logger has Printf but no Errorf, so it needs a one-method wrapper to satisfy it.
type Logger interface {
	Printf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// nopLogger discards everything. It is the default until SetLogger is called.
type nopLogger struct{}

func (nopLogger) Printf(string, ...interface{}) {}
func (nopLogger) Errorf(string, ...interface{}) {}
