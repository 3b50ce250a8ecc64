// Package logctx is the structured-logging seam between the TCP core and
// whatever log sink an embedder wants. It puts an interface-shaped logger
// in front of business logic rather than a direct logrus dependency
// scattered through it, while the default implementation is backed by
// github.com/sirupsen/logrus.
package logctx

import (
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

// Fields is a set of structured key/value pairs attached to a log line.
type Fields map[string]interface{}

// CorrelationID tags every log line a control block emits for the lifetime
// of one connection, purely so a log aggregator can group them; it is not
// used anywhere as a scheduler.TaskId or socket identity, both of which
// have their own randomized-allocation schemes with their own collision
// handling.
type CorrelationID string

// NewCorrelationID mints a new, globally sortable-by-creation-time id via
// xid, the same "small, dependency-light id generator" role xid plays in
// the example stack's own request tracing.
func NewCorrelationID() CorrelationID {
	return CorrelationID(xid.New().String())
}

// Logger is the minimal structured-logging contract the core depends on.
// Every call site builds Fields itself rather than interpolating strings,
// matching spec.md §2's "no string concatenation in hot paths" stance.
type Logger interface {
	Debug(msg string, fields Fields)
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, fields Fields)
}

// logrusLogger adapts logrus.FieldLogger to Logger.
type logrusLogger struct {
	entry *logrus.Entry
}

// New wraps a logrus.Logger as the default Logger implementation.
func New(base *logrus.Logger) Logger {
	if base == nil {
		base = logrus.New()
	}
	return &logrusLogger{entry: logrus.NewEntry(base)}
}

func (l *logrusLogger) Debug(msg string, fields Fields) {
	l.entry.WithFields(logrus.Fields(fields)).Debug(msg)
}

func (l *logrusLogger) Info(msg string, fields Fields) {
	l.entry.WithFields(logrus.Fields(fields)).Info(msg)
}

func (l *logrusLogger) Warn(msg string, fields Fields) {
	l.entry.WithFields(logrus.Fields(fields)).Warn(msg)
}

func (l *logrusLogger) Error(msg string, fields Fields) {
	l.entry.WithFields(logrus.Fields(fields)).Error(msg)
}

// With returns a Logger that prepends fixed fields to every subsequent call,
// used by the control block to tag every log line with its four-tuple.
func With(l Logger, fields Fields) Logger {
	return &withLogger{base: l, fields: fields}
}

type withLogger struct {
	base   Logger
	fields Fields
}

func (w *withLogger) merge(fields Fields) Fields {
	out := make(Fields, len(w.fields)+len(fields))
	for k, v := range w.fields {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func (w *withLogger) Debug(msg string, fields Fields) { w.base.Debug(msg, w.merge(fields)) }
func (w *withLogger) Info(msg string, fields Fields)  { w.base.Info(msg, w.merge(fields)) }
func (w *withLogger) Warn(msg string, fields Fields)  { w.base.Warn(msg, w.merge(fields)) }
func (w *withLogger) Error(msg string, fields Fields) { w.base.Error(msg, w.merge(fields)) }

// Nop discards everything; useful in tests that don't care about log output.
var Nop Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Debug(string, Fields) {}
func (nopLogger) Info(string, Fields)  {}
func (nopLogger) Warn(string, Fields)  {}
func (nopLogger) Error(string, Fields) {}
