// Package gitlog provides the diagnostic log channel of the module.
//
// User-facing output never goes through here: commands write their
// result to their own sink, while anything useful for debugging
// (wire negotiation details, object db traces) is sent to a logger
// that discards everything unless a sink is configured
package gitlog

import (
	"io"

	"github.com/sirupsen/logrus"
)

// New returns a logger writing to the given sink
func New(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return l
}

// Discard returns a logger that drops everything.
// It's the default used across the module so callers that don't
// care about diagnostics don't have to provide a sink
func Discard() *logrus.Logger {
	l := New(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}
