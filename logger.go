package relay

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger defines the interface for logging. Both *logrus.Logger and *logrus.Entry implement it.
type Logger = logrus.FieldLogger

// StandardLogger returns the process wide logrus logger.
func StandardLogger() Logger {
	return logrus.StandardLogger()
}

func noopLogger() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
