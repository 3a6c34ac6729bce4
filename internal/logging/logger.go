package logging

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Init configures the standard logrus logger. Unknown levels fall back to info,
// format is either "text" (default) or "json".
func Init(level, format string) {
	log.SetOutput(os.Stdout)

	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	l, err := log.ParseLevel(level)
	if err != nil {
		l = log.InfoLevel
	}
	log.SetLevel(l)
}

// L returns the process logger configured by Init.
func L() *log.Logger { return log.StandardLogger() }
