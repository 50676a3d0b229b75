// Package logging configures the process-wide logrus logger.
package logging

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Setup applies the configured log level and a timestamped text formatter
// to the standard logrus logger. Unknown level names fall back to info.
func Setup(level string) {
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
}

// Component returns a logger entry tagged with the originating component,
// so every pipeline process logs under its own name.
func Component(name string) *logrus.Entry {
	return logrus.WithField("component", name)
}
