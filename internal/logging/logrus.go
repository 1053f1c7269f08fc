// Package logging builds component-scoped logrus entries.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logrus is a logger factory sharing one level and output.
type Logrus struct {
	logger *logrus.Logger
}

// New creates a factory. An unparseable level falls back to info.
func New(level string, output io.Writer) *Logrus {
	log := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(output)
	return &Logrus{logger: log}
}

// Get returns an entry tagged with the given component.
func (l *Logrus) Get(component string) *logrus.Entry {
	return l.logger.WithField("component", component)
}

// Level returns the configured level.
func (l *Logrus) Level() logrus.Level {
	return l.logger.GetLevel()
}

// Discard returns an entry that writes nowhere, for tests and defaults.
func Discard() *logrus.Entry {
	return New("panic", io.Discard).Get("discard")
}
