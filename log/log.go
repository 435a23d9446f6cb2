// Package log configures runtime loggers. The engine never logs on its
// own; it publishes events and a subscriber decides what ends up in the
// log.
package log

import (
	"io"
	"os"
	"strconv"

	"github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"

	"skein.dev/skein/event"
)

var debug bool

// Logger is the interface runtime collaborators log through.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

func init() {
	var err error
	debug, err = strconv.ParseBool(os.Getenv("SKEIN_DEBUG"))
	if err != nil {
		debug = false
	}
}

// Default returns a new logger instance. Debug level is enabled by the
// SKEIN_DEBUG environment variable.
func Default() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(colorable.NewColorableStderr())
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// Discard returns a logger that drops everything. It is the default
// collaborator wherever no logger was configured.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Events logs every event of the subscription until it ends. It blocks;
// run it in its own goroutine.
func Events(sub *event.Subscription, l logrus.FieldLogger) {
	for e := range sub.C() {
		entry := l.WithField("id", e.ID)
		if e.Pipeline != "" {
			entry = entry.WithField("pipeline", e.Pipeline)
		}
		if e.Stage != "" {
			entry = entry.WithField("stage", e.Stage)
		}
		if e.Path != "" {
			entry = entry.WithField("path", e.Path)
		}
		if e.Directive != "" {
			entry = entry.WithField("directive", e.Directive)
		}
		if e.Cause != nil {
			entry.WithError(e.Cause).Error(e.Kind)
			continue
		}
		entry.Info(e.Kind)
	}
}
