package main

import (
	"io"

	"github.com/sirupsen/logrus"
)

// newLogger builds the JSON logger used for diagnostics. Codes go to
// stdout, so logs are written to w, normally stderr.
func newLogger(w io.Writer, debug bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{})
	if debug {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.WarnLevel)
	}
	return l
}
