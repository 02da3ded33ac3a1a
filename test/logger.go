// Package test holds helpers shared by the package tests.
package test

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// NewLogger returns a logger that discards everything unless TEST_LOGS is
// set: 1 for info, 2 for debug, 3 for trace.
func NewLogger() *logrus.Logger {
	l := logrus.New()

	switch os.Getenv("TEST_LOGS") {
	case "":
		l.SetOutput(io.Discard)
	case "2":
		l.SetLevel(logrus.DebugLevel)
	case "3":
		l.SetLevel(logrus.TraceLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}

	return l
}

// LogLines collects every line written to a logger.
type LogLines struct {
	mu    sync.Mutex
	lines []string
}

func (ll *LogLines) Write(p []byte) (int, error) {
	ll.mu.Lock()
	ll.lines = append(ll.lines, string(p))
	ll.mu.Unlock()
	return len(p), nil
}

func (ll *LogLines) Lines() []string {
	ll.mu.Lock()
	defer ll.mu.Unlock()
	return append([]string(nil), ll.lines...)
}

// NewCaptureLogger returns a logger writing timestamp free text lines into the
// returned LogLines.
func NewCaptureLogger() (*logrus.Logger, *LogLines) {
	ll := &LogLines{}
	l := logrus.New()
	l.Formatter = &logrus.TextFormatter{DisableTimestamp: true, DisableColors: true}
	l.Out = ll
	return l, ll
}
