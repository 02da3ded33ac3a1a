package util

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ContextualError carries a log message and fields alongside the error that
// caused it, so the caller at the top can log it with one line.
type ContextualError struct {
	RealError error
	Fields    logrus.Fields
	Context   string
}

func NewContextualError(msg string, fields logrus.Fields, realError error) *ContextualError {
	return &ContextualError{Context: msg, Fields: fields, RealError: realError}
}

// WithField returns ce with k set, allocating the field map on first use.
func (ce *ContextualError) WithField(k string, v any) *ContextualError {
	if ce.Fields == nil {
		ce.Fields = logrus.Fields{}
	}
	ce.Fields[k] = v
	return ce
}

func (ce *ContextualError) Error() string {
	switch {
	case ce.RealError == nil:
		return ce.Context
	case len(ce.Fields) == 0:
		return fmt.Sprintf("%s: %v", ce.Context, ce.RealError)
	default:
		return fmt.Sprintf("%s (%v): %v", ce.Context, map[string]any(ce.Fields), ce.RealError)
	}
}

func (ce *ContextualError) Unwrap() error {
	if ce.RealError == nil {
		return errors.New(ce.Context)
	}
	return ce.RealError
}

func (ce *ContextualError) Log(l *logrus.Logger) {
	e := l.WithFields(ce.Fields)
	if ce.RealError != nil {
		e = e.WithError(ce.RealError)
	}
	e.Error(ce.Context)
}

// LogWithContextIfNeeded logs err with its own context when it has one and
// with msg otherwise.
func LogWithContextIfNeeded(msg string, err error, l *logrus.Logger) {
	var ce *ContextualError
	if errors.As(err, &ce) {
		ce.Log(l)
		return
	}
	l.WithError(err).Error(msg)
}
