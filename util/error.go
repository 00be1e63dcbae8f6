// Package util carries the error type virtfsd surfaces to operators.
package util

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ContextualError pairs a low level error with the operator facing message
// and structured fields it should be reported with. The mount and startup
// paths hand one value up to callers that either print it or feed it to
// logrus without losing the field context.
type ContextualError struct {
	RealError error
	Fields    map[string]any
	Context   string
}

func NewContextualError(msg string, fields map[string]any, realError error) *ContextualError {
	return &ContextualError{Context: msg, Fields: fields, RealError: realError}
}

func (ce *ContextualError) Error() string {
	if ce.RealError == nil {
		return ce.Context
	}
	if len(ce.Fields) == 0 {
		return fmt.Sprintf("%s: %s", ce.Context, ce.RealError)
	}
	return fmt.Sprintf("%s (%v): %s", ce.Context, ce.Fields, ce.RealError)
}

func (ce *ContextualError) Unwrap() error {
	if ce.RealError == nil {
		return errors.New(ce.Context)
	}
	return ce.RealError
}

// Log emits the error through l with its fields attached.
func (ce *ContextualError) Log(l *logrus.Logger) {
	e := l.WithFields(logrus.Fields(ce.Fields))
	if ce.RealError != nil {
		e = e.WithError(ce.RealError)
	}
	e.Error(ce.Context)
}

// ContextualizeIfNeeded wraps err in a ContextualError carrying msg, unless
// there already is one in its chain.
func ContextualizeIfNeeded(msg string, err error) error {
	var ce *ContextualError
	if errors.As(err, &ce) {
		return err
	}
	return NewContextualError(msg, nil, err)
}

// LogWithContextIfNeeded logs err with its own message and fields when it is
// a ContextualError, and as a plain error line under msg otherwise.
func LogWithContextIfNeeded(msg string, err error, l *logrus.Logger) {
	var ce *ContextualError
	if errors.As(err, &ce) {
		ce.Log(l)
		return
	}
	l.WithError(err).Error(msg)
}
