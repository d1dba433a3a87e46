package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"unicode/utf8"

	"leadline/internal/bridge"
	"leadline/internal/repo"
)

// FailureKind classifies why a run failed unexpectedly.
type FailureKind string

const (
	FailureStore    FailureKind = "store"
	FailureBridge   FailureKind = "bridge"
	FailureInput    FailureKind = "input"
	FailurePanic    FailureKind = "panic"
	FailureCanceled FailureKind = "canceled"
	FailureInternal FailureKind = "internal"
)

// MaxErrorMessage bounds the error text stored on a log row.
const MaxErrorMessage = 500

// ExecutionError is the typed failure returned by Runner.Run.
type ExecutionError struct {
	Kind FailureKind
	Err  error
}

func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Short renders the error for the log's error field.
func (e *ExecutionError) Short() string {
	msg := e.Error()
	if utf8.RuneCountInString(msg) <= MaxErrorMessage {
		return msg
	}
	return string([]rune(msg)[:MaxErrorMessage])
}

func storeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &ExecutionError{Kind: FailureCanceled, Err: err}
	}
	return &ExecutionError{Kind: FailureStore, Err: err}
}

// Classify maps any error to an ExecutionError.
func Classify(err error) *ExecutionError {
	if err == nil {
		return nil
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee
	}
	var (
		se *bridge.StatusError
		te *bridge.TransportError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &ExecutionError{Kind: FailureCanceled, Err: err}
	case errors.As(err, &se), errors.As(err, &te):
		return &ExecutionError{Kind: FailureBridge, Err: err}
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, sql.ErrTxDone), errors.Is(err, repo.ErrNotFound), errors.Is(err, repo.ErrConflict):
		return &ExecutionError{Kind: FailureStore, Err: err}
	}
	return &ExecutionError{Kind: FailureInternal, Err: err}
}
