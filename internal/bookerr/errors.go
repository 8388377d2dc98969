// Package bookerr is the error taxonomy shared by every generation stage.
// Each kind carries whether it is retryable locally and a recovery hint for
// the sweeper's circuit breaker.
package bookerr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an Error by how it should be recovered from.
type Kind string

const (
	ModelTransient          Kind = "model_transient"
	ModelMalformed          Kind = "model_malformed"
	ConstraintUnsatisfiable Kind = "constraint_unsatisfiable"
	StoreTransient          Kind = "store_transient"
	StoreConstraintViolation Kind = "store_constraint_violation"
	StageFailed             Kind = "stage_failed"
)

// Error is the taxonomy type every stage returns instead of a bare error.
type Error struct {
	Kind         Kind
	Stage        string
	Cause        error
	Retryable    bool
	RecoveryHint string
	Timestamp    time.Time
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s in stage %s: %v", e.Kind, e.Stage, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the call site should retry locally.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// New wraps cause in an Error of the given kind with a default retryability.
func New(kind Kind, stage string, cause error) *Error {
	return &Error{
		Kind:         kind,
		Stage:        stage,
		Cause:        cause,
		Retryable:    defaultRetryable(kind),
		RecoveryHint: defaultHint(kind),
		Timestamp:    time.Now(),
	}
}

func defaultRetryable(kind Kind) bool {
	switch kind {
	case ModelTransient, ModelMalformed, StoreTransient:
		return true
	default:
		return false
	}
}

func defaultHint(kind Kind) string {
	switch kind {
	case ModelTransient:
		return "retry within the call site's bounded attempt budget"
	case ModelMalformed:
		return "retry once with a tightened prompt"
	case ConstraintUnsatisfiable:
		return "commit the best attempt, flag the chapter, continue"
	case StoreTransient:
		return "retry with jittered backoff"
	case StoreConstraintViolation:
		return "fail fast, escalate to stage failure"
	case StageFailed:
		return "record last_error, let the sweeper decide"
	default:
		return ""
	}
}

// AsStageFailed escalates any error into a terminal StageFailed, preserving
// the original kind and hint when err already is an *Error.
func AsStageFailed(stage string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return &Error{
			Kind:         StageFailed,
			Stage:        stage,
			Cause:        e,
			Retryable:    false,
			RecoveryHint: "escalated from " + string(e.Kind),
			Timestamp:    time.Now(),
		}
	}
	return New(StageFailed, stage, err)
}

// IsRetryable determines whether err (possibly wrapped) should be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.IsRetryable()
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
