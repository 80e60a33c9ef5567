package canvas

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced by the canvas engine.
type Kind string

const (
	KindNotFound            Kind = "NotFound"
	KindValidationFailed    Kind = "ValidationFailed"
	KindDispatchFailure     Kind = "DispatchFailure"
	KindStorageFailure      Kind = "StorageFailure"
	KindDuplicateIdentifier Kind = "DuplicateIdentifier"
)

var (
	ErrNotFound            = errors.New("canvas: not found")
	ErrValidationFailed    = errors.New("canvas: validation failed")
	ErrDispatchFailure     = errors.New("canvas: dispatch failure")
	ErrStorageFailure      = errors.New("canvas: storage failure")
	ErrDuplicateIdentifier = errors.New("canvas: duplicate identifier")
)

// Error is a typed failure carrying its kind, the operation and a human-readable detail.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches the package sentinels so callers can use errors.Is(err, canvas.ErrNotFound).
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	return sentinelFor(e.Kind) == target
}

func sentinelFor(kind Kind) error {
	switch kind {
	case KindNotFound:
		return ErrNotFound
	case KindValidationFailed:
		return ErrValidationFailed
	case KindDispatchFailure:
		return ErrDispatchFailure
	case KindStorageFailure:
		return ErrStorageFailure
	case KindDuplicateIdentifier:
		return ErrDuplicateIdentifier
	default:
		return nil
	}
}

// NotFound builds a NotFound error.
func NotFound(op, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// ValidationFailed builds a ValidationFailed error wrapping the violation.
func ValidationFailed(op, detail string, err error) *Error {
	return &Error{Kind: KindValidationFailed, Op: op, Detail: detail, Err: err}
}

// StorageFailure wraps a persistence error.
func StorageFailure(op string, err error) *Error {
	return &Error{Kind: KindStorageFailure, Op: op, Err: err}
}

// DuplicateIdentifier reports an identifier collision on creation.
func DuplicateIdentifier(op string, err error) *Error {
	return &Error{Kind: KindDuplicateIdentifier, Op: op, Detail: "identifier collision", Err: err}
}

// DispatchFailure wraps an operation error with the action and canvas it was applied to.
func DispatchFailure(action, canvasID string, err error) *Error {
	return &Error{
		Kind:   KindDispatchFailure,
		Op:     "dispatch",
		Detail: fmt.Sprintf("action %q on canvas %q", action, canvasID),
		Err:    err,
	}
}

// KindOf returns the outermost kind in the error chain, or "" for untyped errors.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return ""
}

// DetailOf returns a user-facing description of err.
func DetailOf(err error) string {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		detail := typed.Detail
		if typed.Err != nil {
			if detail != "" {
				detail += ": "
			}
			detail += typed.Err.Error()
		}
		if detail != "" {
			return detail
		}
	}
	return err.Error()
}
