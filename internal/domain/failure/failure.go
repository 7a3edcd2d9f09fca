// Package failure classifies errors crossing adapter boundaries.
//
// Every adapter wraps its errors with one of the sentinel kinds below so the
// workflow can decide between a full failure, a degraded success, or a
// user-facing correction request without inspecting transport details.
package failure

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Use errors.Is against these.
var (
	ErrParse      = errors.New("parse error")
	ErrValidation = errors.New("validation error")
	ErrTransient  = errors.New("transient service error")
	ErrPermanent  = errors.New("permanent service error")
	ErrNotFound   = errors.New("not found")
)

var kinds = []error{ErrParse, ErrValidation, ErrTransient, ErrPermanent, ErrNotFound}

// KindError tags a cause with an operation name and a kind.
type KindError struct {
	Op   string
	Kind error
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *KindError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// WrapKind tags err with op and kind. A nil err yields nil.
func WrapKind(op string, kind, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Op: op, Kind: kind, Err: err}
}

// NewKind builds a KindError without an underlying cause.
func NewKind(op string, kind error) error {
	return &KindError{Op: op, Kind: kind}
}

// Newf builds a KindError whose cause is a formatted message.
func Newf(op string, kind error, format string, args ...any) error {
	return &KindError{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the first sentinel kind err matches, or nil.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Label returns a short metric-friendly name for err's kind.
func Label(err error) string {
	switch KindOf(err) {
	case ErrParse:
		return "parse"
	case ErrValidation:
		return "validation"
	case ErrTransient:
		return "transient"
	case ErrPermanent:
		return "permanent"
	case ErrNotFound:
		return "not_found"
	case nil:
		if err == nil {
			return "none"
		}
	}
	return "unknown"
}
