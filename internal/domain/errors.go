package domain

import "fmt"

// ErrorKind is the engine's closed error taxonomy. It is a
// classification, not a type hierarchy — every engine-raised error wraps
// one of these kinds so callers can branch on recovery strategy with
// errors.Is/As instead of string matching.
type ErrorKind string

const (
	KindInvalidArgument   ErrorKind = "invalid_argument"
	KindNotFound          ErrorKind = "not_found"
	KindConflict          ErrorKind = "conflict"
	KindTransient         ErrorKind = "transient"
	KindQuotaExceeded     ErrorKind = "quota_exceeded"
	KindCapabilityMissing ErrorKind = "capability_missing"
	KindIntegrity         ErrorKind = "integrity"
	KindFatal             ErrorKind = "fatal"
)

// Error is the engine's wrapped error type. Source and Operation
// identify where the failure occurred (e.g. Source="postgres",
// Operation="recall").
type Error struct {
	Kind      ErrorKind
	Source    string
	Operation string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s.%s: %v", e.Kind, e.Source, e.Operation, e.Cause)
	}
	return fmt.Sprintf("%s: %s.%s", e.Kind, e.Source, e.Operation)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, domain.ErrKind(domain.KindNotFound)) style
// comparisons by kind, ignoring source/operation/cause.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	if other.Source != "" && other.Source != e.Source {
		return false
	}
	if other.Operation != "" && other.Operation != e.Operation {
		return false
	}
	return other.Kind == e.Kind
}

// NewError constructs a taxonomy error. Cause may be nil.
func NewError(kind ErrorKind, source, operation string, cause error) *Error {
	return &Error{Kind: kind, Source: source, Operation: operation, Cause: cause}
}

// ErrKind builds a sentinel usable purely for errors.Is kind comparisons,
// e.g. errors.Is(err, domain.ErrKind(domain.KindNotFound)).
func ErrKind(kind ErrorKind) error {
	return &Error{Kind: kind}
}
