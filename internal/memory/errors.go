package memory

import (
	"errors"
	"fmt"
)

// Kind classifies a memory error.
type Kind string

const (
	KindNotFound              Kind = "NOT_FOUND"
	KindDuplicateSymbol       Kind = "DUPLICATE_SYMBOL"
	KindValidation            Kind = "VALIDATION"
	KindConsistencyDivergence Kind = "CONSISTENCY_DIVERGENCE"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its kind.
var (
	ErrNotFound              = &Error{Kind: KindNotFound, Message: "not found"}
	ErrDuplicateSymbol       = &Error{Kind: KindDuplicateSymbol, Message: "duplicate symbol"}
	ErrValidation            = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrConsistencyDivergence = &Error{Kind: KindConsistencyDivergence, Message: "store and index diverged"}
)

// Error is a classified, operation-scoped failure.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Symbol  string `json:"symbol,omitempty"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// NotFound reports a missing symbol or id.
func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found", Symbol: what}
}

// DuplicateSymbol reports a (tenant, symbol) collision.
func DuplicateSymbol(symbol string, cause error) *Error {
	return &Error{Kind: KindDuplicateSymbol, Message: "symbol already exists: " + symbol, Symbol: symbol, Cause: cause}
}

// Validationf builds a validation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Divergence reports a mismatch between the store and the similarity index for one node id.
func Divergence(id, detail string) *Error {
	return &Error{Kind: KindConsistencyDivergence, Message: detail + ": " + id}
}

// KindOf returns the kind of err, or "" if err is not a memory error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
