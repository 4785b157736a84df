package errs

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not found")
	ErrTicketNotFound = wrapNotFound("ticket not found")
	ErrValidation     = errors.New("validation failed")
	ErrInvalidState   = errors.New("ticket has already been decided")
	ErrPersistence    = errors.New("persistence failure")
)

type notFound struct{ msg string }

func (e *notFound) Error() string        { return e.msg }
func (e *notFound) Is(target error) bool { return target == ErrNotFound }

func wrapNotFound(msg string) error { return &notFound{msg: msg} }

// ValidationError carries per-field messages. errors.Is(err, ErrValidation)
// holds for every instance.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

func (e *ValidationError) Add(field, msg string) { e.Fields[field] = msg }

func (e *ValidationError) Empty() bool { return len(e.Fields) == 0 }

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, e.Fields[k])
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Validation is a single-field shorthand.
func Validation(field, msg string) *ValidationError {
	v := NewValidationError()
	v.Add(field, msg)
	return v
}

// Message returns the text shown to the end user. Storage errors are never
// echoed verbatim.
func Message(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, ErrUnauthorized):
		return "You are not allowed to perform this action."
	case errors.Is(err, ErrTicketNotFound):
		return "Ticket not found."
	case errors.Is(err, ErrNotFound):
		return "Record not found."
	case errors.Is(err, ErrInvalidState):
		return "This ticket has already been decided."
	default:
		return "The operation could not be completed. Please try again later."
	}
}
