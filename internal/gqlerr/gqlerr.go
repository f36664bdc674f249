// Package gqlerr defines the error kinds the query and mutation layers raise.
// Errors carry a machine-readable code surfaced through GraphQL extensions;
// translation to wire format is the transport layer's concern.
package gqlerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport-layer handling.
type Kind string

const (
	// KindConfig marks schema-build-time or first-use configuration defects.
	KindConfig Kind = "configuration_error"
	// KindInvalidInput marks malformed per-request input.
	KindInvalidInput Kind = "invalid_input"
	// KindNotFound marks primary-key lookups that matched no row.
	KindNotFound Kind = "not_found"
	// KindConstraint marks database integrity violations.
	KindConstraint Kind = "constraint_violation"
	// KindGuard marks complexity or depth limits exceeded before execution.
	KindGuard Kind = "operation_limit_exceeded"
	// KindInternal marks unexpected execution failures: query building,
	// database errors outside the constraint taxonomy, row scanning.
	KindInternal Kind = "internal_error"
)

// Error is a classified error with optional GraphQL extensions.
type Error struct {
	Knd     Kind
	Message string
	Meta    map[string]any
	wrapped error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

// Extensions exposes the error code (and metadata) for GraphQL responses.
func (e *Error) Extensions() map[string]any {
	extensions := map[string]any{"code": string(e.Knd)}
	for k, v := range e.Meta {
		extensions[k] = v
	}
	return extensions
}

// New builds a classified error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Knd: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a classified error around a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Knd: kind, Message: fmt.Sprintf(format, args...), wrapped: err}
}

// WithMeta attaches extension metadata.
func (e *Error) WithMeta(key string, value any) *Error {
	if e.Meta == nil {
		e.Meta = make(map[string]any)
	}
	e.Meta[key] = value
	return e
}

// KindOf returns the kind of err, or "" when err is unclassified.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Knd
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
