// Package dberr defines the error taxonomy shared by every layer of the
// mapper: engines, the model runtime, the population resolver and the
// migration executor.
//
// Every failure surfaced to callers is a *Error carrying a Code. Callers
// branch on the code with the IsXxx helpers, which use errors.As so that
// wrapped errors are matched as well:
//
//	rec, err := users.Get(ctx, map[string]any{"name": "Alice"})
//	if dberr.IsNotFound(err) {
//	    // no such user
//	}
//
// The package-level sentinels (ErrNotFound, ...) work with errors.Is.
package dberr

import (
	"errors"
	"fmt"
)

// Code categorizes mapper errors.
type Code string

const (
	// CodeNotFound indicates a required record or collection does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeConstraintViolation indicates a uniqueness, nullability or
	// required-field constraint was breached.
	CodeConstraintViolation Code = "CONSTRAINT_VIOLATION"

	// CodeInvalidQuery indicates a malformed query: unknown field, bad
	// operator, negative pagination or a type mismatch.
	CodeInvalidQuery Code = "INVALID_QUERY"

	// CodeRelationshipDeclaration indicates an inconsistent relationship
	// declaration detected at model registration.
	CodeRelationshipDeclaration Code = "RELATIONSHIP_DECLARATION"

	// CodeConnection indicates the engine is unreachable or the connection
	// was lost.
	CodeConnection Code = "CONNECTION"

	// CodeInertRecord indicates use of a record after it was deleted.
	CodeInertRecord Code = "INERT_RECORD"
)

// Error is the structured error returned by the mapper.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Collection names the affected collection, when known.
	Collection string

	// Field names the affected field, when known.
	Field string

	// Cause is the underlying driver or engine error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Collection != "" && e.Field != "":
		msg = fmt.Sprintf("%s (collection=%s, field=%s)", msg, e.Collection, e.Field)
	case e.Collection != "":
		msg = fmt.Sprintf("%s (collection=%s)", msg, e.Collection)
	case e.Field != "":
		msg = fmt.Sprintf("%s (field=%s)", msg, e.Field)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a sentinel with the same code, so that
// errors.Is(err, ErrNotFound) matches any not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Collection == "" && t.Field == "" && t.Code == e.Code
}

// Sentinels for use with errors.Is.
var (
	ErrNotFound                = &Error{Code: CodeNotFound}
	ErrConstraintViolation     = &Error{Code: CodeConstraintViolation}
	ErrInvalidQuery            = &Error{Code: CodeInvalidQuery}
	ErrRelationshipDeclaration = &Error{Code: CodeRelationshipDeclaration}
	ErrConnection              = &Error{Code: CodeConnection}
	ErrInertRecord             = &Error{Code: CodeInertRecord}
)

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsConstraintViolation reports whether err is a constraint violation.
func IsConstraintViolation(err error) bool { return CodeOf(err) == CodeConstraintViolation }

// IsInvalidQuery reports whether err is an invalid-query error.
func IsInvalidQuery(err error) bool { return CodeOf(err) == CodeInvalidQuery }

// IsRelationshipDeclaration reports whether err is a relationship
// declaration error.
func IsRelationshipDeclaration(err error) bool {
	return CodeOf(err) == CodeRelationshipDeclaration
}

// IsConnection reports whether err is a connection error.
func IsConnection(err error) bool { return CodeOf(err) == CodeConnection }

// IsInert reports whether err reports use of a deleted record.
func IsInert(err error) bool { return CodeOf(err) == CodeInertRecord }

// NotFound creates a not-found error for collection.
func NotFound(collection, format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Collection: collection, Message: fmt.Sprintf(format, args...)}
}

// ConstraintViolation creates a constraint error on collection.field.
func ConstraintViolation(collection, field, format string, args ...any) *Error {
	return &Error{
		Code:       CodeConstraintViolation,
		Collection: collection,
		Field:      field,
		Message:    fmt.Sprintf(format, args...),
	}
}

// InvalidQuery creates an invalid-query error mentioning field.
func InvalidQuery(field, format string, args ...any) *Error {
	return &Error{Code: CodeInvalidQuery, Field: field, Message: fmt.Sprintf(format, args...)}
}

// RelationshipDeclaration creates a declaration error for model.field.
func RelationshipDeclaration(model, field, format string, args ...any) *Error {
	return &Error{
		Code:       CodeRelationshipDeclaration,
		Collection: model,
		Field:      field,
		Message:    fmt.Sprintf(format, args...),
	}
}

// Connection wraps cause as a connection error.
func Connection(cause error, format string, args ...any) *Error {
	return &Error{Code: CodeConnection, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Inert creates the error returned by operations on a deleted record.
func Inert(collection string) *Error {
	return &Error{Code: CodeInertRecord, Collection: collection, Message: "record has been deleted"}
}

// Wrap attaches cause to a new error of the given code. A nil cause
// returns nil.
func Wrap(code Code, collection string, cause error, message string) error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Collection: collection, Message: message, Cause: cause}
}
