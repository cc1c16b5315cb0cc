package resource

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrResourceNotFound is returned when a resource is not declared.
var ErrResourceNotFound = errors.New("resource not found")

// ErrIdentityRequired is returned when an Update or Delete has neither
// an identity nor a scoping filter.
var ErrIdentityRequired = errors.New("identity or filter is required to select the record")

// ForbiddenError is returned when the actor is not allowed to perform an operation.
type ForbiddenError struct {
	Resource  string
	Operation string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s.%s", e.Resource, e.Operation)
}

// NotFoundError is returned when an identity filter matched no record.
type NotFoundError struct {
	Resource string
	Identity IdentityFilter
}

func (e *NotFoundError) Error() string {
	if len(e.Identity) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	keys := make([]string, 0, len(e.Identity))
	for _, kv := range e.Identity {
		keys = append(keys, fmt.Sprintf("%s=%v", kv.Key, kv.Value))
	}
	return fmt.Sprintf("%s not found: %s", e.Resource, strings.Join(keys, ", "))
}

// FieldError describes a single invalid value.
// Pointer is a JSON pointer into the tool arguments, Parameter is set
// for values which are not part of the arguments document.
type FieldError struct {
	Field     string `json:"field,omitempty"`
	Pointer   string `json:"pointer,omitempty"`
	Parameter string `json:"parameter,omitempty"`
	Message   string `json:"message"`
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ValidationError is returned for invalid arguments, one entry per offending field.
type ValidationError struct {
	Fields []*FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Error())
	}
	return "invalid: " + strings.Join(msgs, "; ")
}

// Add appends a field error.
func (e *ValidationError) Add(fe *FieldError) *ValidationError {
	e.Fields = append(e.Fields, fe)
	return e
}

// Err returns nil when no field errors were collected.
func (e *ValidationError) Err() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// InputError returns a validation error of an input field.
func InputError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Fields: []*FieldError{{
		Field:   field,
		Pointer: "/input/" + field,
		Message: fmt.Sprintf(format, args...),
	}}}
}

// FilterError returns a validation error of a filter field.
func FilterError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Fields: []*FieldError{{
		Field:   field,
		Pointer: "/filter/" + field,
		Message: fmt.Sprintf(format, args...),
	}}}
}

// ParamError returns a validation error of a top level argument.
func ParamError(key, format string, args ...any) *ValidationError {
	return &ValidationError{Fields: []*FieldError{{
		Field:   key,
		Pointer: "/" + key,
		Message: fmt.Sprintf(format, args...),
	}}}
}

// IsForbidden returns true if err is or wraps ForbiddenError.
func IsForbidden(err error) bool {
	var fe *ForbiddenError
	return errors.As(err, &fe)
}

// IsNotFound returns true if err is or wraps NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}
