// Package toolerror converts errors of tool executions into
// an envelope safe to return to a LLM.
package toolerror

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/actionai/resource"
	"github.com/effective-security/xlog"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/actionai", "toolerror")

// Error codes
const (
	CodeForbidden          = "forbidden"
	CodeInvalid            = "invalid"
	CodeNotFound           = "not_found"
	CodeSomethingWentWrong = "something_went_wrong"
)

// Source points at the offending value
type Source struct {
	Pointer   string `json:"pointer,omitempty"`
	Parameter string `json:"parameter,omitempty"`
}

// Error is an entry of the envelope
type Error struct {
	ID     string         `json:"id"`
	Status int            `json:"status"`
	Code   string         `json:"code"`
	Title  string         `json:"title"`
	Detail string         `json:"detail"`
	Source *Source        `json:"source,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// Envelope is the list of errors of a failed tool call
type Envelope struct {
	Errors []*Error `json:"errors"`
}

// JSON returns the serialized envelope
func (e *Envelope) JSON() string {
	js, _ := json.Marshal(e)
	return string(js)
}

// Status returns the status of the first entry, or 0 when empty.
func (e *Envelope) Status() int {
	if e == nil || len(e.Errors) == 0 {
		return 0
	}
	return e.Errors[0].Status
}

// Parse decodes a serialized envelope
func Parse(js string) (*Envelope, error) {
	e := &Envelope{}
	if err := json.Unmarshal([]byte(js), e); err != nil {
		return nil, errors.Wrap(err, "invalid error envelope")
	}
	return e, nil
}

type options struct {
	showRaw bool
}

// Option configures FromError
type Option func(*options)

// WithShowRawErrors includes the raw text of unexpected errors in the detail.
func WithShowRawErrors(show bool) Option {
	return func(o *options) {
		o.showRaw = show
	}
}

// FromError classifies the error into an envelope
func FromError(ctx context.Context, err error, opts ...Option) *Envelope {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	var (
		forbidden *resource.ForbiddenError
		invalid   *resource.ValidationError
		verrs     validator.ValidationErrors
		notFound  *resource.NotFoundError
	)

	switch {
	case errors.As(err, &forbidden):
		return &Envelope{Errors: []*Error{{
			ID:     uuid.NewString(),
			Status: http.StatusForbidden,
			Code:   CodeForbidden,
			Title:  "Forbidden",
			Detail: fmt.Sprintf("not allowed to perform %s on %s", forbidden.Operation, forbidden.Resource),
		}}}
	case errors.As(err, &invalid):
		env := &Envelope{}
		for _, f := range invalid.Fields {
			entry := &Error{
				ID:     uuid.NewString(),
				Status: http.StatusBadRequest,
				Code:   CodeInvalid,
				Title:  "Invalid Attribute",
				Detail: f.Message,
			}
			if f.Pointer != "" || f.Parameter != "" {
				entry.Source = &Source{Pointer: f.Pointer, Parameter: f.Parameter}
			}
			if f.Field != "" {
				entry.Meta = map[string]any{"field": f.Field}
			}
			env.Errors = append(env.Errors, entry)
		}
		if len(env.Errors) == 0 {
			env.Errors = append(env.Errors, &Error{
				ID:     uuid.NewString(),
				Status: http.StatusBadRequest,
				Code:   CodeInvalid,
				Title:  "Invalid Attribute",
				Detail: "invalid arguments",
			})
		}
		return env
	case errors.As(err, &verrs):
		env := &Envelope{}
		for _, fe := range verrs {
			env.Errors = append(env.Errors, &Error{
				ID:     uuid.NewString(),
				Status: http.StatusBadRequest,
				Code:   CodeInvalid,
				Title:  "Invalid Attribute",
				Detail: fmt.Sprintf("failed on the '%s' constraint", fe.Tag()),
				Source: &Source{Pointer: "/input/" + fe.Field()},
				Meta:   map[string]any{"field": fe.Field()},
			})
		}
		return env
	case errors.Is(err, resource.ErrIdentityRequired):
		return &Envelope{Errors: []*Error{{
			ID:     uuid.NewString(),
			Status: http.StatusBadRequest,
			Code:   CodeInvalid,
			Title:  "Invalid Attribute",
			Detail: err.Error(),
		}}}
	case errors.As(err, &notFound), errors.Is(err, resource.ErrResourceNotFound):
		return &Envelope{Errors: []*Error{{
			ID:     uuid.NewString(),
			Status: http.StatusNotFound,
			Code:   CodeNotFound,
			Title:  "Not Found",
			Detail: err.Error(),
		}}}
	}

	id := uuid.NewString()
	logger.ContextKV(ctx, xlog.ERROR,
		"reason", "tool_error",
		"error_id", id,
		"err", err.Error(),
	)

	entry := &Error{
		ID:     id,
		Status: http.StatusInternalServerError,
		Code:   CodeSomethingWentWrong,
		Title:  "Something went wrong",
		Detail: "Something went wrong. Error ID: " + id,
	}
	if o.showRaw {
		entry.Detail = err.Error()
		entry.Meta = map[string]any{"stacktrace": fmt.Sprintf("%+v", err)}
	}
	return &Envelope{Errors: []*Error{entry}}
}
