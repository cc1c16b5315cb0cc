package registry

import (
	"context"

	"github.com/effective-security/actionai/executor"
	"github.com/effective-security/actionai/resource"
	"github.com/effective-security/actionai/tools"
)

type options struct {
	ec            executor.Context
	lastWriteWins bool
}

// Option configures Discover and Build.
type Option func(*options)

// WithActor binds the registry to the actor.
func WithActor(actor any) Option {
	return func(o *options) {
		o.ec.Actor = actor
	}
}

// WithTenant binds the registry to the tenant.
func WithTenant(tenant string) Option {
	return func(o *options) {
		o.ec.Tenant = tenant
	}
}

// WithContext sets the caller context values passed to the provider.
func WithContext(values map[string]any) Option {
	return func(o *options) {
		o.ec.Context = values
	}
}

// WithLoad adds fields to the serialized results of every tool.
func WithLoad(fields ...string) Option {
	return func(o *options) {
		o.ec.Load = append(o.ec.Load, fields...)
	}
}

// WithFilter sets the filter selecting the target record of
// Update and Delete tools of the resource without identity.
func WithFilter(resourceName string, conds ...resource.Condition) Option {
	return func(o *options) {
		if o.ec.Filters == nil {
			o.ec.Filters = map[string][]resource.Condition{}
		}
		o.ec.Filters[resourceName] = append(o.ec.Filters[resourceName], conds...)
	}
}

// WithOnStart sets the callback invoked before every tool call.
func WithOnStart(fn func(ctx context.Context, def *tools.Definition, args map[string]any)) Option {
	return func(o *options) {
		o.ec.OnStart = fn
	}
}

// WithOnEnd sets the callback invoked after every tool call.
func WithOnEnd(fn func(ctx context.Context, def *tools.Definition, args map[string]any, res executor.Result)) Option {
	return func(o *options) {
		o.ec.OnEnd = fn
	}
}

// WithShowRawErrors includes raw error text in failure envelopes.
func WithShowRawErrors(show bool) Option {
	return func(o *options) {
		o.ec.ShowRawErrors = show
	}
}

// WithLenientArguments enables lenient decoding of tool call arguments.
func WithLenientArguments(lenient bool) Option {
	return func(o *options) {
		o.ec.Lenient = lenient
	}
}

// WithLastWriteWins replaces tools with colliding names,
// by default Build fails with ErrDuplicateTool.
func WithLastWriteWins() Option {
	return func(o *options) {
		o.lastWriteWins = true
	}
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
