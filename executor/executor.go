// Package executor runs a tool call against a resource operation and
// produces a Success or Failure result with a client consumable JSON envelope.
package executor

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/bububa/ljson"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/actionai/pkg/llmutils"
	"github.com/effective-security/actionai/pkg/metricskey"
	"github.com/effective-security/actionai/resource"
	"github.com/effective-security/actionai/toolerror"
	"github.com/effective-security/actionai/toolschema"
	"github.com/effective-security/actionai/tools"
	xslices "github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/actionai", "executor")

// SuccessMarker is returned by Custom operations without a declared return type.
const SuccessMarker = `{"success":true}`

// Context is the per call execution context.
type Context struct {
	// Actor is the caller identity, may be nil.
	Actor any
	// Tenant may be empty.
	Tenant  string
	Context map[string]any
	// Load lists extra fields to include in the serialized result,
	// in addition to the Load of the tool definition.
	Load []string
	// Filters select the target record of Update and Delete tools
	// without identity, by resource name.
	Filters map[string][]resource.Condition

	OnStart func(ctx context.Context, def *tools.Definition, args map[string]any)
	OnEnd   func(ctx context.Context, def *tools.Definition, args map[string]any, res Result)

	// ShowRawErrors includes the raw text of unexpected errors in the envelope.
	ShowRawErrors bool
	// Lenient enables lenient decoding of the argument text in RunJSON.
	Lenient bool
}

func (c *Context) scope() resource.Scope {
	return resource.Scope{
		Actor:   c.Actor,
		Tenant:  c.Tenant,
		Context: c.Context,
	}
}

// Result is the result of a tool call.
// When OK, JSON is the serialized value and Raw is the native provider value,
// otherwise JSON is the serialized error envelope.
// Raw and Err must not be sent across the process boundary.
type Result struct {
	OK   bool
	JSON string
	Raw  any
	Err  error
}

// Success returns a successful result
func Success(js string, raw any) Result {
	return Result{OK: true, JSON: js, Raw: raw}
}

// Failure returns a failed result with the classified error envelope
func Failure(ctx context.Context, err error, showRaw bool) Result {
	env := toolerror.FromError(ctx, err, toolerror.WithShowRawErrors(showRaw))
	return Result{JSON: env.JSON(), Err: err}
}

// Envelope returns the parsed error envelope of a failed result.
func (r Result) Envelope() *toolerror.Envelope {
	if r.OK {
		return nil
	}
	env, err := toolerror.Parse(r.JSON)
	if err != nil {
		return nil
	}
	return env
}

// RunJSON decodes the tool call argument text and runs the tool.
// Malformed argument text results in a Failure.
func RunJSON(ctx context.Context, p resource.Provider, def *tools.Definition, raw string, ec *Context) Result {
	if ec == nil {
		ec = &Context{}
	}
	args, err := DecodeArguments(raw, ec.Lenient)
	if err != nil {
		logger.ContextKV(ctx, xlog.DEBUG,
			"status", "invalid_arguments",
			"tool", def.Name,
			"args", xslices.StringUpto(raw, 64),
			"err", err.Error(),
		)
		res := Failure(ctx, err, ec.ShowRawErrors)
		if ec.OnEnd != nil {
			ec.OnEnd(ctx, def, nil, res)
		}
		return res
	}
	if ec.Lenient && raw != "" && !json.Valid([]byte(raw)) {
		metricskey.StatsToolArgumentsRepaired.IncrCounter(1, def.Name)
	}
	return Run(ctx, p, def, args, ec)
}

// DecodeArguments decodes the tool call argument text into a map,
// empty or null text results in an empty map.
func DecodeArguments(raw string, lenient bool) (map[string]any, error) {
	args := map[string]any{}
	if raw == "" || raw == "null" {
		return args, nil
	}
	var err error
	if lenient {
		err = ljson.Unmarshal(llmutils.CleanJSON([]byte(raw)), &args)
	} else {
		err = json.Unmarshal([]byte(raw), &args)
	}
	if err != nil {
		return nil, (&resource.ValidationError{}).Add(&resource.FieldError{
			Pointer: "/",
			Message: "arguments must be a valid JSON object: " + err.Error(),
		})
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func (r Result) String() string {
	return r.JSON
}

// Run executes the operation of the tool with the arguments.
// Errors are never returned, they are classified into a Failure.
func Run(ctx context.Context, p resource.Provider, def *tools.Definition, args map[string]any, ec *Context) Result {
	if ec == nil {
		ec = &Context{}
	}
	if args == nil {
		args = map[string]any{}
	}
	resName := def.Resource.Name
	opName := def.Operation.Name

	if ec.OnStart != nil {
		ec.OnStart(ctx, def, args)
	}

	started := time.Now()
	raw, js, err := execute(ctx, p, def, args, ec)
	metricskey.PerfExecutorRun.MeasureSince(started, resName, opName)

	var res Result
	if err != nil {
		if resource.IsForbidden(err) {
			metricskey.StatsExecutorForbidden.IncrCounter(1, resName, opName)
		} else {
			metricskey.StatsExecutorFailed.IncrCounter(1, resName, opName)
		}
		logger.ContextKV(ctx, xlog.DEBUG,
			"status", "failed",
			"tool", def.Name,
			"resource", resName,
			"operation", opName,
			"err", err.Error(),
		)
		res = Failure(ctx, err, ec.ShowRawErrors)
	} else {
		metricskey.StatsExecutorSucceeded.IncrCounter(1, resName, opName)
		logger.ContextKV(ctx, xlog.DEBUG,
			"status", "succeeded",
			"tool", def.Name,
			"resource", resName,
			"operation", opName,
			"result", xslices.StringUpto(js, 64),
		)
		res = Success(js, raw)
	}

	if ec.OnEnd != nil {
		ec.OnEnd(ctx, def, args, res)
	}
	return res
}

func execute(ctx context.Context, p resource.Provider, def *tools.Definition, args map[string]any, ec *Context) (any, string, error) {
	res, op := def.Resource, def.Operation

	input, err := inputOf(args)
	if err != nil {
		return nil, "", err
	}

	ok, err := p.Can(ctx, ec.Actor, ec.Tenant, res, op, input)
	if err != nil {
		return nil, "", errors.WithMessagef(err, "failed to authorize %s.%s", res.Name, op.Name)
	}
	if !ok {
		return nil, "", &resource.ForbiddenError{Resource: res.Name, Operation: op.Name}
	}

	load := mergeLoad(def.Load, ec.Load)
	scope := ec.scope()

	switch op.Kind {
	case resource.KindQuery:
		return runQuery(ctx, p, def, args, input, scope, load)
	case resource.KindCreate:
		rec, err := p.Create(ctx, &resource.ChangeRequest{
			Scope:     scope,
			Resource:  res,
			Operation: op,
			Input:     input,
		})
		if err != nil {
			return nil, "", err
		}
		return serialize(ctx, p, res, rec, "", load)
	case resource.KindUpdate, resource.KindDelete:
		return runChange(ctx, p, def, args, input, scope, ec.Filters, load)
	case resource.KindCustom:
		v, err := p.Run(ctx, &resource.ActionRequest{
			Scope:     scope,
			Resource:  res,
			Operation: op,
			Input:     input,
		})
		if err != nil {
			return nil, "", err
		}
		if op.Returns == "" {
			return v, SuccessMarker, nil
		}
		return serialize(ctx, p, res, v, op.Returns, load)
	}
	return nil, "", errors.WithMessagef(resource.ErrUnsupportedKind, "%s.%s", res.Name, op.Name)
}

func runChange(ctx context.Context, p resource.Provider, def *tools.Definition, args, input map[string]any, scope resource.Scope, filters map[string][]resource.Condition, load []string) (any, string, error) {
	res, op := def.Resource, def.Operation

	identity, err := def.Identity.Resolve(res, args)
	if err != nil {
		return nil, "", err
	}

	filter := identity.Conditions()
	var scoped []resource.Condition
	if identity.IsEmpty() {
		scoped = filters[res.Name]
		if len(scoped) == 0 {
			return nil, "", errors.WithMessagef(resource.ErrIdentityRequired, "%s.%s", res.Name, op.Name)
		}
		filter = scoped
	}

	list, err := p.Read(ctx, &resource.Query{
		Scope:     scope,
		Resource:  res,
		Operation: op,
		Filter:    filter,
		Limit:     1,
	})
	if err != nil {
		return nil, "", err
	}
	if len(list) == 0 {
		return nil, "", &resource.NotFoundError{Resource: res.Name, Identity: identity}
	}

	req := &resource.ChangeRequest{
		Scope:     scope,
		Resource:  res,
		Operation: op,
		Input:     input,
		Identity:  identity,
		Filter:    scoped,
		Record:    list[0],
	}
	var rec any
	if op.Kind == resource.KindUpdate {
		rec, err = p.Update(ctx, req)
	} else {
		rec, err = p.Destroy(ctx, req)
	}
	if err != nil {
		return nil, "", err
	}
	return serialize(ctx, p, res, rec, "", load)
}

func serialize(ctx context.Context, p resource.Provider, res *resource.Resource, v any, returns string, load []string) (any, string, error) {
	js, err := p.Serialize(ctx, res, v, returns, load)
	if err != nil {
		return nil, "", errors.WithMessagef(err, "failed to serialize %s", res.Name)
	}
	return v, js, nil
}

func inputOf(args map[string]any) (map[string]any, error) {
	v, ok := args[toolschema.ParamInput]
	if !ok || v == nil {
		return map[string]any{}, nil
	}
	input, ok := v.(map[string]any)
	if !ok {
		return nil, resource.ParamError(toolschema.ParamInput, "must be an object")
	}
	return input, nil
}

func mergeLoad(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	res := append([]string{}, a...)
	for _, l := range b {
		if !slices.Contains(res, l) {
			res = append(res, l)
		}
	}
	return res
}
