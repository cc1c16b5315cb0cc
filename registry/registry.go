// Package registry discovers tool definitions of resource operations and
// builds a registry of LLM tool descriptors bound to an actor.
package registry

import (
	"context"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/actionai/executor"
	"github.com/effective-security/actionai/pkg/llms"
	"github.com/effective-security/actionai/resource"
	"github.com/effective-security/actionai/tools"
	"github.com/effective-security/xlog"
	"github.com/invopop/jsonschema"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/actionai", "registry")

var (
	// ErrDuplicateTool is returned by Build when two tools have the same name.
	ErrDuplicateTool = errors.New("duplicate tool name")
	// ErrToolNotFound is returned when calling a tool which is not registered.
	ErrToolNotFound = errors.New("tool not found")
)

// Tool is a registered tool.
type Tool struct {
	name        string
	description string
	params      *jsonschema.Schema
	def         *tools.Definition
	call        func(ctx context.Context, args map[string]any) executor.Result
	callJSON    func(ctx context.Context, raw string) executor.Result
}

var _ tools.ITool = (*Tool)(nil)

// Name returns the name of the tool.
func (t *Tool) Name() string {
	return t.name
}

// Description returns the description of the tool.
func (t *Tool) Description() string {
	return t.description
}

// Parameters returns the parameters schema.
func (t *Tool) Parameters() *jsonschema.Schema {
	return t.params
}

// Definition returns the definition of the tool, nil for built-in tools.
func (t *Tool) Definition() *tools.Definition {
	return t.def
}

// Run calls the tool with decoded arguments.
func (t *Tool) Run(ctx context.Context, args map[string]any) executor.Result {
	return t.call(ctx, args)
}

// RunJSON calls the tool with the argument text of a tool call.
func (t *Tool) RunJSON(ctx context.Context, raw string) executor.Result {
	return t.callJSON(ctx, raw)
}

// Call implements tools.ITool, the failure envelope is returned with the error.
func (t *Tool) Call(ctx context.Context, input string) (string, error) {
	res := t.RunJSON(ctx, input)
	if !res.OK {
		err := res.Err
		if err == nil {
			err = errors.New("tool call failed")
		}
		return res.JSON, errors.WithMessagef(err, "tool %s", t.name)
	}
	return res.JSON, nil
}

// Registry is a flat name to tool map, bound to the actor at build time.
// It is safe for concurrent use.
type Registry struct {
	provider resource.Provider
	ec       executor.Context
	list     []*Tool
	byName   map[string]*Tool
}

// Build discovers the tools of the selection and registers them.
func Build(ctx context.Context, p resource.Provider, sel Selection, opts ...Option) (*Registry, error) {
	o := newOptions(opts)

	defs, err := Discover(ctx, p, sel, opts...)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		provider: p,
		ec:       o.ec,
		byName:   make(map[string]*Tool),
	}

	for _, d := range defs {
		t, err := r.newTool(d)
		if err != nil {
			return nil, err
		}
		if err = r.add(t, o.lastWriteWins); err != nil {
			return nil, err
		}
	}

	builtins, err := diagnosticTools(p, o)
	if err != nil {
		return nil, err
	}
	for _, t := range builtins {
		if !diagnosticSelected(sel, t.name) {
			continue
		}
		if err = r.add(t, o.lastWriteWins); err != nil {
			return nil, err
		}
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "built",
		"tools", strings.Join(r.Names(), ","),
	)
	return r, nil
}

func diagnosticSelected(sel Selection, name string) bool {
	if slices.Contains(sel.Exclude, name) {
		return false
	}
	return sel.Diagnostics ||
		slices.Contains(sel.Names, DiagnosticTools) ||
		slices.Contains(sel.Names, name)
}

func (r *Registry) newTool(d *tools.Definition) (*Tool, error) {
	params, err := d.Schema()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to build schema of tool %s", d.Name)
	}
	return &Tool{
		name:        d.Name,
		description: d.GetDescription(),
		params:      params,
		def:         d,
		call: func(ctx context.Context, args map[string]any) executor.Result {
			ec := r.ec
			return executor.Run(ctx, r.provider, d, args, &ec)
		},
		callJSON: func(ctx context.Context, raw string) executor.Result {
			ec := r.ec
			return executor.RunJSON(ctx, r.provider, d, raw, &ec)
		},
	}, nil
}

func (r *Registry) add(t *Tool, lastWriteWins bool) error {
	key := t.name
	if existing, ok := r.byName[key]; ok {
		if !lastWriteWins {
			return errors.WithMessagef(ErrDuplicateTool, "%s", t.name)
		}
		idx := slices.Index(r.list, existing)
		r.list[idx] = t
		r.byName[key] = t
		return nil
	}
	r.byName[key] = t
	r.list = append(r.list, t)
	return nil
}

// Tools returns the LLM descriptors of the registered tools, in registration order.
func (r *Registry) Tools() []llms.Tool {
	list := make([]llms.Tool, 0, len(r.list))
	for _, t := range r.list {
		list = append(list, tools.LLMTool(t))
	}
	return list
}

// ITools returns the registered tools.
func (r *Registry) ITools() []tools.ITool {
	list := make([]tools.ITool, 0, len(r.list))
	for _, t := range r.list {
		list = append(list, t)
	}
	return list
}

// Names returns the names of the registered tools, in registration order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.list))
	for _, t := range r.list {
		names = append(names, t.name)
	}
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.list)
}

// Lookup returns the tool by its exact name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Call runs the tool with decoded arguments.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (executor.Result, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return executor.Result{}, errors.WithMessagef(ErrToolNotFound, "%s", name)
	}
	return t.Run(ctx, args), nil
}

// CallJSON runs the tool with the argument text of a tool call.
func (r *Registry) CallJSON(ctx context.Context, name, raw string) (executor.Result, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return executor.Result{}, errors.WithMessagef(ErrToolNotFound, "%s", name)
	}
	return t.RunJSON(ctx, raw), nil
}

// Definitions returns the definitions of the registered resource tools.
func (r *Registry) Definitions() []*tools.Definition {
	var list []*tools.Definition
	for _, t := range r.list {
		if t.def != nil {
			list = append(list, t.def)
		}
	}
	return list
}

// Actor returns the actor the registry is bound to.
func (r *Registry) Actor() any {
	return r.ec.Actor
}

// Tenant returns the tenant the registry is bound to.
func (r *Registry) Tenant() string {
	return r.ec.Tenant
}
