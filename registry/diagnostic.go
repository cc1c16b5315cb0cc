package registry

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/actionai/executor"
	"github.com/effective-security/actionai/pkg/llmutils"
	"github.com/effective-security/actionai/resource"
	"github.com/effective-security/actionai/tools"
)

// Built-in diagnostic tools
const (
	ToolListResources    = "list_resources"
	ToolDescribeResource = "describe_resource"
)

// ListResourcesRequest is the input of list_resources
type ListResourcesRequest struct {
	Namespace string `json:"namespace,omitempty" jsonschema:"description=Namespace to list. All namespaces are listed when empty"`
}

// OperationInfo describes an operation visible to the actor
type OperationInfo struct {
	Name        string `json:"name" yaml:"name"`
	Kind        string `json:"kind" yaml:"kind"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// ResourceInfo describes a resource visible to the actor
type ResourceInfo struct {
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Operations  []OperationInfo `json:"operations" yaml:"operations"`
}

// NamespaceInfo lists resources of a namespace
type NamespaceInfo struct {
	Name      string         `json:"name" yaml:"name"`
	Resources []ResourceInfo `json:"resources" yaml:"resources"`
}

// ListResourcesResponse is the output of list_resources
type ListResourcesResponse struct {
	Namespaces []NamespaceInfo `json:"namespaces" yaml:"namespaces"`
}

// DescribeResourceRequest is the input of describe_resource
type DescribeResourceRequest struct {
	Name string `json:"name" jsonschema:"description=Name of the resource"`
}

// FieldInfo describes a public field
type FieldInfo struct {
	Name        string   `json:"name" yaml:"name"`
	Type        string   `json:"type" yaml:"type"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Filterable  bool     `json:"filterable,omitempty" yaml:"filterable,omitempty"`
	Sortable    bool     `json:"sortable,omitempty" yaml:"sortable,omitempty"`
	AllowNil    bool     `json:"allow_nil,omitempty" yaml:"allow_nil,omitempty"`
	Enum        []any    `json:"enum,omitempty" yaml:"enum,omitempty"`
	Operators   []string `json:"operators,omitempty" yaml:"operators,omitempty"`
}

// DescribeResourceResponse is the output of describe_resource
type DescribeResourceResponse struct {
	Name        string              `json:"name" yaml:"name"`
	Namespace   string              `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Description string              `json:"description,omitempty" yaml:"description,omitempty"`
	PrimaryKey  []string            `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
	Identities  map[string][]string `json:"identities,omitempty" yaml:"identities,omitempty"`
	Fields      []FieldInfo         `json:"fields" yaml:"fields"`
	Operations  []OperationInfo     `json:"operations" yaml:"operations"`
}

type diagnostics struct {
	provider resource.Provider
	o        *options
}

func diagnosticTools(p resource.Provider, o *options) ([]*Tool, error) {
	d := &diagnostics{provider: p, o: o}

	list, err := tools.NewFunc(ToolListResources,
		"List namespaces and resources with the operations you are allowed to perform.",
		d.listResources)
	if err != nil {
		return nil, err
	}
	describe, err := tools.NewFunc(ToolDescribeResource,
		"Describe public fields, identities and operations of a resource.",
		d.describeResource)
	if err != nil {
		return nil, err
	}
	return []*Tool{
		builtinTool(list, o),
		builtinTool(describe, o),
	}, nil
}

// builtinTool wraps f as a registry tool. Callbacks receive a definition
// with only Name and Description set.
func builtinTool[I any, O any](f *tools.Func[I, O], o *options) *Tool {
	def := &tools.Definition{Name: f.Name(), Description: f.Description()}
	run := func(ctx context.Context, raw string, args map[string]any) executor.Result {
		var in I
		if raw != "" && raw != "null" {
			if err := json.Unmarshal(llmutils.CleanJSON([]byte(raw)), &in); err != nil {
				verr := (&resource.ValidationError{}).Add(&resource.FieldError{
					Pointer: "/",
					Message: errors.WithMessage(tools.ErrFailedUnmarshalInput, err.Error()).Error(),
				})
				return executor.Failure(ctx, verr, o.ec.ShowRawErrors)
			}
		}
		if o.ec.OnStart != nil {
			o.ec.OnStart(ctx, def, args)
		}
		out, err := f.Run(ctx, &in)
		if err != nil {
			return executor.Failure(ctx, err, o.ec.ShowRawErrors)
		}
		return executor.Success(llmutils.ToJSON(out), out)
	}
	finish := func(ctx context.Context, args map[string]any, res executor.Result) executor.Result {
		if o.ec.OnEnd != nil {
			o.ec.OnEnd(ctx, def, args, res)
		}
		return res
	}
	return &Tool{
		name:        def.Name,
		description: def.Description,
		params:      f.Parameters(),
		callJSON: func(ctx context.Context, raw string) executor.Result {
			var args map[string]any
			_ = json.Unmarshal(llmutils.CleanJSON([]byte(raw)), &args)
			return finish(ctx, args, run(ctx, raw, args))
		},
		call: func(ctx context.Context, args map[string]any) executor.Result {
			return finish(ctx, args, run(ctx, llmutils.ToJSON(args), args))
		},
	}
}

func (d *diagnostics) visibleOperations(ctx context.Context, res *resource.Resource) []OperationInfo {
	var ops []OperationInfo
	for _, op := range res.Operations {
		ok, err := d.provider.Can(ctx, d.o.ec.Actor, d.o.ec.Tenant, res, op, map[string]any{})
		if err != nil || !ok {
			continue
		}
		ops = append(ops, OperationInfo{
			Name:        op.Name,
			Kind:        op.Kind.String(),
			Description: op.Description,
		})
	}
	return ops
}

func (d *diagnostics) listResources(ctx context.Context, req *ListResourcesRequest) (*ListResourcesResponse, error) {
	namespaces := []string{req.Namespace}
	if req.Namespace == "" {
		var err error
		if namespaces, err = d.provider.Namespaces(ctx); err != nil {
			return nil, err
		}
	}

	res := &ListResourcesResponse{Namespaces: []NamespaceInfo{}}
	for _, ns := range namespaces {
		list, err := d.provider.Resources(ctx, ns)
		if err != nil {
			return nil, err
		}
		info := NamespaceInfo{Name: ns, Resources: []ResourceInfo{}}
		for _, r := range list {
			ops := d.visibleOperations(ctx, r)
			if len(ops) == 0 {
				continue
			}
			info.Resources = append(info.Resources, ResourceInfo{
				Name:        r.Name,
				Description: r.Description,
				Operations:  ops,
			})
		}
		res.Namespaces = append(res.Namespaces, info)
	}
	return res, nil
}

func (d *diagnostics) describeResource(ctx context.Context, req *DescribeResourceRequest) (*DescribeResourceResponse, error) {
	if req.Name == "" {
		return nil, resource.ParamError("name", "is required")
	}
	r, err := d.provider.Resource(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	ops := d.visibleOperations(ctx, r)
	if len(ops) == 0 {
		// not visible to the actor
		return nil, errors.WithMessagef(resource.ErrResourceNotFound, "%q", req.Name)
	}

	res := &DescribeResourceResponse{
		Name:        r.Name,
		Namespace:   r.Namespace,
		Description: r.Description,
		PrimaryKey:  r.PrimaryKey,
		Fields:      []FieldInfo{},
		Operations:  ops,
	}
	for name, keys := range r.Identities {
		if res.Identities == nil {
			res.Identities = map[string][]string{}
		}
		res.Identities[name] = keys
	}
	for _, f := range r.PublicFields() {
		fi := FieldInfo{
			Name:        f.Name,
			Type:        string(f.Type),
			Description: f.Description,
			Filterable:  f.Filterable,
			Sortable:    f.Sortable,
			AllowNil:    f.AllowNil,
			Enum:        f.Enum,
		}
		if f.Filterable {
			for _, op := range f.Operators() {
				fi.Operators = append(fi.Operators, string(op))
			}
			sort.Strings(fi.Operators)
		}
		res.Fields = append(res.Fields, fi)
	}
	return res, nil
}
