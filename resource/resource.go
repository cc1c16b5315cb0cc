package resource

import (
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// FieldType is the type of a field or an argument.
type FieldType string

// Field types
const (
	TypeString   FieldType = "string"
	TypeInteger  FieldType = "integer"
	TypeNumber   FieldType = "number"
	TypeBoolean  FieldType = "boolean"
	TypeDatetime FieldType = "datetime"
	TypeUUID     FieldType = "uuid"
	TypeObject   FieldType = "object"
	TypeArray    FieldType = "array"
)

// FormatDatetime returns the canonical form of a datetime value,
// UTC with fractional seconds.
func FormatDatetime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Field describes a typed attribute of a resource, or an operation argument.
// Items is the element type of an array field.
type Field struct {
	Name        string    `json:"name" yaml:"name"`
	Type        FieldType `json:"type" yaml:"type"`
	Items       FieldType `json:"items,omitempty" yaml:"items,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Public      bool      `json:"public,omitempty" yaml:"public,omitempty"`
	Filterable  bool      `json:"filterable,omitempty" yaml:"filterable,omitempty"`
	Sortable    bool      `json:"sortable,omitempty" yaml:"sortable,omitempty"`
	AllowNil    bool      `json:"allow_nil,omitempty" yaml:"allow_nil,omitempty"`
	Default     any       `json:"default,omitempty" yaml:"default,omitempty"`
	Enum        []any     `json:"enum,omitempty" yaml:"enum,omitempty"`
	// Constraints is a validator tag applied to input values, for example "min=3,max=100"
	Constraints string `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

// Required returns true when a value must be provided on create.
func (f *Field) Required() bool {
	return !f.AllowNil && f.Default == nil
}

// Operators returns the filter operators applicable to the field type.
func (f *Field) Operators() []Operator {
	ops := []Operator{OpEq, OpNotEq, OpIn}
	switch f.Type {
	case TypeInteger, TypeNumber, TypeDatetime, TypeString:
		ops = append(ops, OpGt, OpGte, OpLt, OpLte)
	}
	switch f.Type {
	case TypeString, TypeArray:
		ops = append(ops, OpContains)
	}
	if f.AllowNil {
		ops = append(ops, OpIsNil)
	}
	return ops
}

// SupportsOperator returns true if the operator is applicable to the field.
func (f *Field) SupportsOperator(op Operator) bool {
	return slices.Contains(f.Operators(), op)
}

// Operation is a named capability of a resource.
type Operation struct {
	Name        string `json:"name" yaml:"name"`
	Kind        Kind   `json:"kind" yaml:"kind"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Arguments are operation specific inputs, besides the resource fields.
	Arguments []*Field `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	// Accept lists writable fields for Create and Update.
	Accept []string `json:"accept,omitempty" yaml:"accept,omitempty"`
	// DefaultPageSize and MaxPageSize are used by Query operations.
	DefaultPageSize int `json:"default_page_size,omitempty" yaml:"default_page_size,omitempty"`
	MaxPageSize     int `json:"max_page_size,omitempty" yaml:"max_page_size,omitempty"`
	// Returns is the declared return type of a Custom operation,
	// empty when the operation returns nothing.
	Returns string `json:"returns,omitempty" yaml:"returns,omitempty"`
}

// Argument returns the argument by name.
func (o *Operation) Argument(name string) *Field {
	for _, a := range o.Arguments {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// ToolDeclaration is a tool declared on a resource.
type ToolDeclaration struct {
	Name        string   `json:"name" yaml:"name"`
	Operation   string   `json:"operation" yaml:"operation"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Load        []string `json:"load,omitempty" yaml:"load,omitempty"`
	// Identity is the identity selector: empty for the primary key,
	// "false" to disable, or the name of an identity.
	Identity         string   `json:"identity,omitempty" yaml:"identity,omitempty"`
	ActionParameters []string `json:"action_parameters,omitempty" yaml:"action_parameters,omitempty"`
}

// Resource describes a structured business entity.
type Resource struct {
	Name        string   `json:"name" yaml:"name"`
	Namespace   string   `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Fields      []*Field `json:"fields" yaml:"fields"`
	PrimaryKey  []string `json:"primary_key" yaml:"primary_key"`
	// Identities are named alternatives to the primary key.
	Identities map[string][]string `json:"identities,omitempty" yaml:"identities,omitempty"`
	Operations []*Operation        `json:"operations" yaml:"operations"`
	Tools      []*ToolDeclaration  `json:"tools,omitempty" yaml:"tools,omitempty"`
	// TenantField is the field holding the tenant, records are scoped by it when set.
	TenantField string `json:"tenant_field,omitempty" yaml:"tenant_field,omitempty"`
}

// Field returns the field by name.
func (r *Resource) Field(name string) *Field {
	for _, f := range r.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// PublicField returns the field by name if it is public.
func (r *Resource) PublicField(name string) *Field {
	if f := r.Field(name); f != nil && f.Public {
		return f
	}
	return nil
}

// Operation returns the operation by name.
func (r *Resource) Operation(name string) *Operation {
	for _, o := range r.Operations {
		if o.Name == name {
			return o
		}
	}
	return nil
}

// PublicFields returns public fields in declaration order.
func (r *Resource) PublicFields() []*Field {
	var res []*Field
	for _, f := range r.Fields {
		if f.Public {
			res = append(res, f)
		}
	}
	return res
}

// IdentityKeys returns the keys of the named identity,
// or the primary key when the name is empty.
func (r *Resource) IdentityKeys(name string) ([]string, error) {
	if name == "" {
		if len(r.PrimaryKey) == 0 {
			return nil, errors.Newf("resource %s has no primary key", r.Name)
		}
		return r.PrimaryKey, nil
	}
	keys, ok := r.Identities[name]
	if !ok || len(keys) == 0 {
		return nil, errors.Newf("identity %s not found on resource %s", name, r.Name)
	}
	return keys, nil
}

// FullName returns namespace qualified name.
func (r *Resource) FullName() string {
	if r.Namespace == "" {
		return r.Name
	}
	return r.Namespace + "." + r.Name
}

// Validate checks the consistency of the resource declaration.
func (r *Resource) Validate() error {
	if r.Name == "" {
		return errors.New("resource name is required")
	}
	var problems []string
	seen := map[string]bool{}
	for _, f := range r.Fields {
		if seen[f.Name] {
			problems = append(problems, "duplicate field "+f.Name)
		}
		seen[f.Name] = true
	}
	for _, k := range r.PrimaryKey {
		if !seen[k] {
			problems = append(problems, "primary key field not found: "+k)
		}
	}
	for name, keys := range r.Identities {
		for _, k := range keys {
			if !seen[k] {
				problems = append(problems, "identity "+name+" field not found: "+k)
			}
		}
	}
	ops := map[string]bool{}
	for _, o := range r.Operations {
		if ops[o.Name] {
			problems = append(problems, "duplicate operation "+o.Name)
		}
		ops[o.Name] = true
		if !o.Kind.Valid() {
			problems = append(problems, "operation "+o.Name+" has unsupported kind")
		}
		for _, a := range o.Accept {
			if !seen[a] {
				problems = append(problems, "operation "+o.Name+" accepts unknown field "+a)
			}
		}
	}
	for _, t := range r.Tools {
		if !ops[t.Operation] {
			problems = append(problems, "tool "+t.Name+" refers to unknown operation "+t.Operation)
		}
	}
	if r.TenantField != "" && !seen[r.TenantField] {
		problems = append(problems, "tenant field not found: "+r.TenantField)
	}
	if len(problems) > 0 {
		return errors.Newf("invalid resource %s: %s", r.Name, strings.Join(problems, "; "))
	}
	return nil
}
