package tools

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/actionai/resource"
	"github.com/effective-security/actionai/toolschema"
	"github.com/invopop/jsonschema"
)

// IdentityKind is the kind of an identity selector.
type IdentityKind int

// Identity kinds
const (
	// IdentityDefault selects records by the primary key.
	IdentityDefault IdentityKind = iota
	// IdentityNamed selects records by the keys of a named identity.
	IdentityNamed
	// IdentityDisabled exposes no identity arguments.
	IdentityDisabled
)

// IdentitySpec selects the keys used to find the target record
// of Update and Delete tools.
type IdentitySpec struct {
	kind IdentityKind
	name string
}

// DefaultIdentity selects records by the primary key.
func DefaultIdentity() IdentitySpec {
	return IdentitySpec{kind: IdentityDefault}
}

// NamedIdentity selects records by the named identity of the resource.
func NamedIdentity(name string) IdentitySpec {
	return IdentitySpec{kind: IdentityNamed, name: name}
}

// NoIdentity disables identity arguments.
func NoIdentity() IdentitySpec {
	return IdentitySpec{kind: IdentityDisabled}
}

// ParseIdentity parses the declared form of identity:
// empty for the primary key, "false" to disable, or the identity name.
func ParseIdentity(s string) IdentitySpec {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultIdentity()
	case "false", "none", "disabled":
		return NoIdentity()
	}
	return NamedIdentity(strings.TrimSpace(s))
}

// Kind returns the kind of the selector.
func (s IdentitySpec) Kind() IdentityKind {
	return s.kind
}

// Name returns the identity name of a named selector.
func (s IdentitySpec) Name() string {
	return s.name
}

func (s IdentitySpec) String() string {
	switch s.kind {
	case IdentityNamed:
		return s.name
	case IdentityDisabled:
		return "false"
	}
	return ""
}

// Keys returns the identity keys on the resource, nil when disabled.
func (s IdentitySpec) Keys(res *resource.Resource) ([]string, error) {
	switch s.kind {
	case IdentityDisabled:
		return nil, nil
	case IdentityNamed:
		return res.IdentityKeys(s.name)
	}
	return res.IdentityKeys("")
}

// SchemaOptions returns toolschema options of the selector.
func (s IdentitySpec) SchemaOptions(res *resource.Resource) ([]toolschema.Option, error) {
	if s.kind == IdentityDisabled {
		return []toolschema.Option{toolschema.WithoutIdentity()}, nil
	}
	keys, err := s.Keys(res)
	if err != nil {
		return nil, err
	}
	return []toolschema.Option{toolschema.WithIdentityKeys(keys...)}, nil
}

// Resolve builds the identity filter from top level tool arguments.
// Every missing key is reported in the returned validation error.
func (s IdentitySpec) Resolve(res *resource.Resource, args map[string]any) (resource.IdentityFilter, error) {
	keys, err := s.Keys(res)
	if err != nil || len(keys) == 0 {
		return nil, err
	}

	var (
		filter  resource.IdentityFilter
		invalid resource.ValidationError
	)
	for _, k := range keys {
		v, ok := args[k]
		if !ok || v == nil {
			invalid.Add(&resource.FieldError{Field: k, Pointer: "/" + k, Message: "is required"})
			continue
		}
		filter = append(filter, resource.KeyValue{Key: k, Value: v})
	}
	if err := invalid.Err(); err != nil {
		return nil, err
	}
	return filter, nil
}

var toolNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Definition binds a tool to a resource operation.
// A Definition must not be modified after it is registered.
type Definition struct {
	Name        string
	Resource    *resource.Resource
	Operation   *resource.Operation
	Description string
	// Load lists extra fields to include in the serialized result,
	// private fields included.
	Load []string
	// Identity selects the target record of Update and Delete.
	Identity IdentitySpec
	// ActionParameters restricts the parameters of Query tools,
	// nil for toolschema.DefaultActionParameters.
	ActionParameters []string
}

// GetDescription returns the tool description,
// the operation description or a generated one.
func (d *Definition) GetDescription() string {
	if d.Description != "" {
		return d.Description
	}
	if d.Operation.Description != "" {
		return d.Operation.Description
	}
	name := humanize(d.Resource.Name)
	switch d.Operation.Kind {
	case resource.KindQuery:
		return fmt.Sprintf("Read %s records, with optional filter, sort and pagination.", name)
	case resource.KindCreate:
		return fmt.Sprintf("Create a new %s.", name)
	case resource.KindUpdate:
		return fmt.Sprintf("Update an existing %s.", name)
	case resource.KindDelete:
		return fmt.Sprintf("Delete an existing %s.", name)
	}
	return fmt.Sprintf("Run %s on %s.", humanize(d.Operation.Name), name)
}

// Schema returns the parameters schema of the tool.
func (d *Definition) Schema() (*jsonschema.Schema, error) {
	var opts []toolschema.Option
	if d.Operation.Kind == resource.KindUpdate || d.Operation.Kind == resource.KindDelete {
		var err error
		if opts, err = d.Identity.SchemaOptions(d.Resource); err != nil {
			return nil, err
		}
	}
	return toolschema.ForOperation(d.Resource, d.Operation, d.ActionParameters, opts...)
}

// HasParameter returns true when the Query action parameter is exposed.
func (d *Definition) HasParameter(name string) bool {
	if d.ActionParameters == nil {
		return slices.Contains(toolschema.DefaultActionParameters, name)
	}
	return slices.Contains(d.ActionParameters, name)
}

// Validate checks the definition against its resource.
func (d *Definition) Validate() error {
	if d.Resource == nil || d.Operation == nil {
		return errors.Newf("tool %s: resource and operation are required", d.Name)
	}
	if !toolNameRegex.MatchString(d.Name) {
		return errors.Newf("invalid tool name %q: must match %s", d.Name, toolNameRegex.String())
	}
	if d.Resource.Operation(d.Operation.Name) != d.Operation {
		return errors.Newf("tool %s: operation %s does not belong to resource %s", d.Name, d.Operation.Name, d.Resource.Name)
	}
	if !d.Operation.Kind.Valid() {
		return errors.WithMessagef(resource.ErrUnsupportedKind, "tool %s", d.Name)
	}
	if d.ActionParameters != nil {
		if d.Operation.Kind != resource.KindQuery {
			return errors.Newf("tool %s: action parameters are supported only by query operations", d.Name)
		}
		for _, p := range d.ActionParameters {
			if !slices.Contains(toolschema.DefaultActionParameters, p) {
				return errors.Newf("tool %s: unsupported action parameter %s", d.Name, p)
			}
		}
	}
	if d.Identity.Kind() == IdentityNamed {
		if _, err := d.Identity.Keys(d.Resource); err != nil {
			return errors.WithMessagef(err, "tool %s", d.Name)
		}
	}
	for _, l := range d.Load {
		if d.Resource.Field(l) == nil {
			return errors.Newf("tool %s: load field not found: %s", d.Name, l)
		}
	}
	return nil
}

// Generate returns the definition of a tool exposing the operation,
// named <operation>_<resource> in snake case.
func Generate(res *resource.Resource, op *resource.Operation) *Definition {
	return &Definition{
		Name:      snake(op.Name) + "_" + snake(res.Name),
		Resource:  res,
		Operation: op,
	}
}

// FromDeclaration converts a tool declared on the resource.
func FromDeclaration(res *resource.Resource, decl *resource.ToolDeclaration) (*Definition, error) {
	op := res.Operation(decl.Operation)
	if op == nil {
		return nil, errors.Newf("tool %s refers to unknown operation %s.%s", decl.Name, res.Name, decl.Operation)
	}
	d := &Definition{
		Name:             decl.Name,
		Resource:         res,
		Operation:        op,
		Description:      decl.Description,
		Load:             decl.Load,
		Identity:         ParseIdentity(decl.Identity),
		ActionParameters: decl.ActionParameters,
	}
	if d.Name == "" {
		d.Name = Generate(res, op).Name
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// snake converts CamelCase, kebab-case and dotted names to snake_case.
func snake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == '-' || r == '.' || r == ' ':
			b.WriteByte('_')
		case unicode.IsUpper(r):
			if i > 0 && !strings.ContainsRune("_-. ", runes[i-1]) &&
				(unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func humanize(s string) string {
	return strings.ReplaceAll(snake(s), "_", " ")
}
