// Package toolschema generates JSON schemas of tool parameters from
// resource operation metadata.
package toolschema

import (
	"encoding/json"
	"slices"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/actionai/resource"
	"github.com/invopop/jsonschema"
)

// Reserved tool parameters
const (
	ParamInput      = "input"
	ParamFilter     = "filter"
	ParamSort       = "sort"
	ParamLimit      = "limit"
	ParamOffset     = "offset"
	ParamResultType = "result_type"
)

// DefaultActionParameters are the Query parameters exposed by default.
var DefaultActionParameters = []string{ParamFilter, ParamSort, ParamLimit, ParamOffset, ParamResultType}

// DefaultPageSize is the Query limit when the operation has no default page size.
const DefaultPageSize = 25

// Sort directions
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

type options struct {
	identity []string
	disabled bool
}

// Option configures ForOperation
type Option func(*options)

// WithIdentityKeys sets identity keys of Update and Delete,
// the primary key is used by default.
func WithIdentityKeys(keys ...string) Option {
	return func(o *options) {
		o.identity = keys
	}
}

// WithoutIdentity disables identity keys of Update and Delete.
func WithoutIdentity() Option {
	return func(o *options) {
		o.disabled = true
	}
}

// ForOperation returns the parameter schema of a tool calling the operation.
// The restriction lists Query action parameters, nil for DefaultActionParameters.
func ForOperation(res *resource.Resource, op *resource.Operation, restriction []string, opts ...Option) (*jsonschema.Schema, error) {
	if res == nil || op == nil {
		return nil, errors.New("resource and operation are required")
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	root := object()
	var err error
	switch op.Kind {
	case resource.KindQuery:
		err = querySchema(root, res, op, restriction)
	case resource.KindCreate:
		err = createSchema(root, res, op, true)
	case resource.KindUpdate:
		if err = identitySchema(root, res, o); err == nil {
			err = createSchema(root, res, op, false)
		}
	case resource.KindDelete:
		err = identitySchema(root, res, o)
	case resource.KindCustom:
		addInput(root, argumentsSchema(op), false)
	default:
		return nil, errors.WithMessagef(resource.ErrUnsupportedKind, "%s.%s", res.Name, op.Name)
	}
	if err != nil {
		return nil, err
	}
	return root, nil
}

func object() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:                 "object",
		Properties:           jsonschema.NewProperties(),
		AdditionalProperties: jsonschema.FalseSchema,
	}
}

func querySchema(root *jsonschema.Schema, res *resource.Resource, op *resource.Operation, restriction []string) error {
	if restriction == nil {
		restriction = DefaultActionParameters
	}
	allowed := func(name string) bool {
		return slices.Contains(restriction, name)
	}

	addInput(root, argumentsSchema(op), false)

	if allowed(ParamFilter) {
		if s := filterSchema(res); s != nil {
			root.Properties.Set(ParamFilter, s)
		}
	}
	if allowed(ParamSort) {
		if s := sortSchema(res); s != nil {
			root.Properties.Set(ParamSort, s)
		}
	}
	if allowed(ParamLimit) {
		limit := &jsonschema.Schema{
			Type:        "integer",
			Description: "Maximum number of records to return",
			Minimum:     json.Number("1"),
			Default:     pageSize(op),
		}
		if op.MaxPageSize > 0 {
			limit.Maximum = json.Number(strconv.Itoa(op.MaxPageSize))
		}
		root.Properties.Set(ParamLimit, limit)
	}
	if allowed(ParamOffset) {
		root.Properties.Set(ParamOffset, &jsonschema.Schema{
			Type:        "integer",
			Description: "Number of records to skip",
			Minimum:     json.Number("0"),
			Default:     0,
		})
	}
	if allowed(ParamResultType) {
		root.Properties.Set(ParamResultType, resultTypeSchema(res))
	}
	return nil
}

func pageSize(op *resource.Operation) int {
	if op.DefaultPageSize > 0 {
		return op.DefaultPageSize
	}
	return DefaultPageSize
}

func filterSchema(res *resource.Resource) *jsonschema.Schema {
	s := object()
	s.Description = "Filter records by field values, all conditions must match"
	for _, f := range res.Fields {
		if !f.Public || !f.Filterable {
			continue
		}
		ops := object()
		for _, op := range f.Operators() {
			ops.Properties.Set(string(op), operatorSchema(f, op))
		}
		s.Properties.Set(f.Name, ops)
	}
	if s.Properties.Len() == 0 {
		return nil
	}
	return s
}

func operatorSchema(f *resource.Field, op resource.Operator) *jsonschema.Schema {
	switch op {
	case resource.OpIn:
		items := valueSchema(f.Type, f)
		items.Description = ""
		items.Default = nil
		return &jsonschema.Schema{Type: "array", Items: items}
	case resource.OpIsNil:
		return &jsonschema.Schema{Type: "boolean"}
	case resource.OpContains:
		if f.Type == resource.TypeArray {
			return valueSchema(itemsType(f), nil)
		}
	}
	s := valueSchema(f.Type, f)
	s.Description = ""
	s.Default = nil
	return s
}

func sortSchema(res *resource.Resource) *jsonschema.Schema {
	var names []any
	for _, f := range res.Fields {
		if f.Public && f.Sortable {
			names = append(names, f.Name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	item := object()
	item.Properties.Set("field", &jsonschema.Schema{Type: "string", Enum: names})
	item.Properties.Set("direction", &jsonschema.Schema{Type: "string", Enum: []any{SortAsc, SortDesc}, Default: SortAsc})
	item.Required = []string{"field"}
	return &jsonschema.Schema{
		Type:        "array",
		Description: "Sort order of the records",
		Items:       item,
	}
}

func resultTypeSchema(res *resource.Resource) *jsonschema.Schema {
	simple := &jsonschema.Schema{Type: "string", Enum: toAny(resource.ResultTypes)}

	var fields []any
	for _, f := range res.PublicFields() {
		fields = append(fields, f.Name)
	}
	if len(fields) == 0 {
		simple.Description = "Type of the result"
		simple.Default = resource.ResultRunQuery
		return simple
	}

	kinds := make([]any, 0, len(resource.AggregateKinds))
	for _, k := range resource.AggregateKinds {
		kinds = append(kinds, string(k))
	}
	agg := object()
	agg.Properties.Set("kind", &jsonschema.Schema{Type: "string", Enum: kinds})
	agg.Properties.Set("field", &jsonschema.Schema{Type: "string", Enum: fields})
	agg.Required = []string{"kind", "field"}

	wrapper := object()
	wrapper.Properties.Set("aggregate", agg)
	wrapper.Required = []string{"aggregate"}

	return &jsonschema.Schema{
		Description: "Type of the result: records, count, existence, or a scalar aggregate",
		OneOf:       []*jsonschema.Schema{simple, wrapper},
		Default:     resource.ResultRunQuery,
	}
}

// createSchema adds the input of Create, and of Update when required is false.
func createSchema(root *jsonschema.Schema, res *resource.Resource, op *resource.Operation, required bool) error {
	input := object()
	for _, name := range op.Accept {
		f := res.Field(name)
		if f == nil {
			return errors.Newf("operation %s.%s accepts unknown field %s", res.Name, op.Name, name)
		}
		input.Properties.Set(f.Name, valueSchema(f.Type, f))
		if required && f.Required() && !slices.Contains(res.PrimaryKey, f.Name) {
			input.Required = append(input.Required, f.Name)
		}
	}
	for _, a := range op.Arguments {
		if !a.Public {
			continue
		}
		input.Properties.Set(a.Name, valueSchema(a.Type, a))
		if a.Required() {
			input.Required = append(input.Required, a.Name)
		}
	}
	addInput(root, input, true)
	return nil
}

func argumentsSchema(op *resource.Operation) *jsonschema.Schema {
	input := object()
	for _, a := range op.Arguments {
		if !a.Public {
			continue
		}
		input.Properties.Set(a.Name, valueSchema(a.Type, a))
		if a.Required() {
			input.Required = append(input.Required, a.Name)
		}
	}
	return input
}

// addInput sets the input property when it has properties.
// input is required when it has properties and forced, or when it has required properties.
func addInput(root, input *jsonschema.Schema, forced bool) {
	if input.Properties.Len() == 0 {
		return
	}
	root.Properties.Set(ParamInput, input)
	if forced || len(input.Required) > 0 {
		root.Required = append(root.Required, ParamInput)
	}
}

func identitySchema(root *jsonschema.Schema, res *resource.Resource, o *options) error {
	if o.disabled {
		return nil
	}
	keys := o.identity
	if len(keys) == 0 {
		var err error
		if keys, err = res.IdentityKeys(""); err != nil {
			return err
		}
	}
	for _, k := range keys {
		f := res.Field(k)
		if f == nil {
			return errors.Newf("identity key %s not found on resource %s", k, res.Name)
		}
		s := valueSchema(f.Type, nil)
		s.Description = f.Description
		root.Properties.Set(k, s)
		root.Required = append(root.Required, k)
	}
	return nil
}

// valueSchema returns the schema of a value of the type,
// described by the field when not nil.
func valueSchema(t resource.FieldType, f *resource.Field) *jsonschema.Schema {
	s := &jsonschema.Schema{}
	switch t {
	case resource.TypeUUID:
		s.Type = "string"
		s.Format = "uuid"
	case resource.TypeDatetime:
		s.Type = "string"
		s.Format = "date-time"
	case resource.TypeInteger, resource.TypeNumber, resource.TypeBoolean, resource.TypeObject:
		s.Type = string(t)
	case resource.TypeArray:
		s.Type = "array"
		s.Items = valueSchema(resource.TypeString, nil)
		if f != nil {
			s.Items = valueSchema(itemsType(f), nil)
		}
	default:
		s.Type = "string"
	}
	if f != nil {
		s.Description = f.Description
		s.Enum = f.Enum
		s.Default = f.Default
	}
	return s
}

func itemsType(f *resource.Field) resource.FieldType {
	if f.Items == "" || f.Items == resource.TypeArray {
		return resource.TypeString
	}
	return f.Items
}

func toAny(list []string) []any {
	res := make([]any, 0, len(list))
	for _, s := range list {
		res = append(res, s)
	}
	return res
}
