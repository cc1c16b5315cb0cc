package executor

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/actionai/resource"
	"github.com/effective-security/actionai/toolschema"
	"github.com/effective-security/actionai/tools"
	"github.com/google/uuid"
)

func runQuery(ctx context.Context, p resource.Provider, def *tools.Definition, args, input map[string]any, scope resource.Scope, load []string) (any, string, error) {
	res := def.Resource

	q, err := BuildQuery(def, args)
	if err != nil {
		return nil, "", err
	}
	q.Scope = scope
	q.Input = input

	rt, agg, err := decodeResultType(res, args[toolschema.ParamResultType])
	if err != nil {
		return nil, "", err
	}

	switch rt {
	case resource.ResultCount:
		q.Limit, q.Offset = 0, 0
		n, err := p.Count(ctx, q)
		if err != nil {
			return nil, "", err
		}
		return serialize(ctx, p, res, n, "", nil)
	case resource.ResultExists:
		q.Limit, q.Offset = 0, 0
		ok, err := p.Exists(ctx, q)
		if err != nil {
			return nil, "", err
		}
		return serialize(ctx, p, res, ok, "", nil)
	case "aggregate":
		q.Limit, q.Offset = 0, 0
		v, err := p.Aggregate(ctx, q, *agg)
		if err != nil {
			return nil, "", err
		}
		return serialize(ctx, p, res, v, "", nil)
	}

	list, err := p.Read(ctx, q)
	if err != nil {
		return nil, "", err
	}
	return serialize(ctx, p, res, list, "", load)
}

// BuildQuery decodes filter, sort, limit and offset of the Query tool arguments.
// Decoding errors are reported as a validation error, one entry per offending value.
func BuildQuery(def *tools.Definition, args map[string]any) (*resource.Query, error) {
	res, op := def.Resource, def.Operation
	q := &resource.Query{
		Resource:  res,
		Operation: op,
	}

	var invalid resource.ValidationError
	add := func(err error) {
		var ve *resource.ValidationError
		if errors.As(err, &ve) {
			invalid.Fields = append(invalid.Fields, ve.Fields...)
		}
	}

	for _, name := range toolschema.DefaultActionParameters {
		if v, ok := args[name]; ok && v != nil && !def.HasParameter(name) {
			add(resource.ParamError(name, "is not a parameter of %s", def.Name))
		}
	}

	if v, ok := args[toolschema.ParamFilter]; ok && v != nil {
		filter, err := decodeFilter(res, v)
		add(err)
		q.Filter = filter
	}
	if v, ok := args[toolschema.ParamSort]; ok && v != nil {
		order, err := decodeSort(res, v)
		add(err)
		q.Sort = order
	}

	q.Limit = pageSize(op)
	if v, ok := args[toolschema.ParamLimit]; ok && v != nil {
		n, isInt := toInt(v)
		if !isInt || n < 1 {
			add(resource.ParamError(toolschema.ParamLimit, "must be a positive integer"))
		} else {
			q.Limit = n
		}
	}
	if op.MaxPageSize > 0 && q.Limit > op.MaxPageSize {
		q.Limit = op.MaxPageSize
	}
	if v, ok := args[toolschema.ParamOffset]; ok && v != nil {
		n, isInt := toInt(v)
		if !isInt || n < 0 {
			add(resource.ParamError(toolschema.ParamOffset, "must be a non-negative integer"))
		} else {
			q.Offset = n
		}
	}

	if err := invalid.Err(); err != nil {
		return nil, err
	}
	return q, nil
}

func pageSize(op *resource.Operation) int {
	if op.DefaultPageSize > 0 {
		return op.DefaultPageSize
	}
	return toolschema.DefaultPageSize
}

func decodeFilter(res *resource.Resource, v any) ([]resource.Condition, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, resource.ParamError(toolschema.ParamFilter, "must be an object")
	}

	var (
		conds   []resource.Condition
		invalid resource.ValidationError
	)
	for _, name := range sortedKeys(m) {
		f := res.PublicField(name)
		if f == nil || !f.Filterable {
			invalid.Add(&resource.FieldError{Field: name, Pointer: "/filter/" + name, Message: "is not a filterable field"})
			continue
		}

		ops, isMap := m[name].(map[string]any)
		if !isMap {
			// shorthand of eq
			val, err := decodeValue(f, f.Type, m[name])
			if err != nil {
				invalid.Add(&resource.FieldError{Field: name, Pointer: "/filter/" + name, Message: err.Error()})
				continue
			}
			conds = append(conds, resource.Condition{Field: name, Op: resource.OpEq, Value: val})
			continue
		}

		for _, key := range sortedKeys(ops) {
			op := resource.Operator(key)
			pointer := "/filter/" + name + "/" + key
			if !f.SupportsOperator(op) {
				invalid.Add(&resource.FieldError{Field: name, Pointer: pointer, Message: fmt.Sprintf("unsupported operator %s", key)})
				continue
			}
			val, err := decodeOperand(f, op, ops[key])
			if err != nil {
				invalid.Add(&resource.FieldError{Field: name, Pointer: pointer, Message: err.Error()})
				continue
			}
			conds = append(conds, resource.Condition{Field: name, Op: op, Value: val})
		}
	}
	if err := invalid.Err(); err != nil {
		return nil, err
	}
	return conds, nil
}

func decodeOperand(f *resource.Field, op resource.Operator, v any) (any, error) {
	switch op {
	case resource.OpIsNil:
		b, ok := v.(bool)
		if !ok {
			return nil, errors.New("must be a boolean")
		}
		return b, nil
	case resource.OpIn:
		list, ok := v.([]any)
		if !ok {
			return nil, errors.New("must be a list")
		}
		res := make([]any, 0, len(list))
		for _, item := range list {
			val, err := decodeValue(f, f.Type, item)
			if err != nil {
				return nil, err
			}
			res = append(res, val)
		}
		return res, nil
	case resource.OpContains:
		if f.Type == resource.TypeArray {
			return decodeValue(f, itemsType(f), v)
		}
		if _, ok := v.(string); !ok {
			return nil, errors.New("must be a string")
		}
		return v, nil
	}
	return decodeValue(f, f.Type, v)
}

// decodeValue validates a JSON value against the field type,
// and returns its normalized form.
func decodeValue(f *resource.Field, t resource.FieldType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if len(f.Enum) > 0 && t == f.Type && !slices.ContainsFunc(f.Enum, func(e any) bool { return fmt.Sprint(e) == fmt.Sprint(v) }) {
		return nil, errors.Newf("must be one of %v", f.Enum)
	}
	switch t {
	case resource.TypeString:
		if _, ok := v.(string); !ok {
			return nil, errors.New("must be a string")
		}
	case resource.TypeUUID:
		s, ok := v.(string)
		if !ok {
			return nil, errors.New("must be a valid UUID")
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, errors.New("must be a valid UUID")
		}
		return id.String(), nil
	case resource.TypeInteger:
		n, ok := toInt(v)
		if !ok {
			return nil, errors.New("must be an integer")
		}
		return int64(n), nil
	case resource.TypeNumber:
		n, ok := v.(float64)
		if !ok {
			return nil, errors.New("must be a number")
		}
		return n, nil
	case resource.TypeBoolean:
		if _, ok := v.(bool); !ok {
			return nil, errors.New("must be a boolean")
		}
	case resource.TypeDatetime:
		s, ok := v.(string)
		if !ok {
			return nil, errors.New("must be a RFC3339 date-time")
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, errors.New("must be a RFC3339 date-time")
		}
		return resource.FormatDatetime(ts), nil
	}
	return v, nil
}

func decodeSort(res *resource.Resource, v any) ([]resource.SortField, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, resource.ParamError(toolschema.ParamSort, "must be a list")
	}

	var (
		order   []resource.SortField
		invalid resource.ValidationError
	)
	for i, item := range list {
		pointer := fmt.Sprintf("/sort/%d", i)
		m, ok := item.(map[string]any)
		if !ok {
			invalid.Add(&resource.FieldError{Field: toolschema.ParamSort, Pointer: pointer, Message: "must be an object"})
			continue
		}
		name, _ := m["field"].(string)
		f := res.PublicField(name)
		if f == nil || !f.Sortable {
			invalid.Add(&resource.FieldError{Field: name, Pointer: pointer + "/field", Message: "is not a sortable field"})
			continue
		}
		sf := resource.SortField{Field: name}
		switch dir := m["direction"]; dir {
		case nil, toolschema.SortAsc:
		case toolschema.SortDesc:
			sf.Desc = true
		default:
			invalid.Add(&resource.FieldError{Field: name, Pointer: pointer + "/direction", Message: "must be asc or desc"})
			continue
		}
		order = append(order, sf)
	}
	if err := invalid.Err(); err != nil {
		return nil, err
	}
	return order, nil
}

// decodeResultType returns run_query, count, exists, or aggregate with the decoded aggregate.
// The aggregate is accepted as {"aggregate":{"kind":..,"field":..}} or {"kind":..,"field":..}.
func decodeResultType(res *resource.Resource, v any) (string, *resource.Aggregate, error) {
	switch typ := v.(type) {
	case nil:
		return resource.ResultRunQuery, nil, nil
	case string:
		if !slices.Contains(resource.ResultTypes, typ) {
			return "", nil, resource.ParamError(toolschema.ParamResultType, "must be one of %v or an aggregate", resource.ResultTypes)
		}
		return typ, nil, nil
	case map[string]any:
		pointer := "/" + toolschema.ParamResultType
		m := typ
		if nested, ok := typ["aggregate"].(map[string]any); ok {
			m = nested
			pointer += "/aggregate"
		}
		kind, _ := m["kind"].(string)
		field, _ := m["field"].(string)

		var invalid resource.ValidationError
		if !slices.Contains(resource.AggregateKinds, resource.AggregateKind(kind)) {
			invalid.Add(&resource.FieldError{Field: toolschema.ParamResultType, Pointer: pointer + "/kind", Message: fmt.Sprintf("unsupported aggregate %q", kind)})
		}
		if res.PublicField(field) == nil {
			invalid.Add(&resource.FieldError{Field: toolschema.ParamResultType, Pointer: pointer + "/field", Message: fmt.Sprintf("unknown field %q", field)})
		}
		if err := invalid.Err(); err != nil {
			return "", nil, err
		}
		return "aggregate", &resource.Aggregate{Kind: resource.AggregateKind(kind), Field: field}, nil
	}
	return "", nil, resource.ParamError(toolschema.ParamResultType, "must be a string or an object")
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

func itemsType(f *resource.Field) resource.FieldType {
	if f.Items == "" || f.Items == resource.TypeArray {
		return resource.TypeString
	}
	return f.Items
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}
