package memory

import (
	"cmp"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/actionai/resource"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

func newID() string {
	return uuid.NewString()
}

// buildRecord validates the input against the resource fields.
// existing is nil on create.
func (p *Provider) buildRecord(res *resource.Resource, op *resource.Operation, input map[string]any, existing Record) (Record, error) {
	creating := existing == nil
	accepted := op.Accept
	if len(accepted) == 0 {
		for _, f := range res.PublicFields() {
			if !slices.Contains(res.PrimaryKey, f.Name) {
				accepted = append(accepted, f.Name)
			}
		}
	}

	ve := &resource.ValidationError{}
	rec := Record{}

	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !slices.Contains(accepted, k) {
			if op.Argument(k) != nil {
				continue
			}
			ve.Add(resource.InputError(k, "is not accepted").Fields[0])
			continue
		}
		f := res.Field(k)
		v, err := coerce(f, input[k])
		if err != nil {
			ve.Add(resource.InputError(k, "%s", err.Error()).Fields[0])
			continue
		}
		if v != nil && len(f.Enum) > 0 && !slices.ContainsFunc(f.Enum, func(e any) bool { return equal(e, v) }) {
			ve.Add(resource.InputError(k, "must be one of %v", f.Enum).Fields[0])
			continue
		}
		if v != nil && f.Constraints != "" {
			if err = p.validate.Var(v, f.Constraints); err != nil {
				ve.Add(resource.InputError(k, "%s", constraintMessage(err)).Fields[0])
				continue
			}
		}
		rec[k] = v
	}

	if creating {
		for _, name := range accepted {
			if _, ok := input[name]; ok {
				continue
			}
			f := res.Field(name)
			switch {
			case f.Default != nil:
				rec[name] = f.Default
			case slices.Contains(res.PrimaryKey, name):
				// generated
			case f.Required():
				ve.Add(resource.InputError(name, "is required").Fields[0])
			}
		}
	}

	if err := ve.Err(); err != nil {
		return nil, err
	}
	return rec, nil
}

func constraintMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return fmt.Sprintf("failed on the '%s=%s' constraint", fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("failed on the '%s' constraint", fe.Tag())
	}
	return err.Error()
}

func coerce(f *resource.Field, v any) (any, error) {
	if v == nil {
		if f.AllowNil {
			return nil, nil
		}
		return nil, errors.New("must not be null")
	}
	switch f.Type {
	case resource.TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case resource.TypeUUID:
		if s, ok := v.(string); ok {
			id, err := uuid.Parse(s)
			if err != nil {
				return nil, errors.New("must be a valid UUID")
			}
			return id.String(), nil
		}
	case resource.TypeDatetime:
		if s, ok := v.(string); ok {
			ts, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, errors.New("must be a RFC3339 date-time")
			}
			return resource.FormatDatetime(ts), nil
		}
		if t, ok := v.(time.Time); ok {
			return resource.FormatDatetime(t), nil
		}
	case resource.TypeInteger:
		if n, ok := toFloat(v); ok && n == float64(int64(n)) {
			return int64(n), nil
		}
	case resource.TypeNumber:
		if n, ok := toFloat(v); ok {
			return n, nil
		}
	case resource.TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case resource.TypeObject:
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
	case resource.TypeArray:
		switch a := v.(type) {
		case []any:
			return a, nil
		case []string:
			list := make([]any, 0, len(a))
			for _, s := range a {
				list = append(list, s)
			}
			return list, nil
		}
	}
	return nil, errors.Newf("must be %s", f.Type)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	if ta, tb, ok := datetimes(a, b); ok {
		return ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}

// datetimes returns both values as instants,
// when both are times or RFC3339 strings.
func datetimes(a, b any) (time.Time, time.Time, bool) {
	ta, ok := asTime(a)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	tb, ok := asTime(b)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return ta, tb, true
}

func asTime(v any) (time.Time, bool) {
	switch typ := v.(type) {
	case time.Time:
		return typ, true
	case string:
		// cheap check before parsing
		if len(typ) < len("2006-01-02T15:04:05Z") || typ[4] != '-' || typ[10] != 'T' {
			return time.Time{}, false
		}
		ts, err := time.Parse(time.RFC3339Nano, typ)
		return ts, err == nil
	}
	return time.Time{}, false
}

// compare orders nil first, then numbers, strings, booleans and times.
func compare(a, b any) (int, error) {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0, nil
		case a == nil:
			return -1, nil
		default:
			return 1, nil
		}
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return cmp.Compare(fa, fb), nil
		}
	}
	if ta, tb, ok := datetimes(a, b); ok {
		return ta.Compare(tb), nil
	}
	switch va := a.(type) {
	case string:
		if vb, ok := b.(string); ok {
			return strings.Compare(va, vb), nil
		}
	case bool:
		if vb, ok := b.(bool); ok {
			switch {
			case va == vb:
				return 0, nil
			case !va:
				return -1, nil
			default:
				return 1, nil
			}
		}
	}
	return 0, errors.Newf("values are not comparable: %T and %T", a, b)
}

func matches(res *resource.Resource, r Record, filter []resource.Condition) (bool, error) {
	for _, c := range filter {
		if res.Field(c.Field) == nil {
			return false, resource.FilterError(c.Field, "unknown field")
		}
		ok, err := evaluate(r[c.Field], c)
		if err != nil {
			return false, resource.FilterError(c.Field, "%s", err.Error())
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evaluate(v any, c resource.Condition) (bool, error) {
	switch c.Op {
	case resource.OpEq:
		return equal(v, c.Value), nil
	case resource.OpNotEq:
		return !equal(v, c.Value), nil
	case resource.OpIn:
		list, ok := toList(c.Value)
		if !ok {
			return false, errors.New("in expects a list")
		}
		return slices.ContainsFunc(list, func(x any) bool { return equal(v, x) }), nil
	case resource.OpGt, resource.OpGte, resource.OpLt, resource.OpLte:
		if v == nil {
			return false, nil
		}
		n, err := compare(v, c.Value)
		if err != nil {
			return false, err
		}
		switch c.Op {
		case resource.OpGt:
			return n > 0, nil
		case resource.OpGte:
			return n >= 0, nil
		case resource.OpLt:
			return n < 0, nil
		default:
			return n <= 0, nil
		}
	case resource.OpContains:
		switch typ := v.(type) {
		case string:
			s, ok := c.Value.(string)
			return ok && strings.Contains(typ, s), nil
		case []any:
			return slices.ContainsFunc(typ, func(x any) bool { return equal(x, c.Value) }), nil
		}
		return false, nil
	case resource.OpIsNil:
		want := true
		if b, ok := c.Value.(bool); ok {
			want = b
		}
		return (v == nil) == want, nil
	}
	return false, errors.Newf("unsupported operator %s", c.Op)
}

func toList(v any) ([]any, bool) {
	switch typ := v.(type) {
	case []any:
		return typ, true
	case []string:
		list := make([]any, 0, len(typ))
		for _, s := range typ {
			list = append(list, s)
		}
		return list, true
	}
	return nil, false
}

func sortRecords(res *resource.Resource, list []Record, order []resource.SortField) error {
	for _, s := range order {
		if res.Field(s.Field) == nil {
			return resource.ParamError("sort", "unknown field %s", s.Field)
		}
	}
	if len(order) == 0 {
		return nil
	}
	var sortErr error
	slices.SortStableFunc(list, func(a, b Record) int {
		for _, s := range order {
			n, err := compare(a[s.Field], b[s.Field])
			if err != nil {
				sortErr = err
				return 0
			}
			if s.Desc {
				n = -n
			}
			if n != 0 {
				return n
			}
		}
		return 0
	})
	return sortErr
}

func aggregate(list []Record, agg resource.Aggregate) (any, error) {
	switch agg.Kind {
	case resource.AggregateCount:
		var n int64
		for _, r := range list {
			if r[agg.Field] != nil {
				n++
			}
		}
		return n, nil
	case resource.AggregateSum, resource.AggregateAvg:
		var sum float64
		var n int
		for _, r := range list {
			v := r[agg.Field]
			if v == nil {
				continue
			}
			f, ok := toFloat(v)
			if !ok {
				return nil, errors.Newf("%s requires a numeric field: %s", agg.Kind, agg.Field)
			}
			sum += f
			n++
		}
		if agg.Kind == resource.AggregateSum {
			return sum, nil
		}
		if n == 0 {
			return nil, nil
		}
		return sum / float64(n), nil
	case resource.AggregateMin, resource.AggregateMax:
		var best any
		for _, r := range list {
			v := r[agg.Field]
			if v == nil {
				continue
			}
			if best == nil {
				best = v
				continue
			}
			n, err := compare(v, best)
			if err != nil {
				return nil, err
			}
			if (agg.Kind == resource.AggregateMin && n < 0) || (agg.Kind == resource.AggregateMax && n > 0) {
				best = v
			}
		}
		return best, nil
	}
	return nil, errors.Newf("unsupported aggregate: %s", agg.Kind)
}
