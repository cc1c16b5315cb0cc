package resource

// Operator is a filter comparison operator.
type Operator string

// Filter operators
const (
	OpEq       Operator = "eq"
	OpNotEq    Operator = "not_eq"
	OpIn       Operator = "in"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpContains Operator = "contains"
	OpIsNil    Operator = "is_nil"
)

// AllOperators lists operators in schema order.
var AllOperators = []Operator{OpEq, OpNotEq, OpIn, OpGt, OpGte, OpLt, OpLte, OpContains, OpIsNil}

// AggregateKind is a kind of scalar aggregate.
type AggregateKind string

// Aggregate kinds
const (
	AggregateMin   AggregateKind = "min"
	AggregateMax   AggregateKind = "max"
	AggregateSum   AggregateKind = "sum"
	AggregateAvg   AggregateKind = "avg"
	AggregateCount AggregateKind = "count"
)

// AggregateKinds lists supported aggregate kinds.
var AggregateKinds = []AggregateKind{AggregateMin, AggregateMax, AggregateSum, AggregateAvg, AggregateCount}

// Result types of a Query tool
const (
	ResultRunQuery = "run_query"
	ResultCount    = "count"
	ResultExists   = "exists"
)

// ResultTypes lists the simple result types of a Query tool.
var ResultTypes = []string{ResultRunQuery, ResultCount, ResultExists}

// Condition is a single filter predicate.
type Condition struct {
	Field string   `json:"field"`
	Op    Operator `json:"op"`
	Value any      `json:"value,omitempty"`
}

// SortField is a sort instruction.
type SortField struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// Aggregate describes a scalar aggregate over a public field.
type Aggregate struct {
	Kind  AggregateKind `json:"kind"`
	Field string        `json:"field"`
}

// Scope carries the caller identity of a provider call.
type Scope struct {
	Actor   any
	Tenant  string
	Context map[string]any
}

// Query is a filtered, sorted and paginated read.
// Limit of 0 means no limit.
type Query struct {
	Scope
	Resource  *Resource
	Operation *Operation
	Input     map[string]any
	Filter    []Condition
	Sort      []SortField
	Limit     int
	Offset    int
}

// KeyValue is a single key of an identity filter.
type KeyValue struct {
	Key   string
	Value any
}

// IdentityFilter is an ordered equality filter over identity keys.
type IdentityFilter []KeyValue

// IsEmpty returns true when no identity keys are set.
func (f IdentityFilter) IsEmpty() bool {
	return len(f) == 0
}

// Conditions returns the filter as equality conditions.
func (f IdentityFilter) Conditions() []Condition {
	conds := make([]Condition, 0, len(f))
	for _, kv := range f {
		conds = append(conds, Condition{Field: kv.Key, Op: OpEq, Value: kv.Value})
	}
	return conds
}

// ChangeRequest is a Create, Update or Delete mutation.
// Record is the target record of Update and Delete, as read by the provider.
// Filter is set instead of Identity when the tool has no identity.
type ChangeRequest struct {
	Scope
	Resource  *Resource
	Operation *Operation
	Input     map[string]any
	Identity  IdentityFilter
	Filter    []Condition
	Record    any
}

// Selected returns true when the target record is selected by
// the identity or the filter.
func (r *ChangeRequest) Selected() bool {
	return !r.Identity.IsEmpty() || len(r.Filter) > 0
}

// ActionRequest is a Custom operation call.
type ActionRequest struct {
	Scope
	Resource  *Resource
	Operation *Operation
	Input     map[string]any
}
