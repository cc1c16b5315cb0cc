// Package memory provides an in-memory resource.Provider,
// used in tests and examples.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/actionai/resource"
	"github.com/effective-security/xlog"
	"github.com/go-playground/validator/v10"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/actionai/resource", "memory")

// Record is a stored record.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	return maps.Clone(r)
}

// Policy decides if the actor can perform the operation.
type Policy func(ctx context.Context, actor any, tenant string, res *resource.Resource, op *resource.Operation, input map[string]any) (bool, error)

// ActionFunc executes a Custom operation.
type ActionFunc func(ctx context.Context, req *resource.ActionRequest) (any, error)

// Option configures the Provider.
type Option func(*Provider)

// WithPolicy sets the authorization policy, all operations are allowed by default.
func WithPolicy(policy Policy) Option {
	return func(p *Provider) {
		p.policy = policy
	}
}

// Provider is an in-memory resource.Provider
type Provider struct {
	lock       sync.RWMutex
	namespaces []string
	resources  []*resource.Resource
	records    map[string][]Record
	actions    map[string]ActionFunc
	policy     Policy
	validate   *validator.Validate
	seq        int64
}

var _ resource.Provider = (*Provider)(nil)

// New returns an empty Provider
func New(opts ...Option) *Provider {
	p := &Provider{
		records:  make(map[string][]Record),
		actions:  make(map[string]ActionFunc),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register adds the resource with initial records.
func (p *Provider) Register(res *resource.Resource, records ...Record) error {
	if err := res.Validate(); err != nil {
		return err
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	if p.find(res.Name) != nil {
		return errors.Newf("resource already registered: %s", res.Name)
	}
	if !slices.Contains(p.namespaces, res.Namespace) {
		p.namespaces = append(p.namespaces, res.Namespace)
	}
	p.resources = append(p.resources, res)
	for _, r := range records {
		p.records[res.Name] = append(p.records[res.Name], r.Clone())
	}

	logger.KV(xlog.DEBUG,
		"status", "registered",
		"resource", res.FullName(),
		"records", len(records),
	)
	return nil
}

// MustRegister is Register which panics on error.
func (p *Provider) MustRegister(res *resource.Resource, records ...Record) *Provider {
	if err := p.Register(res, records...); err != nil {
		panic(err)
	}
	return p
}

// Handle registers the handler of a Custom operation.
func (p *Provider) Handle(resourceName, operation string, fn ActionFunc) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.actions[resourceName+"."+operation] = fn
}

// Records returns a copy of stored records.
func (p *Provider) Records(resourceName string) []Record {
	p.lock.RLock()
	defer p.lock.RUnlock()
	list := make([]Record, 0, len(p.records[resourceName]))
	for _, r := range p.records[resourceName] {
		list = append(list, r.Clone())
	}
	return list
}

func (p *Provider) find(name string) *resource.Resource {
	for _, r := range p.resources {
		if r.Name == name || r.FullName() == name {
			return r
		}
	}
	return nil
}

// Namespaces returns the namespaces in registration order.
func (p *Provider) Namespaces(_ context.Context) ([]string, error) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return slices.Clone(p.namespaces), nil
}

// Resources returns resources of the namespace in registration order.
func (p *Provider) Resources(_ context.Context, namespace string) ([]*resource.Resource, error) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	var list []*resource.Resource
	for _, r := range p.resources {
		if r.Namespace == namespace {
			list = append(list, r)
		}
	}
	return list, nil
}

// Resource returns the resource by name or namespace qualified name.
func (p *Provider) Resource(_ context.Context, name string) (*resource.Resource, error) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	if r := p.find(name); r != nil {
		return r, nil
	}
	return nil, errors.WithMessagef(resource.ErrResourceNotFound, "%q", name)
}

// Can evaluates the policy.
func (p *Provider) Can(ctx context.Context, actor any, tenant string, res *resource.Resource, op *resource.Operation, input map[string]any) (bool, error) {
	if p.policy == nil {
		return true, nil
	}
	return p.policy(ctx, actor, tenant, res, op, input)
}

// Read returns matching records.
func (p *Provider) Read(_ context.Context, q *resource.Query) ([]any, error) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	list, err := p.match(q.Resource, q.Scope, q.Filter)
	if err != nil {
		return nil, err
	}
	if err = sortRecords(q.Resource, list, q.Sort); err != nil {
		return nil, err
	}
	if q.Offset > 0 {
		if q.Offset >= len(list) {
			list = nil
		} else {
			list = list[q.Offset:]
		}
	}
	if q.Limit > 0 && len(list) > q.Limit {
		list = list[:q.Limit]
	}

	res := make([]any, 0, len(list))
	for _, r := range list {
		res = append(res, r.Clone())
	}
	return res, nil
}

// Count returns the number of matching records.
func (p *Provider) Count(_ context.Context, q *resource.Query) (int64, error) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	list, err := p.match(q.Resource, q.Scope, q.Filter)
	if err != nil {
		return 0, err
	}
	return int64(len(list)), nil
}

// Exists returns true if any record matches.
func (p *Provider) Exists(ctx context.Context, q *resource.Query) (bool, error) {
	n, err := p.Count(ctx, q)
	return n > 0, err
}

// Aggregate computes a scalar over matching records.
func (p *Provider) Aggregate(_ context.Context, q *resource.Query, agg resource.Aggregate) (any, error) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	if q.Resource.Field(agg.Field) == nil {
		return nil, errors.Newf("field not found: %s", agg.Field)
	}
	list, err := p.match(q.Resource, q.Scope, q.Filter)
	if err != nil {
		return nil, err
	}
	return aggregate(list, agg)
}

// Create stores a new record.
func (p *Provider) Create(_ context.Context, req *resource.ChangeRequest) (any, error) {
	rec, err := p.buildRecord(req.Resource, req.Operation, req.Input, nil)
	if err != nil {
		return nil, err
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	res := req.Resource
	if res.TenantField != "" && req.Tenant != "" {
		rec[res.TenantField] = req.Tenant
	}
	for _, k := range res.PrimaryKey {
		if _, ok := rec[k]; ok {
			continue
		}
		f := res.Field(k)
		if f.Type == resource.TypeInteger {
			p.seq++
			rec[k] = p.seq
		} else {
			rec[k] = newID()
		}
	}
	if p.indexOf(res, rec) >= 0 {
		return nil, resource.InputError(res.PrimaryKey[0], "already exists")
	}

	p.records[res.Name] = append(p.records[res.Name], rec)
	return rec.Clone(), nil
}

// Update applies the input to req.Record.
func (p *Provider) Update(_ context.Context, req *resource.ChangeRequest) (any, error) {
	if !req.Selected() {
		return nil, errors.WithStack(resource.ErrIdentityRequired)
	}
	target, ok := asRecord(req.Record)
	if !ok {
		return nil, errors.Newf("unexpected record type: %T", req.Record)
	}
	changes, err := p.buildRecord(req.Resource, req.Operation, req.Input, target)
	if err != nil {
		return nil, err
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	idx := p.indexOf(req.Resource, target)
	if idx < 0 {
		return nil, &resource.NotFoundError{Resource: req.Resource.Name, Identity: req.Identity}
	}
	rec := p.records[req.Resource.Name][idx]
	maps.Copy(rec, changes)
	return rec.Clone(), nil
}

// Destroy removes req.Record.
func (p *Provider) Destroy(_ context.Context, req *resource.ChangeRequest) (any, error) {
	if !req.Selected() {
		return nil, errors.WithStack(resource.ErrIdentityRequired)
	}
	target, ok := asRecord(req.Record)
	if !ok {
		return nil, errors.Newf("unexpected record type: %T", req.Record)
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	idx := p.indexOf(req.Resource, target)
	if idx < 0 {
		return nil, &resource.NotFoundError{Resource: req.Resource.Name, Identity: req.Identity}
	}
	list := p.records[req.Resource.Name]
	rec := list[idx]
	p.records[req.Resource.Name] = slices.Delete(list, idx, idx+1)
	return rec.Clone(), nil
}

// Run calls the registered handler of a Custom operation.
func (p *Provider) Run(ctx context.Context, req *resource.ActionRequest) (any, error) {
	p.lock.RLock()
	fn := p.actions[req.Resource.Name+"."+req.Operation.Name]
	p.lock.RUnlock()

	if fn == nil {
		return nil, errors.Newf("no handler registered for %s.%s", req.Resource.Name, req.Operation.Name)
	}
	return fn(ctx, req)
}

// indexOf returns the position of the stored record with the same primary key
func (p *Provider) indexOf(res *resource.Resource, rec Record) int {
	for i, r := range p.records[res.Name] {
		same := len(res.PrimaryKey) > 0
		for _, k := range res.PrimaryKey {
			if !equal(r[k], rec[k]) {
				same = false
				break
			}
		}
		if same {
			return i
		}
	}
	return -1
}

func (p *Provider) match(res *resource.Resource, scope resource.Scope, filter []resource.Condition) ([]Record, error) {
	if res.TenantField != "" && scope.Tenant != "" {
		filter = append(slices.Clone(filter), resource.Condition{Field: res.TenantField, Op: resource.OpEq, Value: scope.Tenant})
	}
	var list []Record
	for _, r := range p.records[res.Name] {
		ok, err := matches(res, r, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			list = append(list, r)
		}
	}
	return list, nil
}

func asRecord(v any) (Record, bool) {
	switch r := v.(type) {
	case Record:
		return r, true
	case map[string]any:
		return Record(r), true
	}
	return nil, false
}
