package resource

import (
	"context"
)

//go:generate mockgen -source=provider.go -destination=../mocks/mockresource/provider_mock.gen.go -package mockresource

// Provider is the framework which stores data, evaluates authorization
// and executes operations on resources.
type Provider interface {
	// Namespaces returns the root namespaces.
	Namespaces(ctx context.Context) ([]string, error)
	// Resources returns resources of the namespace in declaration order.
	Resources(ctx context.Context, namespace string) ([]*Resource, error)
	// Resource returns the resource by name, or ErrResourceNotFound.
	Resource(ctx context.Context, name string) (*Resource, error)

	// Can returns true if the actor is allowed to perform the operation.
	// It must be safe to call with an empty input.
	Can(ctx context.Context, actor any, tenant string, res *Resource, op *Operation, input map[string]any) (bool, error)

	// Read returns the records matching the query.
	Read(ctx context.Context, q *Query) ([]any, error)
	// Count returns the number of records matching the query filter.
	Count(ctx context.Context, q *Query) (int64, error)
	// Exists returns true if any record matches the query filter.
	Exists(ctx context.Context, q *Query) (bool, error)
	// Aggregate returns a scalar aggregate over the records matching the query filter.
	Aggregate(ctx context.Context, q *Query, agg Aggregate) (any, error)

	// Create creates a record from the request input.
	Create(ctx context.Context, req *ChangeRequest) (any, error)
	// Update updates req.Record with the request input.
	Update(ctx context.Context, req *ChangeRequest) (any, error)
	// Destroy destroys req.Record, and returns the destroyed record.
	Destroy(ctx context.Context, req *ChangeRequest) (any, error)
	// Run executes a Custom operation.
	Run(ctx context.Context, req *ActionRequest) (any, error)

	// Serialize returns the textual form of a result value.
	// The returns parameter is the declared return type of a Custom operation,
	// load lists extra fields to include, private fields included.
	Serialize(ctx context.Context, res *Resource, value any, returns string, load []string) (string, error)
}
