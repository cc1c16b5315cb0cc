package registry

import (
	"context"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/actionai/resource"
	"github.com/effective-security/actionai/tools"
	"github.com/effective-security/xlog"
)

// DiagnosticTools is the reserved tool name selecting every built-in diagnostic tool.
const DiagnosticTools = "diagnostic_tools"

// ResourceSelection selects a resource, and optionally a subset of its operations.
type ResourceSelection struct {
	Name       string   `json:"name" yaml:"name"`
	Operations []string `json:"operations,omitempty" yaml:"operations,omitempty"`
}

// Selection describes which tools are discovered.
// Sources in priority order: Resources, Namespaces, then all namespaces of the provider.
type Selection struct {
	Resources  []ResourceSelection
	Namespaces []string
	// AllOperations generates a tool for every operation,
	// in addition to the tools declared on resources.
	AllOperations bool
	// Names keeps only the named tools, DiagnosticTools selects the built-in ones.
	Names []string
	// Exclude removes the named tools.
	Exclude []string
	// Filter is an arbitrary predicate.
	Filter func(*tools.Definition) bool
	// Diagnostics registers the built-in diagnostic tools.
	Diagnostics bool
}

type candidate struct {
	def    *tools.Definition
	subset []string
}

// Discover returns the tool definitions matching the selection,
// which the actor of the options is allowed to call.
func Discover(ctx context.Context, p resource.Provider, sel Selection, opts ...Option) ([]*tools.Definition, error) {
	o := newOptions(opts)

	candidates, err := source(ctx, p, sel)
	if err != nil {
		return nil, err
	}

	seen := map[uint64]bool{}
	var list []*tools.Definition
	for _, c := range candidates {
		d := c.def
		if len(c.subset) > 0 && !slices.Contains(c.subset, d.Operation.Name) {
			continue
		}
		if len(sel.Names) > 0 && !slices.Contains(sel.Names, d.Name) {
			continue
		}
		if slices.Contains(sel.Exclude, d.Name) {
			continue
		}
		if sel.Filter != nil && !sel.Filter(d) {
			continue
		}
		if !permitted(ctx, p, o, d) {
			continue
		}

		key := identity(d)
		if seen[key] {
			continue
		}
		seen[key] = true
		list = append(list, d)
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "discovered",
		"candidates", len(candidates),
		"tools", len(list),
	)
	return list, nil
}

func source(ctx context.Context, p resource.Provider, sel Selection) ([]candidate, error) {
	var candidates []candidate

	if len(sel.Resources) > 0 {
		for _, rs := range sel.Resources {
			res, err := p.Resource(ctx, rs.Name)
			if err != nil {
				return nil, err
			}
			defs, err := definitions(res, sel.AllOperations)
			if err != nil {
				return nil, err
			}
			for _, d := range defs {
				candidates = append(candidates, candidate{def: d, subset: rs.Operations})
			}
		}
		return candidates, nil
	}

	namespaces := sel.Namespaces
	if len(namespaces) == 0 {
		var err error
		if namespaces, err = p.Namespaces(ctx); err != nil {
			return nil, errors.WithMessage(err, "failed to list namespaces")
		}
	}
	for _, ns := range namespaces {
		list, err := p.Resources(ctx, ns)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to list resources of %s", ns)
		}
		for _, res := range list {
			defs, err := definitions(res, sel.AllOperations)
			if err != nil {
				return nil, err
			}
			for _, d := range defs {
				candidates = append(candidates, candidate{def: d})
			}
		}
	}
	return candidates, nil
}

// definitions returns the declared tools of the resource,
// followed by generated ones when all is set.
func definitions(res *resource.Resource, all bool) ([]*tools.Definition, error) {
	var list []*tools.Definition
	for _, decl := range res.Tools {
		d, err := tools.FromDeclaration(res, decl)
		if err != nil {
			return nil, err
		}
		list = append(list, d)
	}
	if all {
		for _, op := range res.Operations {
			list = append(list, tools.Generate(res, op))
		}
	}
	return list, nil
}

// permitted swallows authorization errors as not permitted.
func permitted(ctx context.Context, p resource.Provider, o *options, d *tools.Definition) bool {
	ok, err := p.Can(ctx, o.ec.Actor, o.ec.Tenant, d.Resource, d.Operation, map[string]any{})
	if err != nil {
		logger.ContextKV(ctx, xlog.DEBUG,
			"status", "authorization_failed",
			"tool", d.Name,
			"err", err.Error(),
		)
		return false
	}
	return ok
}

func identity(d *tools.Definition) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(d.Resource.FullName())
	_, _ = h.WriteString("\x00" + d.Operation.Name)
	_, _ = h.WriteString("\x00" + d.Name)
	return h.Sum64()
}
