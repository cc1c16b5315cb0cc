package registry_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/actionai/executor"
	"github.com/effective-security/actionai/mocks/mockresource"
	"github.com/effective-security/actionai/registry"
	"github.com/effective-security/actionai/resource"
	"github.com/effective-security/actionai/resource/memory"
	"github.com/effective-security/actionai/tools"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var firstID = uuid.MustParse("7a1c0000-2222-4b3d-8e00-000000000001").String()

func postResource() *resource.Resource {
	return &resource.Resource{
		Name:        "post",
		Namespace:   "blog",
		Description: "Blog post",
		Fields: []*resource.Field{
			{Name: "id", Type: resource.TypeUUID, Public: true, Filterable: true},
			{Name: "title", Type: resource.TypeString, Public: true, Filterable: true, Sortable: true},
			{Name: "secret", Type: resource.TypeString, AllowNil: true},
		},
		PrimaryKey: []string{"id"},
		Operations: []*resource.Operation{
			{Name: "read", Kind: resource.KindQuery},
			{Name: "update", Kind: resource.KindUpdate, Accept: []string{"title"}},
			{Name: "destroy", Kind: resource.KindDelete},
		},
	}
}

func commentResource() *resource.Resource {
	return &resource.Resource{
		Name:      "comment",
		Namespace: "social",
		Fields: []*resource.Field{
			{Name: "id", Type: resource.TypeUUID, Public: true},
			{Name: "text", Type: resource.TypeString, Public: true},
		},
		PrimaryKey: []string{"id"},
		Operations: []*resource.Operation{
			{Name: "read", Kind: resource.KindQuery},
		},
		Tools: []*resource.ToolDeclaration{
			{Name: "list_comments", Operation: "read", Description: "List comments."},
		},
	}
}

func provider(t *testing.T, opts ...memory.Option) *memory.Provider {
	t.Helper()
	p := memory.New(opts...)
	require.NoError(t, p.Register(postResource(),
		memory.Record{"id": firstID, "title": "First", "secret": "s1"},
		memory.Record{"id": uuid.NewString(), "title": "Second", "secret": "s2"},
	))
	require.NoError(t, p.Register(commentResource()))
	return p
}

func TestBuild_Sources(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := provider(t)

	// declared tools only
	r, err := registry.Build(ctx, p, registry.Selection{})
	require.NoError(t, err)
	assert.Equal(t, []string{"list_comments"}, r.Names())

	r, err = registry.Build(ctx, p, registry.Selection{AllOperations: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"read_post", "update_post", "destroy_post", "list_comments", "read_comment"}, r.Names())
	assert.Equal(t, 5, r.Len())
	assert.Len(t, r.Definitions(), 5)

	descs := r.Tools()
	require.Len(t, descs, 5)
	for i, d := range descs {
		assert.Equal(t, "function", d.Type)
		require.NotNil(t, d.Function)
		assert.Equal(t, r.Names()[i], d.Function.Name)
		assert.NotEmpty(t, d.Function.Description)
		assert.NotNil(t, d.Function.Parameters)
	}

	r, err = registry.Build(ctx, p, registry.Selection{Namespaces: []string{"social"}, AllOperations: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"list_comments", "read_comment"}, r.Names())

	r, err = registry.Build(ctx, p, registry.Selection{
		Resources:     []registry.ResourceSelection{{Name: "post", Operations: []string{"read", "destroy"}}},
		AllOperations: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"read_post", "destroy_post"}, r.Names())

	_, err = registry.Build(ctx, p, registry.Selection{
		Resources: []registry.ResourceSelection{{Name: "missing"}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, resource.ErrResourceNotFound))
}

func TestBuild_Filters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := provider(t)

	r, err := registry.Build(ctx, p, registry.Selection{
		AllOperations: true,
		Names:         []string{"read_post", "update_post", "list_comments"},
		Exclude:       []string{"update_post"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"read_post", "list_comments"}, r.Names())

	r, err = registry.Build(ctx, p, registry.Selection{
		AllOperations: true,
		Filter: func(d *tools.Definition) bool {
			return d.Operation.Kind == resource.KindQuery
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"read_post", "list_comments", "read_comment"}, r.Names())
}

func TestBuild_Policy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var (
		lock   sync.Mutex
		actors []any
	)
	p := provider(t, memory.WithPolicy(func(_ context.Context, actor any, _ string, _ *resource.Resource, op *resource.Operation, _ map[string]any) (bool, error) {
		lock.Lock()
		actors = append(actors, actor)
		lock.Unlock()
		if op.Kind == resource.KindDelete {
			return actor == "admin", nil
		}
		return true, nil
	}))

	r, err := registry.Build(ctx, p, registry.Selection{
		Resources:     []registry.ResourceSelection{{Name: "post"}},
		AllOperations: true,
	}, registry.WithActor("guest"))
	require.NoError(t, err)
	assert.Equal(t, []string{"read_post", "update_post"}, r.Names())
	assert.Equal(t, "guest", r.Actor())

	r, err = registry.Build(ctx, p, registry.Selection{
		Resources:     []registry.ResourceSelection{{Name: "post"}},
		AllOperations: true,
	}, registry.WithActor("admin"), registry.WithTenant("acme"))
	require.NoError(t, err)
	assert.Equal(t, []string{"read_post", "update_post", "destroy_post"}, r.Names())
	assert.Equal(t, "acme", r.Tenant())

	lock.Lock()
	actors = nil
	lock.Unlock()

	res, err := r.Call(ctx, "read_post", map[string]any{})
	require.NoError(t, err)
	require.True(t, res.OK, res.JSON)

	lock.Lock()
	defer lock.Unlock()
	require.NotEmpty(t, actors)
	for _, a := range actors {
		assert.Equal(t, "admin", a)
	}
}

func TestBuild_AuthorizationErrorIsNotPermitted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	p := mockresource.NewMockProvider(ctrl)

	res := postResource()
	p.EXPECT().Namespaces(gomock.Any()).Return([]string{"blog"}, nil)
	p.EXPECT().Resources(gomock.Any(), "blog").Return([]*resource.Resource{res}, nil)
	p.EXPECT().Can(gomock.Any(), "bob", "", res, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ any, _ string, _ *resource.Resource, op *resource.Operation, _ map[string]any) (bool, error) {
			switch op.Name {
			case "read":
				return true, nil
			case "update":
				return false, errors.New("policy store unavailable")
			default:
				return false, nil
			}
		}).Times(3)

	r, err := registry.Build(ctx, p, registry.Selection{AllOperations: true}, registry.WithActor("bob"))
	require.NoError(t, err)
	assert.Equal(t, []string{"read_post"}, r.Names())
}

func TestBuild_SourceErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	p := mockresource.NewMockProvider(ctrl)

	p.EXPECT().Namespaces(gomock.Any()).Return(nil, errors.New("boom"))
	_, err := registry.Build(ctx, p, registry.Selection{})
	assert.EqualError(t, err, "failed to list namespaces: boom")

	p.EXPECT().Resources(gomock.Any(), "blog").Return(nil, errors.New("boom"))
	_, err = registry.Build(ctx, p, registry.Selection{Namespaces: []string{"blog"}})
	assert.EqualError(t, err, "failed to list resources of blog: boom")
}

func TestBuild_DuplicateNames(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	res := postResource()
	res.Tools = []*resource.ToolDeclaration{
		{Name: "read_post", Operation: "update", Description: "Update a post."},
	}
	p := memory.New()
	require.NoError(t, p.Register(res))

	sel := registry.Selection{AllOperations: true}
	_, err := registry.Build(ctx, p, sel)
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrDuplicateTool))
	assert.Contains(t, err.Error(), "read_post")

	r, err := registry.Build(ctx, p, sel, registry.WithLastWriteWins())
	require.NoError(t, err)
	assert.Equal(t, []string{"read_post", "update_post", "destroy_post"}, r.Names())
	tool, ok := r.Lookup("read_post")
	require.True(t, ok)
	assert.Equal(t, "read", tool.Definition().Operation.Name)
}

func TestBuild_Dedupe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := provider(t)

	// the same resource selected twice yields the same tools once
	r, err := registry.Build(ctx, p, registry.Selection{
		Resources: []registry.ResourceSelection{
			{Name: "post", Operations: []string{"read"}},
			{Name: "blog.post"},
		},
		AllOperations: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"read_post", "update_post", "destroy_post"}, r.Names())
}

func TestRegistry_Call(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := provider(t)

	var ended []string
	r, err := registry.Build(ctx, p, registry.Selection{
		Resources:     []registry.ResourceSelection{{Name: "post"}},
		AllOperations: true,
	}, registry.WithOnEnd(func(_ context.Context, def *tools.Definition, _ map[string]any, res executor.Result) {
		ended = append(ended, def.Name)
	}))
	require.NoError(t, err)

	tool, ok := r.Lookup("destroy_post")
	require.True(t, ok)
	assert.Equal(t, "destroy_post", tool.Name())
	_, ok = r.Lookup("DESTROY_POST")
	assert.False(t, ok)
	_, err = r.CallJSON(ctx, "Destroy_Post", `{}`)
	assert.ErrorIs(t, err, registry.ErrToolNotFound)

	res, err := r.CallJSON(ctx, "destroy_post", `{"id":"`+firstID+`"}`)
	require.NoError(t, err)
	require.True(t, res.OK, res.JSON)
	assert.Contains(t, res.JSON, firstID)
	assert.NotContains(t, res.JSON, "s1")
	assert.Len(t, p.Records("post"), 1)

	res, err = r.CallJSON(ctx, "destroy_post", `{"id":"`+firstID+`"}`)
	require.NoError(t, err)
	require.False(t, res.OK)
	assert.Equal(t, http.StatusNotFound, res.Envelope().Status())

	out, err := tool.Call(ctx, `{"id":"`+firstID+`"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool destroy_post")
	assert.Contains(t, out, `"errors"`)

	_, err = r.Call(ctx, "drop_database", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrToolNotFound))
	_, err = r.CallJSON(ctx, "drop_database", "{}")
	assert.True(t, errors.Is(err, registry.ErrToolNotFound))

	assert.Equal(t, []string{"destroy_post", "destroy_post", "destroy_post"}, ended)
}

func TestRegistry_ITools(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := provider(t)

	r, err := registry.Build(ctx, p, registry.Selection{
		Resources:     []registry.ResourceSelection{{Name: "post", Operations: []string{"read"}}},
		AllOperations: true,
	})
	require.NoError(t, err)

	list := r.ITools()
	require.Len(t, list, 1)
	out, err := list[0].Call(ctx, `{"sort":[{"field":"title","direction":"desc"}]}`)
	require.NoError(t, err)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "Second", rows[0]["title"])

	assert.Contains(t, tools.GetDescriptions(list...), `"Name": "read_post"`)
}

func TestDiagnostics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := provider(t, memory.WithPolicy(func(_ context.Context, _ any, _ string, res *resource.Resource, op *resource.Operation, _ map[string]any) (bool, error) {
		// comments are hidden
		return res.Name == "post" && op.Kind != resource.KindDelete, nil
	}))

	r, err := registry.Build(ctx, p, registry.Selection{})
	require.NoError(t, err)
	assert.Empty(t, r.Names())

	r, err = registry.Build(ctx, p, registry.Selection{Names: []string{registry.DiagnosticTools}})
	require.NoError(t, err)
	assert.Equal(t, []string{registry.ToolListResources, registry.ToolDescribeResource}, r.Names())
	assert.Empty(t, r.Definitions())

	r, err = registry.Build(ctx, p, registry.Selection{
		Diagnostics: true,
		Exclude:     []string{registry.ToolDescribeResource},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{registry.ToolListResources}, r.Names())

	r, err = registry.Build(ctx, p, registry.Selection{Names: []string{registry.ToolDescribeResource}})
	require.NoError(t, err)
	assert.Equal(t, []string{registry.ToolDescribeResource}, r.Names())

	r, err = registry.Build(ctx, p, registry.Selection{Diagnostics: true})
	require.NoError(t, err)

	res, err := r.CallJSON(ctx, registry.ToolListResources, "")
	require.NoError(t, err)
	require.True(t, res.OK, res.JSON)

	var list registry.ListResourcesResponse
	require.NoError(t, json.Unmarshal([]byte(res.JSON), &list))
	require.Len(t, list.Namespaces, 2)
	assert.Equal(t, "blog", list.Namespaces[0].Name)
	require.Len(t, list.Namespaces[0].Resources, 1)
	ops := list.Namespaces[0].Resources[0].Operations
	require.Len(t, ops, 2)
	assert.Equal(t, "read", ops[0].Name)
	assert.Equal(t, "query", ops[0].Kind)
	assert.Equal(t, "social", list.Namespaces[1].Name)
	assert.Empty(t, list.Namespaces[1].Resources)

	res, err = r.Call(ctx, registry.ToolListResources, map[string]any{"namespace": "social"})
	require.NoError(t, err)
	require.True(t, res.OK, res.JSON)
	assert.Equal(t, `{"namespaces":[{"name":"social","resources":[]}]}`, res.JSON)

	res, err = r.CallJSON(ctx, registry.ToolDescribeResource, `{"name":"post"}`)
	require.NoError(t, err)
	require.True(t, res.OK, res.JSON)

	var desc registry.DescribeResourceResponse
	require.NoError(t, json.Unmarshal([]byte(res.JSON), &desc))
	assert.Equal(t, "post", desc.Name)
	assert.Equal(t, []string{"id"}, desc.PrimaryKey)
	require.Len(t, desc.Fields, 2)
	assert.Equal(t, "id", desc.Fields[0].Name)
	assert.Equal(t, "uuid", desc.Fields[0].Type)
	assert.Equal(t, "title", desc.Fields[1].Name)
	assert.Contains(t, desc.Fields[1].Operators, "contains")
	assert.NotContains(t, res.JSON, "secret")

	res, err = r.CallJSON(ctx, registry.ToolDescribeResource, `{"name":"comment"}`)
	require.NoError(t, err)
	require.False(t, res.OK)
	assert.Equal(t, http.StatusNotFound, res.Envelope().Status())

	res, err = r.CallJSON(ctx, registry.ToolDescribeResource, `{"name":"nothing"}`)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.Envelope().Status())

	res, err = r.CallJSON(ctx, registry.ToolDescribeResource, `{}`)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.Envelope().Status())

	res, err = r.CallJSON(ctx, registry.ToolDescribeResource, `{"name":`)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.Envelope().Status())
}

func TestDiagnostics_Callbacks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := provider(t)

	var started, ended []string
	var lastArgs map[string]any
	r, err := registry.Build(ctx, p, registry.Selection{Diagnostics: true},
		registry.WithOnStart(func(_ context.Context, def *tools.Definition, args map[string]any) {
			require.NotNil(t, def)
			assert.Nil(t, def.Resource)
			started = append(started, def.Name)
			lastArgs = args
		}),
		registry.WithOnEnd(func(_ context.Context, def *tools.Definition, _ map[string]any, res executor.Result) {
			ended = append(ended, def.Name+":"+strconv.FormatBool(res.OK))
		}),
	)
	require.NoError(t, err)

	res, err := r.CallJSON(ctx, registry.ToolDescribeResource, `{"name":"post"}`)
	require.NoError(t, err)
	require.True(t, res.OK, res.JSON)
	assert.Equal(t, map[string]any{"name": "post"}, lastArgs)

	res, err = r.Call(ctx, registry.ToolListResources, map[string]any{"namespace": "blog"})
	require.NoError(t, err)
	require.True(t, res.OK, res.JSON)
	assert.Equal(t, map[string]any{"namespace": "blog"}, lastArgs)

	// malformed arguments end without a start
	res, err = r.CallJSON(ctx, registry.ToolDescribeResource, `{"name":`)
	require.NoError(t, err)
	require.False(t, res.OK)

	assert.Equal(t, []string{registry.ToolDescribeResource, registry.ToolListResources}, started)
	assert.Equal(t, []string{
		registry.ToolDescribeResource + ":true",
		registry.ToolListResources + ":true",
		registry.ToolDescribeResource + ":false",
	}, ended)
}
