package toolschema_test

import (
	"encoding/json"
	"testing"

	"github.com/effective-security/actionai/pkg/schema"
	"github.com/effective-security/actionai/resource"
	"github.com/effective-security/actionai/toolschema"
	"github.com/google/go-cmp/cmp"
	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postResource() *resource.Resource {
	return &resource.Resource{
		Name: "post",
		Fields: []*resource.Field{
			{Name: "id", Type: resource.TypeUUID, Public: true, Filterable: true, Description: "Post ID"},
			{Name: "title", Type: resource.TypeString, Public: true, Filterable: true, Sortable: true, Description: "Title of the post"},
			{Name: "score", Type: resource.TypeInteger, Public: true, Sortable: true, AllowNil: true},
			{Name: "tags", Type: resource.TypeArray, Items: resource.TypeString, Public: true, Filterable: true, AllowNil: true},
			{Name: "status", Type: resource.TypeString, Public: true, Default: "draft", Enum: []any{"draft", "published"}},
			{Name: "secret", Type: resource.TypeString, Filterable: true, Sortable: true},
			{Name: "slug", Type: resource.TypeString, Public: true},
		},
		PrimaryKey: []string{"id"},
		Identities: map[string][]string{"by_slug": {"slug"}},
		Operations: []*resource.Operation{
			{Name: "read", Kind: resource.KindQuery, MaxPageSize: 50},
			{Name: "search", Kind: resource.KindQuery, DefaultPageSize: 10, Arguments: []*resource.Field{
				{Name: "query", Type: resource.TypeString, Public: true},
				{Name: "debug", Type: resource.TypeBoolean, AllowNil: true},
			}},
			{Name: "create", Kind: resource.KindCreate, Accept: []string{"title", "score", "status", "secret"}, Arguments: []*resource.Field{
				{Name: "notify", Type: resource.TypeBoolean, Public: true, Default: false},
			}},
			{Name: "update", Kind: resource.KindUpdate, Accept: []string{"title", "score"}},
			{Name: "destroy", Kind: resource.KindDelete},
			{Name: "publish", Kind: resource.KindCustom, Arguments: []*resource.Field{
				{Name: "at", Type: resource.TypeDatetime, Public: true, AllowNil: true},
			}},
			{Name: "touch", Kind: resource.KindCustom},
		},
	}
}

func mustSchema(t *testing.T, res *resource.Resource, opName string, restriction []string, opts ...toolschema.Option) *jsonschema.Schema {
	t.Helper()
	s, err := toolschema.ForOperation(res, res.Operation(opName), restriction, opts...)
	require.NoError(t, err)
	return s
}

func prop(t *testing.T, s *jsonschema.Schema, name string) *jsonschema.Schema {
	t.Helper()
	require.NotNil(t, s.Properties)
	p, ok := s.Properties.Get(name)
	require.True(t, ok, "property %s", name)
	return p
}

func TestQuery(t *testing.T) {
	t.Parallel()
	res := postResource()
	s := mustSchema(t, res, "read", nil)

	assert.Equal(t, "object", s.Type)
	assert.Equal(t, jsonschema.FalseSchema, s.AdditionalProperties)
	assert.Equal(t, []string{"filter", "sort", "limit", "offset", "result_type"}, schema.PropertyNames(s))
	assert.Empty(t, s.Required)

	filter := prop(t, s, "filter")
	assert.Equal(t, []string{"id", "title", "tags"}, schema.PropertyNames(filter))
	assert.Equal(t, []string{"eq", "not_eq", "in", "gt", "gte", "lt", "lte", "contains"}, schema.PropertyNames(prop(t, filter, "title")))
	assert.Equal(t, []string{"eq", "not_eq", "in", "contains", "is_nil"}, schema.PropertyNames(prop(t, filter, "tags")))
	assert.Equal(t, "uuid", prop(t, prop(t, filter, "id"), "eq").Format)
	in := prop(t, prop(t, filter, "title"), "in")
	assert.Equal(t, "array", in.Type)
	assert.Equal(t, "string", in.Items.Type)
	assert.Equal(t, "string", prop(t, prop(t, filter, "tags"), "contains").Type)
	assert.Equal(t, "boolean", prop(t, prop(t, filter, "tags"), "is_nil").Type)

	sort := prop(t, s, "sort")
	assert.Equal(t, "array", sort.Type)
	assert.Equal(t, []any{"title", "score"}, prop(t, sort.Items, "field").Enum)
	assert.Equal(t, []any{"asc", "desc"}, prop(t, sort.Items, "direction").Enum)

	limit := prop(t, s, "limit")
	assert.Equal(t, 25, limit.Default)
	assert.Equal(t, json.Number("50"), limit.Maximum)
	assert.Equal(t, 0, prop(t, s, "offset").Default)

	rt := prop(t, s, "result_type")
	require.Len(t, rt.OneOf, 2)
	assert.Equal(t, []any{"run_query", "count", "exists"}, rt.OneOf[0].Enum)
	agg := prop(t, rt.OneOf[1], "aggregate")
	assert.Equal(t, []any{"min", "max", "sum", "avg", "count"}, prop(t, agg, "kind").Enum)
	assert.Equal(t, []any{"id", "title", "score", "tags", "status", "slug"}, prop(t, agg, "field").Enum)

	search := mustSchema(t, res, "search", []string{"filter", "limit"})
	assert.Equal(t, []string{"input", "filter", "limit"}, schema.PropertyNames(search))
	assert.Equal(t, 10, prop(t, search, "limit").Default)
	assert.Empty(t, prop(t, search, "limit").Maximum)
	assert.Equal(t, []string{"query"}, schema.PropertyNames(prop(t, search, "input")))
	assert.Equal(t, []string{"input"}, search.Required)

	empty := mustSchema(t, res, "read", []string{})
	assert.Empty(t, schema.PropertyNames(empty))
}

func TestQuery_PrivateFieldsNeverExposed(t *testing.T) {
	t.Parallel()
	res := postResource()
	// all fields are private except one
	for _, f := range res.Fields {
		f.Public = f.Name == "slug"
		f.Filterable = true
		f.Sortable = true
	}
	s := mustSchema(t, res, "read", nil)

	assert.Equal(t, []string{"slug"}, schema.PropertyNames(prop(t, s, "filter")))
	assert.Equal(t, []any{"slug"}, prop(t, prop(t, s, "sort").Items, "field").Enum)
	agg := prop(t, prop(t, s, "result_type").OneOf[1], "aggregate")
	assert.Equal(t, []any{"slug"}, prop(t, agg, "field").Enum)

	js, err := json.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(js), "secret")

	for _, f := range res.Fields {
		f.Public = false
	}
	s = mustSchema(t, res, "read", nil)
	assert.Equal(t, []string{"limit", "offset", "result_type"}, schema.PropertyNames(s))
	rt := prop(t, s, "result_type")
	assert.Empty(t, rt.OneOf)
	assert.Equal(t, []any{"run_query", "count", "exists"}, rt.Enum)
}

func TestCreateAndUpdate(t *testing.T) {
	t.Parallel()
	res := postResource()

	s := mustSchema(t, res, "create", nil)
	assert.Equal(t, []string{"input"}, schema.PropertyNames(s))
	assert.Equal(t, []string{"input"}, s.Required)
	input := prop(t, s, "input")
	assert.Equal(t, []string{"title", "score", "status", "secret", "notify"}, schema.PropertyNames(input))
	assert.Equal(t, []string{"title", "secret"}, input.Required)
	assert.Equal(t, "draft", prop(t, input, "status").Default)
	assert.Equal(t, "Title of the post", prop(t, input, "title").Description)
	assert.Equal(t, jsonschema.FalseSchema, input.AdditionalProperties)

	s = mustSchema(t, res, "update", nil)
	assert.Equal(t, []string{"id", "input"}, schema.PropertyNames(s))
	assert.Equal(t, []string{"id", "input"}, s.Required)
	assert.Equal(t, "Post ID", prop(t, s, "id").Description)
	assert.Empty(t, prop(t, s, "input").Required)

	s = mustSchema(t, res, "update", nil, toolschema.WithIdentityKeys("slug"))
	assert.Equal(t, []string{"slug", "input"}, schema.PropertyNames(s))

	s = mustSchema(t, res, "update", nil, toolschema.WithoutIdentity())
	assert.Equal(t, []string{"input"}, schema.PropertyNames(s))

	_, err := toolschema.ForOperation(res, res.Operation("update"), nil, toolschema.WithIdentityKeys("nope"))
	assert.EqualError(t, err, "identity key nope not found on resource post")

	bad := &resource.Operation{Name: "create", Kind: resource.KindCreate, Accept: []string{"nope"}}
	_, err = toolschema.ForOperation(res, bad, nil)
	assert.EqualError(t, err, "operation post.create accepts unknown field nope")
}

func TestDeleteAndCustom(t *testing.T) {
	t.Parallel()
	res := postResource()

	s := mustSchema(t, res, "destroy", nil)
	js, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `{"properties":{"id":{"type":"string","format":"uuid","description":"Post ID"}},"additionalProperties":false,"type":"object","required":["id"]}`, string(js))

	s = mustSchema(t, res, "destroy", nil, toolschema.WithoutIdentity())
	js, err = json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `{"properties":{},"additionalProperties":false,"type":"object"}`, string(js))

	res.PrimaryKey = nil
	_, err = toolschema.ForOperation(res, res.Operation("destroy"), nil)
	assert.EqualError(t, err, "resource post has no primary key")

	s = mustSchema(t, res, "publish", nil)
	assert.Equal(t, []string{"input"}, schema.PropertyNames(s))
	assert.Empty(t, s.Required)
	at := prop(t, prop(t, s, "input"), "at")
	assert.Equal(t, "date-time", at.Format)

	s = mustSchema(t, res, "touch", nil)
	assert.Empty(t, schema.PropertyNames(s))

	_, err = toolschema.ForOperation(res, &resource.Operation{Name: "merge", Kind: resource.Kind(99)}, nil)
	assert.ErrorIs(t, err, resource.ErrUnsupportedKind)
	_, err = toolschema.ForOperation(nil, nil, nil)
	assert.EqualError(t, err, "resource and operation are required")
}

func TestIdempotent(t *testing.T) {
	t.Parallel()
	res := postResource()

	for _, op := range res.Operations {
		a, err := toolschema.ForOperation(res, op, []string{"filter", "sort", "result_type"})
		require.NoError(t, err)
		b, err := toolschema.ForOperation(res, op, []string{"filter", "sort", "result_type"})
		require.NoError(t, err)

		ja, err := json.Marshal(a)
		require.NoError(t, err)
		jb, err := json.Marshal(b)
		require.NoError(t, err)
		assert.Equal(t, string(ja), string(jb), op.Name)
		assert.Equal(t, schema.Fingerprint(a), schema.Fingerprint(b))

		ma, err := schema.ToMap(a)
		require.NoError(t, err)
		mb, err := schema.ToMap(b)
		require.NoError(t, err)
		if diff := cmp.Diff(ma, mb); diff != "" {
			t.Errorf("%s schema mismatch (-a +b):\n%s", op.Name, diff)
		}
	}
}
