package toolerror_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/actionai/resource"
	"github.com/effective-security/actionai/toolerror"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	env := toolerror.FromError(ctx, errors.Wrap(&resource.ForbiddenError{Resource: "post", Operation: "destroy"}, "run"))
	require.Len(t, env.Errors, 1)
	assert.Equal(t, http.StatusForbidden, env.Status())
	assert.Equal(t, "forbidden", env.Errors[0].Code)
	assert.Equal(t, "not allowed to perform destroy on post", env.Errors[0].Detail)

	ve := resource.InputError("title", "is required")
	ve.Add(&resource.FieldError{Field: "id", Parameter: "id", Message: "is required"})
	env = toolerror.FromError(ctx, ve)
	require.Len(t, env.Errors, 2)
	assert.Equal(t, 400, env.Errors[0].Status)
	assert.Equal(t, "invalid", env.Errors[0].Code)
	assert.Equal(t, "/input/title", env.Errors[0].Source.Pointer)
	assert.Equal(t, "title", env.Errors[0].Meta["field"])
	assert.Equal(t, "id", env.Errors[1].Source.Parameter)
	assert.NotEqual(t, env.Errors[0].ID, env.Errors[1].ID)

	env = toolerror.FromError(ctx, &resource.ValidationError{})
	require.Len(t, env.Errors, 1)
	assert.Equal(t, "invalid arguments", env.Errors[0].Detail)
	assert.Nil(t, env.Errors[0].Source)

	env = toolerror.FromError(ctx, &resource.NotFoundError{Resource: "post", Identity: resource.IdentityFilter{{Key: "id", Value: "1"}}})
	assert.Equal(t, http.StatusNotFound, env.Status())
	assert.Equal(t, "post not found: id=1", env.Errors[0].Detail)

	env = toolerror.FromError(ctx, errors.WithMessage(resource.ErrResourceNotFound, "comment"))
	assert.Equal(t, "not_found", env.Errors[0].Code)

	env = toolerror.FromError(ctx, errors.WithMessage(resource.ErrIdentityRequired, "post.update"))
	assert.Equal(t, http.StatusBadRequest, env.Status())
	assert.Equal(t, "invalid", env.Errors[0].Code)
	assert.Equal(t, "post.update: identity or filter is required to select the record", env.Errors[0].Detail)
}

func TestFromError_Validator(t *testing.T) {
	t.Parallel()

	type input struct {
		Title string `validate:"required"`
		Score int    `validate:"min=1"`
	}
	err := validator.New().Struct(&input{})
	require.Error(t, err)

	env := toolerror.FromError(context.Background(), errors.WithStack(err))
	require.Len(t, env.Errors, 2)
	assert.Equal(t, "failed on the 'required' constraint", env.Errors[0].Detail)
	assert.Equal(t, "/input/Title", env.Errors[0].Source.Pointer)
	assert.Equal(t, "/input/Score", env.Errors[1].Source.Pointer)
}

func TestFromError_Internal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	err := errors.New("pq: connection refused")

	env := toolerror.FromError(ctx, err)
	require.Len(t, env.Errors, 1)
	e := env.Errors[0]
	assert.Equal(t, 500, e.Status)
	assert.Equal(t, "something_went_wrong", e.Code)
	_, perr := uuid.Parse(e.ID)
	require.NoError(t, perr)
	assert.Equal(t, "Something went wrong. Error ID: "+e.ID, e.Detail)
	assert.NotContains(t, env.JSON(), "connection refused")

	env = toolerror.FromError(ctx, err, toolerror.WithShowRawErrors(true))
	assert.Equal(t, "pq: connection refused", env.Errors[0].Detail)
	assert.Contains(t, env.Errors[0].Meta["stacktrace"], "connection refused")
}

func TestParse(t *testing.T) {
	t.Parallel()

	env := toolerror.FromError(context.Background(), resource.ParamError("id", "is required"))
	js := env.JSON()
	assert.Contains(t, js, `"source":{"pointer":"/id"}`)

	parsed, err := toolerror.Parse(js)
	require.NoError(t, err)
	assert.Equal(t, env, parsed)

	_, err = toolerror.Parse("not json")
	assert.Error(t, err)
	assert.Equal(t, 0, (&toolerror.Envelope{}).Status())
}
