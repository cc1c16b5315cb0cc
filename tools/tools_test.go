package tools_test

import (
	"context"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/actionai/pkg/schema"
	"github.com/effective-security/actionai/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoRequest struct {
	Text  string `json:"text" jsonschema:"description=Text to echo"`
	Times int    `json:"times,omitempty"`
}

type echoResponse struct {
	Text string `json:"text"`
}

func newEcho(t *testing.T) *tools.Func[echoRequest, echoResponse] {
	t.Helper()
	f, err := tools.NewFunc("echo", "Echo the text", func(_ context.Context, req *echoRequest) (*echoResponse, error) {
		if req.Text == "fail" {
			return nil, errors.New("echo failed")
		}
		n := max(req.Times, 1)
		return &echoResponse{Text: strings.Repeat(req.Text, n)}, nil
	})
	require.NoError(t, err)
	return f
}

func TestFunc(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newEcho(t)

	assert.Equal(t, "echo", f.Name())
	assert.Equal(t, "Echo the text", f.Description())
	assert.Equal(t, []string{"text", "times"}, schema.PropertyNames(f.Parameters()))

	out, err := f.Call(ctx, `{"text":"ab","times":2}`)
	require.NoError(t, err)
	assert.Equal(t, `{"text":"abab"}`, out)

	out, err = f.Call(ctx, "```json\n{\"text\":\"x\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, `{"text":"x"}`, out)

	_, err = f.Call(ctx, `{"text":1}`)
	assert.ErrorIs(t, err, tools.ErrFailedUnmarshalInput)

	_, err = f.Call(ctx, `{"text":"fail"}`)
	assert.EqualError(t, err, "echo failed")

	res, err := f.Run(ctx, &echoRequest{Text: "z"})
	require.NoError(t, err)
	assert.Equal(t, "z", res.Text)
}

func TestLLMTool(t *testing.T) {
	t.Parallel()
	f := newEcho(t)

	lt := tools.LLMTool(f)
	assert.Equal(t, "function", lt.Type)
	require.NotNil(t, lt.Function)
	assert.Equal(t, "echo", lt.Function.Name)
	assert.Equal(t, f.Parameters(), lt.Function.Parameters)

	desc := tools.GetDescriptions(f)
	assert.Contains(t, desc, "```json")
	assert.Contains(t, desc, `"Name": "echo"`)
	assert.Contains(t, desc, `"Description": "Echo the text"`)
}
