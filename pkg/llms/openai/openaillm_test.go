package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/actionai/pkg/llms"
	"github.com/effective-security/actionai/pkg/schema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCompletions struct {
	resp     *openai.ChatCompletion
	err      error
	captured openai.ChatCompletionNewParams
}

func (m *mockCompletions) New(_ context.Context, params openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.captured = params
	return m.resp, m.err
}

func (m *mockCompletions) NewStreaming(_ context.Context, params openai.ChatCompletionNewParams, _ ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk] {
	m.captured = params
	return nil
}

func withCompletions(c chatCompletions) Option {
	return func(opts *options) {
		opts.completions = c
	}
}

func TestNew(t *testing.T) {
	t.Setenv(TokenEnvVarName, "")
	t.Setenv(ModelEnvVarName, "")
	t.Setenv(BaseURLEnvVarName, "")

	_, err := New()
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = New(WithToken("sk-test"), WithProvider(llms.ProviderAzure))
	assert.EqualError(t, err, "openai: base URL is required for Azure")

	llm, err := New(WithToken("sk-test"))
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, llm.GetName())
	assert.Equal(t, llms.ProviderOpenAI, llm.GetProviderType())

	llm, err = New(
		WithToken("sk-test"),
		WithModel("my-deployment"),
		WithProvider(llms.ProviderAzure),
		WithBaseURL("https://example.openai.azure.com/openai/deployments/my-deployment"),
		WithAPIVersion("2024-10-21"),
		WithOrganization("org"),
		WithHTTPClient(&http.Client{}),
		WithMaxRetries(0),
	)
	require.NoError(t, err)
	assert.Equal(t, "my-deployment", llm.GetName())
	assert.Equal(t, llms.ProviderAzure, llm.GetProviderType())

	t.Setenv(TokenEnvVarName, "sk-env")
	t.Setenv(ModelEnvVarName, "gpt-4.1")
	llm, err = New()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", llm.GetName())
}

func TestGenerateContent(t *testing.T) {
	t.Parallel()

	mock := &mockCompletions{
		resp: &openai.ChatCompletion{
			ID: "chatcmpl-1",
			Choices: []openai.ChatCompletionChoice{
				{
					FinishReason: "tool_calls",
					Message: openai.ChatCompletionMessage{
						Content: "Let me check.",
						ToolCalls: []openai.ChatCompletionMessageToolCallUnion{
							{
								ID:   "call_1",
								Type: "function",
								Function: openai.ChatCompletionMessageFunctionToolCallFunction{
									Name:      "read_posts",
									Arguments: `{"limit":2}`,
								},
							},
							{
								ID:     "call_x",
								Type:   "custom",
								Custom: openai.ChatCompletionMessageCustomToolCallCustom{Name: "grammar", Input: "x"},
							},
						},
					},
				},
			},
			Usage: openai.CompletionUsage{PromptTokens: 10, CompletionTokens: 4, TotalTokens: 14},
		},
	}
	llm, err := New(WithToken("sk-test"), WithModel("gpt-4o"), withCompletions(mock))
	require.NoError(t, err)

	params := schema.MustFromAny(map[string]any{
		"type":       "object",
		"properties": map[string]any{"limit": map[string]any{"type": "integer"}},
	})
	resp, err := llm.GenerateContent(context.Background(),
		[]llms.Message{
			llms.MessageFromTextParts(llms.RoleSystem, "you manage posts"),
			llms.MessageFromTextParts(llms.RoleUser, "show two posts"),
		},
		llms.WithTools([]llms.Tool{
			llms.NewFunctionTool("read_posts", "Read posts", params),
			llms.NewFunctionTool("list_resources", "", nil),
			{Type: "function"},
		}),
		llms.WithToolChoice("auto"),
		llms.WithMaxTokens(256),
		llms.WithTemperature(0.1),
		llms.WithSeed(3),
	)
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Let me check.", resp.Text())
	assert.Equal(t, "tool_calls", resp.Choices[0].StopReason)
	assert.Equal(t, int64(14), resp.Choices[0].GenerationInfo["TotalTokens"])
	assert.Equal(t, "chatcmpl-1", resp.Choices[0].GenerationInfo["ID"])

	calls := resp.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "read_posts", calls[0].Name())
	assert.Equal(t, `{"limit":2}`, calls[0].Arguments())

	captured := mock.captured
	assert.Equal(t, "gpt-4o", string(captured.Model))
	assert.Len(t, captured.Messages, 2)
	require.Len(t, captured.Tools, 2)
	require.NotNil(t, captured.Tools[0].OfFunction)
	assert.Equal(t, "read_posts", captured.Tools[0].OfFunction.Function.Name)
	assert.Equal(t, "object", captured.Tools[0].OfFunction.Function.Parameters["type"])
	require.NotNil(t, captured.Tools[1].GetFunction())
	assert.Equal(t, "list_resources", captured.Tools[1].GetFunction().Name)
	assert.Equal(t, "object", captured.Tools[1].GetFunction().Parameters["type"])
	assert.Equal(t, int64(256), captured.MaxCompletionTokens.Value)
	assert.Equal(t, "auto", captured.ToolChoice.OfAuto.Value)

	mock.err = errors.New("boom")
	_, err = llm.GenerateContent(context.Background(), []llms.Message{llms.MessageFromTextParts(llms.RoleUser, "x")})
	assert.EqualError(t, err, "openai: failed to create chat completion: boom")

	mock.err = nil
	mock.resp = &openai.ChatCompletion{}
	_, err = llm.GenerateContent(context.Background(), []llms.Message{llms.MessageFromTextParts(llms.RoleUser, "x")})
	assert.ErrorIs(t, err, ErrEmptyResponse)

	_, err = llm.GenerateContent(context.Background(), []llms.Message{llms.MessageFromTextParts(llms.RoleUser, "x")},
		llms.WithStreamingFunc(func(context.Context, []byte) error { return nil }))
	assert.EqualError(t, err, "openai: stream not available")
}

func TestToMessages(t *testing.T) {
	t.Parallel()

	msgs, err := ToMessages([]llms.Message{
		llms.MessageFromTextParts(llms.RoleSystem, "sys"),
		llms.MessageFromTextParts(llms.RoleUser, "hi"),
		llms.MessageFromToolCalls(llms.RoleAssistant, "",
			llms.ToolCall{ID: "c1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "read_posts"}},
			llms.ToolCall{ID: "c2", Type: "function", FunctionCall: &llms.FunctionCall{Name: "count_posts", Arguments: `{}`}},
		),
		llms.MessageFromParts(llms.RoleTool,
			llms.ToolCallResponse{ToolCallID: "c1", Name: "read_posts", Content: "[]"},
			llms.ToolCallResponse{ToolCallID: "c2", Name: "count_posts", Content: "0"},
		),
		{Role: llms.RoleUser},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	require.Len(t, msgs[2].OfAssistant.ToolCalls, 2)
	require.NotNil(t, msgs[2].OfAssistant.ToolCalls[0].OfFunction)
	assert.Equal(t, "{}", msgs[2].OfAssistant.ToolCalls[0].OfFunction.Function.Arguments)
	assert.Equal(t, "c2", msgs[2].OfAssistant.ToolCalls[1].OfFunction.ID)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "c1", msgs[3].OfTool.ToolCallID)
	assert.Equal(t, "c2", msgs[4].OfTool.ToolCallID)

	_, err = ToMessages([]llms.Message{llms.MessageFromTextParts(llms.RoleTool, "plain")})
	assert.ErrorIs(t, err, ErrInvalidContentType)

	_, err = ToMessages([]llms.Message{llms.MessageFromTextParts("human", "x")})
	assert.ErrorIs(t, err, llms.ErrUnexpectedRole)

	_, err = ToMessages([]llms.Message{llms.MessageFromTextParts(llms.RoleAssistant, "")})
	assert.EqualError(t, err, "openai: no valid content in assistant message")
}

func TestGenerateContent_Streaming(t *testing.T) {
	t.Parallel()

	chunks := []string{
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_2","type":"function","function":{"name":"count_posts","arguments":""}}]}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"read_posts","arguments":"{\"li"}}]}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"mit\":1}"}}]},"finish_reason":"tool_calls"}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`,
	}

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", c)
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	llm, err := New(WithToken("sk-test"), WithModel("gpt-4o"), WithBaseURL(srv.URL), WithMaxRetries(0))
	require.NoError(t, err)

	var streamed strings.Builder
	resp, err := llm.GenerateContent(context.Background(),
		[]llms.Message{llms.MessageFromTextParts(llms.RoleUser, "hi")},
		llms.WithStopWords([]string{"END"}),
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			streamed.Write(chunk)
			return nil
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, "Hello", streamed.String())
	assert.Equal(t, "Hello", resp.Text())
	assert.Equal(t, "tool_calls", resp.Choices[0].StopReason)
	assert.Equal(t, int64(8), resp.Choices[0].GenerationInfo["TotalTokens"])

	calls := resp.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, `{"limit":1}`, calls[0].Arguments())
	assert.Equal(t, "call_2", calls[1].ID)
	assert.Equal(t, "{}", calls[1].Arguments())

	require.NotNil(t, body)
	assert.Equal(t, true, body["stream"])
	assert.Equal(t, []any{"END"}, body["stop"])
}
