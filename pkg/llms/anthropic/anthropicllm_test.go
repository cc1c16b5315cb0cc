package anthropic_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/effective-security/actionai/pkg/llms"
	"github.com/effective-security/actionai/pkg/llms/anthropic"
	"github.com/effective-security/actionai/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Setenv(anthropic.TokenEnvVarName, "")

	_, err := anthropic.New(anthropic.WithModel("claude-sonnet-4-5"))
	assert.ErrorIs(t, err, anthropic.ErrMissingToken)

	_, err = anthropic.New(anthropic.WithToken("fake-token"))
	assert.EqualError(t, err, "anthropic: model is required")

	llm, err := anthropic.New(
		anthropic.WithToken("fake-token"),
		anthropic.WithModel("claude-sonnet-4-5"),
		anthropic.WithBaseURL("https://custom.anthropic.com"),
		anthropic.WithHTTPClient(&http.Client{}),
		anthropic.WithMaxRetries(1),
		anthropic.WithAnthropicBetaHeader("tools-2024-05-16"),
	)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", llm.GetName())
	assert.Equal(t, llms.ProviderAnthropic, llm.GetProviderType())

	t.Setenv(anthropic.TokenEnvVarName, "env-token")
	llm, err = anthropic.New(anthropic.WithModel("claude-sonnet-4-5"))
	require.NoError(t, err)
	assert.Equal(t, "env-token", llm.Options.Token)
}

func TestProcessMessages(t *testing.T) {
	t.Parallel()

	messages := []llms.Message{
		llms.MessageFromTextParts(llms.RoleSystem, "be brief"),
		llms.MessageFromTextParts(llms.RoleSystem, "use tools"),
		llms.MessageFromTextParts(llms.RoleUser, "list posts"),
		llms.MessageFromToolCalls(llms.RoleAssistant, "",
			llms.ToolCall{ID: "t1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "read_posts", Arguments: `{"limit":1}`}}),
		llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{ToolCallID: "t1", Name: "read_posts", Content: `[]`}),
		{Role: llms.RoleUser},
	}

	msgs, system, err := anthropic.ProcessMessages(messages)
	require.NoError(t, err)
	assert.Equal(t, "be brief\nuse tools", system)
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
	assert.Equal(t, "user", string(msgs[2].Role))

	_, _, err = anthropic.ProcessMessages([]llms.Message{llms.MessageFromTextParts("human", "x")})
	assert.ErrorIs(t, err, anthropic.ErrUnsupportedMessageType)

	_, _, err = anthropic.ProcessMessages([]llms.Message{
		llms.MessageFromParts(llms.RoleTool, llms.TextPart("not a tool response")),
	})
	assert.ErrorIs(t, err, anthropic.ErrInvalidContentType)
}

func TestHandleAIMessage_InvalidArguments(t *testing.T) {
	t.Parallel()

	msg := llms.MessageFromToolCalls(llms.RoleAssistant, "thinking",
		llms.ToolCall{ID: "t1", FunctionCall: &llms.FunctionCall{Name: "read_posts", Arguments: `{"limit":`}})
	param, err := anthropic.HandleAIMessage(msg)
	require.NoError(t, err)
	assert.Len(t, param.Content, 2)

	_, err = anthropic.HandleAIMessage(llms.Message{Role: llms.RoleAssistant, Parts: []llms.ContentPart{llms.TextPart("")}})
	assert.EqualError(t, err, "anthropic: no valid content in AI message")
}

func TestToTools(t *testing.T) {
	t.Parallel()

	assert.Nil(t, anthropic.ToTools(nil))
	assert.Nil(t, anthropic.ToTools([]llms.Tool{{Type: "function"}}))

	params := schema.MustFromAny(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit": map[string]any{"type": "integer"},
		},
		"required": []string{"limit"},
	})
	tools := anthropic.ToTools([]llms.Tool{
		llms.NewFunctionTool("read_posts", "Read posts", params),
		llms.NewFunctionTool("list_resources", "List resources", nil),
	})
	require.Len(t, tools, 2)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "read_posts", tools[0].OfTool.Name)
	assert.Equal(t, "object", string(tools[0].OfTool.InputSchema.Type))
	assert.Equal(t, []string{"limit"}, tools[0].OfTool.InputSchema.Required)
	assert.Contains(t, tools[0].OfTool.InputSchema.Properties, "limit")
	assert.Nil(t, tools[1].OfTool.InputSchema.Properties)
}

func TestGenerateContent(t *testing.T) {
	t.Parallel()

	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-5",
			"content": [
				{"type": "text", "text": "Looking up posts."},
				{"type": "tool_use", "id": "toolu_1", "name": "read_posts", "input": {"limit": 1}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 12, "output_tokens": 7}
		}`)
	}))
	defer srv.Close()

	llm, err := anthropic.New(
		anthropic.WithToken("fake-token"),
		anthropic.WithModel("claude-sonnet-4-5"),
		anthropic.WithBaseURL(srv.URL),
		anthropic.WithMaxRetries(0),
	)
	require.NoError(t, err)

	resp, err := llm.GenerateContent(context.Background(),
		[]llms.Message{
			llms.MessageFromTextParts(llms.RoleSystem, "you manage posts"),
			llms.MessageFromTextParts(llms.RoleUser, "show one post"),
		},
		llms.WithTools([]llms.Tool{llms.NewFunctionTool("read_posts", "Read posts", nil)}),
		llms.WithMaxTokens(100),
	)
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Looking up posts.", resp.Text())
	assert.Equal(t, "tool_use", resp.Choices[0].StopReason)

	calls := resp.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "toolu_1", calls[0].ID)
	assert.Equal(t, "read_posts", calls[0].Name())
	assert.JSONEq(t, `{"limit":1}`, calls[0].Arguments())

	require.NotNil(t, captured)
	assert.Equal(t, "claude-sonnet-4-5", captured["model"])
	assert.EqualValues(t, 100, captured["max_tokens"])
	assert.Len(t, captured["tools"], 1)
	assert.Len(t, captured["messages"], 1)
}
