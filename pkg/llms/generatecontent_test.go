package llms_test

import (
	"encoding/json"
	"testing"

	"github.com/effective-security/actionai/pkg/llms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"
)

func TestTextParts(t *testing.T) {
	t.Parallel()

	mc := llms.MessageFromTextParts(llms.RoleUser, "a", "b", "c")
	assert.Equal(t, llms.RoleUser, mc.Role)
	require.Len(t, mc.Parts, 3)
	assert.Equal(t, "a\nb\nc", mc.GetText())
	assert.Equal(t, "a\nb\nc\n", mc.GetContent())
	assert.Empty(t, mc.GetToolCalls())
}

func TestRole_Validate(t *testing.T) {
	t.Parallel()

	for _, r := range []llms.Role{llms.RoleSystem, llms.RoleUser, llms.RoleAssistant, llms.RoleTool} {
		assert.NoError(t, r.Validate())
	}
	err := llms.Role("human").Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, llms.ErrUnexpectedRole)
}

func TestMessageFromToolCalls(t *testing.T) {
	t.Parallel()

	calls := []llms.ToolCall{
		{ID: "1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "read_posts", Arguments: `{"limit":1}`}},
		{ID: "2", Type: "function"},
	}
	msg := llms.MessageFromToolCalls(llms.RoleAssistant, "checking", calls...)
	require.Len(t, msg.Parts, 3)
	assert.Equal(t, "checking", msg.GetText())

	got := msg.GetToolCalls()
	require.Len(t, got, 2)
	assert.Equal(t, "read_posts", got[0].Name())
	assert.Equal(t, `{"limit":1}`, got[0].Arguments())
	assert.Equal(t, "", got[1].Name())

	// the message must not alias the caller's function calls
	calls[0].FunctionCall.Name = "changed"
	assert.Equal(t, "read_posts", msg.GetToolCalls()[0].Name())
}

func TestContentResponse(t *testing.T) {
	t.Parallel()

	var empty *llms.ContentResponse
	assert.Empty(t, empty.Text())
	assert.Empty(t, empty.ToolCalls())

	resp := &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{Content: "first"},
			nil,
			{ToolCalls: []llms.ToolCall{{ID: "a"}, {ID: "b"}}},
			{Content: "second", ToolCalls: []llms.ToolCall{{ID: "c"}}},
		},
	}
	assert.Equal(t, "first\n\nsecond", resp.Text())
	calls := resp.ToolCalls()
	require.Len(t, calls, 3)
	assert.Equal(t, "a", calls[0].ID)
	assert.Equal(t, "c", calls[2].ID)
}

func TestMessage_JSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  llms.Message
		js   string
	}{
		{
			name: "single text",
			msg:  llms.MessageFromTextParts(llms.RoleUser, "hello"),
			js:   `{"role":"user","text":"hello"}`,
		},
		{
			name: "text parts",
			msg:  llms.MessageFromTextParts(llms.RoleSystem, "a", "b"),
			js:   `{"role":"system","parts":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}`,
		},
		{
			name: "tool call",
			msg: llms.MessageFromToolCalls(llms.RoleAssistant, "",
				llms.ToolCall{ID: "c1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "destroy_post", Arguments: `{"id":"1"}`}}),
			js: `{"role":"assistant","parts":[{"type":"tool_call","tool_call":{"function":{"name":"destroy_post","arguments":"{\"id\":\"1\"}"},"id":"c1","type":"function"}}]}`,
		},
		{
			name: "tool response",
			msg: llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{
				ToolCallID: "c1", Name: "destroy_post", Content: `{"id":"1"}`,
			}),
			js: `{"role":"tool","parts":[{"type":"tool_response","tool_response":{"tool_call_id":"c1","name":"destroy_post","content":"{\"id\":\"1\"}"}}]}`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			js, err := json.Marshal(tc.msg)
			require.NoError(t, err)
			assert.Equal(t, tc.js, string(js))

			var back llms.Message
			require.NoError(t, json.Unmarshal(js, &back))
			assert.Equal(t, tc.msg, back)
		})
	}
}

func TestMessage_UnmarshalYAML(t *testing.T) {
	t.Parallel()

	input := `role: assistant
parts:
- type: text
  text: let me look
- type: tool_call
  tool_call:
    id: "42"
    type: function
    function:
      name: read_posts
      arguments: "{}"
`
	var msg llms.Message
	require.NoError(t, yaml.Unmarshal([]byte(input), &msg))
	assert.Equal(t, llms.RoleAssistant, msg.Role)
	assert.Equal(t, "let me look", msg.GetText())
	calls := msg.GetToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "42", calls[0].ID)
	assert.Equal(t, "read_posts", calls[0].Name())

	err := yaml.Unmarshal([]byte("role: user\nparts:\n- type: video\n"), &msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown content type: 'video'")
}

func TestCallOptions(t *testing.T) {
	t.Parallel()

	tool := llms.NewFunctionTool("read_posts", "Read posts", nil)
	opts := llms.NewCallOptions(llms.CallOptions{Model: "default", MaxTokens: 10},
		llms.WithModel("gpt"),
		llms.WithTemperature(0.2),
		llms.WithTools([]llms.Tool{tool}),
		llms.WithToolChoice("auto"),
		llms.WithStopWords([]string{"stop"}),
		llms.WithTopP(0.9),
		llms.WithSeed(7),
		llms.WithMetadata(map[string]any{"k": "v"}),
	)
	assert.Equal(t, "gpt", opts.Model)
	assert.Equal(t, 10, opts.MaxTokens)
	assert.Equal(t, 0.2, opts.Temperature)
	assert.Equal(t, "auto", opts.ToolChoice)
	assert.Equal(t, []string{"stop"}, opts.StopWords)
	assert.Equal(t, 0.9, opts.TopP)
	assert.Equal(t, 7, opts.Seed)
	require.Len(t, opts.Tools, 1)
	assert.Equal(t, "function", opts.Tools[0].Type)
	assert.Equal(t, "read_posts", opts.Tools[0].Function.Name)

	assert.True(t, llms.ProviderOpenAI.Supports(llms.CapabilityFunctionCalling))
	assert.False(t, llms.ProviderPerplexity.Supports(llms.CapabilityFunctionCalling))
}
