package llmutils_test

import (
	"strings"
	"testing"

	"github.com/effective-security/actionai/pkg/llms"
	"github.com/effective-security/actionai/pkg/llmutils"
	"github.com/stretchr/testify/assert"
)

func Test_CleanJSON(t *testing.T) {
	llmOutput := "\n```json\n\n{\"city\": \"Paris\", \"country\": \"France\"}\n\n```\n\n"
	expected := "{\"city\": \"Paris\", \"country\": \"France\"}"
	assert.Equal(t, expected, string(llmutils.CleanJSON([]byte(llmOutput))))

	llmOutput = "Here you go:\n```json\n\n[{\"city\": \"Paris\", \"country\": \"France\"}]\n```\n\n"
	expected = "[{\"city\": \"Paris\", \"country\": \"France\"}]"
	assert.Equal(t, expected, string(llmutils.CleanJSON([]byte(llmOutput))))

	resp := "{\n\t\"answer\": \"Here is the query:\\n\\n```json\\n{\\n  \\\"limit\\\": 5\\n}\\n```\"\n}"
	assert.Equal(t, resp, string(llmutils.CleanJSON([]byte(resp))))

	assert.Equal(t, "no json", string(llmutils.CleanJSON([]byte("no json"))))
}

func Test_TrimBackticks(t *testing.T) {
	expected := "{\"city\": \"Paris\", \"country\": \"France\"}"

	assert.Equal(t, expected, llmutils.TrimBackticks("\n```json\n\n{\"city\": \"Paris\", \"country\": \"France\"}\n\n```\n\n"))
	assert.Equal(t, expected, llmutils.TrimBackticks(expected))
	assert.Equal(t, expected, llmutils.TrimBackticks("\n```\n\n{\"city\": \"Paris\", \"country\": \"France\"}\n\n```\n\n"))
	assert.Equal(t, expected, llmutils.TrimBackticks("\n```{\"city\": \"Paris\", \"country\": \"France\"}\n\n```\n\n"))
}

func Test_BackticksJSON(t *testing.T) {
	js := "{\"city\": \"Paris\", \"country\": \"France\"}"
	expected := "\n```json\n{\"city\": \"Paris\", \"country\": \"France\"}\n```\n"
	assert.Equal(t, expected, llmutils.BackticksJSON(js))
}

func Test_FindLastUserQuestion(t *testing.T) {
	msgs := []llms.Message{
		llms.MessageFromTextParts(llms.RoleSystem, "You manage posts."),
		llms.MessageFromTextParts(llms.RoleUser, "Delete post 1"),
		llms.MessageFromToolCalls(llms.RoleAssistant, "",
			llms.ToolCall{ID: "1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "destroy_post", Arguments: `{"id":"1"}`}}),
		llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{ToolCallID: "1", Name: "destroy_post", Content: `{"success":true}`}),
		llms.MessageFromTextParts(llms.RoleAssistant, "Post deleted."),
	}

	assert.Equal(t, "Delete post 1", llmutils.FindLastUserQuestion(msgs))
	assert.Empty(t, llmutils.FindLastUserQuestion(msgs[:1]))

	var buf strings.Builder
	llmutils.PrintMessages(&buf, msgs)
	exp := `SYSTEM: You manage posts.
USER: Delete post 1
ASSISTANT: ToolCall ID=1, Type=function, Func=destroy_post({"id":"1"})
TOOL: ToolCallResponse ID=1, Name=destroy_post, Content={"success":true}
ASSISTANT: Post deleted.
`
	assert.Equal(t, exp, buf.String())

	buf.Reset()
	llmutils.PrintMessages(&buf, msgs, llms.RoleUser)
	assert.Equal(t, "USER: Delete post 1\n", buf.String())
}

func Test_JSONIndent(t *testing.T) {
	input := `{"name":"John","age":30}`
	expected := "{\n\t\"name\": \"John\",\n\t\"age\": 30\n}"
	assert.Equal(t, expected, llmutils.JSONIndent(input))
}

func Test_ToJSON(t *testing.T) {
	type Person struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}
	p := Person{Name: "John", Age: 30}
	assert.Equal(t, `{"name":"John","age":30}`, llmutils.ToJSON(p))
	assert.Equal(t, "{\n\t\"name\": \"John\",\n\t\"age\": 30\n}", llmutils.ToJSONIndent(p))
}

func Test_ToYAML(t *testing.T) {
	type Person struct {
		Name string `yaml:"name"`
		Age  int    `yaml:"age"`
	}
	p := Person{Name: "John", Age: 30}
	assert.Equal(t, "name: John\nage: 30\n", llmutils.ToYAML(p))
}

type CustomString struct{}

func (c CustomString) String() string { return "custom string" }

func Test_Stringify(t *testing.T) {
	assert.Equal(t, "hello", llmutils.Stringify("hello"))

	type Person struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}
	expected := "\n```json\n{\n\t\"name\": \"John\",\n\t\"age\": 30\n}\n```\n"
	assert.Equal(t, expected, llmutils.Stringify(Person{Name: "John", Age: 30}))
	assert.Equal(t, "custom string", llmutils.Stringify(CustomString{}))
}

func Test_CountContentSize(t *testing.T) {
	msgs := []llms.Message{
		llms.MessageFromTextParts(llms.RoleUser, "Hello"),
		llms.MessageFromToolCalls(llms.RoleAssistant, "", llms.ToolCall{ID: "1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "a", Arguments: "{}"}}),
	}
	// user(4)+Hello(5) + assistant(9)+1+function(8)+a(1)+{}(2)
	assert.Equal(t, uint64(30), llmutils.CountMessagesContentSize(msgs))

	resp := &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{Content: "Hello world"},
			nil,
		},
	}
	assert.Equal(t, uint64(11), llmutils.CountResponseContentSize(resp))
	assert.Zero(t, llmutils.CountResponseContentSize(nil))
}

func Test_CountTokens(t *testing.T) {
	resp := &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{GenerationInfo: map[string]any{"InputTokens": int64(10), "OutputTokens": int64(5), "TotalTokens": int64(15)}},
			{GenerationInfo: map[string]any{"InputTokens": int64(1)}},
		},
	}
	in, out, total := llmutils.CountTokens(resp)
	assert.Equal(t, int64(11), in)
	assert.Equal(t, int64(5), out)
	assert.Equal(t, int64(15), total)
}
