package tools

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/actionai/pkg/llms"
	"github.com/effective-security/actionai/pkg/llmutils"
	"github.com/effective-security/actionai/pkg/schema"
	"github.com/invopop/jsonschema"
)

//go:generate mockgen -source=tools.go -destination=../mocks/mocktools/tools_mock.gen.go -package mocktools

// ErrFailedUnmarshalInput is returned when the tool arguments do not match the schema.
var ErrFailedUnmarshalInput = errors.New("failed to unmarshal input: check the schema and try again")

// ITool is a tool for the llm agent to interact with different applications.
type ITool interface {
	// Name returns the name of the Tool.
	Name() string
	// Description returns the description of the tool, to be used in the prompt.
	// Should not exceed LLM model limit.
	Description() string
	// Parameters returns the parameters definition of the function, to be used in the prompt.
	Parameters() *jsonschema.Schema

	// Call executes the tool with the given input and returns the result.
	// If the tool fails to parse the input, it should return ErrFailedUnmarshalInput error.
	Call(context.Context, string) (string, error)
}

// Callback receives tool events
type Callback interface {
	OnToolStart(ctx context.Context, tool ITool, input string)
	OnToolEnd(ctx context.Context, tool ITool, input string, output string)
	OnToolError(ctx context.Context, tool ITool, input string, err error)
}

// Tool is a typed ITool
type Tool[I any, O any] interface {
	ITool
	Run(context.Context, *I) (*O, error)
}

// LLMTool returns the function descriptor of the tool.
func LLMTool(t ITool) llms.Tool {
	return llms.NewFunctionTool(t.Name(), t.Description(), t.Parameters())
}

type toolDescription struct {
	Name        string `json:"Name" yaml:"Name"`
	Description string `json:"Description" yaml:"Description"`
}

type toolsDescription struct {
	Tools []toolDescription `json:"Tools" yaml:"Tools"`
}

// GetDescriptions returns a fenced JSON list of tool names and descriptions,
// to be used in prompts.
func GetDescriptions(list ...ITool) string {
	var d toolsDescription
	for _, tool := range list {
		d.Tools = append(d.Tools, toolDescription{
			Name:        tool.Name(),
			Description: tool.Description(),
		})
	}
	return llmutils.BackticksJSON(llmutils.ToJSONIndent(d))
}

// Func is a Tool implemented by a function.
type Func[I any, O any] struct {
	name        string
	description string
	params      *jsonschema.Schema
	fn          func(context.Context, *I) (*O, error)
}

var _ Tool[struct{}, struct{}] = (*Func[struct{}, struct{}])(nil)

// NewFunc returns a Tool with parameters reflected from I.
func NewFunc[I any, O any](name, description string, fn func(context.Context, *I) (*O, error)) (*Func[I, O], error) {
	var in I
	sc, err := schema.New(reflect.TypeOf(in))
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create schema for %s", name)
	}
	return &Func[I, O]{
		name:        name,
		description: description,
		params:      sc.Parameters,
		fn:          fn,
	}, nil
}

// Name returns the name of the tool.
func (f *Func[I, O]) Name() string {
	return f.name
}

// Description returns the description of the tool.
func (f *Func[I, O]) Description() string {
	return f.description
}

// Parameters returns the parameters schema.
func (f *Func[I, O]) Parameters() *jsonschema.Schema {
	return f.params
}

// Run executes the function.
func (f *Func[I, O]) Run(ctx context.Context, in *I) (*O, error) {
	return f.fn(ctx, in)
}

// Call decodes the input, runs the function and encodes the output.
func (f *Func[I, O]) Call(ctx context.Context, input string) (string, error) {
	var in I
	if input != "" {
		if err := json.Unmarshal(llmutils.CleanJSON([]byte(input)), &in); err != nil {
			return "", errors.WithMessage(ErrFailedUnmarshalInput, err.Error())
		}
	}
	out, err := f.Run(ctx, &in)
	if err != nil {
		return "", err
	}
	return llmutils.ToJSON(out), nil
}
