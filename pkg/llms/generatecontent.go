package llms

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrUnexpectedRole is returned when a message role is of an unexpected type.
var ErrUnexpectedRole = errors.New("unexpected role")

// Role is the type of chat message.
type Role string

const (
	// RoleSystem is a message sent by the system.
	RoleSystem Role = "system"
	// RoleUser is a message sent by a human.
	RoleUser Role = "user"
	// RoleAssistant is a message sent by the model.
	RoleAssistant Role = "assistant"
	// RoleTool is a message carrying a tool result.
	RoleTool Role = "tool"
)

// Validate returns ErrUnexpectedRole for unknown roles.
func (r Role) Validate() error {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return nil
	}
	return errors.WithMessagef(ErrUnexpectedRole, "%q", string(r))
}

// Message is the message sent to a LLM. It has a role and a
// sequence of parts. An assistant message may carry ToolCall parts,
// a tool message carries exactly one ToolCallResponse part.
type Message struct {
	Role  Role          `json:"role"`
	Parts []ContentPart `json:"parts"`
}

// TextPart creates TextContent from a given string.
func TextPart(s string) TextContent {
	return TextContent{Text: s}
}

// ContentPart is an interface all parts of content have to implement.
type ContentPart interface {
	isPart()
}

// TextContent is content with some text.
type TextContent struct {
	Text string `json:"text"`
}

func (tc TextContent) String() string {
	return tc.Text
}

func (TextContent) isPart() {}

// FunctionCall is the name and arguments of a function call.
type FunctionCall struct {
	// The name of the function to call.
	Name string `json:"name"`
	// The arguments to pass to the function, as a JSON string.
	Arguments string `json:"arguments"`
}

// ToolCall is a call to a tool (as requested by the model) that should be executed.
type ToolCall struct {
	// ID is the unique identifier of the tool call.
	ID string `json:"id"`
	// Type is the type of the tool call. Typically, this would be "function".
	Type string `json:"type"`
	// FunctionCall is the function call to be executed.
	FunctionCall *FunctionCall `json:"function,omitempty"`
}

func (tc ToolCall) String() string {
	if tc.FunctionCall == nil {
		return fmt.Sprintf("ToolCall: %s", tc.ID)
	}
	return fmt.Sprintf("ToolCall: %s (%s), input: %s", tc.ID, tc.FunctionCall.Name, tc.FunctionCall.Arguments)
}

// Name returns the function name, or empty string.
func (tc ToolCall) Name() string {
	if tc.FunctionCall == nil {
		return ""
	}
	return tc.FunctionCall.Name
}

// Arguments returns the raw arguments, or empty string.
func (tc ToolCall) Arguments() string {
	if tc.FunctionCall == nil {
		return ""
	}
	return tc.FunctionCall.Arguments
}

func (ToolCall) isPart() {}

// ToolCallResponse is the response returned by a tool call.
type ToolCallResponse struct {
	// ToolCallID is the ID of the tool call this response is for.
	ToolCallID string `json:"tool_call_id"`
	// Name is the name of the tool that was called.
	Name string `json:"name"`
	// Content is the textual content of the response.
	Content string `json:"content"`
}

func (tc ToolCallResponse) String() string {
	return fmt.Sprintf("ToolCallResponse: %s (%s), response size: %d", tc.ToolCallID, tc.Name, len(tc.Content))
}

func (ToolCallResponse) isPart() {}

// ContentResponse is the response returned by a GenerateContent call.
// Providers may split text and tool calls into separate choices.
type ContentResponse struct {
	Choices []*ContentChoice
}

// ContentChoice is one of the response choices returned by GenerateContent
// calls.
type ContentChoice struct {
	// Content is the textual content of a response
	Content string `json:"content"`

	// StopReason is the reason the model stopped generating output.
	StopReason string `json:"stop_reason"`

	// GenerationInfo is arbitrary information the model adds to the response.
	GenerationInfo map[string]any `json:"generation_info"`

	// ToolCalls is a list of tool calls the model asks to invoke.
	ToolCalls []ToolCall `json:"tool_calls"`
}

// Text returns the text of all choices joined by a blank line.
func (r *ContentResponse) Text() string {
	if r == nil {
		return ""
	}
	var buf strings.Builder
	for _, choice := range r.Choices {
		if choice == nil || choice.Content == "" {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(choice.Content)
	}
	return buf.String()
}

// ToolCalls returns tool calls of all choices in provider order.
func (r *ContentResponse) ToolCalls() []ToolCall {
	if r == nil {
		return nil
	}
	var calls []ToolCall
	for _, choice := range r.Choices {
		if choice == nil {
			continue
		}
		calls = append(calls, choice.ToolCalls...)
	}
	return calls
}

// MessageFromParts is a helper function to create a Message with a role and a
// list of parts.
func MessageFromParts(role Role, parts ...ContentPart) Message {
	return Message{
		Role:  role,
		Parts: parts,
	}
}

// MessageFromTextParts is a helper function to create a Message with a role and a
// list of text parts.
func MessageFromTextParts(role Role, parts ...string) Message {
	result := Message{
		Role:  role,
		Parts: make([]ContentPart, 0, len(parts)),
	}
	for _, part := range parts {
		result.Parts = append(result.Parts, TextPart(part))
	}
	return result
}

// MessageFromToolCalls creates an assistant message with optional text
// followed by the tool calls.
func MessageFromToolCalls(role Role, text string, toolCalls ...ToolCall) Message {
	result := Message{
		Role:  role,
		Parts: make([]ContentPart, 0, len(toolCalls)+1),
	}
	if text != "" {
		result.Parts = append(result.Parts, TextPart(text))
	}
	for _, toolCall := range toolCalls {
		fc := &FunctionCall{}
		if toolCall.FunctionCall != nil {
			fc.Name = toolCall.FunctionCall.Name
			fc.Arguments = toolCall.FunctionCall.Arguments
		}
		result.Parts = append(result.Parts, ToolCall{
			ID:           toolCall.ID,
			Type:         toolCall.Type,
			FunctionCall: fc,
		})
	}
	return result
}

// MessageFromToolResponse is a helper function to create a Message with a role and a
// tool response.
func MessageFromToolResponse(role Role, toolResponse ToolCallResponse) Message {
	return MessageFromParts(role, ToolCallResponse{
		ToolCallID: toolResponse.ToolCallID,
		Name:       toolResponse.Name,
		Content:    toolResponse.Content,
	})
}

// GetText returns only the text parts of the message.
func (m Message) GetText() string {
	var buf strings.Builder
	for _, p := range m.Parts {
		if tc, ok := p.(TextContent); ok {
			if buf.Len() > 0 {
				buf.WriteString("\n")
			}
			buf.WriteString(tc.Text)
		}
	}
	return buf.String()
}

// GetToolCalls returns the tool call parts of the message.
func (m Message) GetToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Parts {
		if tc, ok := p.(ToolCall); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// GetContent returns a printable form of all parts.
func (m Message) GetContent() string {
	var buf strings.Builder
	lastNewLine := true
	for _, p := range m.Parts {
		if !lastNewLine {
			buf.WriteString("\n")
		}
		switch typ := p.(type) {
		case TextContent:
			buf.WriteString(typ.Text)
			lastNewLine = strings.HasSuffix(typ.Text, "\n")
		case ToolCall:
			buf.WriteString("Tool Call: ")
			js, _ := json.Marshal(typ)
			buf.Write(js)
			buf.WriteString("\n")
			lastNewLine = true
		case ToolCallResponse:
			buf.WriteString("Response: ")
			js, _ := json.Marshal(typ)
			buf.Write(js)
			buf.WriteString("\n")
			lastNewLine = true
		}
	}
	if !lastNewLine {
		buf.WriteString("\n")
	}
	return buf.String()
}
