package llms

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// messageJSON is the compact form used when a message has a single text part.
type messageJSON struct {
	Role Role   `json:"role"`
	Text string `json:"text,omitempty"`
}

type messageWithPartsJSON struct {
	Role  Role          `json:"role"`
	Parts []ContentPart `json:"parts"`
}

// partJSON is the polymorphic envelope of a content part.
type partJSON struct {
	Type         string            `json:"type"`
	Text         string            `json:"text,omitempty"`
	ToolCall     *toolCallJSON     `json:"tool_call,omitempty"`
	ToolResponse *toolResponseJSON `json:"tool_response,omitempty"`
}

type toolCallJSON struct {
	FunctionCall *FunctionCall `json:"function"`
	ID           string        `json:"id"`
	Type         string        `json:"type"`
}

type toolResponseJSON struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
}

// MarshalJSON implements json.Marshaler for Message
func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Parts) == 1 {
		if tp, ok := m.Parts[0].(TextContent); ok {
			return json.Marshal(messageJSON{
				Role: m.Role,
				Text: tp.Text,
			})
		}
	}
	return json.Marshal(messageWithPartsJSON{
		Role:  m.Role,
		Parts: m.Parts,
	})
}

// UnmarshalJSON implements json.Unmarshaler for Message
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role  Role              `json:"role"`
		Text  string            `json:"text"`
		Parts []json.RawMessage `json:"parts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.WithStack(err)
	}

	m.Role = raw.Role
	m.Parts = nil
	if raw.Text != "" {
		m.Parts = []ContentPart{TextContent{Text: raw.Text}}
		return nil
	}

	for _, rp := range raw.Parts {
		var pj partJSON
		if err := json.Unmarshal(rp, &pj); err != nil {
			return errors.WithStack(err)
		}
		part, err := unmarshalContentPart(pj)
		if err != nil {
			return err
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}

func unmarshalContentPart(pj partJSON) (ContentPart, error) {
	switch pj.Type {
	case "text", "":
		return TextContent{Text: pj.Text}, nil
	case "tool_call":
		if pj.ToolCall == nil {
			return nil, errors.New("tool_call field is required for tool_call type")
		}
		fc := pj.ToolCall.FunctionCall
		if fc == nil {
			fc = &FunctionCall{}
		}
		return ToolCall{
			ID:           pj.ToolCall.ID,
			Type:         pj.ToolCall.Type,
			FunctionCall: fc,
		}, nil
	case "tool_response":
		if pj.ToolResponse == nil {
			return nil, errors.New("tool_response field is required for tool_response type")
		}
		return ToolCallResponse{
			ToolCallID: pj.ToolResponse.ToolCallID,
			Name:       pj.ToolResponse.Name,
			Content:    pj.ToolResponse.Content,
		}, nil
	default:
		return nil, errors.Newf("unknown content type: '%s'", pj.Type)
	}
}

// MarshalJSON implements json.Marshaler for TextContent
func (tc TextContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(partJSON{
		Type: "text",
		Text: tc.Text,
	})
}

// MarshalJSON implements json.Marshaler for ToolCall
func (tc ToolCall) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string       `json:"type"`
		ToolCall toolCallJSON `json:"tool_call"`
	}{
		Type: "tool_call",
		ToolCall: toolCallJSON{
			FunctionCall: tc.FunctionCall,
			ID:           tc.ID,
			Type:         tc.Type,
		},
	})
}

// MarshalJSON implements json.Marshaler for ToolCallResponse
func (tc ToolCallResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type         string           `json:"type"`
		ToolResponse toolResponseJSON `json:"tool_response"`
	}{
		Type: "tool_response",
		ToolResponse: toolResponseJSON{
			ToolCallID: tc.ToolCallID,
			Name:       tc.Name,
			Content:    tc.Content,
		},
	})
}
