package llmutils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/effective-security/actionai/pkg/llms"
	"github.com/effective-security/x/values"
	"gopkg.in/yaml.v3"
)

// CleanJSON returns JSON by trimming the text before the first opening
// bracket and after the last closing one, as models may reply like
// `Here you go: {json}`
func CleanJSON(bs []byte) []byte {
	start := firstIndex(bs, '{', '[')
	if start > 0 {
		bs = bs[start:]
	}
	end := max(bytes.LastIndexByte(bs, '}'), bytes.LastIndexByte(bs, ']'))
	if end >= 0 {
		bs = bs[:end+1]
	}
	return bs
}

func firstIndex(bs []byte, a, b byte) int {
	ia := bytes.IndexByte(bs, a)
	ib := bytes.IndexByte(bs, b)
	switch {
	case ia == -1:
		return ib
	case ib == -1:
		return ia
	default:
		return min(ia, ib)
	}
}

// TrimBackticks removes ```json or ```
func TrimBackticks(text string) string {
	return string(BytesTrimBackticks([]byte(text)))
}

var backtick = []byte("```")

// BytesTrimBackticks removes ```json or ``` fences
func BytesTrimBackticks(bs []byte) []byte {
	startIndex := bytes.Index(bs, backtick)
	if startIndex == -1 {
		return bs
	}
	startIndex += len(backtick)

	// skip the language tag
	for i := startIndex; i < len(bs) && bs[i] != '{' && bs[i] != '['; i++ {
		if bs[i] == '\n' {
			startIndex = i + 1
			break
		}
	}

	content := bs[startIndex:]
	endIndex := bytes.LastIndex(content, backtick)
	if endIndex == -1 {
		return content
	}
	return bytes.TrimSpace(content[:endIndex])
}

func JSONIndent(body string) string {
	var buf bytes.Buffer
	_ = json.Indent(&buf, []byte(body), "", "\t")
	return buf.String()
}

func ToJSON(val any) string {
	js, _ := json.Marshal(val)
	return string(js)
}

func ToJSONIndent(val any) string {
	js, _ := json.MarshalIndent(val, "", "\t")
	return string(js)
}

func ToYAML(val any) string {
	js, _ := yaml.Marshal(val)
	return string(js)
}

func BackticksJSON(js string) string {
	return "\n```json\n" + strings.TrimSpace(js) + "\n```\n"
}

// Stringify returns the string form of the value,
// falling back to a fenced JSON block.
func Stringify(s any) string {
	switch v := s.(type) {
	case fmt.Stringer:
		return v.String()
	case string:
		return v
	}
	js, _ := json.MarshalIndent(s, "", "\t")
	return BackticksJSON(string(js))
}

// PrintMessages is a debugging helper for the conversation history.
func PrintMessages(w io.Writer, msgs []llms.Message, filter ...llms.Role) {
	for _, mc := range msgs {
		if len(filter) > 0 && !slices.Contains(filter, mc.Role) {
			continue
		}
		fmt.Fprintf(w, "%s: ", strings.ToUpper(string(mc.Role)))
		for _, p := range mc.Parts {
			switch pp := p.(type) {
			case llms.TextContent:
				fmt.Fprintln(w, pp.Text)
			case llms.ToolCall:
				fmt.Fprintf(w, "ToolCall ID=%s, Type=%s, Func=%s(%s)\n", pp.ID, pp.Type, pp.Name(), pp.Arguments())
			case llms.ToolCallResponse:
				fmt.Fprintf(w, "ToolCallResponse ID=%s, Name=%s, Content=%s\n", pp.ToolCallID, pp.Name, pp.Content)
			}
		}
	}
}

// CountMessagesContentSize counts the size of the content in the messages
func CountMessagesContentSize(msgs []llms.Message) uint64 {
	var size uint64
	for _, mc := range msgs {
		size += uint64(len(mc.Role))
		for _, p := range mc.Parts {
			switch pp := p.(type) {
			case llms.TextContent:
				size += uint64(len(pp.Text))
			case llms.ToolCall:
				size += toolCallSize(pp)
			case llms.ToolCallResponse:
				size += uint64(len(pp.ToolCallID) + len(pp.Name) + len(pp.Content))
			}
		}
	}
	return size
}

// CountResponseContentSize counts the size of the content in the content response
func CountResponseContentSize(resp *llms.ContentResponse) uint64 {
	if resp == nil {
		return 0
	}
	var size uint64
	for _, choice := range resp.Choices {
		if choice == nil {
			continue
		}
		size += uint64(len(choice.Content))
		for _, toolCall := range choice.ToolCalls {
			size += toolCallSize(toolCall)
		}
	}
	return size
}

func toolCallSize(tc llms.ToolCall) uint64 {
	return uint64(len(tc.ID) + len(tc.Type) + len(tc.Name()) + len(tc.Arguments()))
}

// CountTokens sums the token usage reported by the provider in GenerationInfo.
func CountTokens(resp *llms.ContentResponse) (in, out, total int64) {
	if resp == nil {
		return
	}
	for _, choice := range resp.Choices {
		if choice == nil {
			continue
		}
		ma := values.MapAny(choice.GenerationInfo)
		in += ma.Int64("InputTokens")
		out += ma.Int64("OutputTokens")
		total += ma.Int64("TotalTokens")
	}
	return
}

// FindLastUserQuestion returns the text of the last user message.
func FindLastUserQuestion(messages []llms.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llms.RoleUser {
			if text := messages[i].GetText(); text != "" {
				return text
			}
		}
	}
	return ""
}
