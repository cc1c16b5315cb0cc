package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/actionai/pkg/llms"
	"github.com/effective-security/x/values"
)

var (
	ErrEmptyResponse          = errors.New("anthropic: no response")
	ErrMissingToken           = errors.New("anthropic: missing API key, set it in the ANTHROPIC_API_KEY environment variable")
	ErrInvalidContentType     = errors.New("anthropic: invalid content type")
	ErrUnsupportedMessageType = errors.New("anthropic: unsupported message type")
)

const (
	DefaultMaxTokens = 4096
)

type LLM struct {
	Client  *anthropic.Client
	Options *Options
}

var _ llms.Model = (*LLM)(nil)

// New creates a new Anthropic LLM client using the official Anthropic SDK.
// If no token is provided via options, the API key is read from
// the ANTHROPIC_API_KEY environment variable.
func New(opts ...Option) (*LLM, error) {
	options := &Options{
		Token:      os.Getenv(TokenEnvVarName),
		HttpClient: http.DefaultClient,
	}

	for _, opt := range opts {
		opt(options)
	}

	if len(options.Token) == 0 {
		return nil, ErrMissingToken
	}
	if options.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}

	timeout := options.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	sdkOpts := []option.RequestOption{
		option.WithAPIKey(options.Token),
		option.WithMaxRetries(values.NumbersCoalesce(options.MaxRetries, 2)),
		option.WithRequestTimeout(timeout),
	}
	if options.BaseURL != "" {
		sdkOpts = append(sdkOpts, option.WithBaseURL(options.BaseURL))
	}
	if options.HttpClient != nil {
		sdkOpts = append(sdkOpts, option.WithHTTPClient(options.HttpClient))
	}
	if options.AnthropicBetaHeader != "" {
		sdkOpts = append(sdkOpts, option.WithHeader("anthropic-beta", options.AnthropicBetaHeader))
	}

	client := anthropic.NewClient(sdkOpts...)
	return &LLM{
		Client:  &client,
		Options: options,
	}, nil
}

// GetName implements the Model interface.
func (o *LLM) GetName() string {
	return o.Options.Model
}

// GetProviderType implements the Model interface.
func (o *LLM) GetProviderType() llms.ProviderType {
	return llms.ProviderAnthropic
}

// GenerateContent implements the Model interface.
// Text blocks and tool_use blocks of the reply are folded into a single choice.
func (o *LLM) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.NewCallOptions(llms.CallOptions{Model: o.Options.Model}, options...)

	params, err := BuildParams(messages, opts)
	if err != nil {
		return nil, err
	}

	if opts.StreamingFunc != nil {
		return o.generateStreaming(ctx, params, opts.StreamingFunc)
	}

	result, err := o.Client.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.Wrap(err, "anthropic: failed to create message")
	}

	choice := &llms.ContentChoice{
		StopReason: string(result.StopReason),
		GenerationInfo: map[string]any{
			"InputTokens":  result.Usage.InputTokens,
			"OutputTokens": result.Usage.OutputTokens,
			"TotalTokens":  result.Usage.InputTokens + result.Usage.OutputTokens,
			"ID":           result.ID,
		},
	}
	var text strings.Builder
	for _, contentBlock := range result.Content {
		switch content := contentBlock.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(content.Text)
		case anthropic.ToolUseBlock:
			argumentsJSON, err := json.Marshal(content.Input)
			if err != nil {
				return nil, errors.Wrap(err, "anthropic: failed to marshal tool use arguments")
			}
			choice.ToolCalls = append(choice.ToolCalls, llms.ToolCall{
				ID:   content.ID,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      content.Name,
					Arguments: string(argumentsJSON),
				},
			})
		}
	}
	choice.Content = text.String()

	if choice.Content == "" && len(choice.ToolCalls) == 0 {
		return nil, ErrEmptyResponse
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{choice}}, nil
}

// generateStreaming handles streaming responses from the Anthropic API.
// Text deltas are forwarded to streamingFunc, tool input is assembled
// from partial JSON deltas.
func (o *LLM) generateStreaming(ctx context.Context, params anthropic.MessageNewParams, streamingFunc func(context.Context, []byte) error) (*llms.ContentResponse, error) {
	stream := o.Client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var content strings.Builder
	var toolCalls []llms.ToolCall
	var currentToolCall *llms.ToolCall
	var stopReason string
	var inputTokens, outputTokens int64

	for stream.Next() {
		event := stream.Current()

		switch evt := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			inputTokens = evt.Message.Usage.InputTokens
		case anthropic.ContentBlockStartEvent:
			if block, ok := evt.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				currentToolCall = &llms.ToolCall{
					ID:   block.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name: block.Name,
					},
				}
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := evt.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				content.WriteString(delta.Text)
				if err := streamingFunc(ctx, []byte(delta.Text)); err != nil {
					return nil, errors.Wrap(err, "anthropic: streaming function error")
				}
			case anthropic.InputJSONDelta:
				if currentToolCall != nil {
					currentToolCall.FunctionCall.Arguments += delta.PartialJSON
				}
			}
		case anthropic.ContentBlockStopEvent:
			if currentToolCall != nil {
				if currentToolCall.FunctionCall.Arguments == "" {
					currentToolCall.FunctionCall.Arguments = "{}"
				}
				toolCalls = append(toolCalls, *currentToolCall)
				currentToolCall = nil
			}
		case anthropic.MessageDeltaEvent:
			stopReason = string(evt.Delta.StopReason)
			outputTokens = evt.Usage.OutputTokens
		}
	}

	if err := stream.Err(); err != nil {
		return nil, errors.Wrap(err, "anthropic: streaming error")
	}
	if content.Len() == 0 && len(toolCalls) == 0 {
		return nil, ErrEmptyResponse
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{
				Content:    content.String(),
				ToolCalls:  toolCalls,
				StopReason: stopReason,
				GenerationInfo: map[string]any{
					"InputTokens":  inputTokens,
					"OutputTokens": outputTokens,
					"TotalTokens":  inputTokens + outputTokens,
				},
			},
		},
	}, nil
}

// BuildParams converts the messages and call options to the SDK request.
func BuildParams(messages []llms.Message, opts *llms.CallOptions) (anthropic.MessageNewParams, error) {
	sdkMessages, systemPrompt, err := ProcessMessages(messages)
	if err != nil {
		return anthropic.MessageNewParams{}, errors.Wrap(err, "anthropic: failed to process messages")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(opts.Model),
		Messages:  sdkMessages,
		MaxTokens: values.NumbersCoalesce(int64(opts.MaxTokens), DefaultMaxTokens),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: systemPrompt,
			},
		}
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}
	if opts.TopP > 0 {
		params.TopP = anthropic.Float(opts.TopP)
	}
	if len(opts.StopWords) > 0 {
		params.StopSequences = opts.StopWords
	}
	if tools := ToTools(opts.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	return params, nil
}

// ToTools converts tool descriptors to Anthropic SDK tool parameters.
// Returns nil if no tools are provided.
func ToTools(tools []llms.Tool) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}

	sdkTools := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		if tool.Function == nil {
			continue
		}
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: "object",
		}
		if params := tool.Function.Parameters; params != nil {
			if params.Properties != nil {
				properties := make(map[string]any, params.Properties.Len())
				for pair := params.Properties.Oldest(); pair != nil; pair = pair.Next() {
					properties[pair.Key] = pair.Value
				}
				inputSchema.Properties = properties
			}
			if len(params.Required) > 0 {
				inputSchema.Required = params.Required
			}
		}

		sdkTools = append(sdkTools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Function.Name,
				Description: anthropic.String(tool.Function.Description),
				InputSchema: inputSchema,
			},
		})
	}
	if len(sdkTools) == 0 {
		return nil
	}
	return sdkTools
}

// ProcessMessages converts messages to Anthropic SDK message parameters.
// System messages are returned separately as the system prompt.
func ProcessMessages(messages []llms.Message) ([]anthropic.MessageParam, string, error) {
	chatMessages := make([]anthropic.MessageParam, 0, len(messages))
	systemPrompt := ""
	for _, msg := range messages {
		if len(msg.Parts) == 0 {
			continue
		}
		switch msg.Role {
		case llms.RoleSystem:
			content, err := HandleSystemMessage(msg)
			if err != nil {
				return nil, "", err
			}
			if systemPrompt != "" {
				systemPrompt += "\n" + content
			} else {
				systemPrompt = content
			}
		case llms.RoleUser:
			chatMessage, err := HandleHumanMessage(msg)
			if err != nil {
				return nil, "", err
			}
			chatMessages = append(chatMessages, chatMessage)
		case llms.RoleAssistant:
			chatMessage, err := HandleAIMessage(msg)
			if err != nil {
				return nil, "", err
			}
			chatMessages = append(chatMessages, chatMessage)
		case llms.RoleTool:
			chatMessage, err := HandleToolMessage(msg)
			if err != nil {
				return nil, "", err
			}
			chatMessages = append(chatMessages, chatMessage)
		default:
			return nil, "", errors.WithMessagef(ErrUnsupportedMessageType, "anthropic: %v", msg.Role)
		}
	}
	return chatMessages, systemPrompt, nil
}

// HandleSystemMessage extracts text content from system messages.
func HandleSystemMessage(msg llms.Message) (string, error) {
	if textContent, ok := msg.Parts[0].(llms.TextContent); ok {
		return textContent.Text, nil
	}
	return "", errors.WithMessagef(ErrInvalidContentType, "anthropic: for system message")
}

// HandleHumanMessage converts user messages to Anthropic user message format.
func HandleHumanMessage(msg llms.Message) (anthropic.MessageParam, error) {
	var contents []anthropic.ContentBlockParamUnion
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case llms.TextContent:
			contents = append(contents, anthropic.NewTextBlock(p.Text))
		default:
			return anthropic.MessageParam{}, errors.Errorf("anthropic: unsupported human message part type: %T", part)
		}
	}
	if len(contents) == 0 {
		return anthropic.MessageParam{}, errors.New("anthropic: no valid content in human message")
	}
	return anthropic.NewUserMessage(contents...), nil
}

// HandleAIMessage converts assistant messages, including tool calls,
// to Anthropic assistant message format.
func HandleAIMessage(msg llms.Message) (anthropic.MessageParam, error) {
	var contents []anthropic.ContentBlockParamUnion
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case llms.ToolCall:
			args := values.StringsCoalesce(p.Arguments(), "{}")
			var inputJSON json.RawMessage
			if err := json.Unmarshal([]byte(args), &inputJSON); err != nil {
				// the model produced invalid JSON, keep the conversation valid
				inputJSON = json.RawMessage(`{}`)
			}
			contents = append(contents, anthropic.NewToolUseBlock(p.ID, inputJSON, p.Name()))
		case llms.TextContent:
			if p.Text != "" {
				contents = append(contents, anthropic.NewTextBlock(p.Text))
			}
		default:
			return anthropic.MessageParam{}, errors.Errorf("anthropic: unsupported AI message part type: %T", part)
		}
	}
	if len(contents) == 0 {
		return anthropic.MessageParam{}, errors.New("anthropic: no valid content in AI message")
	}
	return anthropic.NewAssistantMessage(contents...), nil
}

// HandleToolMessage converts tool response messages to Anthropic user message format
// with tool result blocks.
func HandleToolMessage(msg llms.Message) (anthropic.MessageParam, error) {
	var contents []anthropic.ContentBlockParamUnion
	for _, part := range msg.Parts {
		toolCallResponse, ok := part.(llms.ToolCallResponse)
		if !ok {
			return anthropic.MessageParam{}, errors.WithMessagef(ErrInvalidContentType, "anthropic: for tool message part type: %T", part)
		}
		contents = append(contents, anthropic.NewToolResultBlock(
			toolCallResponse.ToolCallID,
			toolCallResponse.Content,
			false,
		))
	}
	if len(contents) == 0 {
		return anthropic.MessageParam{}, errors.New("anthropic: no valid content in tool message")
	}
	return anthropic.NewUserMessage(contents...), nil
}
