package openai

import (
	"context"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/actionai/pkg/llms"
	"github.com/effective-security/actionai/pkg/schema"
	"github.com/effective-security/x/values"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"
	"github.com/openai/openai-go/v3/shared"
)

var (
	ErrEmptyResponse      = errors.New("openai: no response")
	ErrMissingToken       = errors.New("openai: missing API key, set it in the OPENAI_API_KEY environment variable")
	ErrInvalidContentType = errors.New("openai: invalid content type")
)

// chatCompletions is the subset of the SDK chat completions service used by LLM.
type chatCompletions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// LLM is a chat model served by an OpenAI compatible API.
type LLM struct {
	completions chatCompletions
	model       string
	provider    llms.ProviderType
}

var _ llms.Model = (*LLM)(nil)

// New returns a new OpenAI LLM.
func New(opts ...Option) (*LLM, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	if options.token == "" {
		return nil, ErrMissingToken
	}
	model := values.StringsCoalesce(options.model, DefaultModel)

	completions := options.completions
	if completions == nil {
		reqOpts := []option.RequestOption{
			option.WithAPIKey(options.token),
			option.WithMaxRetries(options.maxRetries),
		}
		if options.baseURL != "" {
			reqOpts = append(reqOpts, option.WithBaseURL(options.baseURL))
		}
		if options.organization != "" {
			reqOpts = append(reqOpts, option.WithOrganization(options.organization))
		}
		if options.httpClient != nil {
			reqOpts = append(reqOpts, option.WithHTTPClient(options.httpClient))
		}
		if options.provider == llms.ProviderAzure {
			if options.baseURL == "" {
				return nil, errors.New("openai: base URL is required for Azure")
			}
			reqOpts = append(reqOpts,
				option.WithHeader("api-key", options.token),
				option.WithQuery("api-version", values.StringsCoalesce(options.apiVersion, DefaultAPIVersion)),
			)
		}

		client := openai.NewClient(reqOpts...)
		completions = &client.Chat.Completions
	}

	return &LLM{
		completions: completions,
		model:       model,
		provider:    options.provider,
	}, nil
}

// GetProviderType implements the Model interface.
func (o *LLM) GetProviderType() llms.ProviderType {
	return o.provider
}

// GetName implements the Model interface.
func (o *LLM) GetName() string {
	return o.model
}

// GenerateContent implements the Model interface.
func (o *LLM) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.NewCallOptions(llms.CallOptions{Model: o.model}, options...)

	params, err := BuildParams(messages, opts)
	if err != nil {
		return nil, err
	}

	var reqOpts []option.RequestOption
	if len(opts.StopWords) > 0 {
		reqOpts = append(reqOpts, option.WithJSONSet("stop", opts.StopWords))
	}

	if opts.StreamingFunc != nil {
		return o.generateStreaming(ctx, params, opts.StreamingFunc, reqOpts...)
	}

	completion, err := o.completions.New(ctx, params, reqOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "openai: failed to create chat completion")
	}
	return ToContentResponse(completion)
}

func (o *LLM) generateStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	streamingFunc func(context.Context, []byte) error,
	reqOpts ...option.RequestOption,
) (*llms.ContentResponse, error) {
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	stream := o.completions.NewStreaming(ctx, params, reqOpts...)
	if stream == nil {
		return nil, errors.New("openai: stream not available")
	}
	defer stream.Close()

	var (
		content      strings.Builder
		calls        = make(map[int64]*llms.ToolCall)
		finishReason string
		usage        openai.CompletionUsage
	)

	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.TotalTokens > 0 {
			usage = chunk.Usage
		}

		for _, choice := range chunk.Choices {
			if choice.FinishReason != "" {
				finishReason = string(choice.FinishReason)
			}
			delta := choice.Delta
			if delta.Content != "" {
				content.WriteString(delta.Content)
				if err := streamingFunc(ctx, []byte(delta.Content)); err != nil {
					return nil, errors.Wrap(err, "openai: streaming function error")
				}
			}
			for _, tc := range delta.ToolCalls {
				acc, ok := calls[tc.Index]
				if !ok {
					acc = &llms.ToolCall{Type: "function", FunctionCall: &llms.FunctionCall{}}
					calls[tc.Index] = acc
				}
				if tc.ID != "" {
					acc.ID = tc.ID
				}
				if tc.Function.Name != "" {
					acc.FunctionCall.Name = tc.Function.Name
				}
				acc.FunctionCall.Arguments += tc.Function.Arguments
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, errors.Wrap(err, "openai: streaming error")
	}

	indices := make([]int64, 0, len(calls))
	for idx := range calls {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	choice := &llms.ContentChoice{
		Content:        content.String(),
		StopReason:     finishReason,
		GenerationInfo: usageInfo(usage),
	}
	for _, idx := range indices {
		tc := calls[idx]
		if tc.ID == "" || tc.FunctionCall.Name == "" {
			continue
		}
		if tc.FunctionCall.Arguments == "" {
			tc.FunctionCall.Arguments = "{}"
		}
		choice.ToolCalls = append(choice.ToolCalls, *tc)
	}

	if choice.Content == "" && len(choice.ToolCalls) == 0 {
		return nil, ErrEmptyResponse
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{choice}}, nil
}

// ToContentResponse converts the SDK completion, one choice per completion choice.
func ToContentResponse(completion *openai.ChatCompletion) (*llms.ContentResponse, error) {
	if completion == nil || len(completion.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	resp := &llms.ContentResponse{
		Choices: make([]*llms.ContentChoice, 0, len(completion.Choices)),
	}
	for _, c := range completion.Choices {
		choice := &llms.ContentChoice{
			Content:        c.Message.Content,
			StopReason:     string(c.FinishReason),
			GenerationInfo: usageInfo(completion.Usage),
		}
		choice.GenerationInfo["ID"] = completion.ID
		for _, tc := range c.Message.ToolCalls {
			if tc.Type != "" && tc.Type != "function" {
				continue
			}
			choice.ToolCalls = append(choice.ToolCalls, llms.ToolCall{
				ID:   tc.ID,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		resp.Choices = append(resp.Choices, choice)
	}
	return resp, nil
}

func usageInfo(usage openai.CompletionUsage) map[string]any {
	return map[string]any{
		"InputTokens":  usage.PromptTokens,
		"OutputTokens": usage.CompletionTokens,
		"TotalTokens":  usage.TotalTokens,
	}
}

// BuildParams converts the messages and call options to the SDK request.
func BuildParams(messages []llms.Message, opts *llms.CallOptions) (openai.ChatCompletionNewParams, error) {
	msgs, err := ToMessages(messages)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(opts.Model),
		Messages: msgs,
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.TopP > 0 {
		params.TopP = openai.Float(opts.TopP)
	}
	if opts.Seed != 0 {
		params.Seed = openai.Int(int64(opts.Seed))
	}

	tools, err := ToTools(opts.Tools)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}
	if len(tools) > 0 {
		params.Tools = tools
		if choice, ok := opts.ToolChoice.(string); ok && choice != "" {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
				OfAuto: openai.String(choice),
			}
		}
	}
	return params, nil
}

// ToTools converts tool descriptors to SDK function tools.
func ToTools(tools []llms.Tool) ([]openai.ChatCompletionToolUnionParam, error) {
	var result []openai.ChatCompletionToolUnionParam
	for _, tool := range tools {
		if tool.Function == nil || tool.Function.Name == "" {
			continue
		}

		params, err := schema.ToMap(tool.Function.Parameters)
		if err != nil {
			return nil, errors.WithMessagef(err, "openai: invalid parameters for tool %q", tool.Function.Name)
		}
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}

		fn := shared.FunctionDefinitionParam{
			Name:       tool.Function.Name,
			Parameters: shared.FunctionParameters(params),
		}
		if tool.Function.Description != "" {
			fn.Description = openai.String(tool.Function.Description)
		}
		if tool.Function.Strict {
			fn.Strict = openai.Bool(true)
		}
		result = append(result, openai.ChatCompletionFunctionTool(fn))
	}
	return result, nil
}

// ToMessages converts the conversation to SDK message parameters.
// A tool message yields one SDK message per tool response part.
func ToMessages(messages []llms.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		if len(msg.Parts) == 0 {
			continue
		}
		switch msg.Role {
		case llms.RoleSystem:
			result = append(result, openai.SystemMessage(msg.GetText()))
		case llms.RoleUser:
			result = append(result, openai.UserMessage(msg.GetText()))
		case llms.RoleAssistant:
			m, err := assistantMessage(msg)
			if err != nil {
				return nil, err
			}
			result = append(result, m)
		case llms.RoleTool:
			for _, part := range msg.Parts {
				resp, ok := part.(llms.ToolCallResponse)
				if !ok {
					return nil, errors.WithMessagef(ErrInvalidContentType, "openai: for tool message part type: %T", part)
				}
				result = append(result, openai.ToolMessage(resp.Content, resp.ToolCallID))
			}
		default:
			return nil, errors.WithMessagef(llms.ErrUnexpectedRole, "openai: %q", string(msg.Role))
		}
	}
	return result, nil
}

func assistantMessage(msg llms.Message) (openai.ChatCompletionMessageParamUnion, error) {
	param := openai.ChatCompletionAssistantMessageParam{}
	if text := msg.GetText(); text != "" {
		param.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: openai.String(text),
		}
	}
	for _, call := range msg.GetToolCalls() {
		param.ToolCalls = append(param.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: call.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      call.Name(),
					Arguments: values.StringsCoalesce(call.Arguments(), "{}"),
				},
			},
		})
	}
	if msg.GetText() == "" && len(param.ToolCalls) == 0 {
		return openai.ChatCompletionMessageParamUnion{}, errors.New("openai: no valid content in assistant message")
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &param}, nil
}
