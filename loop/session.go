package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bububa/ljson"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/actionai/chatmodel"
	"github.com/effective-security/actionai/executor"
	"github.com/effective-security/actionai/pkg/llms"
	"github.com/effective-security/actionai/pkg/llmutils"
	"github.com/effective-security/actionai/pkg/metricskey"
	"github.com/effective-security/actionai/pkg/prompts"
	"github.com/effective-security/actionai/registry"
	"github.com/effective-security/actionai/tools"
	xslices "github.com/effective-security/x/slices"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

// session is the state of one run.
type session struct {
	cfg       *Config
	model     llms.Model
	modelName string
	reg       *registry.Registry
	callOpts  []llms.CallOption
	emit      emitFunc

	history []llms.Message
	// messages from this index are persisted in the store
	persistFrom int

	iterations int
	toolCalls  int
	results    []ToolResult
}

func newSession(ctx context.Context, model llms.Model, reg *registry.Registry, history []llms.Message, cfg *Config, emit emitFunc) (*session, *Failure) {
	s := &session{
		cfg:       cfg,
		model:     model,
		modelName: values.StringsCoalesce(cfg.Model, model.GetName()),
		reg:       reg,
		emit:      emit,
	}

	if cfg.SystemPrompt != "" {
		input := map[string]any{}
		maps.Copy(input, cfg.PromptInput)
		if reg != nil {
			input["tools"] = tools.GetDescriptions(reg.ITools()...)
		}
		msg, err := prompts.NewSystemMessagePromptTemplate(cfg.SystemPrompt, nil).FormatMessage(input)
		if err != nil {
			return nil, s.fail(ReasonLLMError, errors.WithMessage(err, "failed to format system prompt"))
		}
		s.history = append(s.history, msg)
	}

	if cfg.Store != nil && chatmodel.GetChatContext(ctx) != nil {
		prev := cfg.Store.Messages(ctx)
		logger.ContextKV(ctx, xlog.DEBUG,
			"status", "message_history",
			"messages", len(prev),
		)
		s.history = append(s.history, prev...)
	}
	s.persistFrom = len(s.history)
	s.history = append(s.history, history...)

	var extra []llms.CallOption
	if reg != nil && reg.Len() > 0 {
		if !model.GetProviderType().Supports(llms.CapabilityFunctionCalling) {
			return nil, s.fail(ReasonLLMError, errors.WithMessagef(ErrFunctionCallingNotSupported, "%s", s.modelName))
		}
		extra = append(extra, llms.WithTools(reg.Tools()))
	}
	s.callOpts = cfg.GetCallOptions(extra...)
	return s, nil
}

func (s *session) run(ctx context.Context) (*Result, *Failure) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, s.fail(ReasonCancelled, err)
		}
		if s.iterations >= s.cfg.MaxIterations {
			f := s.fail(ReasonMaxIterations, errors.WithMessagef(ErrMaxIterations, "%d", s.cfg.MaxIterations))
			f.Metadata.MaxIterationsReached = true
			return nil, f
		}

		resp, streamed, failure := s.generate(ctx)
		if failure != nil {
			return nil, failure
		}

		text := resp.Text()
		if !streamed && text != "" {
			s.send(Event{Type: EventText, Text: text})
		}

		calls := resp.ToolCalls()
		if len(calls) == 0 {
			msg := llms.MessageFromTextParts(llms.RoleAssistant, text)
			s.history = append(s.history, msg)
			return s.done(ctx, msg, resp), nil
		}

		calls, failure = s.prepareCalls(ctx, calls)
		if failure != nil {
			return nil, failure
		}
		s.history = append(s.history, llms.MessageFromToolCalls(llms.RoleAssistant, text, calls...))

		if failure = s.executeTools(ctx, calls); failure != nil {
			return nil, failure
		}
	}
}

// generate calls the model bounded by the timeout.
// The call is abandoned on timeout or cancellation.
func (s *session) generate(ctx context.Context) (*llms.ContentResponse, bool, *Failure) {
	cb := s.cfg.Callback
	messages := slices.Clone(s.history)

	if cb != nil {
		cb.OnLLMCallStart(ctx, s.model, messages)
	}

	bytesSent := llmutils.CountMessagesContentSize(messages)
	metricskey.StatsLLMMessagesSent.IncrCounter(float64(len(messages)), s.modelName)
	metricskey.StatsLLMBytesSent.IncrCounter(float64(bytesSent), s.modelName)

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var streamed atomic.Bool
	opts := s.callOpts
	if s.emit != nil {
		opts = append(slices.Clone(opts), llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if err := callCtx.Err(); err != nil {
				return err
			}
			if len(chunk) == 0 {
				return nil
			}
			streamed.Store(true)
			if !s.send(Event{Type: EventText, Text: string(chunk)}) {
				return errStreamClosed
			}
			return nil
		}))
	}

	type result struct {
		resp *llms.ContentResponse
		err  error
	}
	ch := make(chan result, 1)

	started := time.Now()
	s.iterations++
	go func() {
		resp, err := s.model.GenerateContent(callCtx, messages, opts...)
		ch <- result{resp: resp, err: err}
	}()

	var r result
	select {
	case r = <-ch:
	case <-callCtx.Done():
		r.err = callCtx.Err()
	}
	metricskey.PerfLLMCall.MeasureSince(started, s.modelName)

	if r.err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, false, s.fail(ReasonCancelled, ctx.Err())
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			return nil, false, s.fail(ReasonTimeout, errors.WithMessagef(ErrTimeout, "after %s", s.cfg.Timeout))
		default:
			return nil, false, s.fail(ReasonLLMError, errors.WithMessage(r.err, "failed to generate content"))
		}
	}
	if r.resp == nil || len(r.resp.Choices) == 0 {
		return nil, false, s.fail(ReasonLLMError, ErrEmptyResponse)
	}

	if cb != nil {
		cb.OnLLMCallEnd(ctx, s.model, r.resp)
	}

	bytesReceived := llmutils.CountResponseContentSize(r.resp)
	metricskey.StatsLLMBytesReceived.IncrCounter(float64(bytesReceived), s.modelName)
	metricskey.StatsLLMBytesTotal.IncrCounter(float64(bytesSent+bytesReceived), s.modelName)

	tokensIn, tokensOut, tokensTotal := llmutils.CountTokens(r.resp)
	metricskey.StatsLLMInputTokens.IncrCounter(float64(tokensIn), s.modelName)
	metricskey.StatsLLMOutputTokens.IncrCounter(float64(tokensOut), s.modelName)
	metricskey.StatsLLMTotalTokens.IncrCounter(float64(tokensTotal), s.modelName)

	return r.resp, streamed.Load(), nil
}

// prepareCalls assigns missing IDs and checks the arguments of the tool calls.
func (s *session) prepareCalls(ctx context.Context, calls []llms.ToolCall) ([]llms.ToolCall, *Failure) {
	list := make([]llms.ToolCall, 0, len(calls))
	for i, tc := range calls {
		fc := &llms.FunctionCall{}
		if tc.FunctionCall != nil {
			*fc = *tc.FunctionCall
		}
		tc.FunctionCall = fc
		if tc.ID == "" {
			tc.ID = fmt.Sprintf("%s_%d", fc.Name, i)
		}
		tc.Type = values.StringsCoalesce(tc.Type, "function")

		if raw := fc.Arguments; raw != "" && raw != "null" && !json.Valid([]byte(raw)) {
			switch {
			case s.cfg.StrictArguments:
				f := s.fail(ReasonInvalidToolArguments, errors.WithMessagef(ErrInvalidToolArguments, "%s", xslices.StringUpto(raw, 64)))
				f.Tool = fc.Name
				return nil, f
			case s.cfg.LenientArguments:
				if repaired, ok := repairArguments(raw); ok {
					metricskey.StatsToolArgumentsRepaired.IncrCounter(1, fc.Name)
					logger.ContextKV(ctx, xlog.DEBUG,
						"status", "arguments_repaired",
						"tool", fc.Name,
						"args", xslices.StringUpto(raw, 64),
					)
					fc.Arguments = repaired
				}
			}
		}
		list = append(list, tc)
	}
	return list, nil
}

// repairArguments decodes malformed JSON leniently and encodes it back.
func repairArguments(raw string) (string, bool) {
	args := map[string]any{}
	if err := ljson.Unmarshal(llmutils.CleanJSON([]byte(raw)), &args); err != nil {
		return "", false
	}
	js, err := json.Marshal(args)
	if err != nil {
		return "", false
	}
	return string(js), true
}

// executeTools runs the tool calls and appends their results to the history.
func (s *session) executeTools(ctx context.Context, calls []llms.ToolCall) *Failure {
	resolved := make([]*registry.Tool, len(calls))
	for i, tc := range calls {
		name := tc.Name()
		var t *registry.Tool
		ok := false
		if s.reg != nil {
			t, ok = s.reg.Lookup(name)
		}
		if !ok {
			metricskey.StatsToolCallsNotFound.IncrCounter(1, name)
			if s.cfg.Callback != nil {
				s.cfg.Callback.OnToolNotFound(ctx, name)
			}
			var available []string
			if s.reg != nil {
				available = s.reg.Names()
			}
			logger.ContextKV(ctx, xlog.WARNING,
				"status", "tool_not_found",
				"tool", name,
				"available_tools", available,
			)
			f := s.fail(ReasonUnknownTool, errors.WithMessagef(ErrUnknownTool, "%q", name))
			f.Tool = name
			return f
		}
		resolved[i] = t
	}

	for i := range calls {
		s.send(Event{Type: EventToolCall, ToolCall: &calls[i]})
	}

	if s.cfg.ParallelTools && len(calls) > 1 {
		return s.record(ctx, s.callParallel(ctx, resolved, calls))
	}

	for i, tc := range calls {
		if f := s.record(ctx, []ToolResult{s.callTool(ctx, resolved[i], tc)}); f != nil {
			return f
		}
	}
	return nil
}

// callParallel runs the calls concurrently, results are in the order of calls.
func (s *session) callParallel(ctx context.Context, resolved []*registry.Tool, calls []llms.ToolCall) []ToolResult {
	type indexed struct {
		index  int
		result ToolResult
	}
	resultChan := make(chan indexed, len(calls))

	var wg sync.WaitGroup
	wg.Add(len(calls))
	for i, tc := range calls {
		go func(index int, tc llms.ToolCall) {
			defer wg.Done()
			resultChan <- indexed{index: index, result: s.callTool(ctx, resolved[index], tc)}
		}(i, tc)
	}
	wg.Wait()
	close(resultChan)

	results := make([]ToolResult, len(calls))
	for r := range resultChan {
		results[r.index] = r.result
	}
	return results
}

// record appends the results to the history, in order,
// and applies the tool error policy.
func (s *session) record(ctx context.Context, results []ToolResult) *Failure {
	for _, r := range results {
		s.toolCalls++
		s.results = append(s.results, r)
		s.send(Event{Type: EventToolResult, ToolResult: &r})

		if !r.OK && s.cfg.ToolErrorPolicy.mode != policyContinue {
			logger.ContextKV(ctx, xlog.DEBUG,
				"status", "tool_failed",
				"tool", r.Name,
				"tool_call_id", r.ID,
				"attempts", r.Attempts,
			)
			f := s.fail(ReasonToolError, errors.WithMessagef(ErrToolFailed, "%s", r.Name))
			f.Tool = r.Name
			f.Output = r.Output
			return f
		}

		s.history = append(s.history, llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{
			ToolCallID: r.ID,
			Name:       r.Name,
			Content:    r.Output,
		}))
	}
	return nil
}

// callTool executes the call, retrying provider faults per the policy.
func (s *session) callTool(ctx context.Context, t *registry.Tool, tc llms.ToolCall) ToolResult {
	cb := s.cfg.Callback
	name := t.Name()
	args := tc.Arguments()

	var res executor.Result
	attempts := 0
	for {
		attempts++
		if cb != nil {
			cb.OnToolStart(ctx, t, args)
		}

		started := time.Now()
		res = t.RunJSON(ctx, args)
		metricskey.PerfToolCall.MeasureSince(started, name)

		if res.OK {
			metricskey.StatsToolCallsSucceeded.IncrCounter(1, name)
			if cb != nil {
				cb.OnToolEnd(ctx, t, args, res.JSON)
			}
			break
		}

		metricskey.StatsToolCallsFailed.IncrCounter(1, name)
		if cb != nil {
			err := res.Err
			if err == nil {
				err = ErrToolFailed
			}
			cb.OnToolError(ctx, t, args, err)
		}

		if attempts > s.cfg.ToolErrorPolicy.Retries() || !retryable(res) || ctx.Err() != nil {
			break
		}
		metricskey.StatsToolCallsRetried.IncrCounter(1, name)
		logger.ContextKV(ctx, xlog.DEBUG,
			"status", "retry_tool",
			"tool", name,
			"attempt", attempts,
		)
	}

	return ToolResult{
		ID:        tc.ID,
		Name:      name,
		Arguments: args,
		OK:        res.OK,
		Output:    res.JSON,
		Attempts:  attempts,
		Raw:       res.Raw,
	}
}

// retryable returns true for unexpected provider faults.
func retryable(res executor.Result) bool {
	env := res.Envelope()
	return env != nil && env.Status() >= 500
}

func (s *session) done(ctx context.Context, msg llms.Message, resp *llms.ContentResponse) *Result {
	res := &Result{
		Message:    msg,
		Iterations: s.iterations,
		Metadata: Metadata{
			ToolCallCount: s.toolCalls,
		},
		Response: resp,
	}
	if s.cfg.ReturnHistory {
		res.History = slices.Clone(s.history)
	}
	if s.cfg.ReturnToolResults {
		res.ToolResults = slices.Clone(s.results)
	}

	if s.cfg.Store != nil && chatmodel.GetChatContext(ctx) != nil {
		if err := s.cfg.Store.Add(ctx, s.history[s.persistFrom:]...); err != nil {
			logger.ContextKV(ctx, xlog.WARNING,
				"status", "failed_to_store_messages",
				"err", err.Error(),
			)
		}
	}
	return res
}

func (s *session) fail(reason Reason, err error) *Failure {
	return &Failure{
		Reason:     reason,
		Err:        err,
		Iterations: s.iterations,
		Metadata: Metadata{
			ToolCallCount: s.toolCalls,
		},
		History: slices.Clone(s.history),
	}
}

// send emits the event when streaming, returns false when the consumer is gone.
func (s *session) send(ev Event) bool {
	if s.emit == nil {
		return true
	}
	return s.emit(ev)
}
