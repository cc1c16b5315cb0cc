// Package loop drives the conversation between an LLM and the tools of a registry.
//
// A run alternates between calling the model with the message history and
// executing the tool calls of the response, until the model answers without
// tool calls or the run fails.
package loop

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/actionai/pkg/llms"
	"github.com/effective-security/actionai/pkg/metricskey"
	"github.com/effective-security/actionai/registry"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/actionai", "loop")

// Reason is the reason of a failed run.
type Reason string

const (
	ReasonMaxIterations        Reason = "max_iterations_reached"
	ReasonTimeout              Reason = "timeout"
	ReasonLLMError             Reason = "llm_error"
	ReasonUnknownTool          Reason = "unknown_tool"
	ReasonToolError            Reason = "tool_error"
	ReasonInvalidToolArguments Reason = "invalid_tool_arguments"
	ReasonCancelled            Reason = "cancelled"
)

var (
	ErrMaxIterations               = errors.New("maximum iterations reached")
	ErrTimeout                     = errors.New("model call timed out")
	ErrEmptyResponse               = errors.New("model returned empty response")
	ErrFunctionCallingNotSupported = errors.New("model does not support function calling")
	ErrUnknownTool                 = errors.New("unknown tool")
	ErrToolFailed                  = errors.New("tool call failed")
	ErrInvalidToolArguments        = errors.New("invalid tool arguments")

	errStreamClosed = errors.New("stream closed")
)

// Metadata of a run.
type Metadata struct {
	ToolCallCount        int  `json:"tool_call_count" yaml:"tool_call_count"`
	MaxIterationsReached bool `json:"max_iterations_reached" yaml:"max_iterations_reached"`
}

// ToolResult is the outcome of one tool call.
type ToolResult struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	OK        bool   `json:"ok"`
	// Output is the result JSON, or the error envelope when not OK.
	Output   string `json:"output"`
	Attempts int    `json:"attempts"`

	// Raw is the native value of a successful call.
	Raw any `json:"-"`
}

// Result of a successful run.
type Result struct {
	// Message is the final assistant message.
	Message    llms.Message `json:"message"`
	Iterations int          `json:"iterations"`
	Metadata   Metadata     `json:"metadata"`
	// History is set with WithReturnHistory.
	History []llms.Message `json:"history,omitempty"`
	// ToolResults is set with WithReturnToolResults.
	ToolResults []ToolResult `json:"tool_results,omitempty"`

	// Response is the last model response.
	Response *llms.ContentResponse `json:"-"`
}

// Text returns the text of the final message.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}
	return r.Message.GetText()
}

// Failure is the error of a failed run.
type Failure struct {
	Reason     Reason
	Err        error
	Iterations int
	Metadata   Metadata
	// Tool is the name of the tool for unknown_tool, tool_error
	// and invalid_tool_arguments reasons.
	Tool string
	// Output is the error envelope of the failed tool call.
	Output  string
	History []llms.Message
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("loop failed: %s", f.Reason)
	if f.Tool != "" {
		msg += ": " + f.Tool
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// AsFailure returns the Failure from the error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// Run runs the conversation until the model answers without tool calls.
// The registry may be nil for a conversation without tools.
// The returned error is a *Failure.
func Run(ctx context.Context, model llms.Model, reg *registry.Registry, history []llms.Message, opts ...Option) (*Result, error) {
	cfg := NewConfig(opts...)
	res, failure := run(ctx, model, reg, history, cfg, nil)
	if failure != nil {
		return nil, failure
	}
	return res, nil
}

func run(ctx context.Context, model llms.Model, reg *registry.Registry, history []llms.Message, cfg *Config, emit emitFunc) (*Result, *Failure) {
	if model == nil {
		return nil, &Failure{Reason: ReasonLLMError, Err: errors.New("model is required")}
	}

	modelName := values.StringsCoalesce(cfg.Model, model.GetName())
	started := time.Now()
	defer metricskey.PerfLoopRun.MeasureSince(started, modelName)

	cb := cfg.Callback
	if cb != nil {
		cb.OnLoopStart(ctx, model, history)
	}

	s, failure := newSession(ctx, model, reg, history, cfg, emit)
	if failure == nil {
		var res *Result
		res, failure = s.run(ctx)
		if failure == nil {
			metricskey.StatsLoopRunsSucceeded.IncrCounter(1, modelName)
			logger.ContextKV(ctx, xlog.DEBUG,
				"status", "done",
				"model", modelName,
				"iterations", res.Iterations,
				"tool_calls", res.Metadata.ToolCallCount,
			)
			if cb != nil {
				cb.OnLoopEnd(ctx, model, res)
			}
			return res, nil
		}
	}

	metricskey.StatsLoopRunsFailed.IncrCounter(1, modelName, string(failure.Reason))
	kv := []any{
		"status", "failed",
		"model", modelName,
		"reason", failure.Reason,
		"iterations", failure.Iterations,
	}
	if failure.Err != nil {
		kv = append(kv, "err", failure.Err.Error())
	}
	logger.ContextKV(ctx, xlog.DEBUG, kv...)
	if cb != nil {
		cb.OnLoopError(ctx, model, failure)
	}
	return nil, failure
}
