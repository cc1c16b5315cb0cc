// Package callbacks provides loop.Callback handlers.
package callbacks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/effective-security/actionai/loop"
	"github.com/effective-security/actionai/pkg/llms"
	"github.com/effective-security/actionai/pkg/llmutils"
	"github.com/effective-security/actionai/tools"
	"github.com/effective-security/xlog"
)

// ensure that the callbacks implement the correct interfaces
var (
	_ loop.Callback  = (*Noop)(nil)
	_ tools.Callback = (*Noop)(nil)
	_ loop.Callback  = (*Printer)(nil)
	_ loop.Callback  = (*PackageLogger)(nil)
	_ loop.Callback  = (*Fanout)(nil)
	_ loop.Callback  = (*Scratchpad)(nil)
)

// Mode defines the mode for callback printing
type Mode int

const (
	// ModeDefault is the default mode for callback printing
	ModeDefault Mode = iota
	// ModeVerbose is the verbose mode for callback printing
	ModeVerbose
)

// Fanout is a callback handler that forwards the events to multiple callbacks.
type Fanout struct {
	callbacks []loop.Callback
}

func NewFanout(callbacks ...loop.Callback) *Fanout {
	return &Fanout{callbacks: callbacks}
}

func (l *Fanout) Add(callback loop.Callback) {
	l.callbacks = append(l.callbacks, callback)
}

func (l *Fanout) OnLoopStart(ctx context.Context, model llms.Model, history []llms.Message) {
	for _, callback := range l.callbacks {
		callback.OnLoopStart(ctx, model, history)
	}
}

func (l *Fanout) OnLoopEnd(ctx context.Context, model llms.Model, res *loop.Result) {
	for _, callback := range l.callbacks {
		callback.OnLoopEnd(ctx, model, res)
	}
}

func (l *Fanout) OnLoopError(ctx context.Context, model llms.Model, failure *loop.Failure) {
	for _, callback := range l.callbacks {
		callback.OnLoopError(ctx, model, failure)
	}
}

func (l *Fanout) OnLLMCallStart(ctx context.Context, model llms.Model, messages []llms.Message) {
	for _, callback := range l.callbacks {
		callback.OnLLMCallStart(ctx, model, messages)
	}
}

func (l *Fanout) OnLLMCallEnd(ctx context.Context, model llms.Model, resp *llms.ContentResponse) {
	for _, callback := range l.callbacks {
		callback.OnLLMCallEnd(ctx, model, resp)
	}
}

func (l *Fanout) OnToolStart(ctx context.Context, tool tools.ITool, input string) {
	for _, callback := range l.callbacks {
		callback.OnToolStart(ctx, tool, input)
	}
}

func (l *Fanout) OnToolEnd(ctx context.Context, tool tools.ITool, input string, output string) {
	for _, callback := range l.callbacks {
		callback.OnToolEnd(ctx, tool, input, output)
	}
}

func (l *Fanout) OnToolError(ctx context.Context, tool tools.ITool, input string, err error) {
	for _, callback := range l.callbacks {
		callback.OnToolError(ctx, tool, input, err)
	}
}

func (l *Fanout) OnToolNotFound(ctx context.Context, name string) {
	for _, callback := range l.callbacks {
		callback.OnToolNotFound(ctx, name)
	}
}

// Noop does nothing.
type Noop struct{}

func NewNoop() *Noop {
	return &Noop{}
}

func (l *Noop) OnLoopStart(context.Context, llms.Model, []llms.Message)         {}
func (l *Noop) OnLoopEnd(context.Context, llms.Model, *loop.Result)             {}
func (l *Noop) OnLoopError(context.Context, llms.Model, *loop.Failure)          {}
func (l *Noop) OnLLMCallStart(context.Context, llms.Model, []llms.Message)      {}
func (l *Noop) OnLLMCallEnd(context.Context, llms.Model, *llms.ContentResponse) {}
func (l *Noop) OnToolStart(context.Context, tools.ITool, string)                {}
func (l *Noop) OnToolEnd(context.Context, tools.ITool, string, string)          {}
func (l *Noop) OnToolError(context.Context, tools.ITool, string, error)         {}
func (l *Noop) OnToolNotFound(context.Context, string)                          {}

// Printer is a callback handler that prints to the Writer.
type Printer struct {
	Out  io.Writer
	Mode Mode

	lock sync.Mutex
}

func NewPrinter(out io.Writer, mode Mode) *Printer {
	return &Printer{Out: out, Mode: mode}
}

func (l *Printer) OnLoopStart(_ context.Context, model llms.Model, history []llms.Message) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Loop Start: %s model, %d messages\n", model.GetName(), len(history))
}

func (l *Printer) OnLoopEnd(_ context.Context, model llms.Model, res *loop.Result) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Loop End: %s model, %d iterations, %d tool calls\n",
		model.GetName(), res.Iterations, res.Metadata.ToolCallCount)
	if l.Mode == ModeVerbose {
		fmt.Fprint(l.Out, llmutils.ToYAML(res.Metadata))
		if text := res.Text(); text != "" {
			fmt.Fprintln(l.Out, text)
		}
	}
}

func (l *Printer) OnLoopError(_ context.Context, model llms.Model, failure *loop.Failure) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Loop Error: %s model: %s\n", model.GetName(), failure.Error())
}

func (l *Printer) OnLLMCallStart(_ context.Context, model llms.Model, messages []llms.Message) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "LLM Call: %s model, %d messages\n", model.GetName(), len(messages))
	if l.Mode == ModeVerbose {
		llmutils.PrintMessages(l.Out, messages)
	}
}

func (l *Printer) OnLLMCallEnd(_ context.Context, model llms.Model, resp *llms.ContentResponse) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "LLM Call End: %s model, %d tool calls\n", model.GetName(), len(resp.ToolCalls()))
}

func (l *Printer) OnToolStart(_ context.Context, tool tools.ITool, input string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Start: %s\n", tool.Name())
	fmt.Fprintf(l.Out, "Input: %s\n", input)
}

func (l *Printer) OnToolEnd(_ context.Context, tool tools.ITool, _ string, output string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool End: %s\n", tool.Name())
	if l.Mode == ModeVerbose {
		if json.Valid([]byte(output)) {
			output = llmutils.JSONIndent(output)
		}
		fmt.Fprintf(l.Out, "Output: %s\n", output)
	}
}

func (l *Printer) OnToolError(_ context.Context, tool tools.ITool, _ string, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Error: %s: %s\n", tool.Name(), err.Error())
}

func (l *Printer) OnToolNotFound(_ context.Context, name string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Not Found: %s\n", name)
}

// PackageLogger is a callback handler that prints to the logger.
type PackageLogger struct {
	logger *xlog.PackageLogger
}

func NewPackageLogger(logger *xlog.PackageLogger) *PackageLogger {
	return &PackageLogger{logger: logger}
}

func (l *PackageLogger) OnLoopStart(ctx context.Context, model llms.Model, history []llms.Message) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "loop_start",
		"model", model.GetName(),
		"messages", len(history),
	)
}

func (l *PackageLogger) OnLoopEnd(ctx context.Context, model llms.Model, res *loop.Result) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "loop_end",
		"model", model.GetName(),
		"iterations", res.Iterations,
		"tool_calls", res.Metadata.ToolCallCount,
	)
}

func (l *PackageLogger) OnLoopError(ctx context.Context, model llms.Model, failure *loop.Failure) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "loop_error",
		"model", model.GetName(),
		"reason", failure.Reason,
		"tool", failure.Tool,
		"err", failure.Error(),
	)
}

func (l *PackageLogger) OnLLMCallStart(ctx context.Context, model llms.Model, messages []llms.Message) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "llm_call_start",
		"model", model.GetName(),
		"messages", len(messages),
	)
}

func (l *PackageLogger) OnLLMCallEnd(ctx context.Context, model llms.Model, resp *llms.ContentResponse) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "llm_call_end",
		"model", model.GetName(),
		"tool_calls", len(resp.ToolCalls()),
	)
}

func (l *PackageLogger) OnToolStart(ctx context.Context, tool tools.ITool, input string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_start",
		"tool", tool.Name(),
		"input", input,
	)
}

func (l *PackageLogger) OnToolEnd(ctx context.Context, tool tools.ITool, _ string, output string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_end",
		"tool", tool.Name(),
		"output", output,
	)
}

func (l *PackageLogger) OnToolError(ctx context.Context, tool tools.ITool, _ string, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "tool_error",
		"tool", tool.Name(),
		"err", err.Error(),
	)
}

func (l *PackageLogger) OnToolNotFound(ctx context.Context, name string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_not_found",
		"tool", name,
	)
}
