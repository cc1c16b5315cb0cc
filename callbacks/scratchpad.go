package callbacks

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/effective-security/actionai/chatmodel"
	"github.com/effective-security/actionai/loop"
	"github.com/effective-security/actionai/pkg/llms"
	"github.com/effective-security/actionai/pkg/llmutils"
	"github.com/effective-security/actionai/tools"
)

var TimeNowFn = time.Now

type RunStats struct {
	ChatID string
	RunID  string

	Duration            time.Duration
	TotalMessages       uint32
	LLMBytesOut         uint64
	LLMBytesIn          uint64
	LLMInputTokens      uint64
	LLMOutputTokens     uint64
	LLMTotalTokens      uint64
	LoopRuns            uint32
	LoopRunsSucceeded   uint32
	LoopRunsFailed      uint32
	Iterations          uint32
	LLMCalls            uint32
	ToolsCalls          uint32
	ToolsCallsSucceeded uint32
	ToolsCallsFailed    uint32
	ToolNotFound        uint32
}

// Scratchpad collects a transcript and stats of the loop runs of a chat.
// Events of a chat without StartRun are ignored.
type Scratchpad struct {
	runs map[string]*run
	mode Mode
	lock sync.Mutex
}

func NewScratchpad(mode Mode) *Scratchpad {
	return &Scratchpad{
		runs: make(map[string]*run),
		mode: mode,
	}
}

// StartRun starts recording the chat of the ChatContext in ctx.
func (l *Scratchpad) StartRun(ctx context.Context) {
	chatCtx := chatmodel.GetChatContext(ctx)
	if chatCtx == nil {
		return
	}

	r := &run{
		stats: RunStats{
			ChatID: chatCtx.GetChatID(),
			RunID:  chatCtx.RunID(),
		},
		chatCtx: chatCtx,
		started: time.Now(),
	}

	l.lock.Lock()
	l.runs[chatCtx.GetChatID()] = r
	l.lock.Unlock()

	r.print("*** Run Started ***")
}

// EndRun stops recording and returns the stats and the transcript.
func (l *Scratchpad) EndRun(ctx context.Context) (*RunStats, []byte) {
	run := l.getRun(ctx)
	if run == nil {
		return nil, nil
	}

	stats := run.snapshot()
	stats.Duration = time.Since(run.started)

	run.print(fmt.Sprintf("Loop runs: %d, Failed: %d, Iterations: %d",
		stats.LoopRuns,
		stats.LoopRunsFailed,
		stats.Iterations,
	))
	run.print(fmt.Sprintf("Tool calls: %d, Failed: %d, Not Found: %d",
		stats.ToolsCalls,
		stats.ToolsCallsFailed,
		stats.ToolNotFound,
	))
	run.print(fmt.Sprintf("LLM calls: %d, Messages: %d, Bytes Out: %d, Bytes In: %d, Bytes Total: %d, Input Tokens: %d, Output Tokens: %d, Total Tokens: %d",
		stats.LLMCalls,
		stats.TotalMessages,
		stats.LLMBytesOut,
		stats.LLMBytesIn,
		stats.LLMBytesOut+stats.LLMBytesIn,
		stats.LLMInputTokens,
		stats.LLMOutputTokens,
		stats.LLMTotalTokens,
	))

	run.print(fmt.Sprintf("*** Run Ended. Duration: %s ***", stats.Duration))

	l.lock.Lock()
	delete(l.runs, run.chatCtx.GetChatID())
	l.lock.Unlock()

	return &stats, run.bytes()
}

func (l *Scratchpad) getRun(ctx context.Context) *run {
	chatCtx := chatmodel.GetChatContext(ctx)
	if chatCtx == nil {
		return nil
	}

	l.lock.Lock()
	defer l.lock.Unlock()
	return l.runs[chatCtx.GetChatID()]
}

func (l *Scratchpad) OnLoopStart(ctx context.Context, model llms.Model, history []llms.Message) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.LoopRuns, 1)
	run.print(model.GetName(), "*** Loop Start ***", fmt.Sprintf("%d messages", len(history)))
}

func (l *Scratchpad) OnLoopEnd(ctx context.Context, model llms.Model, res *loop.Result) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.LoopRunsSucceeded, 1)
	atomic.AddUint32(&run.stats.Iterations, uint32(res.Iterations))

	if l.mode == ModeVerbose {
		run.print(model.GetName(), "Output:", res.Text())
		if len(res.History) > 0 {
			run.print(model.GetName(), printMessages(res.History))
		}
	}
	run.print(model.GetName(), "*** Loop End ***", fmt.Sprintf("%d iterations, %d tool calls", res.Iterations, res.Metadata.ToolCallCount))
}

func (l *Scratchpad) OnLoopError(ctx context.Context, model llms.Model, failure *loop.Failure) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.LoopRunsFailed, 1)
	atomic.AddUint32(&run.stats.Iterations, uint32(failure.Iterations))
	run.print(model.GetName(), "*** Error ***", failure.Error())
	if l.mode == ModeVerbose {
		run.print(model.GetName(), printMessages(failure.History))
	}
}

func printMessages(messages []llms.Message) string {
	var buf strings.Builder
	buf.WriteString("Messages:\n")
	for idx, msg := range messages {
		fmt.Fprintf(&buf, "[%d] %s:\n", idx, msg.Role)
		textParts := 0
		toolParts := 0
		toolResponseParts := 0
		for _, part := range msg.Parts {
			switch typ := part.(type) {
			case llms.TextContent:
				textParts++
			case llms.ToolCall:
				toolParts++
				buf.WriteString("  - ")
				buf.WriteString(typ.String())
				buf.WriteString("\n")
			case llms.ToolCallResponse:
				toolResponseParts++
				buf.WriteString("  - ")
				buf.WriteString(typ.String())
				buf.WriteString("\n")
			}
		}

		fmt.Fprintf(&buf, "  - %d texts, %d tool calls, %d tool responses\n", textParts, toolParts, toolResponseParts)
	}
	return buf.String()
}

func (l *Scratchpad) OnLLMCallStart(ctx context.Context, model llms.Model, messages []llms.Message) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}

	atomic.AddUint64(&run.stats.LLMBytesOut, llmutils.CountMessagesContentSize(messages))
	atomic.AddUint32(&run.stats.LLMCalls, 1)
	count := uint32(len(messages))
	atomic.AddUint32(&run.stats.TotalMessages, count)

	run.print(model.GetName(), "*** LLM Call ***", fmt.Sprintf("%d messages", count))
	if l.mode == ModeVerbose {
		run.print(model.GetName(), printMessages(messages))
	}
}

func (l *Scratchpad) OnLLMCallEnd(ctx context.Context, model llms.Model, resp *llms.ContentResponse) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}

	atomic.AddUint64(&run.stats.LLMBytesIn, llmutils.CountResponseContentSize(resp))
	tokensIn, tokensOut, tokensTotal := llmutils.CountTokens(resp)
	atomic.AddUint64(&run.stats.LLMInputTokens, uint64(tokensIn))
	atomic.AddUint64(&run.stats.LLMOutputTokens, uint64(tokensOut))
	atomic.AddUint64(&run.stats.LLMTotalTokens, uint64(tokensTotal))

	run.print(model.GetName(), "*** LLM Call End ***", fmt.Sprintf("%d tool calls, %d input tokens, %d output tokens, %d total tokens",
		len(resp.ToolCalls()), tokensIn, tokensOut, tokensTotal))
}

func (l *Scratchpad) OnToolStart(ctx context.Context, tool tools.ITool, input string) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolsCalls, 1)
	run.print(tool.Name(), "*** Tool Start ***")
	run.print(tool.Name(), "Input:", input)
}

func (l *Scratchpad) OnToolEnd(ctx context.Context, tool tools.ITool, _ string, output string) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolsCallsSucceeded, 1)
	if l.mode == ModeVerbose {
		run.print(tool.Name(), "Output:", output)
	}
	run.print(tool.Name(), "*** Tool End ***")
}

func (l *Scratchpad) OnToolError(ctx context.Context, tool tools.ITool, _ string, err error) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolsCallsFailed, 1)
	run.print(tool.Name(), "*** Tool Error ***", err.Error())
}

func (l *Scratchpad) OnToolNotFound(ctx context.Context, name string) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolNotFound, 1)
	run.print("*** Tool Not Found ***", name)
}

type run struct {
	chatCtx chatmodel.ChatContext
	w       bytes.Buffer
	started time.Time
	lock    sync.Mutex
	stats   RunStats
}

// snapshot reads the counters updated concurrently by tool callbacks.
func (r *run) snapshot() RunStats {
	s := RunStats{
		ChatID: r.stats.ChatID,
		RunID:  r.stats.RunID,

		TotalMessages:       atomic.LoadUint32(&r.stats.TotalMessages),
		LLMBytesOut:         atomic.LoadUint64(&r.stats.LLMBytesOut),
		LLMBytesIn:          atomic.LoadUint64(&r.stats.LLMBytesIn),
		LLMInputTokens:      atomic.LoadUint64(&r.stats.LLMInputTokens),
		LLMOutputTokens:     atomic.LoadUint64(&r.stats.LLMOutputTokens),
		LLMTotalTokens:      atomic.LoadUint64(&r.stats.LLMTotalTokens),
		LoopRuns:            atomic.LoadUint32(&r.stats.LoopRuns),
		LoopRunsSucceeded:   atomic.LoadUint32(&r.stats.LoopRunsSucceeded),
		LoopRunsFailed:      atomic.LoadUint32(&r.stats.LoopRunsFailed),
		Iterations:          atomic.LoadUint32(&r.stats.Iterations),
		LLMCalls:            atomic.LoadUint32(&r.stats.LLMCalls),
		ToolsCalls:          atomic.LoadUint32(&r.stats.ToolsCalls),
		ToolsCallsSucceeded: atomic.LoadUint32(&r.stats.ToolsCallsSucceeded),
		ToolsCallsFailed:    atomic.LoadUint32(&r.stats.ToolsCallsFailed),
		ToolNotFound:        atomic.LoadUint32(&r.stats.ToolNotFound),
	}
	return s
}

func (r *run) bytes() []byte {
	r.lock.Lock()
	defer r.lock.Unlock()
	return bytes.Clone(r.w.Bytes())
}

// print writes the entries to the run's output.
// The entries are written in the following format:
// [timestamp chatID.runID] entry entry\n
func (r *run) print(entries ...string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	now := TimeNowFn()
	ts := now.Format("2006-01-02 15:04:05")

	_, _ = r.w.WriteString(ts)
	_, _ = r.w.WriteString(" ")
	_, _ = r.w.WriteString(r.chatCtx.GetChatID())
	_, _ = r.w.WriteString(".")
	_, _ = r.w.WriteString(r.chatCtx.RunID())
	_, _ = r.w.WriteString(" ")

	for i, entry := range entries {
		if i > 0 {
			_, _ = r.w.WriteString(" ")
		}
		_, _ = r.w.WriteString(entry)
	}
	_, _ = r.w.WriteString("\n")
}
