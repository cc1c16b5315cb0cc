package metricskey

import "github.com/effective-security/metrics"

// Stats
var (
	// StatsLLMMessagesSent is base for counter metric for total messages sent to LLM
	StatsLLMMessagesSent = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_messages_sent",
		Help:         "stats_llm_messages_sent provides total messages sent to LLM",
		RequiredTags: []string{"model"},
	}

	StatsLLMBytesSent = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_bytes_sent",
		Help:         "stats_llm_bytes_sent provides total bytes sent to LLM",
		RequiredTags: []string{"model"},
	}

	StatsLLMBytesReceived = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_bytes_received",
		Help:         "stats_llm_bytes_received provides total bytes received from LLM",
		RequiredTags: []string{"model"},
	}

	StatsLLMBytesTotal = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_bytes_total",
		Help:         "stats_llm_bytes_total provides total bytes sent and received from LLM",
		RequiredTags: []string{"model"},
	}

	StatsLLMInputTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_input_tokens",
		Help:         "stats_llm_input_tokens provides total input tokens sent to LLM",
		RequiredTags: []string{"model"},
	}

	StatsLLMOutputTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_output_tokens",
		Help:         "stats_llm_output_tokens provides total output tokens received from LLM",
		RequiredTags: []string{"model"},
	}

	StatsLLMTotalTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_total_tokens",
		Help:         "stats_llm_total_tokens provides total tokens sent and received from LLM",
		RequiredTags: []string{"model"},
	}

	StatsLoopRunsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_loop_runs_succeeded",
		Help:         "stats_loop_runs_succeeded provides total conversation loops completed",
		RequiredTags: []string{"model"},
	}

	StatsLoopRunsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_loop_runs_failed",
		Help:         "stats_loop_runs_failed provides total conversation loops failed",
		RequiredTags: []string{"model", "reason"},
	}

	StatsToolCallsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_succeeded",
		Help:         "stats_tool_calls_succeeded provides total tool calls succeeded",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_failed",
		Help:         "stats_tool_calls_failed provides total tool calls failed",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsRetried = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_retried",
		Help:         "stats_tool_calls_retried provides total tool calls retried",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsNotFound = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_not_found",
		Help:         "stats_tool_calls_not_found provides total tool calls not found",
		RequiredTags: []string{"tool"},
	}

	StatsToolArgumentsRepaired = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_arguments_repaired",
		Help:         "stats_tool_arguments_repaired provides total malformed tool arguments repaired",
		RequiredTags: []string{"tool"},
	}

	StatsExecutorSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_executor_succeeded",
		Help:         "stats_executor_succeeded provides total operations executed",
		RequiredTags: []string{"resource", "operation"},
	}

	StatsExecutorFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_executor_failed",
		Help:         "stats_executor_failed provides total operations failed",
		RequiredTags: []string{"resource", "operation"},
	}

	StatsExecutorForbidden = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_executor_forbidden",
		Help:         "stats_executor_forbidden provides total operations rejected by authorization",
		RequiredTags: []string{"resource", "operation"},
	}
)

// Perf
var (
	PerfLoopRun = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_loop_run",
		Help:         "perf_loop_run provides duration of conversation loop",
		RequiredTags: []string{"model"},
	}

	PerfLLMCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_llm_call",
		Help:         "perf_llm_call provides duration of model call",
		RequiredTags: []string{"model"},
	}

	PerfToolCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_tool_call",
		Help:         "perf_tool_call provides duration of tool call",
		RequiredTags: []string{"tool"},
	}

	PerfExecutorRun = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_executor_run",
		Help:         "perf_executor_run provides duration of operation execution",
		RequiredTags: []string{"resource", "operation"},
	}
)

// Metrics returns slice of metrics from this repo
// keep sorted by name
var Metrics = []*metrics.Describe{
	&PerfExecutorRun,
	&PerfLLMCall,
	&PerfLoopRun,
	&PerfToolCall,
	&StatsExecutorFailed,
	&StatsExecutorForbidden,
	&StatsExecutorSucceeded,
	&StatsLLMBytesReceived,
	&StatsLLMBytesSent,
	&StatsLLMBytesTotal,
	&StatsLLMInputTokens,
	&StatsLLMMessagesSent,
	&StatsLLMOutputTokens,
	&StatsLLMTotalTokens,
	&StatsLoopRunsFailed,
	&StatsLoopRunsSucceeded,
	&StatsToolArgumentsRepaired,
	&StatsToolCallsFailed,
	&StatsToolCallsNotFound,
	&StatsToolCallsRetried,
	&StatsToolCallsSucceeded,
}
