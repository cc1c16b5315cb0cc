package loop

import (
	"maps"
	"time"

	"github.com/effective-security/actionai/pkg/llms"
	"github.com/effective-security/actionai/store"
)

const (
	// DefaultMaxIterations is the default number of model calls in one run.
	DefaultMaxIterations = 10
	// DefaultTimeout is the default timeout of one model call.
	DefaultTimeout = 60 * time.Second
	// DefaultEventBuffer is the default size of the Stream channel.
	DefaultEventBuffer = 16
)

type policyMode int

const (
	policyHalt policyMode = iota
	policyContinue
	policyRetry
)

// ToolErrorPolicy defines how the loop handles a failed tool call.
type ToolErrorPolicy struct {
	mode    policyMode
	retries int
}

var (
	// HaltOnToolError terminates the run on the first failed tool call.
	HaltOnToolError = ToolErrorPolicy{mode: policyHalt}
	// ContinueOnToolError sends the failure envelope to the model as the tool result.
	ContinueOnToolError = ToolErrorPolicy{mode: policyContinue}
)

// RetryToolError re-executes a failed tool call up to n times before halting.
// Only unexpected provider faults are retried,
// validation, authorization and not found failures halt immediately.
func RetryToolError(n int) ToolErrorPolicy {
	return ToolErrorPolicy{mode: policyRetry, retries: max(n, 0)}
}

func (p ToolErrorPolicy) String() string {
	switch p.mode {
	case policyContinue:
		return "continue"
	case policyRetry:
		return "retry"
	default:
		return "halt"
	}
}

// Retries returns the number of retries of a failed tool call.
func (p ToolErrorPolicy) Retries() int {
	if p.mode != policyRetry {
		return 0
	}
	return p.retries
}

// Option is a function that can be used to modify the behavior of the loop Config.
type Option func(*Config)

// Config of a loop run.
type Config struct {
	// Model is the model name passed to the provider, empty for the model default.
	Model string
	// MaxIterations is the maximum number of model calls.
	MaxIterations int
	// Timeout bounds every model call.
	Timeout time.Duration

	// SystemPrompt is a template rendered with PromptInput,
	// the "tools" input is set to the descriptions of the registered tools.
	SystemPrompt string
	PromptInput  map[string]any

	// Callback receives loop and tool events.
	Callback Callback
	// Store persists the conversation of the chat from the context.
	Store store.MessageStore

	ToolErrorPolicy ToolErrorPolicy
	// ParallelTools executes the tool calls of one model response concurrently.
	ParallelTools bool

	ReturnHistory     bool
	ReturnToolResults bool

	// LenientArguments repairs malformed tool call arguments.
	LenientArguments bool
	// StrictArguments fails the run on malformed tool call arguments.
	StrictArguments bool

	ToolChoice any
	Metadata   map[string]any
	// CallOptions are passed to every model call.
	CallOptions []llms.CallOption

	// EventBuffer is the size of the Stream channel.
	EventBuffer int
}

// NewConfig returns Config with defaults and the options applied.
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		MaxIterations: DefaultMaxIterations,
		Timeout:       DefaultTimeout,
		EventBuffer:   DefaultEventBuffer,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.MaxIterations < 1 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.EventBuffer < 1 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	return cfg
}

// WithModel sets the model name for the provider.
func WithModel(model string) Option {
	return func(o *Config) {
		o.Model = model
	}
}

// WithMaxIterations sets the maximum number of model calls.
func WithMaxIterations(n int) Option {
	return func(o *Config) {
		o.MaxIterations = n
	}
}

// WithTimeout sets the timeout of a model call.
func WithTimeout(timeout time.Duration) Option {
	return func(o *Config) {
		o.Timeout = timeout
	}
}

// WithSystemPrompt sets the system prompt template and its input.
func WithSystemPrompt(tmpl string, input map[string]any) Option {
	return func(o *Config) {
		o.SystemPrompt = tmpl
		if len(input) > 0 {
			if o.PromptInput == nil {
				o.PromptInput = make(map[string]any, len(input))
			}
			maps.Copy(o.PromptInput, input)
		}
	}
}

// WithCallback sets the callback handler.
func WithCallback(cb Callback) Option {
	return func(o *Config) {
		o.Callback = cb
	}
}

// WithStore sets the message store.
func WithStore(st store.MessageStore) Option {
	return func(o *Config) {
		o.Store = st
	}
}

// WithToolErrorPolicy sets the policy for failed tool calls,
// HaltOnToolError by default.
func WithToolErrorPolicy(p ToolErrorPolicy) Option {
	return func(o *Config) {
		o.ToolErrorPolicy = p
	}
}

// WithParallelTools enables concurrent execution of the tool calls of one response.
func WithParallelTools(parallel bool) Option {
	return func(o *Config) {
		o.ParallelTools = parallel
	}
}

// WithReturnHistory includes the full message history in Result.
func WithReturnHistory(ret bool) Option {
	return func(o *Config) {
		o.ReturnHistory = ret
	}
}

// WithReturnToolResults includes the tool results in Result.
func WithReturnToolResults(ret bool) Option {
	return func(o *Config) {
		o.ReturnToolResults = ret
	}
}

// WithLenientArguments repairs malformed tool call arguments before execution.
func WithLenientArguments(lenient bool) Option {
	return func(o *Config) {
		o.LenientArguments = lenient
	}
}

// WithStrictArguments fails the run with ReasonInvalidToolArguments
// when the model sends malformed tool call arguments.
func WithStrictArguments(strict bool) Option {
	return func(o *Config) {
		o.StrictArguments = strict
	}
}

// WithToolChoice sets the tool choice for the provider.
func WithToolChoice(choice any) Option {
	return func(o *Config) {
		o.ToolChoice = choice
	}
}

// WithMetadata sets the request metadata for the provider.
func WithMetadata(metadata map[string]any) Option {
	return func(o *Config) {
		o.Metadata = metadata
	}
}

// WithCallOptions adds options to every model call.
func WithCallOptions(opts ...llms.CallOption) Option {
	return func(o *Config) {
		o.CallOptions = append(o.CallOptions, opts...)
	}
}

// WithEventBuffer sets the size of the Stream channel.
func WithEventBuffer(size int) Option {
	return func(o *Config) {
		o.EventBuffer = size
	}
}

// GetCallOptions returns the options for the model call.
func (c *Config) GetCallOptions(extra ...llms.CallOption) []llms.CallOption {
	var opts []llms.CallOption
	if c.Model != "" {
		opts = append(opts, llms.WithModel(c.Model))
	}
	if c.ToolChoice != nil {
		opts = append(opts, llms.WithToolChoice(c.ToolChoice))
	}
	if len(c.Metadata) > 0 {
		opts = append(opts, llms.WithMetadata(c.Metadata))
	}
	opts = append(opts, c.CallOptions...)
	return append(opts, extra...)
}
