// Package config loads the declared tool selection and loop settings.
//
// YAML and JSON files are loaded with environment variables expanded,
// files with the .toml extension are decoded as TOML.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/actionai/loop"
	"github.com/effective-security/actionai/pkg/llmfactory"
	"github.com/effective-security/actionai/pkg/llms"
	"github.com/effective-security/actionai/registry"
	"github.com/effective-security/actionai/store"
	"github.com/effective-security/x/configloader"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/actionai", "config")

// Tool error policies
const (
	PolicyHalt     = "halt"
	PolicyContinue = "continue"
	PolicyRetry    = "retry"
)

// Store types
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config of the tools exposed to the model and the loop driving it.
type Config struct {
	Tools ToolsConfig `json:"tools" yaml:"tools" toml:"tools"`
	Loop  LoopConfig  `json:"loop" yaml:"loop" toml:"loop"`
	// Store is optional, messages are not persisted when not set.
	Store *StoreConfig `json:"store,omitempty" yaml:"store,omitempty" toml:"store,omitempty"`
	// LLM is optional, the model can be provided by the caller.
	LLM *llmfactory.Config `json:"llm,omitempty" yaml:"llm,omitempty" toml:"llm,omitempty"`
}

// ResourceConfig selects a resource and optionally a subset of its operations.
type ResourceConfig struct {
	Name       string   `json:"name" yaml:"name" toml:"name" validate:"required"`
	Operations []string `json:"operations,omitempty" yaml:"operations,omitempty" toml:"operations,omitempty"`
}

// ToolsConfig describes the tool selection.
type ToolsConfig struct {
	Resources     []ResourceConfig `json:"resources,omitempty" yaml:"resources,omitempty" toml:"resources,omitempty" validate:"dive"`
	Namespaces    []string         `json:"namespaces,omitempty" yaml:"namespaces,omitempty" toml:"namespaces,omitempty"`
	AllOperations bool             `json:"all_operations,omitempty" yaml:"all_operations,omitempty" toml:"all_operations,omitempty"`
	Names         []string         `json:"names,omitempty" yaml:"names,omitempty" toml:"names,omitempty"`
	Exclude       []string         `json:"exclude,omitempty" yaml:"exclude,omitempty" toml:"exclude,omitempty"`
	Diagnostics   bool             `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty" toml:"diagnostics,omitempty"`
	Load          []string         `json:"load,omitempty" yaml:"load,omitempty" toml:"load,omitempty"`

	ShowRawErrors bool `json:"show_raw_errors,omitempty" yaml:"show_raw_errors,omitempty" toml:"show_raw_errors,omitempty"`
	LastWriteWins bool `json:"last_write_wins,omitempty" yaml:"last_write_wins,omitempty" toml:"last_write_wins,omitempty"`
}

// LoopConfig describes the loop settings.
type LoopConfig struct {
	Model         string `json:"model,omitempty" yaml:"model,omitempty" toml:"model,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty" toml:"max_iterations,omitempty" validate:"gte=0,lte=1000"`
	// Timeout of a model call, as a duration string.
	Timeout      string         `json:"timeout,omitempty" yaml:"timeout,omitempty" toml:"timeout,omitempty"`
	SystemPrompt string         `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty" toml:"system_prompt,omitempty"`
	PromptInput  map[string]any `json:"prompt_input,omitempty" yaml:"prompt_input,omitempty" toml:"prompt_input,omitempty"`

	ToolErrorPolicy string `json:"tool_error_policy,omitempty" yaml:"tool_error_policy,omitempty" toml:"tool_error_policy,omitempty" validate:"omitempty,oneof=halt continue retry"`
	Retries         int    `json:"retries,omitempty" yaml:"retries,omitempty" toml:"retries,omitempty" validate:"gte=0,lte=10"`

	ParallelTools     bool   `json:"parallel_tools,omitempty" yaml:"parallel_tools,omitempty" toml:"parallel_tools,omitempty"`
	ReturnHistory     bool   `json:"return_history,omitempty" yaml:"return_history,omitempty" toml:"return_history,omitempty"`
	ReturnToolResults bool   `json:"return_tool_results,omitempty" yaml:"return_tool_results,omitempty" toml:"return_tool_results,omitempty"`
	LenientArguments  bool   `json:"lenient_arguments,omitempty" yaml:"lenient_arguments,omitempty" toml:"lenient_arguments,omitempty"`
	StrictArguments   bool   `json:"strict_arguments,omitempty" yaml:"strict_arguments,omitempty" toml:"strict_arguments,omitempty"`
	ToolChoice        string `json:"tool_choice,omitempty" yaml:"tool_choice,omitempty" toml:"tool_choice,omitempty"`
	EventBuffer       int    `json:"event_buffer,omitempty" yaml:"event_buffer,omitempty" toml:"event_buffer,omitempty" validate:"gte=0"`
}

// StoreConfig describes the message store.
type StoreConfig struct {
	Type string `json:"type" yaml:"type" toml:"type" validate:"required,oneof=memory redis"`
	// URL of the Redis server, required for redis.
	URL    string `json:"url,omitempty" yaml:"url,omitempty" toml:"url,omitempty" validate:"required_if=Type redis"`
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty" toml:"prefix,omitempty"`
}

// Load returns the config from the file, by its extension.
func Load(file string) (*Config, error) {
	cfg := new(Config)

	var err error
	if strings.EqualFold(filepath.Ext(file), ".toml") {
		_, err = toml.DecodeFile(file, cfg)
	} else {
		err = configloader.UnmarshalAndExpand(file, cfg)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load config %s", file)
	}

	if err = cfg.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "invalid config %s", file)
	}

	logger.KV(xlog.DEBUG,
		"status", "loaded",
		"file", file,
		"resources", len(cfg.Tools.Resources),
		"namespaces", len(cfg.Tools.Namespaces),
	)
	return cfg, nil
}

// Parse returns the config from YAML or JSON text.
func Parse(data []byte) (*Config, error) {
	cfg := new(Config)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WithMessage(err, "failed to parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.WithStack(err)
	}
	if c.Loop.StrictArguments && c.Loop.LenientArguments {
		return errors.New("strict_arguments and lenient_arguments are mutually exclusive")
	}
	if _, err := c.Loop.timeout(); err != nil {
		return err
	}
	return nil
}

// Selection returns the registry selection.
func (c *ToolsConfig) Selection() registry.Selection {
	sel := registry.Selection{
		Namespaces:    c.Namespaces,
		AllOperations: c.AllOperations,
		Names:         c.Names,
		Exclude:       c.Exclude,
		Diagnostics:   c.Diagnostics,
	}
	for _, r := range c.Resources {
		sel.Resources = append(sel.Resources, registry.ResourceSelection{
			Name:       r.Name,
			Operations: r.Operations,
		})
	}
	return sel
}

// Options returns the registry options, followed by the extra ones.
func (c *ToolsConfig) Options(extra ...registry.Option) []registry.Option {
	var opts []registry.Option
	if len(c.Load) > 0 {
		opts = append(opts, registry.WithLoad(c.Load...))
	}
	if c.ShowRawErrors {
		opts = append(opts, registry.WithShowRawErrors(true))
	}
	if c.LastWriteWins {
		opts = append(opts, registry.WithLastWriteWins())
	}
	return append(opts, extra...)
}

func (c *LoopConfig) timeout() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, errors.WithMessagef(err, "invalid timeout %q", c.Timeout)
	}
	if d < 0 {
		return 0, errors.Newf("invalid timeout %q", c.Timeout)
	}
	return d, nil
}

// Policy returns the tool error policy.
func (c *LoopConfig) Policy() loop.ToolErrorPolicy {
	switch c.ToolErrorPolicy {
	case PolicyContinue:
		return loop.ContinueOnToolError
	case PolicyRetry:
		return loop.RetryToolError(c.Retries)
	default:
		return loop.HaltOnToolError
	}
}

// Options returns the loop options, followed by the extra ones.
// Zero values keep the loop defaults.
func (c *LoopConfig) Options(extra ...loop.Option) ([]loop.Option, error) {
	timeout, err := c.timeout()
	if err != nil {
		return nil, err
	}

	opts := []loop.Option{
		loop.WithMaxIterations(c.MaxIterations),
		loop.WithTimeout(timeout),
		loop.WithToolErrorPolicy(c.Policy()),
		loop.WithParallelTools(c.ParallelTools),
		loop.WithReturnHistory(c.ReturnHistory),
		loop.WithReturnToolResults(c.ReturnToolResults),
		loop.WithLenientArguments(c.LenientArguments),
		loop.WithStrictArguments(c.StrictArguments),
		loop.WithEventBuffer(c.EventBuffer),
	}
	if c.Model != "" {
		opts = append(opts, loop.WithModel(c.Model))
	}
	if c.SystemPrompt != "" {
		opts = append(opts, loop.WithSystemPrompt(c.SystemPrompt, c.PromptInput))
	}
	if c.ToolChoice != "" {
		opts = append(opts, loop.WithToolChoice(c.ToolChoice))
	}
	return append(opts, extra...), nil
}

// NewStore returns the message store, or nil when not configured.
func (c *Config) NewStore() (store.MessageStore, error) {
	if c.Store == nil {
		return nil, nil
	}
	switch c.Store.Type {
	case StoreMemory:
		return store.NewMemoryStore(), nil
	case StoreRedis:
		opts, err := redis.ParseURL(c.Store.URL)
		if err != nil {
			return nil, errors.WithMessage(err, "invalid redis url")
		}
		return store.NewRedisStore(redis.NewClient(opts), values.StringsCoalesce(c.Store.Prefix, "actionai")), nil
	}
	return nil, errors.Newf("unsupported store type: %s", c.Store.Type)
}

// NewModel returns the model of the LLM config,
// the loop model name is the preferred one.
func (c *Config) NewModel() (llms.Model, error) {
	if c.LLM == nil {
		return nil, errors.New("llm is not configured")
	}
	f := llmfactory.New(c.LLM)
	if c.Loop.Model != "" {
		return f.ModelByName(c.Loop.Model)
	}
	return f.DefaultModel()
}
