package llms

import (
	"context"
)

// ProviderType is the type of provider.
type ProviderType string

const (
	// ProviderAnthropic is the type of provider.
	ProviderAnthropic ProviderType = "ANTHROPIC"
	// ProviderAzure is the type of provider.
	ProviderAzure ProviderType = "AZURE"
	// ProviderOpenAI is the type of provider.
	ProviderOpenAI ProviderType = "OPENAI"
	// ProviderPerplexity is the type of provider.
	ProviderPerplexity ProviderType = "PERPLEXITY"
	// ProviderFake is used by test doubles and scripted models.
	ProviderFake ProviderType = "FAKE"
)

//go:generate mockgen -source=llms.go -destination=../../mocks/mockllms/llms_mock.gen.go -package mockllms

// Model is an interface chat models implement.
type Model interface {
	// GetProviderType returns the type of provider.
	GetProviderType() ProviderType
	// GetName returns the model name used for requests.
	GetName() string
	// GenerateContent asks the model to generate content from a sequence of
	// messages. When the options carry Tools, the model may answer with
	// tool calls instead of, or in addition to, text.
	GenerateContent(ctx context.Context, messages []Message, options ...CallOption) (*ContentResponse, error)
}

// Capability is a bitmask indicating supported features of an LLM provider.
type Capability uint64

const (
	// Basic text or chat generation
	CapabilityText Capability = 1 << iota

	// Structured response formats
	CapabilityJSONResponse
	CapabilityJSONSchema

	// Function/tool calling
	CapabilityFunctionCalling
	CapabilityMultiToolCalling
	CapabilityToolCallStreaming

	// System prompt support
	CapabilitySystemPrompt
)

var providerCapabilities = map[ProviderType]Capability{
	ProviderOpenAI: CapabilityText |
		CapabilityJSONResponse |
		CapabilityJSONSchema |
		CapabilityFunctionCalling |
		CapabilityMultiToolCalling |
		CapabilityToolCallStreaming |
		CapabilitySystemPrompt,

	ProviderAzure: CapabilityText |
		CapabilityJSONResponse |
		CapabilityJSONSchema |
		CapabilityFunctionCalling |
		CapabilityMultiToolCalling |
		CapabilitySystemPrompt,

	ProviderAnthropic: CapabilityText |
		CapabilityJSONResponse |
		CapabilityFunctionCalling |
		CapabilityMultiToolCalling |
		CapabilityToolCallStreaming |
		CapabilitySystemPrompt,

	ProviderPerplexity: CapabilityText |
		CapabilitySystemPrompt |
		CapabilityJSONResponse,

	ProviderFake: CapabilityText |
		CapabilityFunctionCalling |
		CapabilityMultiToolCalling |
		CapabilityToolCallStreaming |
		CapabilitySystemPrompt,
}

// ProviderCapabilities returns the capability mask for the provider.
func ProviderCapabilities(pt ProviderType) Capability {
	return providerCapabilities[pt]
}

// Supports returns true if the provider supports the capability.
func (p ProviderType) Supports(cap Capability) bool {
	return ProviderCapabilities(p)&cap != 0
}
