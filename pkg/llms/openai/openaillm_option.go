package openai

import (
	"net/http"
	"os"

	"github.com/effective-security/actionai/pkg/llms"
)

const (
	TokenEnvVarName        = "OPENAI_API_KEY"      //nolint:gosec
	ModelEnvVarName        = "OPENAI_MODEL"        //nolint:gosec
	BaseURLEnvVarName      = "OPENAI_BASE_URL"     //nolint:gosec
	OrganizationEnvVarName = "OPENAI_ORGANIZATION" //nolint:gosec
)

const (
	DefaultAPIVersion = "2024-10-21"
	DefaultModel      = "gpt-4o"
)

type options struct {
	token        string
	model        string
	baseURL      string
	organization string
	provider     llms.ProviderType
	httpClient   *http.Client
	maxRetries   int

	// required when provider is Azure
	apiVersion string

	completions chatCompletions
}

func defaultOptions() *options {
	return &options{
		token:        os.Getenv(TokenEnvVarName),
		model:        os.Getenv(ModelEnvVarName),
		baseURL:      os.Getenv(BaseURLEnvVarName),
		organization: os.Getenv(OrganizationEnvVarName),
		provider:     llms.ProviderOpenAI,
		maxRetries:   2,
	}
}

// Option is a functional option for the OpenAI client.
type Option func(*options)

// WithToken passes the OpenAI API token to the client. If not set, the token
// is read from the OPENAI_API_KEY environment variable.
func WithToken(token string) Option {
	return func(opts *options) {
		opts.token = token
	}
}

// WithModel passes the OpenAI model to the client. If not set, the model
// is read from the OPENAI_MODEL environment variable.
// For Azure it is the deployment name.
func WithModel(model string) Option {
	return func(opts *options) {
		opts.model = model
	}
}

// WithBaseURL passes the OpenAI base url to the client. If not set, the base url
// is read from the OPENAI_BASE_URL environment variable, then the SDK default is used.
func WithBaseURL(baseURL string) Option {
	return func(opts *options) {
		opts.baseURL = baseURL
	}
}

// WithOrganization passes the OpenAI organization to the client. If not set, the
// organization is read from the OPENAI_ORGANIZATION.
func WithOrganization(organization string) Option {
	return func(opts *options) {
		opts.organization = organization
	}
}

// WithProvider sets the provider served by the OpenAI compatible API:
// OPENAI, AZURE or PERPLEXITY. Default is OPENAI.
func WithProvider(provider llms.ProviderType) Option {
	return func(opts *options) {
		opts.provider = provider
	}
}

// WithAPIVersion passes the api version to the client, used with Azure only.
// If not set, the default value is DefaultAPIVersion.
func WithAPIVersion(apiVersion string) Option {
	return func(opts *options) {
		opts.apiVersion = apiVersion
	}
}

// WithHTTPClient allows setting a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(opts *options) {
		opts.httpClient = client
	}
}

// WithMaxRetries sets the SDK retry count, default 2.
func WithMaxRetries(n int) Option {
	return func(opts *options) {
		opts.maxRetries = n
	}
}
