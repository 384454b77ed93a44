// Package provider selects and constructs the chat model backend used for
// answer generation. Supported backends: Ollama, OpenAI, Azure OpenAI,
// Google Gemini, and Volcano Engine Ark.
package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
	// BackendArk selects the Volcano Engine Ark model runtime.
	BackendArk Backend = "ark"
)

// ProviderOllama holds Ollama-specific settings.
type ProviderOllama struct {
	// Host is the Ollama base URL (e.g. "http://localhost:11434").
	Host string
	// Model is the Ollama model name (e.g. "llama3").
	Model string
}

// ProviderOpenAI holds OpenAI-specific settings.
type ProviderOpenAI struct {
	APIKey string
	Model  string
}

// ProviderAzureOpenAI holds Azure OpenAI Service settings.
type ProviderAzureOpenAI struct {
	APIKey string
	// Endpoint is the resource endpoint (e.g. "https://my.openai.azure.com").
	Endpoint string
	// Deployment is the Azure deployment name, used in place of a model name.
	Deployment string
	// APIVersion is the Azure OpenAI REST API version (e.g. "2024-02-01").
	APIVersion string
}

// ProviderGemini holds Google Gemini settings.
type ProviderGemini struct {
	APIKey string
	Model  string
}

// ProviderArk holds Volcano Engine Ark settings.
type ProviderArk struct {
	APIKey string
	// Model is the Ark endpoint/model ID.
	Model string
	// BaseURL overrides the default Ark API endpoint.
	BaseURL string
}

// SharedTuning holds generation parameters applied across all backends.
type SharedTuning struct {
	// MaxTokens caps the number of tokens the model may generate per response.
	MaxTokens int
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}

// Config holds all provider-level configuration resolved from environment
// variables or explicit caller-supplied values. Only the section matching
// Backend is consulted.
type Config struct {
	Backend     Backend
	Ollama      ProviderOllama
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Gemini      ProviderGemini
	Ark         ProviderArk
	Tuning      SharedTuning
}

// Validate checks that the section for the selected backend is complete.
// Error messages name the environment variable that would populate the
// missing field, so startup failures are self-explanatory.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOllama:
		if c.Ollama.Model == "" {
			return fmt.Errorf("provider: OLLAMA_MODEL is required for the ollama backend")
		}
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("provider: OPENAI_API_KEY is required for the openai backend")
		}
		if c.OpenAI.Model == "" {
			return fmt.Errorf("provider: OPENAI_MODEL is required for the openai backend")
		}
	case BackendAzure:
		if c.AzureOpenAI.APIKey == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_API_KEY is required for the azure backend")
		}
		if c.AzureOpenAI.Endpoint == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_ENDPOINT is required for the azure backend")
		}
		if c.AzureOpenAI.Deployment == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_DEPLOYMENT is required for the azure backend")
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("provider: GOOGLE_API_KEY is required for the gemini backend")
		}
		if c.Gemini.Model == "" {
			return fmt.Errorf("provider: GEMINI_MODEL is required for the gemini backend")
		}
	case BackendArk:
		if c.Ark.APIKey == "" {
			return fmt.Errorf("provider: ARK_API_KEY is required for the ark backend")
		}
		if c.Ark.Model == "" {
			return fmt.Errorf("provider: ARK_MODEL is required for the ark backend")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q (valid values: ollama, openai, azure, gemini, ark)", c.Backend)
	}
	return nil
}

// modelName returns the model identifier for the selected backend.
func (c *Config) modelName() string {
	switch c.Backend {
	case BackendOllama:
		return c.Ollama.Model
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendGemini:
		return c.Gemini.Model
	case BackendArk:
		return c.Ark.Model
	}
	return ""
}

// ChatProvider wraps a constructed chat model together with its backend
// identity and a readiness probe. It is the type the answer engine and the
// HTTP server consume.
type ChatProvider struct {
	model     model.BaseChatModel
	backend   Backend
	modelName string

	// probe is a cheap backend-specific health check. When nil, Ping falls
	// back to a single-token Generate call, which consumes tokens.
	probe func(ctx context.Context) error
}

// Generate produces a complete response for the given messages.
func (p *ChatProvider) Generate(ctx context.Context, msgs []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return p.model.Generate(ctx, msgs, opts...) //nolint:wrapcheck // passthrough
}

// Stream produces an incremental response for the given messages.
func (p *ChatProvider) Stream(ctx context.Context, msgs []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return p.model.Stream(ctx, msgs, opts...) //nolint:wrapcheck // passthrough
}

// Name returns the "backend/model" label used in response metadata and logs.
func (p *ChatProvider) Name() string {
	return string(p.backend) + "/" + p.modelName
}

// Ping probes the backend for readiness. Backends with a zero-cost probe
// (e.g. Ollama's version endpoint) use it; the rest send a single-token
// generate request.
func (p *ChatProvider) Ping(ctx context.Context) error {
	if p.probe != nil {
		return p.probe(ctx)
	}
	resp, err := p.model.Generate(ctx, []*schema.Message{schema.UserMessage("ping")}, model.WithMaxTokens(1))
	if err != nil {
		return fmt.Errorf("provider: %s probe failed: %w", p.Name(), err)
	}
	if resp == nil {
		return fmt.Errorf("provider: %s probe returned nil response", p.Name())
	}
	return nil
}
