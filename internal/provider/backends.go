package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	einoark "github.com/cloudwego/eino-ext/components/model/ark"
	einogemini "github.com/cloudwego/eino-ext/components/model/gemini"
	einoollama "github.com/cloudwego/eino-ext/components/model/ollama"
	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"google.golang.org/genai"
)

// newOllama constructs a provider backed by a local Ollama instance.
func newOllama(ctx context.Context, cfg *Config) (*ChatProvider, error) {
	host := cfg.Ollama.Host
	if host == "" {
		host = "http://localhost:11434"
	}
	m, err := einoollama.NewChatModel(ctx, &einoollama.ChatModelConfig{
		BaseURL: host,
		Model:   cfg.Ollama.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: ollama init: %w", err)
	}
	return &ChatProvider{
		model:     m,
		backend:   BackendOllama,
		modelName: cfg.Ollama.Model,
		probe:     ollamaProbe(host),
	}, nil
}

// ollamaProbe checks the Ollama version endpoint, which is free and does not
// load a model.
func ollamaProbe(host string) func(ctx context.Context) error {
	url := strings.TrimRight(host, "/") + "/api/version"
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("provider: ollama probe: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("provider: ollama unreachable at %s: %w", host, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("provider: ollama probe returned status %d", resp.StatusCode)
		}
		return nil
	}
}

// newOpenAI constructs a provider backed by the OpenAI API.
func newOpenAI(ctx context.Context, cfg *Config) (*ChatProvider, error) {
	m, err := einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
		Model:       cfg.OpenAI.Model,
		APIKey:      cfg.OpenAI.APIKey,
		MaxTokens:   &cfg.Tuning.MaxTokens,
		Temperature: &cfg.Tuning.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: openai init: %w", err)
	}
	return &ChatProvider{model: m, backend: BackendOpenAI, modelName: cfg.OpenAI.Model}, nil
}

// newAzure constructs a provider backed by Azure OpenAI Service.
func newAzure(ctx context.Context, cfg *Config) (*ChatProvider, error) {
	m, err := einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
		Model:       cfg.AzureOpenAI.Deployment,
		APIKey:      cfg.AzureOpenAI.APIKey,
		BaseURL:     cfg.AzureOpenAI.Endpoint,
		ByAzure:     true,
		APIVersion:  cfg.AzureOpenAI.APIVersion,
		MaxTokens:   &cfg.Tuning.MaxTokens,
		Temperature: &cfg.Tuning.Temperature,
		// Use the deployment name as-is — the default mapper strips dots/colons
		// which breaks deployment names like "gpt-4.1".
		AzureModelMapperFunc: func(model string) string { return model },
	})
	if err != nil {
		return nil, fmt.Errorf("provider: azure init: %w", err)
	}
	return &ChatProvider{model: m, backend: BackendAzure, modelName: cfg.AzureOpenAI.Deployment}, nil
}

// newGemini constructs a provider backed by Google Gemini (AI Studio).
func newGemini(ctx context.Context, cfg *Config) (*ChatProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.Gemini.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: gemini client init: %w", err)
	}
	m, err := einogemini.NewChatModel(ctx, &einogemini.Config{
		Client: client,
		Model:  cfg.Gemini.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: gemini init: %w", err)
	}
	return &ChatProvider{model: m, backend: BackendGemini, modelName: cfg.Gemini.Model}, nil
}

// newArk constructs a provider backed by the Volcano Engine Ark runtime.
func newArk(ctx context.Context, cfg *Config) (*ChatProvider, error) {
	maxTokens := cfg.Tuning.MaxTokens
	temp := cfg.Tuning.Temperature
	m, err := einoark.NewChatModel(ctx, &einoark.ChatModelConfig{
		Model:       cfg.Ark.Model,
		APIKey:      cfg.Ark.APIKey,
		BaseURL:     cfg.Ark.BaseURL,
		MaxTokens:   &maxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: ark init: %w", err)
	}
	return &ChatProvider{model: m, backend: BackendArk, modelName: cfg.Ark.Model}, nil
}
