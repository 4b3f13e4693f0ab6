package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/MegaGrindStone/hitl-web-ui/internal/agent"
	"github.com/MegaGrindStone/hitl-web-ui/internal/config"
	"github.com/MegaGrindStone/hitl-web-ui/internal/models"
	"github.com/MegaGrindStone/hitl-web-ui/internal/services"
	"gopkg.in/yaml.v3"
)

const defaultSystemPrompt = "You are a helpful assistant. When the user asks about the weather, " +
	"use the weather_search tool."

type llmConfig interface {
	llm(systemPrompt string, logger *slog.Logger) (agent.LLM, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type backendConfig struct {
	Port            string                          `yaml:"port"`
	SystemPrompt    string                          `yaml:"systemPrompt"`
	LLM             llmConfig                       `yaml:"llm"`
	MCPSSEServers   map[string]mcpSSEServerConfig   `yaml:"mcpSSEServers"`
	MCPStdIOServers map[string]mcpStdIOServerConfig `yaml:"mcpStdIOServers"`

	config.Logging `yaml:",inline"`
}

// mcpToolConfig declares a tool an MCP server provides, as the model should see it.
type mcpToolConfig struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	InputSchema map[string]any `yaml:"inputSchema"`
}

type mcpSSEServerConfig struct {
	URL   string          `yaml:"url"`
	Tools []mcpToolConfig `yaml:"tools"`
}

type mcpStdIOServerConfig struct {
	Command string          `yaml:"command"`
	Args    []string        `yaml:"args"`
	Tools   []mcpToolConfig `yaml:"tools"`
}

type openAIConfig struct {
	BaseLLMConfig          `yaml:",inline"`
	APIKey                 string `yaml:"apiKey"`
	BaseURL                string `yaml:"baseURL"`
	services.LLMParameters `yaml:",inline"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	Endpoint      string `yaml:"endpoint"`
	MaxTokens     int    `yaml:"maxTokens"`
}

type openRouterConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	Endpoint      string `yaml:"endpoint"`
}

const (
	defaultOpenAIModel     = "gpt-4o-mini"
	defaultOllamaHost      = "http://localhost:11434"
	defaultAnthropicTokens = 1024
)

func defaultBackendConfig() backendConfig {
	return backendConfig{
		Port:         "8000",
		SystemPrompt: defaultSystemPrompt,
		LLM: &openAIConfig{
			BaseLLMConfig: BaseLLMConfig{Provider: "openai", Model: defaultOpenAIModel},
		},
	}
}

func (c *backendConfig) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port           string         `yaml:"port"`
		SystemPrompt   string         `yaml:"systemPrompt"`
		LLM            map[string]any `yaml:"llm"`
		config.Logging `yaml:",inline"`

		MCPSSEServers   map[string]mcpSSEServerConfig   `yaml:"mcpSSEServers"`
		MCPStdIOServers map[string]mcpStdIOServerConfig `yaml:"mcpStdIOServers"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	if rawConfig.Port != "" {
		c.Port = rawConfig.Port
	}
	if rawConfig.SystemPrompt != "" {
		c.SystemPrompt = rawConfig.SystemPrompt
	}
	if rawConfig.LogLevel != "" {
		c.LogLevel = rawConfig.LogLevel
	}
	if rawConfig.LogFormat != "" {
		c.LogFormat = rawConfig.LogFormat
	}
	c.MCPSSEServers = rawConfig.MCPSSEServers
	c.MCPStdIOServers = rawConfig.MCPStdIOServers

	if rawConfig.LLM == nil {
		return nil
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "openai":
		llm = &openAIConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	case "openrouter":
		llm = &openRouterConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm

	return nil
}

func (o openAIConfig) llm(systemPrompt string, logger *slog.Logger) (agent.LLM, error) {
	model := o.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, model, systemPrompt, o.LLMParameters, logger), nil
}

func (o ollamaConfig) llm(systemPrompt string, logger *slog.Logger) (agent.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = defaultOllamaHost
	}
	return services.NewOllama(host, o.Model, systemPrompt, logger)
}

func (a anthropicConfig) llm(systemPrompt string, logger *slog.Logger) (agent.LLM, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	maxTokens := a.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultAnthropicTokens
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	return services.NewAnthropic(apiKey, a.Endpoint, a.Model, systemPrompt, maxTokens, logger), nil
}

func (o openRouterConfig) llm(systemPrompt string, logger *slog.Logger) (agent.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openrouter api key is required")
	}
	return services.NewOpenRouter(apiKey, o.Endpoint, o.Model, systemPrompt, logger), nil
}

func (t mcpToolConfig) definition() (models.Tool, error) {
	if t.Name == "" {
		return models.Tool{}, fmt.Errorf("mcp tool name is required")
	}

	schema := json.RawMessage(`{"type":"object"}`)
	if t.InputSchema != nil {
		b, err := json.Marshal(t.InputSchema)
		if err != nil {
			return models.Tool{}, fmt.Errorf("invalid input schema of tool %s: %w", t.Name, err)
		}
		schema = b
	}

	return models.Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: schema,
	}, nil
}
