package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestBackendConfigUnmarshal(t *testing.T) {
	tests := []struct {
		name         string
		yaml         string
		wantErr      bool
		wantPort     string
		wantProvider string
		wantModel    string
	}{
		{
			name:         "Empty llm keeps openai default",
			yaml:         "port: \"9000\"\n",
			wantPort:     "9000",
			wantProvider: "openai",
			wantModel:    defaultOpenAIModel,
		},
		{
			name:         "Ollama",
			yaml:         "llm:\n  provider: ollama\n  model: llama3.2\n  host: http://ollama:11434\n",
			wantPort:     "8000",
			wantProvider: "ollama",
			wantModel:    "llama3.2",
		},
		{
			name:         "Anthropic",
			yaml:         "llm:\n  provider: anthropic\n  model: claude-3-5-haiku-latest\n  maxTokens: 2048\n",
			wantPort:     "8000",
			wantProvider: "anthropic",
			wantModel:    "claude-3-5-haiku-latest",
		},
		{
			name:         "OpenRouter",
			yaml:         "llm:\n  provider: openrouter\n  model: openai/gpt-4o-mini\n",
			wantPort:     "8000",
			wantProvider: "openrouter",
			wantModel:    "openai/gpt-4o-mini",
		},
		{
			name:    "Missing provider",
			yaml:    "llm:\n  model: gpt-4o\n",
			wantErr: true,
		},
		{
			name:    "Unknown provider",
			yaml:    "llm:\n  provider: unknown\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultBackendConfig()
			err := yaml.Unmarshal([]byte(tt.yaml), &cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			if cfg.Port != tt.wantPort {
				t.Errorf("Port = %q, want %q", cfg.Port, tt.wantPort)
			}
			if cfg.SystemPrompt != defaultSystemPrompt {
				t.Errorf("SystemPrompt = %q, want default", cfg.SystemPrompt)
			}

			var base BaseLLMConfig
			switch llm := cfg.LLM.(type) {
			case *openAIConfig:
				base = llm.BaseLLMConfig
			case *ollamaConfig:
				base = llm.BaseLLMConfig
			case *anthropicConfig:
				base = llm.BaseLLMConfig
			case *openRouterConfig:
				base = llm.BaseLLMConfig
			default:
				t.Fatalf("unexpected llm config %T", cfg.LLM)
			}
			if base.Provider != tt.wantProvider || base.Model != tt.wantModel {
				t.Errorf("LLM = %+v, want provider %q model %q", base, tt.wantProvider, tt.wantModel)
			}
		})
	}
}

func TestLLMConstruction(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("OpenAI key from env", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "sk-test")
		if _, err := (openAIConfig{}).llm("prompt", logger); err != nil {
			t.Errorf("llm() error = %v", err)
		}
	})

	t.Run("OpenAI without key", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		if _, err := (openAIConfig{}).llm("prompt", logger); err == nil {
			t.Error("llm() should fail without an api key")
		}
	})

	t.Run("Ollama default host", func(t *testing.T) {
		t.Setenv("OLLAMA_HOST", "")
		cfg := ollamaConfig{BaseLLMConfig: BaseLLMConfig{Model: "llama3.2"}}
		if _, err := cfg.llm("prompt", logger); err != nil {
			t.Errorf("llm() error = %v", err)
		}
	})

	t.Run("Anthropic without model", func(t *testing.T) {
		if _, err := (anthropicConfig{APIKey: "key"}).llm("prompt", logger); err == nil {
			t.Error("llm() should fail without a model")
		}
	})

	t.Run("OpenRouter key from config", func(t *testing.T) {
		cfg := openRouterConfig{BaseLLMConfig: BaseLLMConfig{Model: "m"}, APIKey: "key"}
		if _, err := cfg.llm("prompt", logger); err != nil {
			t.Errorf("llm() error = %v", err)
		}
	})
}

func TestMCPServersConfig(t *testing.T) {
	const doc = `
mcpSSEServers:
  forecast:
    url: http://localhost:8080/sse
    tools:
      - name: forecast
        description: Forecast for a city
        inputSchema:
          type: object
          properties:
            city:
              type: string
          required: [city]
mcpStdIOServers:
  files:
    command: npx
    args: ["-y", "@modelcontextprotocol/server-filesystem", "/tmp"]
    tools:
      - name: list_directory
`

	cfg := defaultBackendConfig()
	if err := yaml.Unmarshal([]byte(doc), &cfg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	sse, ok := cfg.MCPSSEServers["forecast"]
	if !ok || sse.URL != "http://localhost:8080/sse" || len(sse.Tools) != 1 {
		t.Fatalf("MCPSSEServers = %+v", cfg.MCPSSEServers)
	}
	stdio, ok := cfg.MCPStdIOServers["files"]
	if !ok || stdio.Command != "npx" || len(stdio.Args) != 3 || len(stdio.Tools) != 1 {
		t.Fatalf("MCPStdIOServers = %+v", cfg.MCPStdIOServers)
	}

	def, err := sse.Tools[0].definition()
	if err != nil {
		t.Fatalf("definition() error = %v", err)
	}
	var schema struct {
		Type     string   `json:"type"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
		t.Fatalf("input schema %s is not json: %v", def.InputSchema, err)
	}
	if def.Name != "forecast" || schema.Type != "object" || len(schema.Required) != 1 {
		t.Errorf("definition() = %+v, schema %s", def, def.InputSchema)
	}

	def, err = stdio.Tools[0].definition()
	if err != nil || string(def.InputSchema) != `{"type":"object"}` {
		t.Errorf("definition() = %s, %v, want the empty object schema", def.InputSchema, err)
	}

	if _, err := (mcpToolConfig{}).definition(); err == nil {
		t.Error("definition() should require a name")
	}
}

func TestPopulateMCPClientsWithoutServers(t *testing.T) {
	srvs, err := populateMCPClients(defaultBackendConfig())
	if err != nil {
		t.Fatalf("populateMCPClients() error = %v", err)
	}
	tools, err := srvs.connect(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil || len(tools) != 0 {
		t.Errorf("connect() = %v, %v, want no tools", tools, err)
	}
	srvs.close(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPopulateMCPClientsBadCommand(t *testing.T) {
	cfg := defaultBackendConfig()
	cfg.MCPStdIOServers = map[string]mcpStdIOServerConfig{
		"missing": {Command: "/nonexistent/mcp-server"},
	}
	srvs, err := populateMCPClients(cfg)
	if err == nil {
		t.Error("populateMCPClients() should fail when the command cannot start")
	}
	srvs.close(slog.New(slog.NewTextHandler(io.Discard, nil)))
}
