package services

import (
	"context"
	"iter"
	"log/slog"

	"github.com/MegaGrindStone/hitl-web-ui/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI is the LLM backed by the OpenAI chat completions API, or any server compatible with it.
type OpenAI struct {
	completions chatCompletions
}

// NewOpenAI creates an OpenAI LLM. An empty base URL means the official OpenAI endpoint.
func NewOpenAI(apiKey, baseURL, model, systemPrompt string, params LLMParameters, logger *slog.Logger) OpenAI {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return OpenAI{
		completions: chatCompletions{
			model:        model,
			systemPrompt: systemPrompt,
			params:       params,
			client:       goopenai.NewClientWithConfig(cfg),
			logger:       logger.With(slog.String("module", "openai")),
		},
	}
}

// Chat streams the next assistant turn for turns, offering tools to the model.
func (o OpenAI) Chat(ctx context.Context, turns []models.Turn, tools []models.Tool) iter.Seq2[models.Content, error] {
	return o.completions.chat(ctx, turns, tools)
}
