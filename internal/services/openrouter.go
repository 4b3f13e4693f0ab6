package services

import (
	"context"
	"iter"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/hitl-web-ui/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenRouter is the LLM backed by OpenRouter, which serves many models behind an OpenAI compatible API.
type OpenRouter struct {
	completions chatCompletions
}

const (
	openRouterAPIEndpoint = "https://openrouter.ai/api/v1"

	openRouterReferer = "https://github.com/MegaGrindStone/hitl-web-ui/"
	openRouterTitle   = "HITL Web UI"
)

// openRouterTransport adds the headers OpenRouter uses to attribute requests to an application.
type openRouterTransport struct {
	base http.RoundTripper
}

func (t openRouterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("HTTP-Referer", openRouterReferer)
	req.Header.Set("X-Title", openRouterTitle)
	return t.base.RoundTrip(req)
}

// NewOpenRouter creates an OpenRouter LLM. An empty endpoint means the public OpenRouter API.
func NewOpenRouter(apiKey, endpoint, model, systemPrompt string, logger *slog.Logger) OpenRouter {
	if endpoint == "" {
		endpoint = openRouterAPIEndpoint
	}

	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = endpoint
	cfg.HTTPClient = &http.Client{Transport: openRouterTransport{base: http.DefaultTransport}}

	return OpenRouter{
		completions: chatCompletions{
			model:        model,
			systemPrompt: systemPrompt,
			client:       goopenai.NewClientWithConfig(cfg),
			logger:       logger.With(slog.String("module", "openrouter")),
		},
	}
}

// Chat streams the next assistant turn for turns, offering tools to the model.
func (o OpenRouter) Chat(ctx context.Context, turns []models.Turn, tools []models.Tool) iter.Seq2[models.Content, error] {
	return o.completions.chat(ctx, turns, tools)
}
