package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"slices"

	"github.com/MegaGrindStone/hitl-web-ui/internal/models"
	"github.com/ollama/ollama/api"
)

const errLoggerKey = "err"

// Ollama provides an implementation of the LLM interface for interacting with Ollama's language models.
// It manages connections to an Ollama server instance and handles streaming chat completions. Tools are
// not advertised to Ollama models, so a thread driven by Ollama never waits for approval.
type Ollama struct {
	host         string
	model        string
	systemPrompt string

	client *api.Client

	logger *slog.Logger
}

// NewOllama creates a new Ollama instance with the specified host URL and model name. The host
// parameter should be a valid URL pointing to an Ollama server.
func NewOllama(host, model, systemPrompt string, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return Ollama{
		host:         host,
		model:        model,
		systemPrompt: systemPrompt,
		client:       api.NewClient(u, &http.Client{}),
		logger:       logger.With(slog.String("module", "ollama")),
	}, nil
}

// Chat implements the LLM interface by streaming responses from the Ollama model. Earlier tool calls
// and results in the history are rendered into the text of their turn. The tools argument is ignored.
func (o Ollama) Chat(ctx context.Context, turns []models.Turn, _ []models.Tool) iter.Seq2[models.Content, error] {
	return func(yield func(models.Content, error) bool) {
		msgs := make([]api.Message, len(turns))
		for i, turn := range turns {
			msgs[i] = api.Message{
				Role:    string(turn.Role),
				Content: models.RenderContents(turn.Contents),
			}
		}
		if o.systemPrompt != "" {
			msgs = slices.Insert(msgs, 0, api.Message{
				Role:    "system",
				Content: o.systemPrompt,
			})
		}

		t := true
		req := api.ChatRequest{
			Model:    o.model,
			Messages: msgs,
			Stream:   &t,
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if stopped || res.Message.Content == "" {
				return nil
			}
			if !yield(models.Content{
				Type: models.ContentTypeText,
				Text: res.Message.Content,
			}, nil) {
				stopped = true
				cancel()
			}
			return nil
		}); err != nil {
			if stopped || errors.Is(err, context.Canceled) {
				return
			}
			o.logger.Error("Ollama chat failed", slog.String("host", o.host), slog.String(errLoggerKey, err.Error()))
			yield(models.Content{}, fmt.Errorf("error sending request: %w", err))
		}
	}
}
