package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/hitl-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Anthropic provides an interface to the Anthropic API for large language model interactions. It implements
// the LLM interface and handles streaming chat completions, including tool use, using Claude models.
type Anthropic struct {
	apiKey       string
	endpoint     string
	model        string
	systemPrompt string
	maxTokens    int

	client *http.Client

	logger *slog.Logger
}

type anthropicChatRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	Stream    bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`

	// Text is set for "text" blocks.
	Text string `json:"text,omitempty"`

	// ID, Name and Input are set for "tool_use" blocks.
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// ToolUseID, Content and IsError are set for "tool_result" blocks.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicStreamResponse struct {
	Type         string `json:"type"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

const (
	anthropicAPIEndpoint = "https://api.anthropic.com/v1"
)

// NewAnthropic creates a new Anthropic instance with the specified API key, model name, system prompt
// and maximum token limit. An empty endpoint means the public Anthropic API.
func NewAnthropic(apiKey, endpoint, model, systemPrompt string, maxTokens int, logger *slog.Logger) Anthropic {
	if endpoint == "" {
		endpoint = anthropicAPIEndpoint
	}
	return Anthropic{
		apiKey:       apiKey,
		endpoint:     endpoint,
		model:        model,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
		client:       &http.Client{},
		logger:       logger.With(slog.String("module", "anthropic")),
	}
}

// anthropicMessages converts the thread history into Anthropic messages. Tool results must be sent
// by the user, so an assistant turn holding a call and its result is split around the result.
func anthropicMessages(turns []models.Turn) []anthropicMessage {
	var msgs []anthropicMessage
	appendBlock := func(role string, block anthropicContentBlock) {
		if len(msgs) > 0 && msgs[len(msgs)-1].Role == role {
			msgs[len(msgs)-1].Content = append(msgs[len(msgs)-1].Content, block)
			return
		}
		msgs = append(msgs, anthropicMessage{Role: role, Content: []anthropicContentBlock{block}})
	}

	for _, turn := range turns {
		role := "assistant"
		if turn.Role == models.RoleUser {
			role = "user"
		}
		for _, ct := range turn.Contents {
			switch ct.Type {
			case models.ContentTypeText:
				if ct.Text == "" {
					continue
				}
				appendBlock(role, anthropicContentBlock{Type: "text", Text: ct.Text})
			case models.ContentTypeCallTool:
				input := ct.ToolInput
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				appendBlock("assistant", anthropicContentBlock{
					Type:  "tool_use",
					ID:    ct.CallToolID,
					Name:  ct.ToolName,
					Input: input,
				})
			case models.ContentTypeToolResult:
				appendBlock("user", anthropicContentBlock{
					Type:      "tool_result",
					ToolUseID: ct.CallToolID,
					Content:   ct.ToolResult,
					IsError:   ct.CallToolFailed,
				})
			}
		}
	}
	return msgs
}

// Chat streams responses from the Anthropic API for a given thread history. Text deltas are yielded as
// they arrive; a tool use block is yielded once its input JSON is complete.
func (a Anthropic) Chat(
	ctx context.Context,
	turns []models.Turn,
	tools []models.Tool,
) iter.Seq2[models.Content, error] {
	return func(yield func(models.Content, error) bool) {
		aTools := make([]anthropicTool, len(tools))
		for i, tool := range tools {
			aTools[i] = anthropicTool{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: tool.InputSchema,
			}
		}

		reqBody := anthropicChatRequest{
			Model:     a.model,
			Messages:  anthropicMessages(turns),
			Stream:    true,
			System:    a.systemPrompt,
			MaxTokens: a.maxTokens,
			Tools:     aTools,
		}

		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			yield(models.Content{}, fmt.Errorf("error marshaling request: %w", err))
			return
		}

		a.logger.Debug("Request Body", slog.String("body", string(jsonBody)))

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			a.endpoint+"/messages", bytes.NewBuffer(jsonBody))
		if err != nil {
			yield(models.Content{}, fmt.Errorf("error creating request: %w", err))
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", a.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")

		resp, err := a.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(models.Content{}, fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			yield(models.Content{}, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body)))
			return
		}

		var toolContent *models.Content
		toolArgs := ""
		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				yield(models.Content{}, fmt.Errorf("error reading response: %w", err))
				return
			}
			switch ev.Type {
			case "error":
				var e anthropicError
				if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
					yield(models.Content{}, fmt.Errorf("error unmarshaling error: %w", err))
					return
				}
				yield(models.Content{}, fmt.Errorf("anthropic error %s: %s", e.Error.Type, e.Error.Message))
				return
			case "message_stop":
				return
			case "content_block_start", "content_block_delta", "content_block_stop":
				var res anthropicStreamResponse
				if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
					yield(models.Content{}, fmt.Errorf("error unmarshaling response: %w", err))
					return
				}

				switch {
				case ev.Type == "content_block_start" && res.ContentBlock.Type == "tool_use":
					if toolContent != nil {
						a.logger.Warn("Received multiples tool call, but only the first one is supported",
							slog.String("toolName", res.ContentBlock.Name))
						continue
					}
					toolContent = &models.Content{
						Type:       models.ContentTypeCallTool,
						ToolName:   res.ContentBlock.Name,
						CallToolID: res.ContentBlock.ID,
					}
				case ev.Type == "content_block_delta" && res.Delta.Type == "input_json_delta":
					toolArgs += res.Delta.PartialJSON
				case ev.Type == "content_block_delta" && res.Delta.Text != "":
					if !yield(models.Content{
						Type: models.ContentTypeText,
						Text: res.Delta.Text,
					}, nil) {
						return
					}
				case ev.Type == "content_block_stop" && toolContent != nil && toolContent.ToolInput == nil:
					if toolArgs == "" {
						toolArgs = "{}"
					}
					toolContent.ToolInput = json.RawMessage(toolArgs)
					a.logger.Debug("Call Tool",
						slog.String("name", toolContent.ToolName),
						slog.String("args", toolArgs),
					)
					if !yield(*toolContent, nil) {
						return
					}
				}
			default:
				continue
			}
		}
	}
}
