package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/MegaGrindStone/hitl-web-ui/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// LLMParameters holds the optional sampling parameters shared by the providers that support them.
// A nil field leaves the provider default in place.
type LLMParameters struct {
	Temperature *float32 `yaml:"temperature"`
	TopP        *float32 `yaml:"topP"`
	Seed        *int     `yaml:"seed"`
	MaxTokens   *int     `yaml:"maxTokens"`
}

// chatCompletions streams a thread through any chat completions API that go-openai can talk to.
// OpenAI and OpenRouter only differ in how the client is configured.
type chatCompletions struct {
	model        string
	systemPrompt string
	params       LLMParameters

	client *goopenai.Client

	logger *slog.Logger
}

// completionMessages flattens a thread into chat completion messages. Every content becomes its own
// message: text keeps the turn role, a tool call is an assistant message and its result a tool message.
func completionMessages(systemPrompt string, turns []models.Turn) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(turns)+1)
	if systemPrompt != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}

	for _, turn := range turns {
		for _, ct := range turn.Contents {
			switch ct.Type {
			case models.ContentTypeText:
				if ct.Text == "" {
					continue
				}
				msgs = append(msgs, goopenai.ChatCompletionMessage{
					Role:    string(turn.Role),
					Content: ct.Text,
				})
			case models.ContentTypeCallTool:
				msgs = append(msgs, goopenai.ChatCompletionMessage{
					Role: goopenai.ChatMessageRoleAssistant,
					ToolCalls: []goopenai.ToolCall{{
						Type: goopenai.ToolTypeFunction,
						ID:   ct.CallToolID,
						Function: goopenai.FunctionCall{
							Name:      ct.ToolName,
							Arguments: string(ct.ToolInput),
						},
					}},
				})
			case models.ContentTypeToolResult:
				msgs = append(msgs, goopenai.ChatCompletionMessage{
					Role:       goopenai.ChatMessageRoleTool,
					Content:    ct.ToolResult,
					ToolCallID: ct.CallToolID,
				})
			}
		}
	}
	return msgs
}

func completionTools(tools []models.Tool) []goopenai.Tool {
	if len(tools) == 0 {
		return nil
	}
	res := make([]goopenai.Tool, len(tools))
	for i, tool := range tools {
		res[i] = goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		}
	}
	return res
}

func (c chatCompletions) request(turns []models.Turn, tools []models.Tool) goopenai.ChatCompletionRequest {
	req := goopenai.ChatCompletionRequest{
		Model:    c.model,
		Messages: completionMessages(c.systemPrompt, turns),
		Tools:    completionTools(tools),
		Stream:   true,
	}

	if c.params.Temperature != nil {
		req.Temperature = *c.params.Temperature
	}
	if c.params.TopP != nil {
		req.TopP = *c.params.TopP
	}
	if c.params.Seed != nil {
		req.Seed = c.params.Seed
	}
	if c.params.MaxTokens != nil {
		req.MaxTokens = *c.params.MaxTokens
	}
	return req
}

// toolCallBuffer assembles the first tool call of a stream from its deltas. Later tool calls are
// dropped, a thread only ever waits on one.
type toolCallBuffer struct {
	call    models.Content
	args    []byte
	started bool
	dropped int
}

func (b *toolCallBuffer) add(deltas []goopenai.ToolCall) {
	for i, d := range deltas {
		first := (d.Index == nil && i == 0) || (d.Index != nil && *d.Index == 0)
		if !first {
			b.dropped++
			continue
		}
		if !b.started {
			b.started = true
			b.call = models.Content{Type: models.ContentTypeCallTool}
		}
		if d.ID != "" && b.call.CallToolID == "" {
			b.call.CallToolID = d.ID
		}
		if d.Function.Name != "" && b.call.ToolName == "" {
			b.call.ToolName = d.Function.Name
		}
		b.args = append(b.args, d.Function.Arguments...)
	}
}

func (b *toolCallBuffer) result() (models.Content, bool) {
	if !b.started {
		return models.Content{}, false
	}
	call := b.call
	call.ToolInput = json.RawMessage("{}")
	if len(b.args) > 0 {
		call.ToolInput = json.RawMessage(b.args)
	}
	return call, true
}

// chat yields text deltas as they arrive and the requested tool call, if any, once the stream ends.
func (c chatCompletions) chat(
	ctx context.Context,
	turns []models.Turn,
	tools []models.Tool,
) iter.Seq2[models.Content, error] {
	return func(yield func(models.Content, error) bool) {
		req := c.request(turns, tools)
		if reqJSON, err := json.Marshal(req); err == nil {
			c.logger.Debug("Request", slog.String("req", string(reqJSON)))
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := c.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			yield(models.Content{}, fmt.Errorf("error sending request: %w", err))
			return
		}
		defer stream.Close()

		var calls toolCallBuffer
		for {
			res, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				yield(models.Content{}, fmt.Errorf("error receiving response: %w", err))
				return
			}
			if len(res.Choices) == 0 {
				continue
			}

			delta := res.Choices[0].Delta
			calls.add(delta.ToolCalls)
			if delta.Content == "" {
				continue
			}
			if !yield(models.Content{Type: models.ContentTypeText, Text: delta.Content}, nil) {
				return
			}
		}

		if calls.dropped > 0 {
			c.logger.Warn("Ignoring deltas of additional tool calls", slog.Int("deltas", calls.dropped))
		}
		if call, ok := calls.result(); ok {
			c.logger.Debug("Call Tool",
				slog.String("name", call.ToolName),
				slog.String("args", string(call.ToolInput)))
			yield(call, nil)
		}
	}
}
