package services_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MegaGrindStone/hitl-web-ui/internal/models"
	"github.com/MegaGrindStone/hitl-web-ui/internal/services"
)

var weatherTool = models.Tool{
	Name:        "weather_search",
	Description: "Search for the weather",
	InputSchema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
}

var weatherTurns = []models.Turn{
	{Role: models.RoleUser, Contents: []models.Content{{Type: models.ContentTypeText, Text: "weather in sf?"}}},
	{Role: models.RoleAssistant, Contents: []models.Content{
		{Type: models.ContentTypeText, Text: "Let me check."},
		{Type: models.ContentTypeCallTool, ToolName: "weather_search", ToolInput: json.RawMessage(`{"city":"sf"}`), CallToolID: "call_0"},
		{Type: models.ContentTypeToolResult, ToolResult: "Sunny!", CallToolID: "call_0"},
	}},
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func collect(t *testing.T, it iter.Seq2[models.Content, error]) (string, []models.Content) {
	t.Helper()

	var text strings.Builder
	var calls []models.Content
	for ct, err := range it {
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		switch ct.Type {
		case models.ContentTypeText:
			text.WriteString(ct.Text)
		case models.ContentTypeCallTool:
			calls = append(calls, ct)
		}
	}
	return text.String(), calls
}

func writeEvents(w http.ResponseWriter, events []string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, ev := range events {
		_, _ = io.WriteString(w, ev)
		_, _ = io.WriteString(w, "\n\n")
	}
}

func TestAnthropicChatToolUse(t *testing.T) {
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "key" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		writeEvents(w, []string{
			"event: message_start\ndata: {\"type\":\"message_start\"}",
			"event: content_block_start\ndata: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\",\"text\":\"\"}}",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Checking \"}}",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"now\"}}",
			"event: content_block_stop\ndata: {\"type\":\"content_block_stop\",\"index\":0}",
			"event: content_block_start\ndata: {\"type\":\"content_block_start\",\"index\":1,\"content_block\":{\"type\":\"tool_use\",\"id\":\"toolu_1\",\"name\":\"weather_search\",\"input\":{}}}",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":1,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"{\\\"city\\\":\"}}",
			"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":1,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"\\\"sf\\\"}\"}}",
			"event: content_block_stop\ndata: {\"type\":\"content_block_stop\",\"index\":1}",
			"event: message_stop\ndata: {\"type\":\"message_stop\"}",
		})
	}))
	defer srv.Close()

	llm := services.NewAnthropic("key", srv.URL, "claude", "be brief", 1024, discardLogger())
	text, calls := collect(t, llm.Chat(context.Background(), weatherTurns, []models.Tool{weatherTool}))

	if text != "Checking now" {
		t.Errorf("Chat() text = %q, want %q", text, "Checking now")
	}
	if len(calls) != 1 {
		t.Fatalf("Chat() tool calls = %d, want 1", len(calls))
	}
	if calls[0].ToolName != "weather_search" || calls[0].CallToolID != "toolu_1" {
		t.Errorf("Chat() tool call = %+v", calls[0])
	}
	if string(calls[0].ToolInput) != `{"city":"sf"}` {
		t.Errorf("Chat() tool input = %s", calls[0].ToolInput)
	}

	if gotReq["system"] != "be brief" {
		t.Errorf("request system = %v", gotReq["system"])
	}
	msgs, _ := gotReq["messages"].([]any)
	// user, assistant (text + tool_use), user (tool_result)
	if len(msgs) != 3 {
		t.Fatalf("request messages = %d, want 3: %v", len(msgs), msgs)
	}
	last, _ := msgs[2].(map[string]any)
	if last["role"] != "user" {
		t.Errorf("tool result should be sent by the user, got %v", last["role"])
	}
}

func TestAnthropicChatError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeEvents(w, []string{
			"event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}",
		})
	}))
	defer srv.Close()

	llm := services.NewAnthropic("key", srv.URL, "claude", "", 1024, discardLogger())
	var gotErr error
	for _, err := range llm.Chat(context.Background(), weatherTurns[:1], nil) {
		if err != nil {
			gotErr = err
		}
	}
	if gotErr == nil || !strings.Contains(gotErr.Error(), "Overloaded") {
		t.Errorf("Chat() error = %v, want overloaded error", gotErr)
	}
}

func TestOpenRouterChatToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" || r.Header.Get("X-Title") == "" {
			t.Errorf("missing openrouter headers: %v", r.Header)
		}
		writeEvents(w, []string{
			`data: {"choices":[{"delta":{"role":"assistant","content":"Sure"}}]}`,
			`data: {"choices":[{"delta":{"tool_calls":[{"id":"call_1","type":"function","function":{"name":"weather_search","arguments":""}}]}}]}`,
			`data: {"choices":[{"delta":{"tool_calls":[{"function":{"arguments":"{\"city\":\"sf\"}"}}]}}]}`,
			`data: [DONE]`,
		})
	}))
	defer srv.Close()

	llm := services.NewOpenRouter("key", srv.URL, "model", "", discardLogger())
	text, calls := collect(t, llm.Chat(context.Background(), weatherTurns[:1], []models.Tool{weatherTool}))

	if text != "Sure" {
		t.Errorf("Chat() text = %q, want %q", text, "Sure")
	}
	if len(calls) != 1 || calls[0].ToolName != "weather_search" {
		t.Fatalf("Chat() tool calls = %+v", calls)
	}
	if calls[0].CallToolID != "call_1" {
		t.Errorf("Chat() tool call id = %q", calls[0].CallToolID)
	}
	if string(calls[0].ToolInput) != `{"city":"sf"}` {
		t.Errorf("Chat() tool input = %s", calls[0].ToolInput)
	}
}

func TestOpenAIChatToolUse(t *testing.T) {
	var gotReq struct {
		Messages []struct {
			Role       string `json:"role"`
			ToolCallID string `json:"tool_call_id"`
		} `json:"messages"`
		Tools []any `json:"tools"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		chunk := func(delta string) string {
			return fmt.Sprintf(`data: {"id":"c","object":"chat.completion.chunk","choices":[{"index":0,"delta":%s}]}`, delta)
		}
		writeEvents(w, []string{
			chunk(`{"role":"assistant","content":"It is "}`),
			chunk(`{"content":"sunny"}`),
			chunk(`{"tool_calls":[{"index":0,"id":"call_9","type":"function","function":{"name":"weather_search","arguments":"{\"city\":"}}]}`),
			chunk(`{"tool_calls":[{"index":0,"function":{"arguments":"\"nyc\"}"}}]}`),
			`data: [DONE]`,
		})
	}))
	defer srv.Close()

	llm := services.NewOpenAI("key", srv.URL+"/v1", "gpt-4o-mini", "system", services.LLMParameters{}, discardLogger())
	text, calls := collect(t, llm.Chat(context.Background(), weatherTurns, []models.Tool{weatherTool}))

	if text != "It is sunny" {
		t.Errorf("Chat() text = %q", text)
	}
	if len(calls) != 1 || calls[0].CallToolID != "call_9" {
		t.Fatalf("Chat() tool calls = %+v", calls)
	}
	if string(calls[0].ToolInput) != `{"city":"nyc"}` {
		t.Errorf("Chat() tool input = %s", calls[0].ToolInput)
	}

	// system, user, assistant text, assistant tool call, tool result
	if len(gotReq.Messages) != 5 {
		t.Fatalf("request messages = %d, want 5", len(gotReq.Messages))
	}
	if gotReq.Messages[4].Role != "tool" || gotReq.Messages[4].ToolCallID != "call_0" {
		t.Errorf("request tool message = %+v", gotReq.Messages[4])
	}
	if len(gotReq.Tools) != 1 {
		t.Errorf("request tools = %d, want 1", len(gotReq.Tools))
	}
}

func TestOllamaChat(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		lines    []string
		wantText string
		wantErr  string
	}{
		{
			name:   "Streams text",
			status: http.StatusOK,
			lines: []string{
				`{"model":"llama3.2","message":{"role":"assistant","content":"It is "},"done":false}`,
				`{"model":"llama3.2","message":{"role":"assistant","content":"sunny"},"done":false}`,
				`{"model":"llama3.2","message":{"role":"assistant","content":""},"done":true}`,
			},
			wantText: "It is sunny",
		},
		{
			name:    "Server error",
			status:  http.StatusInternalServerError,
			lines:   []string{`{"error":"model not found"}`},
			wantErr: "model not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotReq struct {
				Model    string `json:"model"`
				Messages []struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"messages"`
			}
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/chat" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
					t.Errorf("failed to decode request: %v", err)
				}
				w.Header().Set("Content-Type", "application/x-ndjson")
				w.WriteHeader(tt.status)
				for _, line := range tt.lines {
					_, _ = io.WriteString(w, line+"\n")
				}
			}))
			defer srv.Close()

			llm, err := services.NewOllama(srv.URL, "llama3.2", "be brief", discardLogger())
			if err != nil {
				t.Fatalf("NewOllama() error = %v", err)
			}

			var text strings.Builder
			var gotErr error
			for ct, err := range llm.Chat(context.Background(), weatherTurns, []models.Tool{weatherTool}) {
				if err != nil {
					gotErr = err
					continue
				}
				if ct.Type != models.ContentTypeText {
					t.Errorf("Chat() content type = %q, want text only", ct.Type)
				}
				text.WriteString(ct.Text)
			}

			if tt.wantErr != "" {
				if gotErr == nil || !strings.Contains(gotErr.Error(), tt.wantErr) {
					t.Errorf("Chat() error = %v, want %q", gotErr, tt.wantErr)
				}
				return
			}
			if gotErr != nil {
				t.Fatalf("Chat() error = %v", gotErr)
			}
			if text.String() != tt.wantText {
				t.Errorf("Chat() text = %q, want %q", text.String(), tt.wantText)
			}

			// system prompt, then one message per turn with tool calls rendered into the text
			if len(gotReq.Messages) != 3 || gotReq.Messages[0].Role != "system" {
				t.Fatalf("request messages = %+v", gotReq.Messages)
			}
			if !strings.Contains(gotReq.Messages[2].Content, "Calling Tool: weather_search") {
				t.Errorf("assistant turn = %q, want the rendered tool call", gotReq.Messages[2].Content)
			}
		})
	}
}
