package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Thread is the backend-side record of a conversation. It carries the full turn history and the
// name of the node the agent will run next, which is how a thread remembers that it is paused for
// human review between requests.
type Thread struct {
	ID        string
	Turns     []Turn
	Next      Node
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Turn is one entry of a thread history. It contains the participant's role, an ordered list of
// contents and the time it was recorded.
type Turn struct {
	Role      Role
	Contents  []Content
	Timestamp time.Time
}

// Content is a turn content with its type.
type Content struct {
	Type ContentType

	// Text would be filled if Type is ContentTypeText.
	Text string

	// ToolName would be filled if Type is ContentTypeCallTool.
	ToolName string
	// ToolInput would be filled if Type is ContentTypeCallTool.
	ToolInput json.RawMessage

	// ToolResult would be filled if Type is ContentTypeToolResult. The value would be either tool result or error.
	ToolResult string

	// CallToolID would be filled if Type is ContentTypeCallTool or ContentTypeToolResult.
	CallToolID string
	// CallToolFailed is a flag indicating if the call tool failed or was rejected by the reviewer.
	// This flag would be set to true only if Type is ContentTypeToolResult.
	CallToolFailed bool
}

// Tool describes a function the model may ask the agent to run.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Role represents the role of a turn participant.
type Role string

// ContentType represents the type of content in turns.
type ContentType string

// Node names a step of the agent graph.
type Node string

const (
	// RoleUser represents a human turn. A turn with this role would only contain text content.
	RoleUser Role = "user"
	// RoleAssistant represents a model turn. A turn with this role would contain text content
	// and potentially tool calls and their results.
	RoleAssistant Role = "assistant"

	// ContentTypeText represents text content.
	ContentTypeText ContentType = "text"
	// ContentTypeCallTool represents a call to a tool.
	ContentTypeCallTool ContentType = "call_tool"
	// ContentTypeToolResult represents the result of a tool call.
	ContentTypeToolResult ContentType = "tool_result"

	// NodeEnd means the graph finished and waits for the next human message.
	NodeEnd Node = ""
	// NodeHumanReview means the graph is interrupted before the human review of a tool call.
	NodeHumanReview Node = "human_review_node"
)

// PendingToolCall returns the last tool call of the thread that has no result yet.
func (t Thread) PendingToolCall() (Content, bool) {
	if len(t.Turns) == 0 {
		return Content{}, false
	}
	last := t.Turns[len(t.Turns)-1]
	if last.Role != RoleAssistant || len(last.Contents) == 0 {
		return Content{}, false
	}
	ct := last.Contents[len(last.Contents)-1]
	if ct.Type != ContentTypeCallTool {
		return Content{}, false
	}
	return ct, true
}

// Messages flattens the thread history into the display list returned to clients, one message per turn.
func (t Thread) Messages() []Message {
	msgs := make([]Message, 0, len(t.Turns))
	for _, turn := range t.Turns {
		msgs = append(msgs, Message{
			Type:    string(turn.Role),
			Content: RenderContents(turn.Contents),
		})
	}
	return msgs
}

// State returns the conversation state of the thread as seen by clients.
func (t Thread) State() ConversationState {
	return ConversationState{
		Messages:             t.Messages(),
		IsWaitingForApproval: t.Next == NodeHumanReview,
	}
}

// RenderContents renders a slice of Content into a markdown string. Tool calls are rendered with their
// name and indented JSON input, tool results with their outcome.
func RenderContents(contents []Content) string {
	var sb strings.Builder
	for _, content := range contents {
		switch content.Type {
		case ContentTypeText:
			if content.Text == "" {
				continue
			}
			sb.WriteString(content.Text)
		case ContentTypeCallTool:
			if sb.Len() > 0 {
				sb.WriteString("  \n\n")
			}
			sb.WriteString(fmt.Sprintf("Calling Tool: %s  \n", content.ToolName))
			sb.WriteString("Input:  \n")

			var prettyJSON bytes.Buffer
			input := string(content.ToolInput)
			if err := json.Indent(&prettyJSON, content.ToolInput, "", "  "); err == nil {
				input = prettyJSON.String()
			}

			sb.WriteString(fmt.Sprintf("```json  \n%s  \n```  \n", input))
		case ContentTypeToolResult:
			sb.WriteString("  \n\n")
			if content.CallToolFailed {
				sb.WriteString("Result (failed):  \n")
			} else {
				sb.WriteString("Result:  \n")
			}
			sb.WriteString(fmt.Sprintf("```  \n%s  \n```  \n", content.ToolResult))
		}
	}
	return sb.String()
}
