package models

import (
	"encoding/json"
	"fmt"
)

// Message is a single entry of the list a conversation backend returns. Type is an open set
// ("user", "assistant", "system", "tool", ...) and Content is the already rendered text.
type Message struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// ConversationState is the payload returned by the send, approve and state endpoints. Clients treat
// it as authoritative and replace their local copy with it.
type ConversationState struct {
	Messages             []Message `json:"messages"`
	IsWaitingForApproval bool      `json:"is_waiting_for_approval"`
}

// StartConversationResponse is the payload returned when a thread is created.
type StartConversationResponse struct {
	ThreadID string `json:"thread_id"`
}

// UnmarshalJSON accepts the thread ID as a JSON string or number; it is opaque either way.
func (s *StartConversationResponse) UnmarshalJSON(data []byte) error {
	var raw struct {
		ThreadID json.RawMessage `json:"thread_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.ThreadID = ""
	if len(raw.ThreadID) == 0 || string(raw.ThreadID) == "null" {
		return nil
	}

	var id string
	if err := json.Unmarshal(raw.ThreadID, &id); err == nil {
		s.ThreadID = id
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(raw.ThreadID, &n); err != nil {
		return fmt.Errorf("thread_id must be a string or a number: %w", err)
	}
	s.ThreadID = n.String()
	return nil
}

// SendMessageRequest is the body of a send message call.
type SendMessageRequest struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx backend reply.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
