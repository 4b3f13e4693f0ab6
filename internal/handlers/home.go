package handlers

import (
	"context"
	"html/template"
	"log/slog"
	"net/http"
)

type homePageData struct {
	SessionID string
	Chatbox   chatboxData
}

type chatboxData struct {
	SessionID            string
	ThreadID             string
	Messages             []message
	IsWaitingForApproval bool

	// Input is the text kept in the message input, preserved when a send did not go through.
	Input string
}

type message struct {
	Type    string
	Content template.HTML
}

// HandleHome renders the chat page. Every page load opens a new page session with its own Controller
// and asks the backend for a new conversation thread. When the backend is unreachable the page still
// renders, without a thread ID, and sending is a no-op.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	c := NewController(m.backend, m.logger.With(slog.String("module", "controller")))
	// The thread belongs to the page, not the request, so a client disconnect must not abort its creation.
	c.StartConversation(context.WithoutCancel(r.Context()))

	sessionID := m.sessions.add(c)

	data := homePageData{
		SessionID: sessionID,
		Chatbox:   newChatboxData(sessionID, c.State(), ""),
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to render home", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func newChatboxData(sessionID string, state ControllerState, input string) chatboxData {
	msgs := make([]message, 0, len(state.Messages))
	for _, msg := range state.Messages {
		msgs = append(msgs, message{
			Type:    msg.Type,
			Content: renderMarkdown(msg.Content),
		})
	}

	return chatboxData{
		SessionID:            sessionID,
		ThreadID:             state.ThreadID,
		Messages:             msgs,
		IsWaitingForApproval: state.IsWaitingForApproval,
		Input:                input,
	}
}

func (m Main) renderChatbox(w http.ResponseWriter, data chatboxData) {
	if err := m.templates.ExecuteTemplate(w, "chatbox", data); err != nil {
		m.logger.Error("Failed to render chatbox", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
