package handlers

import (
	"context"
	"log/slog"
	"net/http"
)

// HandleMessages forwards the "message" form field of the page session named by the "session_id" form
// field to its conversation thread, and renders the refreshed chatbox. The input is cleared only when
// the backend accepted the message. A backend failure is not an HTTP error: the previous conversation
// is rendered again with the input preserved.
func (m Main) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.FormValue("session_id")
	c, ok := m.sessions.get(sessionID)
	if !ok {
		m.logger.Warn("Unknown page session", slog.String("sessionID", sessionID))
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	input := r.FormValue("message")
	if c.SendMessage(context.WithoutCancel(r.Context()), input) {
		input = ""
	}

	m.renderChatbox(w, newChatboxData(sessionID, c.State(), input))
}

// HandleApprove approves the pending action of the page session named by the "session_id" form field,
// and renders the refreshed chatbox. A rejected or failed approval keeps the conversation as it was,
// with the message input preserved from the "message" form field.
func (m Main) HandleApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.FormValue("session_id")
	c, ok := m.sessions.get(sessionID)
	if !ok {
		m.logger.Warn("Unknown page session", slog.String("sessionID", sessionID))
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	c.Approve(context.WithoutCancel(r.Context()))

	m.renderChatbox(w, newChatboxData(sessionID, c.State(), r.FormValue("message")))
}

// HandleCloseSession drops the page session named by the "session_id" form field. Pages call it when
// they are closed; unknown sessions are ignored.
func (m Main) HandleCloseSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.FormValue("session_id")
	if m.sessions.remove(sessionID) {
		m.closeSessions(sessionID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSSE serves the server-sent events stream pages use to learn that the server is going away.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}
