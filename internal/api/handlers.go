package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/hitl-web-ui/internal/agent"
	"github.com/MegaGrindStone/hitl-web-ui/internal/metrics"
	"github.com/MegaGrindStone/hitl-web-ui/internal/models"
	"github.com/go-chi/chi/v5"
)

// Conversations is the conversation engine behind the API. *agent.Agent implements it.
type Conversations interface {
	StartThread(ctx context.Context) (models.Thread, error)
	State(ctx context.Context, threadID string) (models.ConversationState, error)
	HandleHumanMessage(ctx context.Context, threadID, message string) (models.ConversationState, error)
	HandleApprove(ctx context.Context, threadID string) (models.ConversationState, error)
}

// Handler serves the conversation endpoints.
type Handler struct {
	conversations Conversations

	logger *slog.Logger
}

type sendMessageBody struct {
	Message *string `json:"message"`
}

const errLoggerKey = "err"

// maxBodySize bounds the send message body.
const maxBodySize = 64 << 10

// NewHandler creates a Handler backed by the given conversation engine.
func NewHandler(conversations Conversations, logger *slog.Logger) Handler {
	return Handler{
		conversations: conversations,
		logger:        logger.With(slog.String("module", "api")),
	}
}

// Health reports that the server is up.
func (h Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StartConversation creates a new thread and returns its ID.
func (h Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Method called: start_conversation")

	thread, err := h.conversations.StartThread(r.Context())
	if err != nil {
		h.logger.Error("Failed to start conversation", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	metrics.ConversationsStarted.Inc()
	writeJSON(w, http.StatusOK, models.StartConversationResponse{ThreadID: thread.ID})
}

// SendMessage hands a human message to the thread and returns the resulting conversation state.
func (h Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "thread_id")
	h.logger.Info("Method called: send_message", slog.String("threadID", threadID))

	var body sendMessageBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if body.Message == nil {
		writeError(w, http.StatusUnprocessableEntity, "Field required: message")
		return
	}

	state, err := h.conversations.HandleHumanMessage(r.Context(), threadID, *body.Message)
	if err != nil {
		h.writeAgentError(w, "send_message", threadID, err)
		return
	}

	metrics.HumanMessages.Inc()
	writeJSON(w, http.StatusOK, state)
}

// Approve approves the tool call the thread is waiting on and returns the resulting conversation state.
func (h Handler) Approve(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "thread_id")
	h.logger.Info("Method called: approve", slog.String("threadID", threadID))

	state, err := h.conversations.HandleApprove(r.Context(), threadID)
	if err != nil {
		h.writeAgentError(w, "approve", threadID, err)
		return
	}

	metrics.Approvals.Inc()
	writeJSON(w, http.StatusOK, state)
}

// ConversationState returns the current state of the thread.
func (h Handler) ConversationState(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "thread_id")
	h.logger.Info("Method called: get_conversation_state", slog.String("threadID", threadID))

	state, err := h.conversations.State(r.Context(), threadID)
	if err != nil {
		h.writeAgentError(w, "conversation_state", threadID, err)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

func (h Handler) writeAgentError(w http.ResponseWriter, operation, threadID string, err error) {
	switch {
	case errors.Is(err, agent.ErrThreadNotFound):
		writeError(w, http.StatusNotFound, "Conversation not found")
	case errors.Is(err, agent.ErrNoApprovalPending):
		writeError(w, http.StatusBadRequest, "No approval pending")
	default:
		metrics.AgentFailures.WithLabelValues(operation).Inc()
		h.logger.Error("Agent step failed",
			slog.String("operation", operation),
			slog.String("threadID", threadID),
			slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, models.ErrorResponse{Detail: detail})
}
