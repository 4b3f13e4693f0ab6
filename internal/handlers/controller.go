package handlers

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/MegaGrindStone/hitl-web-ui/internal/models"
)

// Controller holds the state of one page session: the backend thread, the last message list the
// backend returned and whether the backend waits for an approval. It never computes messages itself,
// every successful backend reply replaces its state wholesale and every failure leaves it untouched.
//
// Calls are not serialized against each other. The lock only guards reading and replacing the state,
// so with overlapping calls the last reply to arrive wins.
type Controller struct {
	backend Conversation

	mu                 sync.Mutex
	threadID           string
	messages           []models.Message
	waitingForApproval bool

	logger *slog.Logger
}

// ControllerState is a snapshot of a Controller.
type ControllerState struct {
	ThreadID             string
	Messages             []models.Message
	IsWaitingForApproval bool
}

// NewController creates a Controller without a thread.
func NewController(backend Conversation, logger *slog.Logger) *Controller {
	return &Controller{
		backend: backend,
		logger:  logger,
	}
}

// StartConversation asks the backend for a thread. On failure the controller stays without a thread;
// the failure is only logged. It does nothing if a thread was already started.
func (c *Controller) StartConversation(ctx context.Context) {
	if c.ThreadID() != "" {
		return
	}

	threadID, err := c.backend.StartConversation(ctx)
	if err != nil {
		c.logger.Error("Failed to start conversation", slog.String(errLoggerKey, err.Error()))
		return
	}

	c.mu.Lock()
	c.threadID = threadID
	c.mu.Unlock()

	c.logger.Info("Conversation started", slog.String("threadID", threadID))
}

// SendMessage posts text to the current thread. Empty or whitespace-only text, or a missing thread,
// makes it a no-op without any backend call. It reports whether the message was accepted, which is
// when the caller should clear its input.
func (c *Controller) SendMessage(ctx context.Context, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}

	threadID := c.ThreadID()
	if threadID == "" {
		c.logger.Warn("Send message without a conversation thread")
		return false
	}

	state, err := c.backend.SendMessage(ctx, threadID, text)
	if err != nil {
		c.logger.Error("Failed to send message",
			slog.String("threadID", threadID),
			slog.String(errLoggerKey, err.Error()))
		return false
	}

	c.replace(state)
	return true
}

// Approve approves the pending action of the current thread. A missing thread makes it a no-op
// without any backend call. It reports whether the backend accepted the approval.
func (c *Controller) Approve(ctx context.Context) bool {
	threadID := c.ThreadID()
	if threadID == "" {
		c.logger.Warn("Approve without a conversation thread")
		return false
	}

	state, err := c.backend.Approve(ctx, threadID)
	if err != nil {
		c.logger.Error("Failed to approve",
			slog.String("threadID", threadID),
			slog.String(errLoggerKey, err.Error()))
		return false
	}

	c.replace(state)
	return true
}

// ThreadID returns the current thread ID, or an empty string if no thread was started.
func (c *Controller) ThreadID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threadID
}

// State returns a snapshot of the controller state.
func (c *Controller) State() ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ControllerState{
		ThreadID:             c.threadID,
		Messages:             slices.Clone(c.messages),
		IsWaitingForApproval: c.waitingForApproval,
	}
}

func (c *Controller) replace(state models.ConversationState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = state.Messages
	c.waitingForApproval = state.IsWaitingForApproval
}
