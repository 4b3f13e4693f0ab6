package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MegaGrindStone/hitl-web-ui/internal/models"
	"github.com/go-resty/resty/v2"
)

// ConversationClient talks to a human-in-the-loop conversation backend over its JSON HTTP API. It
// implements the handlers.Conversation interface.
type ConversationClient struct {
	client *resty.Client

	logger *slog.Logger
}

// ErrUnexpectedStatus is returned when the backend replies with a non-2xx status code.
var ErrUnexpectedStatus = errors.New("unexpected status code")

// ErrMalformedResponse is returned when a 2xx reply can't be used as a response payload.
var ErrMalformedResponse = errors.New("malformed response")

// statePayload mirrors models.ConversationState with both fields required.
type statePayload struct {
	Messages             *[]models.Message `json:"messages"`
	IsWaitingForApproval *bool             `json:"is_waiting_for_approval"`
}

func (p statePayload) state() (models.ConversationState, error) {
	if p.Messages == nil {
		return models.ConversationState{}, fmt.Errorf("%w: missing messages", ErrMalformedResponse)
	}
	if p.IsWaitingForApproval == nil {
		return models.ConversationState{}, fmt.Errorf("%w: missing is_waiting_for_approval", ErrMalformedResponse)
	}
	return models.ConversationState{
		Messages:             *p.Messages,
		IsWaitingForApproval: *p.IsWaitingForApproval,
	}, nil
}

// NewConversationClient creates a client for the backend at baseURL. A zero timeout means requests
// never time out on their own.
func NewConversationClient(baseURL string, timeout time.Duration, logger *slog.Logger) ConversationClient {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		c.SetTimeout(timeout)
	}

	return ConversationClient{
		client: c,
		logger: logger.With(slog.String("module", "conversation")),
	}
}

// StartConversation asks the backend for a new thread and returns its identifier.
func (c ConversationClient) StartConversation(ctx context.Context) (string, error) {
	var res models.StartConversationResponse
	resp, err := c.request(ctx).
		SetResult(&res).
		Post("/start_conversation")
	if err := c.check(resp, err); err != nil {
		return "", fmt.Errorf("failed to start conversation: %w", err)
	}

	if res.ThreadID == "" {
		return "", fmt.Errorf("failed to start conversation: %w: missing thread_id", ErrMalformedResponse)
	}

	c.logger.Debug("Conversation started", slog.String("threadID", res.ThreadID))

	return res.ThreadID, nil
}

// SendMessage posts a human message to the thread and returns the resulting conversation state.
func (c ConversationClient) SendMessage(ctx context.Context, threadID, message string) (models.ConversationState, error) {
	var res statePayload
	resp, err := c.request(ctx).
		SetPathParam("thread_id", threadID).
		SetBody(models.SendMessageRequest{Message: message}).
		SetResult(&res).
		Post("/send_message/{thread_id}")
	if err := c.check(resp, err); err != nil {
		return models.ConversationState{}, fmt.Errorf("failed to send message: %w", err)
	}

	state, err := res.state()
	if err != nil {
		return models.ConversationState{}, fmt.Errorf("failed to send message: %w", err)
	}
	return state, nil
}

// Approve approves the tool call the thread is waiting on and returns the resulting conversation state.
func (c ConversationClient) Approve(ctx context.Context, threadID string) (models.ConversationState, error) {
	var res statePayload
	resp, err := c.request(ctx).
		SetPathParam("thread_id", threadID).
		SetResult(&res).
		Post("/approve/{thread_id}")
	if err := c.check(resp, err); err != nil {
		return models.ConversationState{}, fmt.Errorf("failed to approve: %w", err)
	}

	state, err := res.state()
	if err != nil {
		return models.ConversationState{}, fmt.Errorf("failed to approve: %w", err)
	}
	return state, nil
}

// State fetches the current conversation state of the thread without changing it.
func (c ConversationClient) State(ctx context.Context, threadID string) (models.ConversationState, error) {
	var res statePayload
	resp, err := c.request(ctx).
		SetPathParam("thread_id", threadID).
		SetResult(&res).
		Get("/conversation_state/{thread_id}")
	if err := c.check(resp, err); err != nil {
		return models.ConversationState{}, fmt.Errorf("failed to get conversation state: %w", err)
	}

	state, err := res.state()
	if err != nil {
		return models.ConversationState{}, fmt.Errorf("failed to get conversation state: %w", err)
	}
	return state, nil
}

func (c ConversationClient) request(ctx context.Context) *resty.Request {
	// The backend always speaks JSON, so a reply with a wrong content type is still decoded and
	// surfaces as a malformed payload instead of an empty result.
	return c.client.R().
		SetContext(ctx).
		SetError(&models.ErrorResponse{}).
		ForceContentType("application/json")
}

func (c ConversationClient) check(resp *resty.Response, err error) error {
	if resp != nil && resp.StatusCode() != 0 && !resp.IsSuccess() {
		detail := resp.String()
		if e, ok := resp.Error().(*models.ErrorResponse); ok && e.Detail != "" {
			detail = e.Detail
		}
		return fmt.Errorf("%w: %d, detail: %s", ErrUnexpectedStatus, resp.StatusCode(), detail)
	}

	if err != nil {
		if resp != nil && resp.IsSuccess() {
			return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
		return err
	}

	return nil
}
