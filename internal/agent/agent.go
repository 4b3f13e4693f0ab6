// Package agent runs the human-in-the-loop conversation graph behind the backend API.
//
// A thread alternates between two nodes. The model node calls the LLM with the thread history; if
// the model asks for a tool the graph is interrupted before the human review node and the thread
// waits. Approving runs the tool and calls the model again. Sending a new human message while
// waiting rejects the pending tool call first.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/hitl-web-ui/internal/models"
	"github.com/google/uuid"
)

// LLM represents a large language model that streams the next assistant turn for a thread history.
// It yields text chunks and at most one tool call, and potential errors.
type LLM interface {
	Chat(ctx context.Context, turns []models.Turn, tools []models.Tool) iter.Seq2[models.Content, error]
}

// Store checkpoints threads between requests.
type Store interface {
	AddThread(ctx context.Context, thread models.Thread) error
	Thread(ctx context.Context, threadID string) (models.Thread, bool, error)
	UpdateThread(ctx context.Context, thread models.Thread) error
}

// Tool is a function the model may request. It only runs after a human approved the call.
type Tool interface {
	Definition() models.Tool
	Call(ctx context.Context, input json.RawMessage) (string, error)
}

// Agent drives threads through the graph and checkpoints them after every successful step.
type Agent struct {
	llm   LLM
	store Store
	tools map[string]Tool
	defs  []models.Tool

	mu    sync.Mutex
	locks map[string]*threadLock

	logger *slog.Logger
}

var (
	// ErrThreadNotFound is returned for operations on an unknown thread ID.
	ErrThreadNotFound = errors.New("conversation not found")
	// ErrNoApprovalPending is returned when approving a thread that is not waiting for review.
	ErrNoApprovalPending = errors.New("no approval pending")
)

const (
	errLoggerKey = "err"

	rejectedToolResult = "Tool call rejected"
)

// New creates an Agent that offers the given tools to the model. Of tools sharing a name, the first
// one is kept.
func New(llm LLM, store Store, tools []Tool, logger *slog.Logger) *Agent {
	a := &Agent{
		llm:    llm,
		store:  store,
		tools:  make(map[string]Tool, len(tools)),
		locks:  make(map[string]*threadLock),
		logger: logger.With(slog.String("module", "agent")),
	}
	for _, t := range tools {
		def := t.Definition()
		if _, ok := a.tools[def.Name]; ok {
			a.logger.Warn("Ignoring duplicate tool", slog.String("toolName", def.Name))
			continue
		}
		a.tools[def.Name] = t
		a.defs = append(a.defs, def)
	}
	return a
}

// StartThread creates an empty thread that is not waiting for anything.
func (a *Agent) StartThread(ctx context.Context) (models.Thread, error) {
	now := time.Now()
	thread := models.Thread{
		ID:        strings.ReplaceAll(uuid.New().String(), "-", ""),
		Next:      models.NodeEnd,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.AddThread(ctx, thread); err != nil {
		return models.Thread{}, fmt.Errorf("failed to add thread: %w", err)
	}

	a.logger.Info("Thread started", slog.String("threadID", thread.ID))

	return thread, nil
}

// State returns the conversation state of a thread.
func (a *Agent) State(ctx context.Context, threadID string) (models.ConversationState, error) {
	thread, err := a.thread(ctx, threadID)
	if err != nil {
		return models.ConversationState{}, err
	}
	return thread.State(), nil
}

// HandleHumanMessage appends a human message to the thread and runs the model once. A tool call that
// is still waiting for review is rejected before the message is added.
func (a *Agent) HandleHumanMessage(ctx context.Context, threadID, message string) (models.ConversationState, error) {
	unlock := a.lock(threadID)
	defer unlock()

	thread, err := a.thread(ctx, threadID)
	if err != nil {
		return models.ConversationState{}, err
	}

	a.logger.Debug("Handle human message",
		slog.String("threadID", threadID),
		slog.Bool("waitingForReview", thread.Next == models.NodeHumanReview))

	if thread.Next == models.NodeHumanReview {
		a.rejectPendingToolCall(&thread)
	}

	thread.Turns = append(thread.Turns, models.Turn{
		Role: models.RoleUser,
		Contents: []models.Content{
			{
				Type: models.ContentTypeText,
				Text: message,
			},
		},
		Timestamp: time.Now(),
	})

	if err := a.callModel(ctx, &thread); err != nil {
		return models.ConversationState{}, err
	}

	if err := a.save(ctx, thread); err != nil {
		return models.ConversationState{}, err
	}
	return thread.State(), nil
}

// HandleApprove runs the tool call the thread is waiting on, records its result and runs the model again.
func (a *Agent) HandleApprove(ctx context.Context, threadID string) (models.ConversationState, error) {
	unlock := a.lock(threadID)
	defer unlock()

	thread, err := a.thread(ctx, threadID)
	if err != nil {
		return models.ConversationState{}, err
	}

	call, ok := thread.PendingToolCall()
	if thread.Next != models.NodeHumanReview || !ok {
		return models.ConversationState{}, ErrNoApprovalPending
	}

	a.logger.Debug("Handle approve",
		slog.String("threadID", threadID),
		slog.String("toolName", call.ToolName))

	result, success := a.runTool(ctx, call)
	a.appendToolResult(&thread, models.Content{
		Type:           models.ContentTypeToolResult,
		CallToolID:     call.CallToolID,
		ToolResult:     result,
		CallToolFailed: !success,
	})
	thread.Next = models.NodeEnd

	if err := a.callModel(ctx, &thread); err != nil {
		return models.ConversationState{}, err
	}

	if err := a.save(ctx, thread); err != nil {
		return models.ConversationState{}, err
	}
	return thread.State(), nil
}

func (a *Agent) thread(ctx context.Context, threadID string) (models.Thread, error) {
	thread, found, err := a.store.Thread(ctx, threadID)
	if err != nil {
		return models.Thread{}, fmt.Errorf("failed to get thread: %w", err)
	}
	if !found {
		return models.Thread{}, ErrThreadNotFound
	}
	return thread, nil
}

func (a *Agent) save(ctx context.Context, thread models.Thread) error {
	thread.UpdatedAt = time.Now()
	if err := a.store.UpdateThread(ctx, thread); err != nil {
		return fmt.Errorf("failed to update thread: %w", err)
	}
	return nil
}

// threadLock is the lock of one thread, shared by the operations currently holding or waiting on it.
type threadLock struct {
	mu   sync.Mutex
	refs int
}

// lock serializes operations on the same thread and returns the matching unlock function. A thread's
// entry only lives while some operation holds or waits on it.
func (a *Agent) lock(threadID string) func() {
	a.mu.Lock()
	l, ok := a.locks[threadID]
	if !ok {
		l = &threadLock{}
		a.locks[threadID] = l
	}
	l.refs++
	a.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		a.mu.Lock()
		defer a.mu.Unlock()
		l.refs--
		if l.refs == 0 {
			delete(a.locks, threadID)
		}
	}
}

func (a *Agent) rejectPendingToolCall(thread *models.Thread) {
	call, ok := thread.PendingToolCall()
	if !ok {
		thread.Next = models.NodeEnd
		return
	}

	a.logger.Info("Rejecting pending tool call",
		slog.String("threadID", thread.ID),
		slog.String("toolName", call.ToolName))

	a.appendToolResult(thread, models.Content{
		Type:           models.ContentTypeToolResult,
		CallToolID:     call.CallToolID,
		ToolResult:     rejectedToolResult,
		CallToolFailed: true,
	})
	thread.Next = models.NodeEnd
}

func (a *Agent) appendToolResult(thread *models.Thread, result models.Content) {
	last := len(thread.Turns) - 1
	thread.Turns[last].Contents = append(thread.Turns[last].Contents, result)
}

func (a *Agent) runTool(ctx context.Context, call models.Content) (string, bool) {
	tool, ok := a.tools[call.ToolName]
	if !ok {
		a.logger.Error("Tool not found", slog.String("toolName", call.ToolName))
		return fmt.Sprintf("tool %s is not found", call.ToolName), false
	}

	res, err := tool.Call(ctx, call.ToolInput)
	if err != nil {
		a.logger.Error("Tool call failed",
			slog.String("toolName", call.ToolName),
			slog.String(errLoggerKey, err.Error()))
		return fmt.Sprintf("tool call failed: %s", err), false
	}

	a.logger.Debug("Tool result",
		slog.String("toolName", call.ToolName),
		slog.String("toolResult", res))

	return res, true
}

// callModel runs the model node once, appending the assistant turn and routing the thread to either
// the end or the human review interrupt.
func (a *Agent) callModel(ctx context.Context, thread *models.Thread) error {
	var text strings.Builder
	var call *models.Content

	for content, err := range a.llm.Chat(ctx, thread.Turns, a.defs) {
		if err != nil {
			a.logger.Error("Error from llm provider",
				slog.String("threadID", thread.ID),
				slog.String(errLoggerKey, err.Error()))
			return fmt.Errorf("failed to call llm: %w", err)
		}

		switch content.Type {
		case models.ContentTypeText:
			text.WriteString(content.Text)
		case models.ContentTypeCallTool:
			if call != nil {
				a.logger.Warn("Ignoring additional tool call", slog.String("toolName", content.ToolName))
				continue
			}
			// Bad tool input can't be checkpointed, so it is replaced by an empty object and the tool
			// call still goes to review.
			if !json.Valid(content.ToolInput) {
				a.logger.Warn("Tool input is not valid json",
					slog.String("toolName", content.ToolName),
					slog.String("toolInput", string(content.ToolInput)))
				content.ToolInput = json.RawMessage("{}")
			}
			if content.CallToolID == "" {
				content.CallToolID = uuid.New().String()
			}
			call = &content
		case models.ContentTypeToolResult:
			return errors.New("llm returned a tool result")
		}
	}

	turn := models.Turn{
		Role:      models.RoleAssistant,
		Timestamp: time.Now(),
	}
	if text.Len() > 0 || call == nil {
		turn.Contents = append(turn.Contents, models.Content{
			Type: models.ContentTypeText,
			Text: text.String(),
		})
	}
	thread.Turns = append(thread.Turns, turn)

	if call == nil {
		thread.Next = models.NodeEnd
		return nil
	}

	thread.Turns[len(thread.Turns)-1].Contents = append(thread.Turns[len(thread.Turns)-1].Contents, *call)
	thread.Next = models.NodeHumanReview

	a.logger.Info("Waiting for human review",
		slog.String("threadID", thread.ID),
		slog.String("toolName", call.ToolName))

	return nil
}
