package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	hitlwebui "github.com/MegaGrindStone/hitl-web-ui"
	"github.com/MegaGrindStone/hitl-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Conversation represents the remote conversation backend. It creates threads, forwards human
// messages and approvals, and returns the backend's authoritative conversation state.
type Conversation interface {
	StartConversation(ctx context.Context) (string, error)
	SendMessage(ctx context.Context, threadID, message string) (models.ConversationState, error)
	Approve(ctx context.Context, threadID string) (models.ConversationState, error)
}

// publisher delivers server-sent events to the subscribers of the given topics.
type publisher interface {
	Publish(e *sse.Message, topics ...string) error
}

// Main handles the web interface of the chat client, managing server-sent events, HTML templates,
// and one Controller per open page.
type Main struct {
	sseSrv    *sse.Server
	events    publisher
	templates *template.Template

	backend  Conversation
	sessions *sessions

	stopJanitor context.CancelFunc

	logger *slog.Logger
}

const (
	errLoggerKey = "err"

	// DefaultSessionTTL is how long an idle page session is kept when no TTL is configured.
	DefaultSessionTTL = 30 * time.Minute
)

// NewMain creates a new Main instance talking to the given backend. It initializes the SSE server,
// parses the HTML templates from the embedded filesystem and starts evicting page sessions idle for
// longer than sessionTTL. A zero sessionTTL means DefaultSessionTTL.
func NewMain(backend Conversation, sessionTTL time.Duration, logger *slog.Logger) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"markdown": renderMarkdown,
	}).ParseFS(
		hitlwebui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, fmt.Errorf("failed to parse templates: %w", err)
	}

	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}

	logger = logger.With(slog.String("module", "main"))

	ctx, cancel := context.WithCancel(context.Background())
	sseSrv := &sse.Server{
		OnSession: func(s *sse.Session) (sse.Subscription, bool) {
			// We start with the default topic that all clients should subscribe to
			topics := []string{sse.DefaultTopic}

			// We create a session-specific topic if the page identifies itself
			sessionID := s.Req.URL.Query().Get("session_id")
			if sessionID != "" {
				topics = append(topics, sessionTopic(sessionID))
			}

			return sse.Subscription{
				Client:      s,
				LastEventID: s.LastEventID,
				Topics:      topics,
			}, true
		},
	}
	m := Main{
		sseSrv:      sseSrv,
		events:      sseSrv,
		templates:   tmpl,
		backend:     backend,
		sessions:    newSessions(sessionTTL),
		stopJanitor: cancel,
		logger:      logger,
	}

	go m.sessions.run(ctx, m.onEvict)

	return m, nil
}

func sessionTopic(sessionID string) string {
	return fmt.Sprintf("session-%s", sessionID)
}

func closeChatMessage() *sse.Message {
	e := &sse.Message{Type: sse.Type("closeChat")}
	// Events without data are dropped by browsers, so the close event carries a placeholder
	e.AppendData("bye")
	return e
}

func (m Main) onEvict(ids []string) {
	m.logger.Info("Evicted idle page sessions", slog.Int("count", len(ids)))
	m.closeSessions(ids...)
}

// closeSessions tells the pages behind the given sessions that their chat is gone.
func (m Main) closeSessions(ids ...string) {
	if len(ids) == 0 {
		return
	}
	topics := make([]string, len(ids))
	for i, id := range ids {
		topics[i] = sessionTopic(id)
	}
	if err := m.events.Publish(closeChatMessage(), topics...); err != nil {
		m.logger.Error("Failed to publish close event", slog.Int("sessions", len(ids)), slog.String(errLoggerKey, err.Error()))
	}
}

// Shutdown gracefully terminates the Main instance. It stops the session janitor, broadcasts a close
// message to all connected pages and waits up to 5 seconds for connections to terminate. After the
// timeout, any remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	m.stopJanitor()

	// We ignore the error here since we're shutting down anyway
	_ = m.events.Publish(closeChatMessage())

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
