package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/buddy-ai/buddy/internal/model/chat"
	"github.com/buddy-ai/buddy/internal/model/persona"
	"github.com/buddy-ai/buddy/internal/model/user"
	"github.com/buddy-ai/buddy/internal/service/ai"
)

// Generator yields assistant output for a turn. Implemented by the Gemini
// adapter in production and by fakes in tests.
type Generator interface {
	Stream(ctx context.Context, req ai.Request) (ai.ChunkStream, error)
}

// Gateway is the durable copy of the session collection. Every call is best
// effort: a failure is logged and the in-memory state stays authoritative.
type Gateway interface {
	SaveSession(ctx context.Context, userID string, session *chat.Session) error
	LoadAllSessions(ctx context.Context, userID string) (chat.Collection, error)
	DeleteSession(ctx context.Context, userID, sessionID string) error
}

// Config holds conversation manager tunables.
type Config struct {
	// MinRequestInterval is the minimum spacing between accepted turns per
	// user. Zero disables throttling.
	MinRequestInterval time.Duration
	// HistoryLimit caps how many prior messages are replayed to the model.
	HistoryLimit int
}

// TurnState is the terminal state of one generation turn.
type TurnState string

const (
	TurnCompleted   TurnState = "completed"
	TurnInterrupted TurnState = "interrupted"
	TurnFailed      TurnState = "failed"
)

// TurnRequest describes one user turn.
type TurnRequest struct {
	// SessionID selects the session; empty auto-creates one.
	SessionID string
	// Persona is applied to auto-created sessions only.
	Persona string
	Message string
	// EditIndex, when >= 0, rewinds the session to just before that user
	// message and replays with Message as the new prompt.
	EditIndex   int
	Attachments []ai.Attachment
}

// TurnResult reports how a turn finished.
type TurnResult struct {
	Session *chat.Session
	Content string
	State   TurnState
}

// Service owns the per-user session collections: it creates sessions,
// appends turns, truncates on edit, reconciles streamed output and triggers
// persistence. Safe for concurrent use; at most one generation is in flight
// per session.
type Service struct {
	mu    sync.Mutex
	users map[string]*userState

	generator Generator
	gateway   Gateway
	personas  *persona.Registry
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

type userState struct {
	sessions chat.Collection
	limiter  *rate.Limiter
	active   map[string]bool
	persist  bool
}

// NewService bootstraps the conversation manager. gateway may be nil when
// durable persistence is not configured.
func NewService(generator Generator, gateway Gateway, personas *persona.Registry, cfg Config, logger *slog.Logger) *Service {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		users:     make(map[string]*userState),
		generator: generator,
		gateway:   gateway,
		personas:  personas,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// LoadForUser replaces the user's in-memory collection with the durable one,
// typically at sign-in or session restore. Guests get an empty collection
// and never touch the gateway afterwards.
func (s *Service) LoadForUser(ctx context.Context, id user.Identity) {
	persist := !id.Guest && s.gateway != nil

	sessions := make(chat.Collection)
	if persist {
		loaded, err := s.gateway.LoadAllSessions(ctx, id.UserID)
		if err != nil {
			s.logger.Warn("failed to load sessions", "user_id", id.UserID, "error", err)
		} else if loaded != nil {
			sessions = loaded
		}
	}

	s.mu.Lock()
	st := s.userLocked(id.UserID)
	st.sessions = sessions
	st.persist = persist
	s.mu.Unlock()

	s.logger.Info("session collection loaded", "user_id", id.UserID, "count", len(sessions), "durable", persist)
}

// CreateSession provisions an empty session bound to a persona. The title is
// derived later, from the first user message.
func (s *Service) CreateSession(ctx context.Context, userID, personaName string) *chat.Session {
	s.mu.Lock()
	st := s.userLocked(userID)

	now := s.now().UTC()
	session := &chat.Session{
		ID:        newSessionID(),
		Persona:   personaName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	st.sessions[session.ID] = session

	clone := session.Clone()
	persist := st.persist
	s.mu.Unlock()

	if persist {
		s.save(ctx, userID, clone)
	}
	return clone
}

// Sessions lists the user's sessions, most recently updated first.
func (s *Service) Sessions(userID string) []*chat.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.userLocked(userID)
	out := make([]*chat.Session, 0, len(st.sessions))
	for _, session := range st.sessions {
		out = append(out, session.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// Session returns a copy of one session.
func (s *Service) Session(userID, sessionID string) (*chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.userLocked(userID).sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session.Clone(), nil
}

// Collection returns a copy of the whole session collection, as consumed by
// the analytics aggregator.
func (s *Service) Collection(userID string) chat.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.userLocked(userID)
	out := make(chat.Collection, len(st.sessions))
	for id, session := range st.sessions {
		out[id] = session.Clone()
	}
	return out
}

// DeleteSession removes a session from memory and, best effort, from the
// durable store.
func (s *Service) DeleteSession(ctx context.Context, userID, sessionID string) error {
	s.mu.Lock()
	st := s.userLocked(userID)
	if _, ok := st.sessions[sessionID]; !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(st.sessions, sessionID)
	persist := st.persist
	s.mu.Unlock()

	if persist && s.gateway != nil {
		if err := s.gateway.DeleteSession(ctx, userID, sessionID); err != nil {
			s.logger.Warn("failed to delete durable session", "user_id", userID, "session_id", sessionID, "error", err)
		}
	}
	return nil
}

// StreamTurn drives one full turn: it resolves or auto-creates the session,
// appends the user message, streams the assistant response through onChunk
// while buffering it, reconciles the outcome and triggers persistence.
//
// Cancelling ctx is the stop control: consumption halts between chunks and
// whatever accumulated is promoted to the assistant message if non-blank.
func (s *Service) StreamTurn(ctx context.Context, userID string, req TurnRequest, onChunk func(string)) (*TurnResult, error) {
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	st := s.userLocked(userID)

	var session *chat.Session
	if req.SessionID == "" {
		now := s.now().UTC()
		session = &chat.Session{
			ID:        newSessionID(),
			Persona:   req.Persona,
			CreatedAt: now,
			UpdatedAt: now,
		}
		st.sessions[session.ID] = session
	} else {
		var ok bool
		session, ok = st.sessions[req.SessionID]
		if !ok {
			s.mu.Unlock()
			return nil, ErrSessionNotFound
		}
	}

	if st.active[session.ID] {
		s.mu.Unlock()
		return nil, ErrTurnActive
	}

	if req.EditIndex >= 0 {
		if req.EditIndex >= len(session.Messages) || session.Messages[req.EditIndex].Role != chat.RoleUser {
			s.mu.Unlock()
			return nil, ErrBadEditIndex
		}
		// Rewind: the edited message and everything after it are discarded.
		session.Messages = session.Messages[:req.EditIndex]
	}

	if session.Title == "" {
		session.Title = DeriveTitle(text)
	}

	// A duplicate re-entry from a reconciliation pass is not appended twice.
	if last := len(session.Messages) - 1; last < 0 ||
		session.Messages[last].Role != chat.RoleUser ||
		session.Messages[last].Content != text {
		session.Messages = append(session.Messages, chat.Message{
			Role:      chat.RoleUser,
			Content:   text,
			CreatedAt: s.now().UTC(),
		})
	}
	session.UpdatedAt = s.now().UTC()

	if !st.limiter.AllowN(s.now(), 1) {
		clone := session.Clone()
		persist := st.persist
		s.mu.Unlock()
		// The user message stays; only the generation attempt is rejected.
		if persist {
			s.save(ctx, userID, clone)
		}
		return nil, ErrRateLimited
	}

	st.active[session.ID] = true
	sessionID := session.ID
	instructions := s.personas.Resolve(userID, session.Persona)
	history := historyWindow(session.Messages, s.cfg.HistoryLimit)
	s.mu.Unlock()

	var buf strings.Builder
	state := TurnFailed
	var genErr error

	if s.generator == nil {
		genErr = errors.New("generation is not configured")
	} else {
		stream, err := s.generator.Stream(ctx, ai.Request{
			Prompt:       text,
			Instructions: instructions,
			History:      history,
			Attachments:  req.Attachments,
		})
		if err != nil {
			genErr = err
		} else {
			state, genErr = consume(ctx, stream, &buf, onChunk)
		}
	}

	return s.finalizeTurn(ctx, userID, sessionID, buf.String(), state, genErr)
}

// consume pulls chunks into the partial response buffer, checking the
// cancellation flag between receives.
func consume(ctx context.Context, stream ai.ChunkStream, buf *strings.Builder, onChunk func(string)) (TurnState, error) {
	defer stream.Close()

	for {
		if ctx.Err() != nil {
			return TurnInterrupted, nil
		}

		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return TurnCompleted, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return TurnInterrupted, nil
			}
			return TurnFailed, err
		}
		if chunk == "" {
			continue
		}

		buf.WriteString(chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
	}
}

// finalizeTurn reconciles the buffered output into the session log and
// triggers persistence. Every accepted user turn ends here with either an
// assistant message appended or, for a blank interrupted partial, nothing.
func (s *Service) finalizeTurn(ctx context.Context, userID, sessionID, partial string, state TurnState, genErr error) (*TurnResult, error) {
	s.mu.Lock()
	st := s.userLocked(userID)
	delete(st.active, sessionID)

	session, ok := st.sessions[sessionID]
	if !ok {
		// Session deleted while generating; nothing left to reconcile.
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}

	var content string
	switch state {
	case TurnInterrupted:
		if strings.TrimSpace(partial) != "" {
			content = partial
		}
	case TurnFailed:
		content = fmt.Sprintf("Error generating response: %v", genErr)
	default:
		content = partial
		if content == "" {
			content = "No response generated"
		}
	}

	if content != "" {
		session.Messages = append(session.Messages, chat.Message{
			Role:      chat.RoleAssistant,
			Content:   content,
			CreatedAt: s.now().UTC(),
		})
	}
	session.UpdatedAt = s.now().UTC()

	clone := session.Clone()
	persist := st.persist
	s.mu.Unlock()

	if persist {
		// The request context may already be canceled after a stop.
		s.save(context.WithoutCancel(ctx), userID, clone)
	}

	s.logger.Info("turn finished",
		"user_id", userID,
		"session_id", sessionID,
		"state", state,
		"length", len(content))

	return &TurnResult{Session: clone, Content: content, State: state}, nil
}

func (s *Service) save(ctx context.Context, userID string, session *chat.Session) {
	if s.gateway == nil {
		return
	}
	if err := s.gateway.SaveSession(ctx, userID, session); err != nil {
		// Durable copy is best effort; memory stays authoritative.
		s.logger.Warn("failed to persist session", "user_id", userID, "session_id", session.ID, "error", err)
	}
}

// userLocked returns (creating if needed) the state for one user. Callers
// must hold s.mu.
func (s *Service) userLocked(userID string) *userState {
	st, ok := s.users[userID]
	if !ok {
		st = &userState{
			sessions: make(chat.Collection),
			limiter:  rate.NewLimiter(rate.Every(s.cfg.MinRequestInterval), 1),
			active:   make(map[string]bool),
		}
		s.users[userID] = st
	}
	return st
}

// historyWindow copies the prior messages of the session, excluding the
// just-appended prompt, capped to the configured window.
func historyWindow(messages []chat.Message, limit int) []chat.Message {
	if len(messages) <= 1 {
		return nil
	}

	prior := messages[:len(messages)-1]
	if len(prior) > limit {
		prior = prior[len(prior)-limit:]
	}
	return append([]chat.Message(nil), prior...)
}

func newSessionID() string {
	return uuid.NewString()[:8]
}
