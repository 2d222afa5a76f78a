package chat_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/buddy-ai/buddy/internal/model/chat"
	"github.com/buddy-ai/buddy/internal/model/persona"
	"github.com/buddy-ai/buddy/internal/model/user"
	"github.com/buddy-ai/buddy/internal/service/ai"
	svc "github.com/buddy-ai/buddy/internal/service/chat"
)

type fakeStream struct {
	chunks []string
	idx    int
	err    error
}

func (f *fakeStream) Recv() (string, error) {
	if f.idx >= len(f.chunks) {
		if f.err != nil {
			return "", f.err
		}
		return "", io.EOF
	}
	chunk := f.chunks[f.idx]
	f.idx++
	return chunk, nil
}

func (f *fakeStream) Close() {}

type fakeGenerator struct {
	mu      sync.Mutex
	chunks  []string
	err     error
	lastReq ai.Request
}

func (f *fakeGenerator) Stream(_ context.Context, req ai.Request) (ai.ChunkStream, error) {
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &fakeStream{chunks: f.chunks}, nil
}

func (f *fakeGenerator) last() ai.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

// blockingStream never produces a chunk until released.
type blockingStream struct {
	release chan struct{}
}

func (b *blockingStream) Recv() (string, error) {
	<-b.release
	return "", io.EOF
}

func (b *blockingStream) Close() {}

type blockingGenerator struct {
	stream  *blockingStream
	started chan struct{}
	once    sync.Once
}

func (b *blockingGenerator) Stream(context.Context, ai.Request) (ai.ChunkStream, error) {
	b.once.Do(func() { close(b.started) })
	return b.stream, nil
}

type recordingGateway struct {
	mu      sync.Mutex
	saved   []*chat.Session
	deleted []string
	loadErr error
	saveErr error
	initial chat.Collection
}

func (g *recordingGateway) SaveSession(_ context.Context, _ string, session *chat.Session) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.saveErr != nil {
		return g.saveErr
	}
	g.saved = append(g.saved, session.Clone())
	return nil
}

func (g *recordingGateway) LoadAllSessions(context.Context, string) (chat.Collection, error) {
	if g.loadErr != nil {
		return nil, g.loadErr
	}
	return g.initial, nil
}

func (g *recordingGateway) DeleteSession(_ context.Context, _, sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, sessionID)
	return nil
}

func (g *recordingGateway) saveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.saved)
}

func newService(gen svc.Generator, gw svc.Gateway, cfg svc.Config) *svc.Service {
	return svc.NewService(gen, gw, persona.NewRegistry(persona.Builtins()), cfg, nil)
}

func TestStreamTurnCompletes(t *testing.T) {
	gen := &fakeGenerator{chunks: []string{"Hel", "lo", " world"}}
	s := newService(gen, nil, svc.Config{})

	session := s.CreateSession(context.Background(), "u1", "Default")

	var received []string
	result, err := s.StreamTurn(context.Background(), "u1", svc.TurnRequest{
		SessionID: session.ID,
		Message:   "hi there",
		EditIndex: -1,
	}, func(chunk string) { received = append(received, chunk) })
	if err != nil {
		t.Fatalf("StreamTurn: %v", err)
	}

	if result.State != svc.TurnCompleted {
		t.Fatalf("state = %q, want completed", result.State)
	}
	if result.Content != "Hello world" {
		t.Fatalf("content = %q", result.Content)
	}
	if len(received) != 3 {
		t.Fatalf("got %d chunks, want 3", len(received))
	}

	got, err := s.Session("u1", session.ID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(got.Messages))
	}
	if got.Messages[0].Role != chat.RoleUser || got.Messages[0].Content != "hi there" {
		t.Fatalf("unexpected user message %+v", got.Messages[0])
	}
	if got.Messages[1].Role != chat.RoleAssistant || got.Messages[1].Content != "Hello world" {
		t.Fatalf("unexpected assistant message %+v", got.Messages[1])
	}
}

func TestStreamTurnInterruptedKeepsPartial(t *testing.T) {
	gen := &fakeGenerator{chunks: []string{"Hel", "lo", " world"}}
	s := newService(gen, nil, svc.Config{})
	session := s.CreateSession(context.Background(), "u1", "")

	ctx, cancel := context.WithCancel(context.Background())
	count := 0
	result, err := s.StreamTurn(ctx, "u1", svc.TurnRequest{
		SessionID: session.ID,
		Message:   "hi",
		EditIndex: -1,
	}, func(string) {
		count++
		if count == 2 {
			cancel()
		}
	})
	if err != nil {
		t.Fatalf("StreamTurn: %v", err)
	}

	if result.State != svc.TurnInterrupted {
		t.Fatalf("state = %q, want interrupted", result.State)
	}
	if result.Content != "Hello" {
		t.Fatalf("content = %q, want partial %q", result.Content, "Hello")
	}

	got, _ := s.Session("u1", session.ID)
	if len(got.Messages) != 2 || got.Messages[1].Content != "Hello" {
		t.Fatalf("partial not promoted: %+v", got.Messages)
	}
}

func TestStreamTurnInterruptedBeforeOutput(t *testing.T) {
	gen := &fakeGenerator{chunks: []string{"never"}}
	s := newService(gen, nil, svc.Config{})
	session := s.CreateSession(context.Background(), "u1", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := s.StreamTurn(ctx, "u1", svc.TurnRequest{
		SessionID: session.ID,
		Message:   "hi",
		EditIndex: -1,
	}, nil)
	if err != nil {
		t.Fatalf("StreamTurn: %v", err)
	}
	if result.State != svc.TurnInterrupted {
		t.Fatalf("state = %q, want interrupted", result.State)
	}
	if result.Content != "" {
		t.Fatalf("content = %q, want empty", result.Content)
	}

	got, _ := s.Session("u1", session.ID)
	if len(got.Messages) != 1 {
		t.Fatalf("blank partial must not be promoted: %+v", got.Messages)
	}
	if got.Messages[0].Role != chat.RoleUser {
		t.Fatalf("user message lost: %+v", got.Messages)
	}
}

func TestStreamTurnRateLimited(t *testing.T) {
	gen := &fakeGenerator{chunks: []string{"ok"}}
	s := newService(gen, nil, svc.Config{MinRequestInterval: 3 * time.Second})
	session := s.CreateSession(context.Background(), "u1", "")

	if _, err := s.StreamTurn(context.Background(), "u1", svc.TurnRequest{
		SessionID: session.ID, Message: "first", EditIndex: -1,
	}, nil); err != nil {
		t.Fatalf("first turn: %v", err)
	}

	_, err := s.StreamTurn(context.Background(), "u1", svc.TurnRequest{
		SessionID: session.ID, Message: "second", EditIndex: -1,
	}, nil)
	if !errors.Is(err, svc.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	// The rejected user message is kept in the log.
	got, _ := s.Session("u1", session.ID)
	if len(got.Messages) != 3 {
		t.Fatalf("got %d messages, want 3 (user, assistant, user)", len(got.Messages))
	}
	if got.Messages[2].Role != chat.RoleUser || got.Messages[2].Content != "second" {
		t.Fatalf("unexpected trailing message %+v", got.Messages[2])
	}
}

func TestStreamTurnRetryAfterRateLimitDoesNotDuplicate(t *testing.T) {
	gen := &fakeGenerator{chunks: []string{"answer"}}
	s := newService(gen, nil, svc.Config{MinRequestInterval: 50 * time.Millisecond})
	session := s.CreateSession(context.Background(), "u1", "")

	if _, err := s.StreamTurn(context.Background(), "u1", svc.TurnRequest{
		SessionID: session.ID, Message: "first", EditIndex: -1,
	}, nil); err != nil {
		t.Fatalf("first turn: %v", err)
	}

	if _, err := s.StreamTurn(context.Background(), "u1", svc.TurnRequest{
		SessionID: session.ID, Message: "second", EditIndex: -1,
	}, nil); !errors.Is(err, svc.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}

	time.Sleep(100 * time.Millisecond)

	if _, err := s.StreamTurn(context.Background(), "u1", svc.TurnRequest{
		SessionID: session.ID, Message: "second", EditIndex: -1,
	}, nil); err != nil {
		t.Fatalf("retry: %v", err)
	}

	got, _ := s.Session("u1", session.ID)
	if len(got.Messages) != 4 {
		t.Fatalf("got %d messages, want 4: %+v", len(got.Messages), got.Messages)
	}
	if got.Messages[2].Content != "second" || got.Messages[2].Role != chat.RoleUser {
		t.Fatalf("retried message duplicated or lost: %+v", got.Messages)
	}
}

func TestStreamTurnEditRewindsSession(t *testing.T) {
	gen := &fakeGenerator{chunks: []string{"revised answer"}}
	s := newService(gen, nil, svc.Config{})
	session := s.CreateSession(context.Background(), "u1", "")

	if _, err := s.StreamTurn(context.Background(), "u1", svc.TurnRequest{
		SessionID: session.ID, Message: "original one", EditIndex: -1,
	}, nil); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if _, err := s.StreamTurn(context.Background(), "u1", svc.TurnRequest{
		SessionID: session.ID, Message: "original two", EditIndex: -1,
	}, nil); err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	result, err := s.StreamTurn(context.Background(), "u1", svc.TurnRequest{
		SessionID: session.ID, Message: "edited question", EditIndex: 2,
	}, nil)
	if err != nil {
		t.Fatalf("edit turn: %v", err)
	}
	if result.State != svc.TurnCompleted {
		t.Fatalf("state = %q", result.State)
	}

	got, _ := s.Session("u1", session.ID)
	if len(got.Messages) != 4 {
		t.Fatalf("got %d messages, want 4: %+v", len(got.Messages), got.Messages)
	}
	if got.Messages[2].Content != "edited question" {
		t.Fatalf("messages[2] = %+v, want edited prompt", got.Messages[2])
	}
	if got.Messages[3].Content != "revised answer" {
		t.Fatalf("messages[3] = %+v", got.Messages[3])
	}
}

func TestStreamTurnEditIndexValidation(t *testing.T) {
	gen := &fakeGenerator{chunks: []string{"a"}}
	s := newService(gen, nil, svc.Config{})
	session := s.CreateSession(context.Background(), "u1", "")

	if _, err := s.StreamTurn(context.Background(), "u1", svc.TurnRequest{
		SessionID: session.ID, Message: "hello", EditIndex: -1,
	}, nil); err != nil {
		t.Fatalf("turn: %v", err)
	}

	// Index 1 is the assistant message.
	if _, err := s.StreamTurn(context.Background(), "u1", svc.TurnRequest{
		SessionID: session.ID, Message: "x", EditIndex: 1,
	}, nil); !errors.Is(err, svc.ErrBadEditIndex) {
		t.Fatalf("err = %v, want ErrBadEditIndex", err)
	}

	// Out of range.
	if _, err := s.StreamTurn(context.Background(), "u1", svc.TurnRequest{
		SessionID: session.ID, Message: "x", EditIndex: 9,
	}, nil); !errors.Is(err, svc.ErrBadEditIndex) {
		t.Fatalf("err = %v, want ErrBadEditIndex", err)
	}
}

func TestStreamTurnAutoCreatesSession(t *testing.T) {
	gen := &fakeGenerator{chunks: []string{"sure"}}
	s := newService(gen, nil, svc.Config{})

	result, err := s.StreamTurn(context.Background(), "u1", svc.TurnRequest{
		Message:   "What is Go?",
		Persona:   "Academic",
		EditIndex: -1,
	}, nil)
	if err != nil {
		t.Fatalf("StreamTurn: %v", err)
	}

	if result.Session.ID == "" {
		t.Fatal("expected a session id")
	}
	if result.Session.Title != "is Go" {
		t.Fatalf("title = %q, want %q", result.Session.Title, "is Go")
	}
	if result.Session.Persona != "Academic" {
		t.Fatalf("persona = %q", result.Session.Persona)
	}

	sessions := s.Sessions("u1")
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
}

func TestStreamTurnGeneratorFailure(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("model unavailable")}
	s := newService(gen, nil, svc.Config{})
	session := s.CreateSession(context.Background(), "u1", "")

	result, err := s.StreamTurn(context.Background(), "u1", svc.TurnRequest{
		SessionID: session.ID, Message: "hi", EditIndex: -1,
	}, nil)
	if err != nil {
		t.Fatalf("StreamTurn: %v", err)
	}

	if result.State != svc.TurnFailed {
		t.Fatalf("state = %q, want failed", result.State)
	}
	if result.Content != "Error generating response: model unavailable" {
		t.Fatalf("content = %q", result.Content)
	}

	got, _ := s.Session("u1", session.ID)
	if len(got.Messages) != 2 || got.Messages[1].Content != result.Content {
		t.Fatalf("failure message not recorded: %+v", got.Messages)
	}
}

func TestStreamTurnMidStreamFailureKeepsError(t *testing.T) {
	// fakeStream returns its error after the chunks are drained.
	gen := &failAfterGenerator{chunks: []string{"partial "}, err: errors.New("connection reset")}
	s := newService(gen, nil, svc.Config{})
	session := s.CreateSession(context.Background(), "u1", "")

	result, err := s.StreamTurn(context.Background(), "u1", svc.TurnRequest{
		SessionID: session.ID, Message: "hi", EditIndex: -1,
	}, nil)
	if err != nil {
		t.Fatalf("StreamTurn: %v", err)
	}
	if result.State != svc.TurnFailed {
		t.Fatalf("state = %q, want failed", result.State)
	}
	if result.Content != "Error generating response: connection reset" {
		t.Fatalf("content = %q", result.Content)
	}
}

type failAfterGenerator struct {
	chunks []string
	err    error
}

func (f *failAfterGenerator) Stream(context.Context, ai.Request) (ai.ChunkStream, error) {
	return &fakeStream{chunks: f.chunks, err: f.err}, nil
}

func TestStreamTurnConcurrentTurnRejected(t *testing.T) {
	release := make(chan struct{})
	gen := &blockingGenerator{
		stream:  &blockingStream{release: release},
		started: make(chan struct{}),
	}
	s := newService(gen, nil, svc.Config{})
	session := s.CreateSession(context.Background(), "u1", "")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := s.StreamTurn(context.Background(), "u1", svc.TurnRequest{
			SessionID: session.ID, Message: "slow one", EditIndex: -1,
		}, nil)
		if err != nil {
			t.Errorf("blocked turn: %v", err)
		}
	}()

	<-gen.started

	_, err := s.StreamTurn(context.Background(), "u1", svc.TurnRequest{
		SessionID: session.ID, Message: "too eager", EditIndex: -1,
	}, nil)
	if !errors.Is(err, svc.ErrTurnActive) {
		t.Fatalf("err = %v, want ErrTurnActive", err)
	}

	close(release)
	<-done
}

func TestStreamTurnHistoryWindow(t *testing.T) {
	gen := &fakeGenerator{chunks: []string{"ok"}}
	s := newService(gen, nil, svc.Config{HistoryLimit: 4})
	session := s.CreateSession(context.Background(), "u1", "")

	for i := 0; i < 4; i++ {
		if _, err := s.StreamTurn(context.Background(), "u1", svc.TurnRequest{
			SessionID: session.ID, Message: "turn " + string(rune('a'+i)), EditIndex: -1,
		}, nil); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}

	req := gen.last()
	if req.Prompt != "turn d" {
		t.Fatalf("prompt = %q", req.Prompt)
	}
	if len(req.History) != 4 {
		t.Fatalf("history window = %d messages, want 4", len(req.History))
	}
	// The window holds the most recent prior messages.
	if req.History[3].Content != "ok" || req.History[3].Role != chat.RoleAssistant {
		t.Fatalf("unexpected history tail %+v", req.History[3])
	}
}

func TestPersistenceBestEffort(t *testing.T) {
	gw := &recordingGateway{saveErr: errors.New("store offline")}
	gen := &fakeGenerator{chunks: []string{"fine"}}
	s := newService(gen, gw, svc.Config{})

	s.LoadForUser(context.Background(), user.Identity{UserID: "u1"})
	session := s.CreateSession(context.Background(), "u1", "")

	result, err := s.StreamTurn(context.Background(), "u1", svc.TurnRequest{
		SessionID: session.ID, Message: "hello", EditIndex: -1,
	}, nil)
	if err != nil {
		t.Fatalf("StreamTurn must succeed despite store failure: %v", err)
	}
	if result.State != svc.TurnCompleted {
		t.Fatalf("state = %q", result.State)
	}
}

func TestGuestSkipsGateway(t *testing.T) {
	gw := &recordingGateway{}
	gen := &fakeGenerator{chunks: []string{"hi"}}
	s := newService(gen, gw, svc.Config{})

	s.LoadForUser(context.Background(), user.Identity{UserID: "guest-1", Guest: true})
	session := s.CreateSession(context.Background(), "guest-1", "")

	if _, err := s.StreamTurn(context.Background(), "guest-1", svc.TurnRequest{
		SessionID: session.ID, Message: "hello", EditIndex: -1,
	}, nil); err != nil {
		t.Fatalf("StreamTurn: %v", err)
	}

	if gw.saveCount() != 0 {
		t.Fatalf("guest sessions must not be persisted, got %d saves", gw.saveCount())
	}
}

func TestSignedInUserPersists(t *testing.T) {
	gw := &recordingGateway{}
	gen := &fakeGenerator{chunks: []string{"hi"}}
	s := newService(gen, gw, svc.Config{})

	s.LoadForUser(context.Background(), user.Identity{UserID: "u1"})
	session := s.CreateSession(context.Background(), "u1", "")

	if _, err := s.StreamTurn(context.Background(), "u1", svc.TurnRequest{
		SessionID: session.ID, Message: "hello", EditIndex: -1,
	}, nil); err != nil {
		t.Fatalf("StreamTurn: %v", err)
	}

	if gw.saveCount() == 0 {
		t.Fatal("expected at least one durable save")
	}
}

func TestDeleteSession(t *testing.T) {
	gw := &recordingGateway{}
	s := newService(&fakeGenerator{}, gw, svc.Config{})
	s.LoadForUser(context.Background(), user.Identity{UserID: "u1"})

	session := s.CreateSession(context.Background(), "u1", "")
	if err := s.DeleteSession(context.Background(), "u1", session.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := s.Session("u1", session.ID); !errors.Is(err, svc.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
	if err := s.DeleteSession(context.Background(), "u1", session.ID); !errors.Is(err, svc.ErrSessionNotFound) {
		t.Fatalf("second delete err = %v, want ErrSessionNotFound", err)
	}
}

func TestEmptyMessageRejected(t *testing.T) {
	s := newService(&fakeGenerator{}, nil, svc.Config{})
	_, err := s.StreamTurn(context.Background(), "u1", svc.TurnRequest{
		Message: "   ", EditIndex: -1,
	}, nil)
	if !errors.Is(err, svc.ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
}
