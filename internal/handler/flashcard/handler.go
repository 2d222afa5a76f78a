package flashcard

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/buddy-ai/buddy/internal/model/flashcard"
	"github.com/buddy-ai/buddy/internal/model/user"
	"github.com/buddy-ai/buddy/internal/observability"
	"github.com/buddy-ai/buddy/internal/service/ai"
	"github.com/buddy-ai/buddy/pkg/utils"
)

// Generator produces study cards for a topic.
type Generator interface {
	GenerateFlashcards(ctx context.Context, topic string, attachments []ai.Attachment, count int) []flashcard.Card
}

// Store persists flashcard sets for signed-in users.
type Store interface {
	SaveFlashcardSet(ctx context.Context, userID string, set *flashcard.Set) error
	LoadFlashcardSets(ctx context.Context, userID string) ([]*flashcard.Set, error)
	DeleteFlashcardSet(ctx context.Context, userID, setID string) error
}

// AttachmentResolver exchanges uploaded attachment ids for API references.
// Wired to the stream handler's upload cache.
type AttachmentResolver func(ids string) []ai.Attachment

// Handler serves flashcard generation and the saved set collection. Sets
// live in memory; the durable store is written best effort and hydrated on
// first access for signed-in users.
type Handler struct {
	generator Generator
	store     Store
	resolve   AttachmentResolver
	count     int

	mu       sync.Mutex
	sets     map[string][]*flashcard.Set
	hydrated map[string]bool
}

// New creates the flashcard handler. generator, store and resolve may each
// be nil when the corresponding backend is not configured.
func New(generator Generator, store Store, resolve AttachmentResolver, count int) *Handler {
	if count <= 0 {
		count = 10
	}
	return &Handler{
		generator: generator,
		store:     store,
		resolve:   resolve,
		count:     count,
		sets:      make(map[string][]*flashcard.Set),
		hydrated:  make(map[string]bool),
	}
}

// RegisterRoutes registers the flashcard endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/flashcards", h.handleList)
	r.Post("/flashcards", h.handleGenerate)
	r.Delete("/flashcards/{setID}", h.handleDelete)
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	identity, ok := user.FromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not signed in")
		return
	}
	if h.generator == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "flashcard generation is not configured")
		return
	}

	var payload struct {
		Topic       string `json:"topic"`
		Count       int    `json:"count"`
		Attachments string `json:"attachments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	topic := strings.TrimSpace(payload.Topic)
	var attachments []ai.Attachment
	if h.resolve != nil {
		attachments = h.resolve(payload.Attachments)
	}
	if topic == "" && len(attachments) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "topic or attachments are required")
		return
	}

	count := payload.Count
	if count <= 0 {
		count = h.count
	}

	cards := h.generator.GenerateFlashcards(r.Context(), topic, attachments, count)

	now := time.Now().UTC()
	set := &flashcard.Set{
		ID:        uuid.NewString()[:8],
		Title:     setTitle(topic, attachments),
		Cards:     cards,
		CardCount: len(cards),
		CreatedAt: now,
		UpdatedAt: now,
	}

	h.mu.Lock()
	h.hydrate(r.Context(), identity)
	h.sets[identity.UserID] = append([]*flashcard.Set{set}, h.sets[identity.UserID]...)
	h.mu.Unlock()

	if h.store != nil && !identity.Guest {
		if err := h.store.SaveFlashcardSet(r.Context(), identity.UserID, set); err != nil {
			observability.LoggerFromContext(r.Context()).Warn("failed to persist flashcard set", "user_id", identity.UserID, "set_id", set.ID, "error", err)
		}
	}

	utils.RespondJSON(w, http.StatusCreated, set)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	identity, ok := user.FromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not signed in")
		return
	}

	h.mu.Lock()
	h.hydrate(r.Context(), identity)
	sets := append([]*flashcard.Set(nil), h.sets[identity.UserID]...)
	h.mu.Unlock()

	if sets == nil {
		sets = []*flashcard.Set{}
	}
	utils.RespondJSON(w, http.StatusOK, sets)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	identity, ok := user.FromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not signed in")
		return
	}

	setID := chi.URLParam(r, "setID")

	h.mu.Lock()
	h.hydrate(r.Context(), identity)
	sets := h.sets[identity.UserID]
	found := false
	for i, set := range sets {
		if set.ID == setID {
			h.sets[identity.UserID] = append(sets[:i], sets[i+1:]...)
			found = true
			break
		}
	}
	h.mu.Unlock()

	if !found {
		utils.RespondError(w, http.StatusNotFound, "flashcard set not found")
		return
	}

	if h.store != nil && !identity.Guest {
		if err := h.store.DeleteFlashcardSet(r.Context(), identity.UserID, setID); err != nil {
			observability.LoggerFromContext(r.Context()).Warn("failed to delete durable flashcard set", "user_id", identity.UserID, "set_id", setID, "error", err)
		}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// hydrate fills the in-memory collection from the durable store once per
// user. Callers must hold h.mu.
func (h *Handler) hydrate(ctx context.Context, identity user.Identity) {
	if h.hydrated[identity.UserID] || h.store == nil || identity.Guest {
		h.hydrated[identity.UserID] = true
		return
	}
	h.hydrated[identity.UserID] = true

	sets, err := h.store.LoadFlashcardSets(ctx, identity.UserID)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("failed to load flashcard sets", "user_id", identity.UserID, "error", err)
		return
	}
	h.sets[identity.UserID] = sets
}

func setTitle(topic string, attachments []ai.Attachment) string {
	if topic != "" {
		return topic
	}
	if len(attachments) > 0 {
		return attachments[0].Name
	}
	return "Flashcards"
}
