package auth

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/buddy-ai/buddy/internal/model/persona"
	"github.com/buddy-ai/buddy/internal/model/user"
	"github.com/buddy-ai/buddy/internal/observability"
	authService "github.com/buddy-ai/buddy/internal/service/auth"
	chatService "github.com/buddy-ai/buddy/internal/service/chat"
	"github.com/buddy-ai/buddy/pkg/utils"
)

// UserStore is the durable side of sign-in: the profile upsert plus the
// custom persona load used to rebuild the in-memory registry.
type UserStore interface {
	SaveUser(ctx context.Context, id user.Identity) error
	LoadPersonas(ctx context.Context, userID string) ([]persona.Persona, error)
}

// stateTTL bounds how long a minted OAuth state stays redeemable.
const stateTTL = 10 * time.Minute

// Handler drives the sign-in surface: Google OAuth, guest mode and session
// token lifecycle.
type Handler struct {
	oauth    *authService.Service
	tokens   *authService.TokenStore
	chatSvc  *chatService.Service
	personas *persona.Registry
	store    UserStore

	mu     sync.Mutex
	states map[string]time.Time
}

// New creates the auth handler. oauth and store may be nil when the
// corresponding backend is not configured; guest mode keeps working.
func New(oauth *authService.Service, tokens *authService.TokenStore, chatSvc *chatService.Service, personas *persona.Registry, store UserStore) *Handler {
	return &Handler{
		oauth:    oauth,
		tokens:   tokens,
		chatSvc:  chatSvc,
		personas: personas,
		store:    store,
		states:   make(map[string]time.Time),
	}
}

// RegisterRoutes registers the auth endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/login", h.handleLogin)
	r.Get("/auth/callback", h.handleCallback)
	r.Post("/auth/guest", h.handleGuest)
	r.Post("/auth/logout", h.handleLogout)
	r.Get("/auth/me", h.handleMe)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "google sign-in is not configured")
		return
	}

	state := uuid.NewString()
	h.rememberState(state)
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"authUrl": h.oauth.AuthURL(state),
		"state":   state,
	})
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	if h.oauth == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "google sign-in is not configured")
		return
	}

	if !h.consumeState(r.URL.Query().Get("state")) {
		utils.RespondError(w, http.StatusBadRequest, "invalid or expired state")
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		utils.RespondError(w, http.StatusBadRequest, "code query parameter is required")
		return
	}

	identity, err := h.oauth.Exchange(r.Context(), code)
	if err != nil {
		utils.RespondError(w, http.StatusUnauthorized, "sign-in failed")
		return
	}

	if h.store != nil {
		if err := h.store.SaveUser(r.Context(), identity); err != nil {
			observability.LoggerFromContext(r.Context()).Warn("failed to save user profile", "user_id", identity.UserID, "error", err)
		}
		if custom, err := h.store.LoadPersonas(r.Context(), identity.UserID); err != nil {
			observability.LoggerFromContext(r.Context()).Warn("failed to load custom personas", "user_id", identity.UserID, "error", err)
		} else {
			h.personas.ReplaceCustom(identity.UserID, custom)
		}
	}

	h.chatSvc.LoadForUser(r.Context(), identity)
	token := h.tokens.Create(identity)

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  identity,
	})
}

func (h *Handler) handleGuest(w http.ResponseWriter, r *http.Request) {
	identity := user.Identity{
		UserID: "guest-" + uuid.NewString()[:8],
		Name:   "Guest",
		Guest:  true,
	}

	h.chatSvc.LoadForUser(r.Context(), identity)
	token := h.tokens.Create(identity)

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  identity,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := bearer(r); token != "" {
		h.tokens.Delete(token)
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := user.FromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not signed in")
		return
	}
	utils.RespondJSON(w, http.StatusOK, identity)
}

// rememberState records a freshly minted state and prunes stale ones.
func (h *Handler) rememberState(state string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	for s, issued := range h.states {
		if now.Sub(issued) > stateTTL {
			delete(h.states, s)
		}
	}
	h.states[state] = now
}

// consumeState redeems a state exactly once; unknown or expired states fail.
func (h *Handler) consumeState(state string) bool {
	if state == "" {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	issued, ok := h.states[state]
	if ok {
		delete(h.states, state)
	}
	return ok && time.Since(issued) <= stateTTL
}

func bearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
