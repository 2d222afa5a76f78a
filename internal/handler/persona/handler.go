package persona

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/buddy-ai/buddy/internal/model/persona"
	"github.com/buddy-ai/buddy/internal/model/user"
	"github.com/buddy-ai/buddy/internal/observability"
	"github.com/buddy-ai/buddy/pkg/utils"
)

// Store persists custom personas for signed-in users.
type Store interface {
	SavePersona(ctx context.Context, userID string, p persona.Persona) error
	DeletePersona(ctx context.Context, userID, name string) error
}

// Handler serves the persona catalog and custom persona CRUD.
type Handler struct {
	registry *persona.Registry
	store    Store
}

// New creates the persona handler. store may be nil.
func New(registry *persona.Registry, store Store) *Handler {
	return &Handler{registry: registry, store: store}
}

// RegisterRoutes registers the persona endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas", h.handleList)
	r.Post("/personas", h.handleCreate)
	r.Put("/personas/{name}", h.handleUpdate)
	r.Delete("/personas/{name}", h.handleDelete)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	identity, _ := user.FromContext(r.Context())
	utils.RespondJSON(w, http.StatusOK, h.registry.List(identity.UserID))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	identity, ok := user.FromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not signed in")
		return
	}

	var payload struct {
		Name         string `json:"name"`
		Instructions string `json:"instructions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Name == "" || payload.Instructions == "" {
		utils.RespondError(w, http.StatusBadRequest, "name and instructions are required")
		return
	}

	if err := h.registry.Create(identity.UserID, payload.Name, payload.Instructions); err != nil {
		if errors.Is(err, persona.ErrDuplicateName) {
			utils.RespondError(w, http.StatusConflict, err.Error())
			return
		}
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.persist(r.Context(), identity, persona.Persona{Name: payload.Name, Instructions: payload.Instructions})
	utils.RespondJSON(w, http.StatusCreated, persona.Persona{Name: payload.Name, Instructions: payload.Instructions})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	identity, ok := user.FromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not signed in")
		return
	}

	name := chi.URLParam(r, "name")
	var payload struct {
		Instructions string `json:"instructions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Instructions == "" {
		utils.RespondError(w, http.StatusBadRequest, "instructions are required")
		return
	}

	if err := h.registry.Update(identity.UserID, name, payload.Instructions); err != nil {
		if errors.Is(err, persona.ErrBuiltinPersona) {
			utils.RespondError(w, http.StatusForbidden, err.Error())
			return
		}
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.persist(r.Context(), identity, persona.Persona{Name: name, Instructions: payload.Instructions})
	utils.RespondJSON(w, http.StatusOK, persona.Persona{Name: name, Instructions: payload.Instructions})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	identity, ok := user.FromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not signed in")
		return
	}

	name := chi.URLParam(r, "name")
	if err := h.registry.Delete(identity.UserID, name); err != nil {
		if errors.Is(err, persona.ErrBuiltinPersona) {
			utils.RespondError(w, http.StatusForbidden, err.Error())
			return
		}
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.store != nil && !identity.Guest {
		if err := h.store.DeletePersona(r.Context(), identity.UserID, name); err != nil {
			observability.LoggerFromContext(r.Context()).Warn("failed to delete durable persona", "user_id", identity.UserID, "name", name, "error", err)
		}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// persist mirrors a registry change into the durable store, best effort.
func (h *Handler) persist(ctx context.Context, identity user.Identity, p persona.Persona) {
	if h.store == nil || identity.Guest {
		return
	}
	if err := h.store.SavePersona(ctx, identity.UserID, p); err != nil {
		observability.LoggerFromContext(ctx).Warn("failed to persist persona", "user_id", identity.UserID, "name", p.Name, "error", err)
	}
}
