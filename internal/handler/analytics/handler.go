package analytics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/buddy-ai/buddy/internal/model/user"
	"github.com/buddy-ai/buddy/internal/service/analytics"
	chatService "github.com/buddy-ai/buddy/internal/service/chat"
	"github.com/buddy-ai/buddy/pkg/utils"
)

// Handler serves the usage statistics report.
type Handler struct {
	chatSvc *chatService.Service
}

func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes registers the analytics endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/analytics", h.handleReport)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	identity, ok := user.FromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not signed in")
		return
	}

	report := analytics.Compute(h.chatSvc.Collection(identity.UserID), time.Now())
	utils.RespondJSON(w, http.StatusOK, report)
}
