package stream

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/buddy-ai/buddy/internal/model/user"
	"github.com/buddy-ai/buddy/internal/service/ai"
	chatService "github.com/buddy-ai/buddy/internal/service/chat"
	"github.com/buddy-ai/buddy/pkg/utils"
)

// Uploader pushes a file to the generation API so it can be attached to
// prompts.
type Uploader interface {
	Upload(ctx context.Context, name, mimeType string, r io.Reader) (ai.Attachment, error)
}

// StreamResponse is one SSE payload.
type StreamResponse struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	State     string `json:"state,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Handler streams assistant turns over Server-Sent Events and manages the
// attachment upload cache referenced by stream requests.
type Handler struct {
	chatSvc  *chatService.Service
	uploader Uploader

	mu    sync.Mutex
	cache map[string]ai.Attachment
}

// New creates the stream handler. uploader may be nil when generation is
// not configured with file support.
func New(chatSvc *chatService.Service, uploader Uploader) *Handler {
	return &Handler{
		chatSvc:  chatSvc,
		uploader: uploader,
		cache:    make(map[string]ai.Attachment),
	}
}

// RegisterRoutes registers the streaming and attachment endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{sessionID}", h.handleStream)
	r.Post("/attachments", h.handleUpload)
}

// handleStream drives one turn. EventSource cannot send a body, so the
// message, the optional edit index and attachment references all travel as
// query parameters.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	identity, ok := user.FromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not signed in")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	message := r.URL.Query().Get("message")
	if strings.TrimSpace(message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	editIndex := -1
	if raw := r.URL.Query().Get("edit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			utils.RespondError(w, http.StatusBadRequest, "edit must be a non-negative integer")
			return
		}
		editIndex = parsed
	}

	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "new" {
		session := h.chatSvc.CreateSession(r.Context(), identity.UserID, r.URL.Query().Get("persona"))
		sessionID = session.ID
	}

	attachments := h.TakeAttachments(r.URL.Query().Get("attachments"))

	utils.SetupSSEHeaders(w)
	utils.SendSSEEvent(w, flusher, "start", StreamResponse{Event: "start", SessionID: sessionID})

	result, err := h.chatSvc.StreamTurn(r.Context(), identity.UserID, chatService.TurnRequest{
		SessionID:   sessionID,
		Message:     message,
		EditIndex:   editIndex,
		Attachments: attachments,
	}, func(chunk string) {
		utils.SendSSEEvent(w, flusher, "delta", StreamResponse{Event: "delta", Content: chunk})
	})
	if err != nil {
		utils.SendSSEEvent(w, flusher, "error", StreamResponse{Event: "error", Error: err.Error()})
		return
	}

	utils.SendSSEEvent(w, flusher, "end", StreamResponse{
		Event:     "end",
		SessionID: sessionID,
		State:     string(result.State),
		Finished:  true,
	})
}

// handleUpload accepts multipart files, pushes them to the generation API
// and returns cache ids the client passes back on its next stream request.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if _, ok := user.FromContext(r.Context()); !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not signed in")
		return
	}
	if h.uploader == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "file uploads are not configured")
		return
	}

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "at least one file is required")
		return
	}

	type uploaded struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		MIME string `json:"mime"`
	}
	var out []uploaded

	for _, header := range files {
		f, err := header.Open()
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "unreadable file "+header.Filename)
			return
		}

		attachment, err := h.uploader.Upload(r.Context(), header.Filename, header.Header.Get("Content-Type"), f)
		f.Close()
		if err != nil {
			utils.RespondError(w, http.StatusBadGateway, "upload failed for "+header.Filename)
			return
		}

		id := uuid.NewString()
		h.mu.Lock()
		h.cache[id] = attachment
		h.mu.Unlock()

		out = append(out, uploaded{ID: id, Name: attachment.Name, MIME: attachment.MIME})
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"attachments": out})
}

// TakeAttachments resolves cache ids from the comma separated list and
// removes them; an attachment is consumed by exactly one turn.
func (h *Handler) TakeAttachments(raw string) []ai.Attachment {
	if raw == "" {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var out []ai.Attachment
	for _, id := range strings.Split(raw, ",") {
		id = strings.TrimSpace(id)
		if attachment, ok := h.cache[id]; ok {
			out = append(out, attachment)
			delete(h.cache, id)
		}
	}
	return out
}
