package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	analyticsHandler "github.com/buddy-ai/buddy/internal/handler/analytics"
	authHandler "github.com/buddy-ai/buddy/internal/handler/auth"
	chatHandler "github.com/buddy-ai/buddy/internal/handler/chat"
	flashcardHandler "github.com/buddy-ai/buddy/internal/handler/flashcard"
	personaHandler "github.com/buddy-ai/buddy/internal/handler/persona"
	streamHandler "github.com/buddy-ai/buddy/internal/handler/stream"
	"github.com/buddy-ai/buddy/internal/middleware"
	"github.com/buddy-ai/buddy/internal/model/persona"
	"github.com/buddy-ai/buddy/internal/service/ai"
	authService "github.com/buddy-ai/buddy/internal/service/auth"
	chatService "github.com/buddy-ai/buddy/internal/service/chat"
	"github.com/buddy-ai/buddy/internal/storage/firestore"
)

// Deps collects the services the HTTP surface is wired to. OAuth, Gemini
// and Store are nil when the corresponding backend is not configured; the
// affected endpoints answer 503.
type Deps struct {
	Chat           *chatService.Service
	Personas       *persona.Registry
	Tokens         *authService.TokenStore
	OAuth          *authService.Service
	Gemini         *ai.Gemini
	Store          *firestore.Store
	FlashcardCount int
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestScope)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Cors)
	r.Use(middleware.Auth(deps.Tokens))

	var userStore authHandler.UserStore
	var personaStore personaHandler.Store
	var flashcardStore flashcardHandler.Store
	if deps.Store != nil {
		userStore = deps.Store
		personaStore = deps.Store
		flashcardStore = deps.Store
	}

	var uploader streamHandler.Uploader
	var flashcardGen flashcardHandler.Generator
	if deps.Gemini != nil {
		uploader = deps.Gemini
		flashcardGen = deps.Gemini
	}

	authH := authHandler.New(deps.OAuth, deps.Tokens, deps.Chat, deps.Personas, userStore)
	personaH := personaHandler.New(deps.Personas, personaStore)
	chatH := chatHandler.New(deps.Chat)
	streamH := streamHandler.New(deps.Chat, uploader)
	flashcardH := flashcardHandler.New(flashcardGen, flashcardStore, streamH.TakeAttachments, deps.FlashcardCount)
	analyticsH := analyticsHandler.New(deps.Chat)

	r.Route("/api", func(api chi.Router) {
		authH.RegisterRoutes(api)
		personaH.RegisterRoutes(api)
		chatH.RegisterRoutes(api)
		streamH.RegisterRoutes(api)
		flashcardH.RegisterRoutes(api)
		analyticsH.RegisterRoutes(api)
	})

	return r
}
