package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/buddy-ai/buddy/internal/config"
	"github.com/buddy-ai/buddy/internal/handler"
	"github.com/buddy-ai/buddy/internal/model/persona"
	"github.com/buddy-ai/buddy/internal/observability"
	"github.com/buddy-ai/buddy/internal/service/ai"
	authservice "github.com/buddy-ai/buddy/internal/service/auth"
	"github.com/buddy-ai/buddy/internal/service/chat"
	"github.com/buddy-ai/buddy/internal/storage/firestore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := observability.Logger()

	// Initialize the Gemini generator
	var gemini *ai.Gemini
	if cfg.AI.Enabled() {
		gemini, err = ai.NewGemini(ctx, cfg.AI, logger)
		if err != nil {
			log.Printf("warning: failed to initialize Gemini client: %v", err)
			log.Println("continuing without generation - check GEMINI_API_KEY")
			gemini = nil
		} else {
			log.Printf("Gemini client initialized with model %s", cfg.AI.Model)
		}
	} else {
		log.Println("GEMINI_API_KEY not configured, skipping generation features")
	}

	// Initialize the Firestore gateway
	var store *firestore.Store
	if cfg.Store.Enabled() {
		store, err = firestore.NewStore(ctx, cfg.Store.ProjectID, logger)
		if err != nil {
			log.Printf("warning: failed to initialize Firestore: %v", err)
			log.Println("continuing with in-memory sessions only")
			store = nil
		} else {
			defer store.Close()
			log.Println("Firestore gateway initialized")
		}
	} else {
		log.Println("FIRESTORE_PROJECT_ID not configured, sessions stay in memory")
	}

	registry := persona.NewRegistry(persona.Builtins())

	var gateway chat.Gateway
	if store != nil {
		gateway = store
	}
	var generator chat.Generator
	if gemini != nil {
		generator = gemini
	}

	chatSvc := chat.NewService(generator, gateway, registry, chat.Config{
		MinRequestInterval: cfg.Chat.MinRequestInterval,
		HistoryLimit:       cfg.Chat.HistoryLimit,
	}, logger)

	// Initialize Google sign-in
	var oauth *authservice.Service
	if cfg.OAuth.Enabled() {
		oauth = authservice.NewService(cfg.OAuth, nil, logger)
		log.Println("Google sign-in initialized")
	} else {
		log.Println("Google OAuth credentials not configured, guest mode only")
	}

	router := handler.NewRouter(handler.Deps{
		Chat:           chatSvc,
		Personas:       registry,
		Tokens:         authservice.NewTokenStore(),
		OAuth:          oauth,
		Gemini:         gemini,
		Store:          store,
		FlashcardCount: cfg.Chat.FlashcardCount,
	})

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Buddy backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
