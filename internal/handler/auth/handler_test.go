package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/buddy-ai/buddy/internal/config"
	"github.com/buddy-ai/buddy/internal/model/persona"
	"github.com/buddy-ai/buddy/internal/model/user"
	authService "github.com/buddy-ai/buddy/internal/service/auth"
	chatService "github.com/buddy-ai/buddy/internal/service/chat"
)

func setupRouter() (*chi.Mux, *authService.TokenStore) {
	tokens := authService.NewTokenStore()
	registry := persona.NewRegistry(persona.Builtins())
	chatSvc := chatService.NewService(nil, nil, registry, chatService.Config{}, nil)
	handler := New(nil, tokens, chatSvc, registry, nil)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, tokens
}

func setupOAuthRouter() *chi.Mux {
	tokens := authService.NewTokenStore()
	registry := persona.NewRegistry(persona.Builtins())
	chatSvc := chatService.NewService(nil, nil, registry, chatService.Config{}, nil)
	oauth := authService.NewService(config.OAuthConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:8080/api/auth/callback",
	}, nil, nil)
	handler := New(oauth, tokens, chatSvc, registry, nil)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r
}

func TestCallbackRejectsUnknownState(t *testing.T) {
	r := setupOAuthRouter()

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?state=forged&code=abc", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a state nobody minted, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "state") {
		t.Fatalf("expected a state error, got %s", resp.Body.String())
	}
}

func TestCallbackConsumesMintedStateOnce(t *testing.T) {
	r := setupOAuthRouter()

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", resp.Code)
	}

	var payload struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.State == "" {
		t.Fatal("login response carried no state")
	}

	// A minted state passes the check; the request then fails on the
	// missing code, not on the state.
	cb := httptest.NewRequest(http.MethodGet, "/auth/callback?state="+payload.State, nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, cb)
	if resp.Code != http.StatusBadRequest || !strings.Contains(resp.Body.String(), "code") {
		t.Fatalf("expected the code error after a valid state, got %d %s", resp.Code, resp.Body.String())
	}

	// Redeeming the same state twice fails.
	cb = httptest.NewRequest(http.MethodGet, "/auth/callback?state="+payload.State, nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, cb)
	if resp.Code != http.StatusBadRequest || !strings.Contains(resp.Body.String(), "state") {
		t.Fatalf("expected a second redemption to fail on state, got %d %s", resp.Code, resp.Body.String())
	}
}

func TestGuestSignIn(t *testing.T) {
	r, tokens := setupRouter()

	req := httptest.NewRequest(http.MethodPost, "/auth/guest", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var payload struct {
		Token string        `json:"token"`
		User  user.Identity `json:"user"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Token == "" {
		t.Fatal("expected a token")
	}
	if !payload.User.Guest {
		t.Fatalf("expected a guest identity, got %+v", payload.User)
	}

	id, ok := tokens.Get(payload.Token)
	if !ok || id.UserID != payload.User.UserID {
		t.Fatalf("token does not resolve to the guest identity")
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	r, tokens := setupRouter()
	token := tokens.Create(user.Identity{UserID: "u1"})

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if _, ok := tokens.Get(token); ok {
		t.Fatal("token still valid after logout")
	}
}

func TestLoginUnavailableWithoutOAuth(t *testing.T) {
	r, _ := setupRouter()

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}

func TestMeRequiresIdentity(t *testing.T) {
	r, _ := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}

	withID := req.WithContext(user.WithIdentity(req.Context(), user.Identity{UserID: "u1", Name: "User"}))
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, withID)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}
