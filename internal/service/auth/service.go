// Package auth implements Google sign-in and the bearer token session
// layer. Guests bypass OAuth entirely and get a synthetic identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"

	"github.com/buddy-ai/buddy/internal/config"
	"github.com/buddy-ai/buddy/internal/model/user"
)

var ErrNoIDToken = errors.New("token response carried no id_token")

// Claims is the subset of the Google ID token payload the service reads.
type Claims struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// VerifyFunc validates a raw ID token against the OAuth client and returns
// its claims. Swapped out in tests.
type VerifyFunc func(ctx context.Context, rawToken, clientID string) (Claims, error)

// Service runs the authorization code flow against Google.
type Service struct {
	oauth  *oauth2.Config
	verify VerifyFunc
	logger *slog.Logger
}

// NewService builds the OAuth flow from config. verify may be nil, in which
// case Google's tokeninfo validation is used.
func NewService(cfg config.OAuthConfig, verify VerifyFunc, logger *slog.Logger) *Service {
	if verify == nil {
		verify = googleVerify
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     google.Endpoint,
		},
		verify: verify,
		logger: logger,
	}
}

// AuthURL returns the Google consent page URL for one login attempt.
func (s *Service) AuthURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades the authorization code for tokens and validates the ID
// token, yielding the signed-in identity.
func (s *Service) Exchange(ctx context.Context, code string) (user.Identity, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return user.Identity{}, fmt.Errorf("exchange authorization code: %w", err)
	}

	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		return user.Identity{}, ErrNoIDToken
	}

	claims, err := s.verify(ctx, raw, s.oauth.ClientID)
	if err != nil {
		return user.Identity{}, fmt.Errorf("validate id token: %w", err)
	}

	s.logger.Info("user signed in", "user_id", claims.Subject)
	return user.Identity{
		UserID:  claims.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
		Picture: claims.Picture,
	}, nil
}

func googleVerify(ctx context.Context, rawToken, clientID string) (Claims, error) {
	payload, err := idtoken.Validate(ctx, rawToken, clientID)
	if err != nil {
		return Claims{}, err
	}

	return Claims{
		Subject: payload.Subject,
		Email:   claimString(payload.Claims, "email"),
		Name:    claimString(payload.Claims, "name"),
		Picture: claimString(payload.Claims, "picture"),
	}, nil
}

func claimString(claims map[string]any, key string) string {
	v, _ := claims[key].(string)
	return v
}
