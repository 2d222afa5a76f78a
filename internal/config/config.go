package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every setting the service needs.
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Store  StoreConfig
	OAuth  OAuthConfig
	Chat   ChatConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		AI:     ai,
		Store:  loadStoreConfig(),
		OAuth:  loadOAuthConfig(),
		Chat:   chat,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Allow passing ":8080" or "127.0.0.1:8080" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig describes the Gemini generation backend.
type AIConfig struct {
	APIKey             string
	Model              string
	Temperature        *float64
	MaxOutputTokens    *int
	UploadPollInterval time.Duration
}

// Enabled reports whether the generation backend is configured.
func (c AIConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("GEMINI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("GEMINI_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	pollInterval := 2 * time.Second
	if override, err := parseOptionalIntEnv("GEMINI_UPLOAD_POLL_SECONDS"); err != nil {
		return AIConfig{}, err
	} else if override != nil && *override > 0 {
		pollInterval = time.Duration(*override) * time.Second
	}

	return AIConfig{
		APIKey:             strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		Model:              getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		Temperature:        temperature,
		MaxOutputTokens:    maxTokens,
		UploadPollInterval: pollInterval,
	}, nil
}

// StoreConfig describes the Firestore persistence backend.
type StoreConfig struct {
	ProjectID string
}

// Enabled reports whether durable persistence is configured.
func (c StoreConfig) Enabled() bool {
	return c.ProjectID != ""
}

func loadStoreConfig() StoreConfig {
	return StoreConfig{
		ProjectID: strings.TrimSpace(os.Getenv("FIRESTORE_PROJECT_ID")),
	}
}

// OAuthConfig describes the Google sign-in flow.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Enabled reports whether OAuth sign-in is configured.
func (c OAuthConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

func loadOAuthConfig() OAuthConfig {
	return OAuthConfig{
		ClientID:     strings.TrimSpace(os.Getenv("GOOGLE_OAUTH_CLIENT_ID")),
		ClientSecret: strings.TrimSpace(os.Getenv("GOOGLE_OAUTH_CLIENT_SECRET")),
		RedirectURL:  getEnvOrDefault("OAUTH_REDIRECT_URL", "http://localhost:8080/api/auth/callback"),
	}
}

// ChatConfig describes conversation manager tunables.
type ChatConfig struct {
	MinRequestInterval time.Duration
	HistoryLimit       int
	FlashcardCount     int
}

func loadChatConfig() (ChatConfig, error) {
	minInterval := 3 * time.Second
	if override, err := parseOptionalIntEnv("CHAT_MIN_REQUEST_SECONDS"); err != nil {
		return ChatConfig{}, err
	} else if override != nil && *override >= 0 {
		minInterval = time.Duration(*override) * time.Second
	}

	historyLimit := 10
	if override, err := parseOptionalIntEnv("CHAT_HISTORY_LIMIT"); err != nil {
		return ChatConfig{}, err
	} else if override != nil && *override > 0 {
		historyLimit = *override
	}

	flashcardCount := 10
	if override, err := parseOptionalIntEnv("FLASHCARD_CARD_COUNT"); err != nil {
		return ChatConfig{}, err
	} else if override != nil && *override > 0 {
		flashcardCount = *override
	}

	return ChatConfig{
		MinRequestInterval: minInterval,
		HistoryLimit:       historyLimit,
		FlashcardCount:     flashcardCount,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
