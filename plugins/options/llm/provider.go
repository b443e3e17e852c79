// Package llm calls the chat completion backends used to generate reply
// suggestions: OpenAI-compatible /chat/completions and Gemini generateContent.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Backend identifiers accepted in Config.APIType.
const (
	APITypeOpenAI = "openai"
	APITypeGemini = "gemini"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	defaultTimeout = 2 * time.Minute
	temperature    = 0.8
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("llm: api key not configured")

// Message is one chat turn sent as history.
type Message struct {
	Role    string `json:"role"` // "user", "assistant" or "system"
	Content string `json:"content"`
}

// Provider generates a completion for a prompt following a chat history.
type Provider interface {
	// Generate sends history followed by prompt as a user turn and returns
	// the assistant text.
	Generate(ctx context.Context, history []Message, prompt string) (string, error)
	// ListModels returns the model ids the endpoint serves.
	ListModels(ctx context.Context) ([]string, error)
	Name() string
}

// Config selects and configures a backend.
type Config struct {
	APIType    string
	APIKey     string
	Model      string
	BaseURL    string
	Stream     bool
	Timeout    time.Duration
	HTTPClient *http.Client // optional; overrides Timeout
}

// NewProvider builds the backend named by cfg.APIType.
func NewProvider(cfg Config) (Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	switch cfg.APIType {
	case APITypeOpenAI, "":
		if base == "" {
			base = DefaultOpenAIBaseURL
		}
		return newOpenAI(base, cfg.APIKey, cfg.Model, cfg.Stream, hc), nil
	case APITypeGemini:
		// The settings default points at OpenAI; Gemini keeps its own host then.
		if base == "" || base == DefaultOpenAIBaseURL {
			base = DefaultGeminiBaseURL
		}
		return newGemini(base, cfg.APIKey, cfg.Model, hc), nil
	default:
		return nil, fmt.Errorf("llm: unknown api type %q", cfg.APIType)
	}
}
