package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// continueText is the placeholder user turn appended when history would
// otherwise end on a model turn.
const continueText = "(继续)"

// Gemini talks to the generateContent endpoint.
type Gemini struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

var _ Provider = (*Gemini)(nil)

func newGemini(baseURL, apiKey, model string, hc *http.Client) *Gemini {
	return &Gemini{baseURL: baseURL, apiKey: apiKey, model: model, httpClient: hc}
}

func (g *Gemini) Name() string {
	return fmt.Sprintf("gemini (%s)", g.model)
}

// GeminiPart is one text part of a Gemini turn.
type GeminiPart struct {
	Text string `json:"text"`
}

// GeminiContent is one turn in a generateContent request.
type GeminiContent struct {
	Role  string       `json:"role"`
	Parts []GeminiPart `json:"parts"`
}

// Text returns the concatenated text of all parts.
func (c GeminiContent) Text() string {
	var sb strings.Builder
	for _, p := range c.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// ToGeminiContents maps chat messages to Gemini turns. assistant becomes
// model, system turns are dropped, consecutive user turns are merged with a
// blank line, and a placeholder user turn is appended when the result does
// not end on a user turn.
func ToGeminiContents(messages []Message) []GeminiContent {
	out := make([]GeminiContent, 0, len(messages)+1)
	for _, m := range messages {
		var role string
		switch m.Role {
		case "user":
			role = "user"
		case "assistant", "model":
			role = "model"
		default:
			continue
		}
		if role == "user" && len(out) > 0 && out[len(out)-1].Role == "user" {
			last := &out[len(out)-1]
			last.Parts = []GeminiPart{{Text: last.Text() + "\n\n" + m.Content}}
			continue
		}
		out = append(out, GeminiContent{Role: role, Parts: []GeminiPart{{Text: m.Content}}})
	}
	if len(out) == 0 || out[len(out)-1].Role != "user" {
		out = append(out, GeminiContent{Role: "user", Parts: []GeminiPart{{Text: continueText}}})
	}
	return out
}

type generateRequest struct {
	Contents []GeminiContent `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []GeminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (g *Gemini) Generate(ctx context.Context, history []Message, prompt string) (string, error) {
	messages := make([]Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, Message{Role: "user", Content: prompt})

	payload, err := json.Marshal(generateRequest{Contents: ToGeminiContents(messages)})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		g.baseURL, strings.TrimPrefix(g.model, "models/"), url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("gemini parse error: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", nil
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}

func (g *Gemini) ListModels(ctx context.Context) ([]string, error) {
	endpoint := fmt.Sprintf("%s/models?key=%s", g.baseURL, url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var out struct {
		Models []struct {
			Name string `json:"name"` // "models/gemini-2.0-flash"
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("gemini parse error: %w", err)
	}
	ids := make([]string, 0, len(out.Models))
	for _, m := range out.Models {
		ids = append(ids, strings.TrimPrefix(m.Name, "models/"))
	}
	return ids, nil
}
