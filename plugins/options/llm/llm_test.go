package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func newTestProvider(t *testing.T, apiType, baseURL string, stream bool) Provider {
	t.Helper()
	p, err := NewProvider(Config{APIType: apiType, APIKey: "sk-test", Model: "m1", BaseURL: baseURL, Stream: stream})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	return p
}

func TestNewProviderRequiresKey(t *testing.T) {
	if _, err := NewProvider(Config{APIType: APITypeOpenAI}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := NewProvider(Config{APIType: "claude", APIKey: "k"}); err == nil {
		t.Fatal("expected error for unknown api type")
	}
}

func TestOpenAIRequestShape(t *testing.T) {
	var got struct {
		Model       string    `json:"model"`
		Messages    []Message `json:"messages"`
		Temperature float64   `json:"temperature"`
		Stream      bool      `json:"stream"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"choices":[{"message":{"content":"【a】"}}]}`)
	}))
	defer srv.Close()

	p := newTestProvider(t, APITypeOpenAI, srv.URL+"/v1/", false)
	text, err := p.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "yo"}}, "PROMPT")
	if err != nil {
		t.Fatal(err)
	}
	if text != "【a】" {
		t.Fatalf("unexpected text %q", text)
	}
	if got.Model != "m1" || got.Temperature != 0.8 || got.Stream {
		t.Fatalf("unexpected body %+v", got)
	}
	if len(got.Messages) != 3 || got.Messages[2] != (Message{Role: "user", Content: "PROMPT"}) {
		t.Fatalf("prompt not appended as final user turn: %+v", got.Messages)
	}
}

func TestOpenAIDualShapeResponse(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`{"candidates":[{"content":{"parts":[{"text":"from gemini proxy"}]}}],"choices":[{"message":{"content":"from openai"}}]}`, "from gemini proxy"},
		{`{"choices":[{"message":{"content":"from openai"}}]}`, "from openai"},
		{`{"candidates":[],"choices":[]}`, ""},
	}
	for _, tc := range cases {
		got, err := readChatResponse(strings.NewReader(tc.body))
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Errorf("body %s: got %q, want %q", tc.body, got, tc.want)
		}
	}
}

func TestOpenAIStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, ": keep-alive\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"【go \"}}]}\n\n")
		io.WriteString(w, "data: {not json}\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"left】\"}}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"after done\"}}]}\n\n")
	}))
	defer srv.Close()

	p := newTestProvider(t, APITypeOpenAI, srv.URL, true)
	text, err := p.Generate(context.Background(), nil, "p")
	if err != nil {
		t.Fatal(err)
	}
	if text != "【go left】" {
		t.Fatalf("unexpected accumulated text %q", text)
	}
}

func TestAPIErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, "slow down")
	}))
	defer srv.Close()

	for _, apiType := range []string{APITypeOpenAI, APITypeGemini} {
		atomic.StoreInt32(&calls, 0)
		p := newTestProvider(t, apiType, srv.URL, false)
		_, err := p.Generate(context.Background(), nil, "p")
		apiErr, ok := IsAPIError(err)
		if !ok {
			t.Fatalf("%s: expected APIError, got %v", apiType, err)
		}
		if apiErr.StatusCode != http.StatusTooManyRequests || apiErr.Body != "slow down" {
			t.Fatalf("%s: unexpected error %+v", apiType, apiErr)
		}
		if apiErr.Error() != "API error 429: slow down" {
			t.Fatalf("unexpected message %q", apiErr.Error())
		}
		if n := atomic.LoadInt32(&calls); n != 1 {
			t.Fatalf("%s: expected exactly one request, got %d", apiType, n)
		}
	}
}

func TestGenerateHonoursCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := newTestProvider(t, APITypeOpenAI, srv.URL, false)
	if _, err := p.Generate(ctx, nil, "p"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGeminiGenerate(t *testing.T) {
	var body generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-pro:generateContent" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "sk-test" {
			t.Errorf("missing key query")
		}
		json.NewDecoder(r.Body).Decode(&body)
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"【x】"}]}}]}`)
	}))
	defer srv.Close()

	p, _ := NewProvider(Config{APIType: APITypeGemini, APIKey: "sk-test", Model: "gemini-pro", BaseURL: srv.URL})
	text, err := p.Generate(context.Background(), []Message{{Role: "assistant", Content: "hello"}}, "P")
	if err != nil {
		t.Fatal(err)
	}
	if text != "【x】" {
		t.Fatalf("unexpected text %q", text)
	}
	if len(body.Contents) != 2 || body.Contents[0].Role != "model" || body.Contents[1].Text() != "P" {
		t.Fatalf("unexpected contents %+v", body.Contents)
	}
}

func TestGeminiMissingCandidatesIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"promptFeedback":{"blockReason":"SAFETY"}}`)
	}))
	defer srv.Close()

	p := newTestProvider(t, APITypeGemini, srv.URL, false)
	text, err := p.Generate(context.Background(), nil, "p")
	if err != nil || text != "" {
		t.Fatalf("expected empty text and no error, got %q (%v)", text, err)
	}
}

func TestGeminiDefaultBaseURL(t *testing.T) {
	p, _ := NewProvider(Config{APIType: APITypeGemini, APIKey: "k", BaseURL: DefaultOpenAIBaseURL})
	if g := p.(*Gemini); g.baseURL != DefaultGeminiBaseURL {
		t.Fatalf("expected gemini base url, got %s", g.baseURL)
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/models":
			io.WriteString(w, `{"object":"list","data":[{"id":"gpt-4o","object":"model","created":0,"owned_by":"openai"},{"id":"gpt-4o-mini","object":"model","created":0,"owned_by":"openai"}]}`)
		case "/models":
			io.WriteString(w, `{"models":[{"name":"models/gemini-2.0-flash"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	openai := newTestProvider(t, APITypeOpenAI, srv.URL+"/v1", false)
	ids, err := openai.ListModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(ids) != "[gpt-4o gpt-4o-mini]" {
		t.Fatalf("unexpected openai models %v", ids)
	}

	gemini := newTestProvider(t, APITypeGemini, srv.URL, false)
	ids, err = gemini.ListModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(ids) != "[gemini-2.0-flash]" {
		t.Fatalf("unexpected gemini models %v", ids)
	}
}

func TestListModelsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	p := newTestProvider(t, APITypeOpenAI, srv.URL, false)
	_, err := p.ListModels(context.Background())
	apiErr, ok := IsAPIError(err)
	if !ok || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
}

func TestToGeminiContentsExample(t *testing.T) {
	got := ToGeminiContents([]Message{
		{Role: "user", Content: "a"},
		{Role: "user", Content: "b"},
		{Role: "assistant", Content: "c"},
	})
	if len(got) != 3 {
		t.Fatalf("expected 3 turns, got %+v", got)
	}
	if got[0].Role != "user" || got[0].Text() != "a\n\nb" {
		t.Errorf("unexpected first turn %+v", got[0])
	}
	if got[1].Role != "model" || got[1].Text() != "c" {
		t.Errorf("unexpected second turn %+v", got[1])
	}
	if got[2].Role != "user" || got[2].Text() != "(继续)" {
		t.Errorf("expected trailing continue turn, got %+v", got[2])
	}
}

func TestToGeminiContentsProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	genMessage := gopter.CombineGens(
		gen.OneConstOf("user", "assistant", "system"),
		gen.AlphaString(),
	).Map(func(v []interface{}) Message {
		return Message{Role: v[0].(string), Content: v[1].(string)}
	})

	properties.Property("ends on a user turn without consecutive user turns", prop.ForAll(
		func(msgs []Message) bool {
			out := ToGeminiContents(msgs)
			if len(out) == 0 || out[len(out)-1].Role != "user" {
				return false
			}
			for i := 1; i < len(out); i++ {
				if out[i].Role == "user" && out[i-1].Role == "user" {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genMessage),
	))

	properties.Property("never produces assistant or system roles", prop.ForAll(
		func(msgs []Message) bool {
			for _, c := range ToGeminiContents(msgs) {
				if c.Role != "user" && c.Role != "model" {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genMessage),
	))

	properties.Property("model turns keep their text in order", prop.ForAll(
		func(msgs []Message) bool {
			var want []string
			for _, m := range msgs {
				if m.Role == "assistant" {
					want = append(want, m.Content)
				}
			}
			var got []string
			for _, c := range ToGeminiContents(msgs) {
				if c.Role == "model" {
					got = append(got, c.Text())
				}
			}
			return fmt.Sprint(got) == fmt.Sprint(want)
		},
		gen.SliceOf(genMessage),
	))

	properties.TestingRun(t)
}

func TestReadSSEMultilineData(t *testing.T) {
	var events []string
	err := readSSE(strings.NewReader("data: a\ndata: b\n\nevent: x\ndata: c\n"), func(d string) bool {
		events = append(events, d)
		return true
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0] != "a\nb" || events[1] != "c" {
		t.Fatalf("unexpected events %q", events)
	}
}
