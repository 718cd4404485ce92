package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opengemini/gemproxy/internal/agent"
	"github.com/opengemini/gemproxy/internal/config"
	"github.com/opengemini/gemproxy/internal/credential"
	"github.com/opengemini/gemproxy/internal/shaping"
	"github.com/opengemini/gemproxy/internal/upstream"
)

func newTestServer(t *testing.T, upstreamURL string) *Server {
	t.Helper()

	credPath := filepath.Join(t.TempDir(), "api_keys.json")
	store, err := credential.Open(credPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Set("default", "test-secret"); err != nil {
		t.Fatal(err)
	}
	if err := store.SetActive("default"); err != nil {
		t.Fatal(err)
	}

	client := upstream.NewClient(upstream.ClientConfig{
		BaseURL:             upstreamURL,
		MaxIdleConns:        5,
		MaxIdleConnsPerHost: 5,
		RateLimitPerWindow:  1000,
		RateLimitWindow:     time.Second,
		MaxRetries:          0,
	}, nil)

	registry := agent.NewToolRegistry()
	executor := agent.NewExecutor(registry, nil)
	profiles := shaping.NewProfileTable(nil)

	orchestrator := agent.NewOrchestrator(client, upstreamURL, nil, registry, executor, profiles, agent.OrchestratorConfig{
		DefaultModel:            "test-model",
		MaxIterations:           4,
		MaxFunctionDeclarations: 10,
		SafetyMargin:            0.95,
		DefaultModelInputTokens: 100_000,
		WindowEnabled:           false,
	}, nil)

	configStore := config.NewStore(&config.Config{})

	return New(orchestrator, client, upstreamURL, store, configStore, nil)
}

// newFakeUpstream serves a single streamGenerateContent reply carrying the
// text "hello from upstream" and a GET /v1beta/models listing one model.
func newFakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1beta/models/test-model:streamGenerateContent", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"hello from upstream"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":4,"totalTokenCount":7}}`)
	})
	mux.HandleFunc("/v1beta/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"models":[
			{"name":"models/test-model","supportedGenerationMethods":["generateContent"]},
			{"name":"models/embedding-only","supportedGenerationMethods":["embedContent"]}
		]}`)
	})
	return httptest.NewServer(mux)
}

func TestHandleChatCompletionsNonStreaming(t *testing.T) {
	upstream := newFakeUpstream(t)
	defer upstream.Close()

	srv := newTestServer(t, upstream.URL)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	reqBody := `{"model":"test-model","messages":[{"role":"user","content":"hi"}],"stream":false}`
	resp, err := http.Post(ts.URL+"/v1/chat/completions", "application/json", strings.NewReader(reqBody))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	var parsed chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatal(err)
	}
	if len(parsed.Choices) != 1 || parsed.Choices[0].Message.Content != "hello from upstream" {
		t.Fatalf("unexpected response: %+v", parsed)
	}
	if parsed.Usage == nil || parsed.Usage.TotalTokens != 7 {
		t.Fatalf("expected usage to be carried through, got %+v", parsed.Usage)
	}
}

func TestHandleChatCompletionsStreaming(t *testing.T) {
	upstream := newFakeUpstream(t)
	defer upstream.Close()

	srv := newTestServer(t, upstream.URL)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	reqBody := `{"model":"test-model","messages":[{"role":"user","content":"hi"}],"stream":true}`
	resp, err := http.Post(ts.URL+"/v1/chat/completions", "application/json", strings.NewReader(reqBody))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	text := string(body)
	if !strings.Contains(text, "hello from upstream") {
		t.Fatalf("expected streamed text chunk, got %q", text)
	}
	if !strings.HasSuffix(strings.TrimSpace(text), "data: [DONE]") {
		t.Fatalf("expected stream to terminate with [DONE], got %q", text)
	}
}

func TestHandleChatCompletionsRejectsEmptyMessages(t *testing.T) {
	srv := newTestServer(t, "http://unused.invalid")
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/chat/completions", "application/json", bytes.NewReader([]byte(`{"model":"m","messages":[]}`)))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty messages, got %d", resp.StatusCode)
	}
}

func TestHandleChatCompletionsRequiresActiveCredential(t *testing.T) {
	upstream := newFakeUpstream(t)
	defer upstream.Close()

	srv := newTestServer(t, upstream.URL)
	// Clear the active credential the test helper set up.
	for _, id := range srv.credentials.IDs() {
		if err := srv.credentials.Delete(id); err != nil {
			t.Fatal(err)
		}
	}

	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	reqBody := `{"model":"test-model","messages":[{"role":"user","content":"hi"}]}`
	resp, err := http.Post(ts.URL+"/v1/chat/completions", "application/json", strings.NewReader(reqBody))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no active credential, got %d", resp.StatusCode)
	}
}

func TestHandleModels(t *testing.T) {
	upstream := newFakeUpstream(t)
	defer upstream.Close()

	srv := newTestServer(t, upstream.URL)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/models")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var parsed modelsListResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatal(err)
	}
	if len(parsed.Data) != 1 || parsed.Data[0].ID != "test-model" {
		t.Fatalf("expected exactly the generateContent-capable model, got %+v", parsed.Data)
	}
}

func TestHandleHealthz(t *testing.T) {
	upstream := newFakeUpstream(t)
	defer upstream.Close()

	srv := newTestServer(t, upstream.URL)
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with an active credential, got %d", resp.StatusCode)
	}
}
