package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goosewin/glot/internal/apperr"
	"github.com/goosewin/glot/internal/backend"
	"github.com/goosewin/glot/internal/prompt"
)

func translationRequest(t *testing.T) prompt.Request {
	t.Helper()
	req, err := prompt.Translation().Render(map[string]string{"language": "German", "text": "Thank you"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	return req
}

func TestInvokeChat(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Errorf("expected no authorization header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3.2","message":{"role":"assistant","content":"Danke"},` +
			`"done":true,"prompt_eval_count":20,"eval_count":2}`))
	}))
	defer server.Close()

	client, err := New(backend.Options{BaseURL: server.URL + "/"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := client.Invoke(context.Background(), translationRequest(t))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	if got.Model != "llama3.2" || got.Stream {
		t.Fatalf("unexpected request: %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "Thank you" {
		t.Fatalf("unexpected messages: %+v", got.Messages)
	}
	if resp.Text != "Danke" || resp.Usage.TotalTokens != 22 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestInvokeStatusErrors(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{status: http.StatusNotFound, want: apperr.ErrBackend},
		{status: http.StatusUnauthorized, want: apperr.ErrAuthentication},
		{status: http.StatusTooManyRequests, want: apperr.ErrRateLimit},
	}
	for _, tc := range cases {
		var hits int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":"model \"llama3.2\" not found"}`))
		}))
		client, _ := New(backend.Options{BaseURL: server.URL})
		_, err := client.Invoke(context.Background(), translationRequest(t))
		server.Close()

		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
		if hits != 1 {
			t.Fatalf("status %d: expected one attempt, got %d", tc.status, hits)
		}
	}
}

func TestInvokeTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client, _ := New(backend.Options{BaseURL: server.URL, Timeout: 50 * time.Millisecond})
	if _, err := client.Invoke(context.Background(), translationRequest(t)); !errors.Is(err, apperr.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestInvokeMalformedBodyIsBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{broken`))
	}))
	defer server.Close()

	client, _ := New(backend.Options{BaseURL: server.URL})
	_, err := client.Invoke(context.Background(), translationRequest(t))
	if !errors.Is(err, apperr.ErrBackend) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if errors.Is(err, apperr.ErrNetwork) {
		t.Fatalf("malformed body reported as network error: %v", err)
	}
}

func TestInvokeUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	client, _ := New(backend.Options{BaseURL: url, Timeout: time.Second})
	if _, err := client.Invoke(context.Background(), translationRequest(t)); !errors.Is(err, apperr.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestOpenWithoutCredential(t *testing.T) {
	b, err := backend.Open("ollama", backend.Options{})
	if err != nil {
		t.Fatalf("expected ollama to open without a credential, got %v", err)
	}
	if b.Model() != "llama3.2" {
		t.Fatalf("unexpected default model %q", b.Model())
	}
}
