package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goosewin/glot/internal/apperr"
	"github.com/goosewin/glot/internal/backend"
	"github.com/goosewin/glot/internal/backend/backendtest"
	"github.com/goosewin/glot/internal/pipeline"
	"github.com/goosewin/glot/internal/prompt"
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	backend.MustRegister(backend.Descriptor{
		Name:               "stub",
		DefaultModel:       "stub-model",
		DefaultBaseURL:     "http://stub.invalid",
		CredentialEnv:      "STUB_API_KEY",
		RequiresCredential: true,
		New: func(backend.Options) (backend.Backend, error) {
			return &backendtest.Stub{}, nil
		},
	})
}

func newTestHandler(t *testing.T, stub *backendtest.Stub, opts Options) (http.Handler, *backendtest.Stub) {
	t.Helper()
	if stub == nil {
		stub = &backendtest.Stub{Respond: backendtest.Echo}
	}
	p, err := pipeline.New(stub, prompt.Translation())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	opts.Translator = p
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.NewRegistry()
	}
	return NewHandler(opts), stub
}

func doRequest(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return payload
}

func TestTranslate(t *testing.T) {
	h, stub := newTestHandler(t, nil, Options{})

	rec := doRequest(h, http.MethodPost, "/v1/translate", `{"language":"French","text":"Hello, how are you today?"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	payload := decode(t, rec)
	if payload["translation"] != "French:Hello, how are you today?" {
		t.Fatalf("unexpected translation: %v", payload)
	}
	if payload["backend"] != "stub" || payload["model"] != "stub-model" {
		t.Fatalf("unexpected metadata: %v", payload)
	}
	if stub.Calls() != 1 {
		t.Fatalf("expected one call, got %d", stub.Calls())
	}
}

func TestTranslateRejectsEmptyFields(t *testing.T) {
	h, stub := newTestHandler(t, nil, Options{})

	for _, body := range []string{
		`{"language":"","text":"Hello"}`,
		`{"language":"French","text":"   "}`,
		`{}`,
	} {
		rec := doRequest(h, http.MethodPost, "/v1/translate", body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rec.Code)
		}
		if payload := decode(t, rec); payload["error"] != EmptyInputMessage {
			t.Fatalf("%s: unexpected error %v", body, payload)
		}
	}
	if stub.Calls() != 0 {
		t.Fatalf("backend must not be invoked, got %d", stub.Calls())
	}

	rec := doRequest(h, http.MethodPost, "/v1/translate", `{not json`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid json, got %d", rec.Code)
	}
}

func TestTranslateMapsErrorKinds(t *testing.T) {
	cases := []struct {
		err        error
		status     int
		retryAfter string
	}{
		{err: apperr.FromHTTPStatus("groq.invoke", 401, "bad key", nil), status: http.StatusBadGateway},
		{err: &apperr.Error{Kind: apperr.KindRateLimit, Op: "groq.invoke", RetryAfter: 12 * time.Second}, status: http.StatusTooManyRequests, retryAfter: "12"},
		{err: apperr.New(apperr.KindNetwork, "groq.invoke", "request timed out"), status: http.StatusGatewayTimeout},
		{err: apperr.New(apperr.KindBackend, "groq.invoke", "overloaded"), status: http.StatusBadGateway},
		{err: apperr.Configuration("groq", "GROQ_API_KEY is not set"), status: http.StatusServiceUnavailable},
		{err: errors.New("unclassified"), status: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		h, _ := newTestHandler(t, &backendtest.Stub{Err: tc.err}, Options{})
		rec := doRequest(h, http.MethodPost, "/v1/translate", `{"language":"French","text":"Hello"}`, nil)
		if rec.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
		if got := rec.Header().Get("Retry-After"); got != tc.retryAfter {
			t.Fatalf("%v: expected Retry-After %q, got %q", tc.err, tc.retryAfter, got)
		}
		payload := decode(t, rec)
		if payload["kind"] != apperr.KindOf(tc.err).String() {
			t.Fatalf("%v: unexpected kind %v", tc.err, payload["kind"])
		}
	}

	h, _ := newTestHandler(t, &backendtest.Stub{Text: "  "}, Options{})
	rec := doRequest(h, http.MethodPost, "/v1/translate", `{"language":"French","text":"Hello"}`, nil)
	if rec.Code != http.StatusBadGateway || decode(t, rec)["kind"] != "empty_response" {
		t.Fatalf("expected empty response mapping, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestStatusForErrorMissingPlaceholder(t *testing.T) {
	err := &prompt.MissingPlaceholderError{Name: "text"}
	if got := StatusForError(err); got != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", got)
	}
}

func TestAuthorization(t *testing.T) {
	h, _ := newTestHandler(t, nil, Options{Token: "secret"})

	rec := doRequest(h, http.MethodPost, "/v1/translate", `{"language":"French","text":"Hello"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	rec = doRequest(h, http.MethodPost, "/v1/translate", `{"language":"French","text":"Hello"}`,
		map[string]string{"Authorization": "Bearer wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rec.Code)
	}
	rec = doRequest(h, http.MethodPost, "/v1/translate", `{"language":"French","text":"Hello"}`,
		map[string]string{"Authorization": "bearer secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}

	rec = doRequest(h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected open health check, got %d", rec.Code)
	}
}

func TestBackendsListing(t *testing.T) {
	h, _ := newTestHandler(t, nil, Options{HasCredential: func(name string) bool { return name == "stub" }})

	rec := doRequest(h, http.MethodGet, "/v1/backends", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Backends []backendInfo `json:"backends"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	found := false
	for _, info := range payload.Backends {
		if info.Name == "stub" {
			found = true
			if !info.Configured || !info.Active || info.DefaultModel != "stub-model" {
				t.Fatalf("unexpected stub info: %+v", info)
			}
		}
	}
	if !found {
		t.Fatalf("expected stub backend in %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "api_key") {
		t.Fatalf("listing must not include credentials: %s", rec.Body.String())
	}
}

func TestUnknownEndpointAndMethod(t *testing.T) {
	h, _ := newTestHandler(t, nil, Options{})

	if rec := doRequest(h, http.MethodGet, "/nope", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := doRequest(h, http.MethodGet, "/v1/translate", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "glot_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	h, _ := newTestHandler(t, nil, Options{Gatherer: reg})
	rec := doRequest(h, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "glot_test_total 1") {
		t.Fatalf("unexpected metrics response %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCORS(t *testing.T) {
	h, _ := newTestHandler(t, nil, Options{Host: "127.0.0.1"})

	rec := doRequest(h, http.MethodGet, "/", "", map[string]string{"Origin": "http://localhost"})
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost" {
		t.Fatalf("expected localhost origin allowed, got %q", got)
	}

	rec = doRequest(h, http.MethodGet, "/", "", map[string]string{"Origin": "http://evil.example"})
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected foreign origin rejected, got %q", got)
	}
}

func TestResolveCORSOrigin(t *testing.T) {
	cases := []struct {
		origin string
		host   string
		open   bool
		want   string
	}{
		{origin: "", host: "127.0.0.1", want: ""},
		{origin: "http://localhost", host: "127.0.0.1", want: "http://localhost"},
		{origin: "http://10.0.0.5", host: "10.0.0.5", want: "http://10.0.0.5"},
		{origin: "http://10.0.0.5", host: "0.0.0.0", want: ""},
		{origin: "http://anything", host: "0.0.0.0", open: true, want: "*"},
	}
	for _, tc := range cases {
		if got := resolveCORSOrigin(tc.origin, tc.host, tc.open); got != tc.want {
			t.Fatalf("resolveCORSOrigin(%q, %q, %v) = %q, want %q", tc.origin, tc.host, tc.open, got, tc.want)
		}
	}
}

func TestStartServerValidatesOptions(t *testing.T) {
	if err := StartServer(context.Background(), Options{Port: 70000}); err == nil {
		t.Fatal("expected invalid port error")
	}
	if err := StartServer(context.Background(), Options{Port: 8080}); !errors.Is(err, apperr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestStartServerShutsDown(t *testing.T) {
	p, _ := pipeline.New(&backendtest.Stub{Respond: backendtest.Echo}, prompt.Translation())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- StartServer(ctx, Options{Port: 18931, Translator: p, Gatherer: prometheus.NewRegistry()})
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
