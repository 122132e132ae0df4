// Package backendtest provides an in-memory backend for tests.
package backendtest

import (
	"context"
	"strings"
	"sync"

	"github.com/goosewin/glot/internal/backend"
	"github.com/goosewin/glot/internal/prompt"
)

// Stub returns canned responses and records every call.
type Stub struct {
	BackendName string
	ModelName   string

	// Respond computes the response. When nil, Text is returned.
	Respond func(ctx context.Context, req prompt.Request) (backend.Response, error)
	Text    string
	Err     error

	mu       sync.Mutex
	calls    int
	requests []prompt.Request
}

var _ backend.Backend = (*Stub)(nil)

func (s *Stub) Name() string {
	if s.BackendName == "" {
		return "stub"
	}
	return s.BackendName
}

func (s *Stub) Model() string {
	if s.ModelName == "" {
		return "stub-model"
	}
	return s.ModelName
}

func (s *Stub) Invoke(ctx context.Context, req prompt.Request) (backend.Response, error) {
	s.mu.Lock()
	s.calls++
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if err := backend.CheckRequest(req); err != nil {
		return backend.Response{}, err
	}
	if s.Respond != nil {
		return s.Respond(ctx, req)
	}
	if s.Err != nil {
		return backend.Response{}, s.Err
	}
	return backend.Response{Text: s.Text, Model: s.Model()}, nil
}

// Calls returns the number of Invoke calls.
func (s *Stub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Requests returns the requests received so far.
func (s *Stub) Requests() []prompt.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]prompt.Request(nil), s.requests...)
}

// Echo answers "<language>:<text>" for the translation template, reading the
// language back out of the system message.
func Echo(_ context.Context, req prompt.Request) (backend.Response, error) {
	system, _ := req.Content(prompt.RoleSystem)
	text, _ := req.Content(prompt.RoleUser)
	lang := strings.TrimSuffix(strings.TrimPrefix(system, "Translate the following into "), ":")
	return backend.Response{Text: lang + ":" + text, Model: "echo"}, nil
}
