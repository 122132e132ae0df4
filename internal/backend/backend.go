package backend

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goosewin/glot/internal/prompt"
)

// DefaultTimeout bounds a single Invoke when Options.Timeout is unset.
const DefaultTimeout = 60 * time.Second

var ErrEmptyRequest = errors.New("request has no messages")

// Usage reports token accounting returned by a backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the raw result of a completion call.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Backend generates text for a rendered request.
type Backend interface {
	Name() string
	Model() string
	Invoke(ctx context.Context, req prompt.Request) (Response, error)
}

// Options is supplied by the caller that constructs a backend. APIKey is
// opaque and must never be logged.
type Options struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	MaxTokens  int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// WithDefaults fills unset fields from the descriptor.
func (o Options) WithDefaults(d Descriptor) Options {
	if strings.TrimSpace(o.Model) == "" {
		o.Model = d.DefaultModel
	}
	o.BaseURL = strings.TrimRight(strings.TrimSpace(o.BaseURL), "/")
	if o.BaseURL == "" {
		o.BaseURL = d.DefaultBaseURL
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// WithTimeout derives a context bounded by timeout. A non-positive timeout
// leaves ctx unchanged.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// CheckRequest rejects requests that carry no messages.
func CheckRequest(req prompt.Request) error {
	if req.Len() == 0 {
		return ErrEmptyRequest
	}
	return nil
}
