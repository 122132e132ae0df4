// Package ollama talks to a local Ollama server's chat endpoint.
package ollama

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goosewin/glot/internal/apperr"
	"github.com/goosewin/glot/internal/backend"
	"github.com/goosewin/glot/internal/prompt"
)

var descriptor = backend.Descriptor{
	Name:           "ollama",
	DefaultModel:   "llama3.2",
	DefaultBaseURL: "http://localhost:11434",
}

func init() {
	desc := descriptor
	desc.New = func(opts backend.Options) (backend.Backend, error) {
		return New(opts)
	}
	backend.MustRegister(desc)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

// Client calls POST /api/chat with streaming disabled.
type Client struct {
	model   string
	baseURL string
	timeout time.Duration
	http    *resty.Client
	logger  *slog.Logger
}

var _ backend.Backend = (*Client)(nil)

// New returns a client. Ollama needs no credential; an API key, when set, is
// sent as a bearer token for servers behind an authenticating proxy.
func New(opts backend.Options) (*Client, error) {
	opts = opts.WithDefaults(descriptor)

	var rc *resty.Client
	if opts.HTTPClient != nil {
		rc = resty.NewWithClient(opts.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetHeader("Content-Type", "application/json").SetRetryCount(0)
	if opts.APIKey != "" {
		rc.SetAuthToken(opts.APIKey)
	}

	return &Client{
		model:   opts.Model,
		baseURL: opts.BaseURL,
		timeout: opts.Timeout,
		http:    rc,
		logger:  opts.Logger.With("backend", descriptor.Name),
	}, nil
}

func (c *Client) Name() string  { return descriptor.Name }
func (c *Client) Model() string { return c.model }

func (c *Client) Invoke(ctx context.Context, req prompt.Request) (backend.Response, error) {
	if err := backend.CheckRequest(req); err != nil {
		return backend.Response{}, err
	}
	ctx, cancel := backend.WithTimeout(ctx, c.timeout)
	defer cancel()

	const op = "ollama.invoke"
	body := chatRequest{Model: c.model, Stream: false}
	for _, msg := range req.Messages() {
		body.Messages = append(body.Messages, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}

	c.logger.Debug("sending chat", "model", c.model, "messages", len(body.Messages))
	var out chatResponse
	rr, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post(c.baseURL + "/api/chat")
	if err != nil {
		classified := apperr.Classify(op, err)
		c.logger.Debug("chat failed", "kind", apperr.KindOf(classified).String())
		return backend.Response{}, classified
	}
	if rr.IsError() {
		return backend.Response{}, apperr.FromHTTPStatus(op, rr.StatusCode(), rr.String(), header(rr))
	}

	model := out.Model
	if model == "" {
		model = c.model
	}
	return backend.Response{
		Text:  out.Message.Content,
		Model: model,
		Usage: backend.Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}

func header(rr *resty.Response) http.Header {
	if rr.RawResponse == nil {
		return nil
	}
	return rr.Header()
}
