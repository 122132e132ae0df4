package openai

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/goosewin/glot/internal/apperr"
	"github.com/goosewin/glot/internal/backend"
	"github.com/goosewin/glot/internal/prompt"
	goopenai "github.com/sashabaranov/go-openai"
)

var (
	groqDescriptor = backend.Descriptor{
		Name:               "groq",
		DefaultModel:       "llama-3.3-70b-versatile",
		DefaultBaseURL:     "https://api.groq.com/openai/v1",
		CredentialEnv:      "GROQ_API_KEY",
		RequiresCredential: true,
	}
	openaiDescriptor = backend.Descriptor{
		Name:               "openai",
		DefaultModel:       goopenai.GPT4oMini,
		DefaultBaseURL:     "https://api.openai.com/v1",
		CredentialEnv:      "OPENAI_API_KEY",
		RequiresCredential: true,
	}
)

func init() {
	for _, desc := range []backend.Descriptor{groqDescriptor, openaiDescriptor} {
		desc := desc
		desc.New = func(opts backend.Options) (backend.Backend, error) {
			return New(desc, opts)
		}
		backend.MustRegister(desc)
	}
}

// Client speaks the OpenAI-compatible chat completions API.
type Client struct {
	name    string
	model   string
	timeout time.Duration
	client  *goopenai.Client
	logger  *slog.Logger
}

var _ backend.Backend = (*Client)(nil)

// NewGroq returns a client for Groq's OpenAI-compatible endpoint.
func NewGroq(opts backend.Options) (*Client, error) {
	return New(groqDescriptor, opts)
}

// NewOpenAI returns a client for the OpenAI API.
func NewOpenAI(opts backend.Options) (*Client, error) {
	return New(openaiDescriptor, opts)
}

// New builds a client for any OpenAI-compatible provider described by desc.
func New(desc backend.Descriptor, opts backend.Options) (*Client, error) {
	if err := apperr.RequireCredential(desc.Name, opts.APIKey, desc.CredentialEnv); err != nil {
		return nil, err
	}
	opts = opts.WithDefaults(desc)

	cfg := goopenai.DefaultConfig(opts.APIKey)
	cfg.BaseURL = opts.BaseURL
	cfg.HTTPClient = withHeaderCapture(opts.HTTPClient)

	return &Client{
		name:    desc.Name,
		model:   opts.Model,
		timeout: opts.Timeout,
		client:  goopenai.NewClientWithConfig(cfg),
		logger:  opts.Logger.With("backend", desc.Name),
	}, nil
}

func (c *Client) Name() string  { return c.name }
func (c *Client) Model() string { return c.model }

func (c *Client) Invoke(ctx context.Context, req prompt.Request) (backend.Response, error) {
	if err := backend.CheckRequest(req); err != nil {
		return backend.Response{}, err
	}
	ctx, cancel := backend.WithTimeout(ctx, c.timeout)
	defer cancel()

	op := c.name + ".invoke"
	captured := &capturedHeader{}
	ctx = context.WithValue(ctx, capturedHeaderKey{}, captured)
	messages := convertMessages(req.Messages())
	c.logger.Debug("sending chat completion", "model", c.model, "messages", len(messages))

	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		classified := classifyError(op, err, captured.header)
		c.logger.Debug("chat completion failed", "kind", apperr.KindOf(classified).String())
		return backend.Response{}, classified
	}

	out := backend.Response{
		Model: resp.Model,
		Usage: backend.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
	}
	if out.Model == "" {
		out.Model = c.model
	}
	return out, nil
}

func convertMessages(messages []prompt.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		role := goopenai.ChatMessageRoleUser
		switch msg.Role {
		case prompt.RoleSystem:
			role = goopenai.ChatMessageRoleSystem
		case prompt.RoleAssistant:
			role = goopenai.ChatMessageRoleAssistant
		}
		out = append(out, goopenai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	return out
}

func classifyError(op string, err error, header http.Header) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return apperr.FromHTTPStatus(op, apiErr.HTTPStatusCode, apiErr.Message, header)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		detail := ""
		if reqErr.Err != nil {
			detail = reqErr.Err.Error()
		}
		return apperr.FromHTTPStatus(op, reqErr.HTTPStatusCode, detail, header)
	}
	return apperr.Classify(op, err)
}

// go-openai drops response headers from its errors; the transport keeps the
// last response header per call so Retry-After survives.
type capturedHeaderKey struct{}

type capturedHeader struct {
	header http.Header
}

type headerCaptureTransport struct {
	base http.RoundTripper
}

func (t headerCaptureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if resp != nil {
		if captured, ok := req.Context().Value(capturedHeaderKey{}).(*capturedHeader); ok {
			captured.header = resp.Header.Clone()
		}
	}
	return resp, err
}

func withHeaderCapture(client *http.Client) *http.Client {
	copied := &http.Client{}
	if client != nil {
		*copied = *client
	}
	base := copied.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	copied.Transport = headerCaptureTransport{base: base}
	return copied
}
