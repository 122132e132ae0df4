package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/goosewin/glot/internal/apperr"
	"github.com/goosewin/glot/internal/backend"
	"github.com/goosewin/glot/internal/prompt"
)

const defaultMaxTokens = 1024

var descriptor = backend.Descriptor{
	Name:               "anthropic",
	DefaultModel:       string(anthropic.ModelClaude3_5HaikuLatest),
	DefaultBaseURL:     "https://api.anthropic.com",
	CredentialEnv:      "ANTHROPIC_API_KEY",
	RequiresCredential: true,
}

func init() {
	desc := descriptor
	desc.New = func(opts backend.Options) (backend.Backend, error) {
		return New(opts)
	}
	backend.MustRegister(desc)
}

// Client calls the Anthropic Messages API.
type Client struct {
	model     string
	maxTokens int64
	timeout   time.Duration
	client    *anthropic.Client
	logger    *slog.Logger
}

var _ backend.Backend = (*Client)(nil)

// New returns a client. SDK retries are disabled; failures surface on the
// first attempt.
func New(opts backend.Options) (*Client, error) {
	if err := apperr.RequireCredential(descriptor.Name, opts.APIKey, descriptor.CredentialEnv); err != nil {
		return nil, err
	}
	opts = opts.WithDefaults(descriptor)

	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithBaseURL(opts.BaseURL + "/"),
		option.WithMaxRetries(0),
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	return &Client{
		model:     opts.Model,
		maxTokens: maxTokens,
		timeout:   opts.Timeout,
		client:    anthropic.NewClient(clientOpts...),
		logger:    opts.Logger.With("backend", descriptor.Name),
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

	const op = "anthropic.invoke"
	system, messages := convertMessages(req.Messages())
	params := anthropic.MessageNewParams{
		Model:     anthropic.F(anthropic.Model(c.model)),
		MaxTokens: anthropic.Int(c.maxTokens),
		Messages:  anthropic.F(messages),
	}
	if len(system) > 0 {
		params.System = anthropic.F(system)
	}

	c.logger.Debug("sending message", "model", c.model, "messages", len(messages))
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		classified := classifyError(op, err)
		c.logger.Debug("message failed", "kind", apperr.KindOf(classified).String())
		return backend.Response{}, classified
	}

	var text strings.Builder
	for _, block := range msg.Content {
		text.WriteString(block.Text)
	}

	model := string(msg.Model)
	if model == "" {
		model = c.model
	}
	input := int(msg.Usage.InputTokens)
	output := int(msg.Usage.OutputTokens)
	return backend.Response{
		Text:  text.String(),
		Model: model,
		Usage: backend.Usage{
			PromptTokens:     input,
			CompletionTokens: output,
			TotalTokens:      input + output,
		},
	}, nil
}

// convertMessages splits system parts out of the conversation, as the
// Messages API carries them separately.
func convertMessages(messages []prompt.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case prompt.RoleSystem:
			system = append(system, anthropic.NewTextBlock(msg.Content))
		case prompt.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return system, out
}

func classifyError(op string, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode > 0 {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		return apperr.FromHTTPStatus(op, apiErr.StatusCode, providerMessage(apiErr.JSON.RawJSON()), header)
	}
	return apperr.Classify(op, err)
}

// providerMessage pulls error.message out of an API error body, falling back
// to the raw body.
func providerMessage(raw string) string {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(raw), &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	return raw
}
