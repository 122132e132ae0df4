// Package pipeline composes a prompt template, a backend and the output
// extractor into a single call.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/goosewin/glot/internal/apperr"
	"github.com/goosewin/glot/internal/backend"
	"github.com/goosewin/glot/internal/prompt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/goosewin/glot/internal/pipeline"

// Recorder observes completed runs. err is nil on success.
type Recorder interface {
	Observe(backend string, err error, elapsed time.Duration)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. Input text and output are never logged, only
// their lengths.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRecorder attaches run metrics.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithTracerProvider sets the provider used for the run span.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Pipeline) {
		if tp != nil {
			p.tracer = tp.Tracer(tracerName)
		}
	}
}

// Pipeline renders a template, invokes a backend once, and extracts the
// text. It holds no per-run state and is safe for concurrent use when the
// backend is.
type Pipeline struct {
	backend  backend.Backend
	template prompt.Template
	logger   *slog.Logger
	recorder Recorder
	tracer   trace.Tracer
}

// New builds a pipeline. A nil backend is a configuration error.
func New(b backend.Backend, t prompt.Template, opts ...Option) (*Pipeline, error) {
	if b == nil {
		return nil, apperr.Configuration("pipeline.new", "no backend configured")
	}
	p := &Pipeline{
		backend:  b,
		template: t,
		logger:   slog.New(slog.DiscardHandler),
		tracer:   noop.NewTracerProvider().Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Backend returns the configured backend.
func (p *Pipeline) Backend() backend.Backend { return p.backend }

// Run renders inputs, invokes the backend and returns the trimmed output.
// A render failure returns before the backend is contacted. Backend errors
// are returned unchanged; nothing is retried.
func (p *Pipeline) Run(ctx context.Context, inputs map[string]string) (result string, err error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "glot.pipeline.run", trace.WithAttributes(
		attribute.String("glot.backend", p.backend.Name()),
		attribute.String("glot.model", p.backend.Model()),
	))
	defer func() {
		if err != nil {
			kind := apperr.KindOf(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, kind.String())
			span.SetAttributes(attribute.String("glot.error.kind", kind.String()))
		}
		span.End()
		if p.recorder != nil {
			p.recorder.Observe(p.backend.Name(), err, time.Since(start))
		}
	}()

	req, err := p.template.Render(inputs)
	if err != nil {
		p.logger.Debug("render failed", "error", err)
		return "", err
	}

	p.logger.Debug("invoking backend",
		"backend", p.backend.Name(),
		"model", p.backend.Model(),
		"input_chars", inputLength(inputs),
	)
	resp, err := p.backend.Invoke(ctx, req)
	if err != nil {
		p.logger.Debug("backend failed", "backend", p.backend.Name(), "kind", apperr.KindOf(err).String())
		return "", err
	}

	result, err = Extract(resp)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.Int("glot.usage.total_tokens", resp.Usage.TotalTokens))
	p.logger.Debug("pipeline complete",
		"backend", p.backend.Name(),
		"output_chars", len(result),
		"total_tokens", resp.Usage.TotalTokens,
		"elapsed", time.Since(start),
	)
	return result, nil
}

// Translate runs the pipeline with the language and text placeholders.
func (p *Pipeline) Translate(ctx context.Context, language, text string) (string, error) {
	return p.Run(ctx, map[string]string{"language": language, "text": text})
}

// Run is a one-shot helper for callers that don't keep a Pipeline around.
func Run(ctx context.Context, b backend.Backend, t prompt.Template, inputs map[string]string) (string, error) {
	p, err := New(b, t)
	if err != nil {
		return "", err
	}
	return p.Run(ctx, inputs)
}

// Extract returns the response text with surrounding whitespace removed.
// Interior content is preserved. Whitespace-only output is an empty response.
func Extract(resp backend.Response) (string, error) {
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", apperr.New(apperr.KindEmptyResponse, "pipeline.extract", "backend returned no text")
	}
	return text, nil
}

func inputLength(inputs map[string]string) int {
	total := 0
	for _, v := range inputs {
		total += len(v)
	}
	return total
}
