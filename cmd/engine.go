package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goosewin/glot/internal/apperr"
	"github.com/goosewin/glot/internal/backend"
	_ "github.com/goosewin/glot/internal/backend/anthropic"
	_ "github.com/goosewin/glot/internal/backend/ollama"
	_ "github.com/goosewin/glot/internal/backend/openai"
	"github.com/goosewin/glot/internal/config"
	"github.com/goosewin/glot/internal/observability"
	"github.com/goosewin/glot/internal/pipeline"
	"github.com/goosewin/glot/internal/prompt"
	"github.com/goosewin/glot/internal/server"
	"github.com/spf13/cobra"
)

// inputRequiredMessage is shown when the language or text is blank.
const inputRequiredMessage = server.EmptyInputMessage

var errInputRequired = errors.New("target language and text are required")

// pipelineFlags are shared by every command that runs translations.
type pipelineFlags struct {
	backend  string
	model    string
	timeout  string
	template string
}

func (f *pipelineFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.backend, "backend", "b", "", "Completion backend (groq, openai, anthropic, ollama)")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "Model override (backend-specific)")
	cmd.Flags().StringVar(&f.timeout, "timeout", "", "Request timeout, e.g. 30s (default 60s)")
	cmd.Flags().StringVar(&f.template, "template", "", "Path to a YAML prompt template")
}

// engine is the wired pipeline plus the resources that need closing.
type engine struct {
	pipeline *pipeline.Pipeline
	metrics  *observability.Metrics
	tracing  *observability.TracerProvider
}

func newEngine(f pipelineFlags) (*engine, error) {
	name := strings.ToLower(strings.TrimSpace(f.backend))
	if name == "" {
		name = config.GetString("defaults.backend", backend.DefaultName())
	}
	desc, ok := backend.Lookup(name)
	if !ok {
		return nil, apperr.Configuration("backend", fmt.Sprintf("unknown backend %q (available: %s)", name, strings.Join(backend.Names(), ", ")))
	}

	timeout, err := resolveTimeout(f.timeout)
	if err != nil {
		return nil, err
	}
	maxTokens, err := config.GetInt("backends."+desc.Name+".max_tokens", 0)
	if err != nil {
		return nil, apperr.Configuration("config", err.Error())
	}

	opts := backend.Options{
		APIKey:    resolveCredential(desc),
		Model:     resolveModel(desc, f.model),
		BaseURL:   config.GetString("backends."+desc.Name+".base_url", ""),
		Timeout:   timeout,
		MaxTokens: maxTokens,
		Logger:    logger,
	}
	b, err := backend.Open(desc.Name, opts)
	if err != nil {
		return nil, err
	}

	tmpl, err := resolveTemplate(f.template)
	if err != nil {
		return nil, err
	}

	tracing, err := newTracing()
	if err != nil {
		return nil, err
	}
	metrics := observability.MustNewMetrics(nil)

	p, err := pipeline.New(b, tmpl,
		pipeline.WithLogger(logger),
		pipeline.WithRecorder(metrics),
		pipeline.WithTracerProvider(tracing.Provider()),
	)
	if err != nil {
		return nil, err
	}
	logger.Debug("pipeline ready", "backend", b.Name(), "model", b.Model(), "timeout", timeout)
	return &engine{pipeline: p, metrics: metrics, tracing: tracing}, nil
}

// Close flushes pending spans.
func (r *engine) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracing.Shutdown(ctx); err != nil {
		logger.Warn("trace shutdown failed", "error", err)
	}
}

// resolveCredential reads the backend credential from its environment
// variable, then from backends.<name>.api_key. The value is never logged.
func resolveCredential(desc backend.Descriptor) string {
	if desc.CredentialEnv != "" {
		if value := strings.TrimSpace(os.Getenv(desc.CredentialEnv)); value != "" {
			return value
		}
	}
	return config.GetString("backends."+desc.Name+".api_key", "")
}

func hasCredential(name string) bool {
	desc, ok := backend.Lookup(name)
	if !ok {
		return false
	}
	return !desc.RequiresCredential || resolveCredential(desc) != ""
}

func resolveModel(desc backend.Descriptor, flagValue string) string {
	if model := strings.TrimSpace(flagValue); model != "" {
		return model
	}
	if model := config.GetString("backends."+desc.Name+".model", ""); model != "" {
		return model
	}
	// defaults.model only applies to the default backend.
	if desc.Name == config.GetString("defaults.backend", backend.DefaultName()) {
		return config.GetString("defaults.model", "")
	}
	return ""
}

func resolveTimeout(flagValue string) (time.Duration, error) {
	if strings.TrimSpace(flagValue) != "" {
		d, err := config.ParseDuration(flagValue)
		if err != nil {
			return 0, apperr.Configuration("timeout", err.Error())
		}
		return d, nil
	}
	d, err := config.GetDuration("defaults.timeout", backend.DefaultTimeout)
	if err != nil {
		return 0, apperr.Configuration("timeout", err.Error())
	}
	return d, nil
}

func resolveTemplate(flagValue string) (prompt.Template, error) {
	path := strings.TrimSpace(flagValue)
	if path == "" {
		path = config.GetString("defaults.template", "")
	}
	if path == "" {
		return prompt.Translation(), nil
	}
	tmpl, err := prompt.LoadFile(path)
	if err != nil {
		return prompt.Template{}, apperr.Configuration("template", err.Error())
	}
	return tmpl, nil
}

func resolveLanguage(flagValue string) string {
	if language := strings.TrimSpace(flagValue); language != "" {
		return language
	}
	return config.GetString("defaults.language", "French")
}

func newTracing() (*observability.TracerProvider, error) {
	enabled, err := config.GetBool("tracing.enabled", false)
	if err != nil {
		return nil, apperr.Configuration("tracing", err.Error())
	}
	rate, err := config.GetFloat("tracing.sample_rate", 1.0)
	if err != nil {
		return nil, apperr.Configuration("tracing", err.Error())
	}
	tp, err := observability.NewTracerProvider(observability.TracingConfig{
		Enabled:        enabled,
		Exporter:       config.GetString("tracing.exporter", "otlp"),
		Endpoint:       config.GetString("tracing.endpoint", ""),
		SampleRate:     rate,
		ServiceVersion: Version,
	})
	if err != nil {
		return nil, apperr.Configuration("tracing", err.Error())
	}
	return tp, nil
}
