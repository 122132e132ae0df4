package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/goosewin/glot/internal/apperr"
	"github.com/goosewin/glot/internal/backend"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const (
	defaultHost         = "127.0.0.1"
	defaultPort         = 8080
	defaultMaxBodyBytes = 64 << 10
	shutdownTimeout     = 5 * time.Second
)

// EmptyInputMessage is returned when a translation request lacks a field.
const EmptyInputMessage = "Please provide both the target language and the text to translate."

// Translator runs one translation. *pipeline.Pipeline satisfies it.
type Translator interface {
	Translate(ctx context.Context, language, text string) (string, error)
	Backend() backend.Backend
}

// Options configures the HTTP translation server.
type Options struct {
	Host         string
	Port         int
	Token        string
	Open         bool
	MaxBodyBytes int64

	Translator Translator
	// Gatherer backs GET /metrics. Defaults to the Prometheus default gatherer.
	Gatherer prometheus.Gatherer
	// HasCredential reports whether a backend's credential is configured, for
	// GET /v1/backends. It must not expose the value.
	HasCredential func(name string) bool
	Logger        *slog.Logger
}

// StartServer runs the HTTP server until ctx is canceled.
func StartServer(ctx context.Context, opts Options) error {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = defaultHost
	}
	port := opts.Port
	if port == 0 {
		port = defaultPort
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port number: %d", port)
	}
	if opts.Translator == nil {
		return apperr.Configuration("server.start", "no translator configured")
	}
	opts.Host = host

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
		Handler:           NewHandler(opts),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		ctxTimeout, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctxTimeout)
	})
	return g.Wait()
}

// NewHandler builds the gin engine serving the API.
func NewHandler(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if strings.TrimSpace(opts.Host) == "" {
		opts.Host = defaultHost
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(opts.Logger))
	engine.Use(cors.New(corsConfig(opts)))
	engine.Use(limitBody(opts.MaxBodyBytes))

	h := &handler{opts: opts}
	engine.NoRoute(func(c *gin.Context) {
		writeJSONError(c, http.StatusNotFound, "Unknown endpoint")
	})
	engine.HandleMethodNotAllowed = true
	engine.NoMethod(func(c *gin.Context) {
		writeJSONError(c, http.StatusMethodNotAllowed, "Method not allowed")
	})

	engine.GET("/healthz", h.health)

	authed := engine.Group("/", authorizeRequest(opts.Token))
	authed.GET("/", h.banner)
	authed.GET("/v1/backends", h.backends)
	authed.POST("/v1/translate", h.translate)
	authed.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	return engine
}

type handler struct {
	opts Options
}

type translateRequest struct {
	Language string `json:"language"`
	Text     string `json:"text"`
}

type translateResponse struct {
	Translation string `json:"translation"`
	Backend     string `json:"backend"`
	Model       string `json:"model"`
}

type backendInfo struct {
	Name               string `json:"name"`
	DefaultModel       string `json:"default_model"`
	RequiresCredential bool   `json:"requires_credential"`
	CredentialEnv      string `json:"credential_env,omitempty"`
	Configured         bool   `json:"configured"`
	Active             bool   `json:"active"`
}

func (h *handler) banner(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "glot-server"})
}

func (h *handler) health(c *gin.Context) {
	b := h.opts.Translator.Backend()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "backend": b.Name(), "model": b.Model()})
}

func (h *handler) backends(c *gin.Context) {
	active := h.opts.Translator.Backend().Name()
	names := backend.Names()
	out := make([]backendInfo, 0, len(names))
	for _, name := range names {
		desc, ok := backend.Lookup(name)
		if !ok {
			continue
		}
		configured := !desc.RequiresCredential
		if desc.RequiresCredential && h.opts.HasCredential != nil {
			configured = h.opts.HasCredential(name)
		}
		out = append(out, backendInfo{
			Name:               desc.Name,
			DefaultModel:       desc.DefaultModel,
			RequiresCredential: desc.RequiresCredential,
			CredentialEnv:      desc.CredentialEnv,
			Configured:         configured,
			Active:             desc.Name == active,
		})
	}
	c.JSON(http.StatusOK, gin.H{"backends": out})
}

func (h *handler) translate(c *gin.Context) {
	var req translateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSONError(c, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		if errors.Is(err, io.EOF) {
			writeJSONError(c, http.StatusBadRequest, EmptyInputMessage)
			return
		}
		writeJSONError(c, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Language) == "" || strings.TrimSpace(req.Text) == "" {
		writeJSONError(c, http.StatusBadRequest, EmptyInputMessage)
		return
	}

	translation, err := h.opts.Translator.Translate(c.Request.Context(), strings.TrimSpace(req.Language), req.Text)
	if err != nil {
		writeClassifiedError(c, err)
		return
	}

	b := h.opts.Translator.Backend()
	c.JSON(http.StatusOK, translateResponse{
		Translation: translation,
		Backend:     b.Name(),
		Model:       b.Model(),
	})
}

// StatusForError maps a pipeline error to an HTTP status.
func StatusForError(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindMissingPlaceholder:
		return http.StatusBadRequest
	case apperr.KindConfiguration:
		return http.StatusServiceUnavailable
	case apperr.KindRateLimit:
		return http.StatusTooManyRequests
	case apperr.KindNetwork:
		return http.StatusGatewayTimeout
	case apperr.KindAuthentication, apperr.KindBackend, apperr.KindEmptyResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeClassifiedError(c *gin.Context, err error) {
	status := StatusForError(err)
	var classified *apperr.Error
	if errors.As(err, &classified) && classified.Kind == apperr.KindRateLimit && classified.RetryAfter > 0 {
		seconds := int(classified.RetryAfter.Round(time.Second) / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error": err.Error(),
		"kind":  apperr.KindOf(err).String(),
		"hint":  apperr.Hint(err),
	})
}

func corsConfig(opts Options) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type"},
		ExposeHeaders: []string{"Content-Length", "Content-Type", "Retry-After"},
		MaxAge:        24 * time.Hour,
	}
	if opts.Open {
		cfg.AllowAllOrigins = true
		return cfg
	}
	host := opts.Host
	cfg.AllowOriginFunc = func(origin string) bool {
		return resolveCORSOrigin(origin, host, false) != ""
	}
	return cfg
}

func limitBody(maxBody int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)
		}
		c.Next()
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

func authorizeRequest(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		fields := strings.Fields(header)
		if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") || fields[1] != token {
			writeJSONError(c, http.StatusUnauthorized, "Invalid or missing Bearer token")
			return
		}
		c.Next()
	}
}

func resolveCORSOrigin(origin, host string, open bool) string {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return ""
	}
	if open {
		return "*"
	}

	switch origin {
	case "http://localhost", "http://127.0.0.1", "http://[::1]":
		return origin
	}

	host = strings.TrimSpace(host)
	if host != "" && host != "0.0.0.0" && host != "::" {
		if origin == "http://"+host {
			return origin
		}
	}
	return ""
}

func writeJSONError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
