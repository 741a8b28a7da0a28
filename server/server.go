// Package server exposes the assistant over HTTP: an SSE chat endpoint,
// conversation read-back, receipt extraction, health and metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"receiptly/agent"
	"receiptly/config"
	"receiptly/model"
	"receiptly/provider"
	"receiptly/telemetry"
)

// Assistant runs chat turns. *agent.Orchestrator implements it.
type Assistant interface {
	CheckConversation(ctx context.Context, userID, id string) error
	Run(ctx context.Context, turn agent.Turn, em agent.Emitter) (agent.Result, error)
	Provider() model.Provider
}

// Store is the read side used by the history endpoints. *storage.DB implements it.
type Store interface {
	Ping(ctx context.Context) error
	ListConversations(ctx context.Context, userID string, limit int) ([]model.Conversation, error)
	ListMessages(ctx context.Context, userID, conversationID string) ([]model.StoredMessage, error)
}

type Server struct {
	e         *echo.Echo
	cfg       config.ServerConfig
	assistant Assistant
	store     Store
	auth      *Authenticator
	limiter   *userLimiter
	metrics   *telemetry.Metrics
	providers *provider.Registry
	vision    model.Provider
	version   string
}

// pinger is implemented by providers that can check their backend is
// reachable, such as a local Ollama server.
type pinger interface {
	Ping(ctx context.Context) error
}

type Option func(*Server)

// WithMetrics serves m on /metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithProviders reports provider configuration on /healthz.
func WithProviders(r *provider.Registry) Option {
	return func(s *Server) { s.providers = r }
}

// WithVisionProvider routes receipt extraction to p instead of the chat
// provider.
func WithVisionProvider(p model.Provider) Option {
	return func(s *Server) { s.vision = p }
}

func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

func New(cfg config.ServerConfig, auth *Authenticator, assistant Assistant, store Store, opts ...Option) *Server {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = config.DefaultTurnTimeout
	}
	if cfg.MaxAttachments <= 0 {
		cfg.MaxAttachments = config.DefaultMaxAttachments
	}
	if cfg.MaxAttachmentBytes <= 0 {
		cfg.MaxAttachmentBytes = config.DefaultMaxAttachmentBytes
	}

	s := &Server{
		e:         echo.New(),
		cfg:       cfg,
		assistant: assistant,
		store:     store,
		auth:      auth,
		limiter:   newUserLimiter(cfg.RateLimit, cfg.RateBurst),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.e
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				slog.Warn("[Server] request failed", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency, "error", v.Error)
				return nil
			}
			slog.Debug("[Server] request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	if len(s.cfg.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.cfg.AllowedOrigins,
			AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType},
			AllowMethods: []string{http.MethodGet, http.MethodPost},
		}))
	}

	e.GET("/healthz", s.health)
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	bodyLimit := middleware.BodyLimit(fmt.Sprintf("%dK", requestBodyLimit(s.cfg.MaxAttachmentBytes)/1024))
	api := e.Group("/api", s.auth.Middleware())
	api.POST("/chat", s.chat, s.limiter.middleware(), bodyLimit)
	api.GET("/conversations", s.listConversations)
	api.GET("/conversations/:id/messages", s.listMessages)
	api.POST("/receipts/extract", s.extractReceipt, s.limiter.middleware(), bodyLimit)
}

// requestBodyLimit allows the base64 form of maxAttachmentBytes plus room
// for the JSON envelope.
func requestBodyLimit(maxAttachmentBytes int64) int64 {
	return maxAttachmentBytes*4/3 + 1<<20
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.e.ServeHTTP(w, r)
}

// Start listens on the configured address until Shutdown. It returns
// http.ErrServerClosed after a clean shutdown.
func (s *Server) Start() error {
	slog.Info("[Server] listening", "addr", s.cfg.Addr)
	return s.e.Start(s.cfg.Addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

type healthResponse struct {
	Status            string          `json:"status"`
	Version           string          `json:"version,omitempty"`
	Provider          string          `json:"provider"`
	ProviderReachable *bool           `json:"provider_reachable,omitempty"`
	Providers         map[string]bool `json:"providers,omitempty"`
}

func (s *Server) health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Version: s.version, Provider: s.assistant.Provider().Name()}
	if s.providers != nil {
		resp.Providers = s.providers.Status()
	}
	if err := s.store.Ping(ctx); err != nil {
		slog.Error("[Server] database ping failed", "error", err)
		resp.Status = "unavailable"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	// A provider outage degrades chat but the service itself is up.
	if p, ok := s.assistant.Provider().(pinger); ok {
		reachable := p.Ping(ctx) == nil
		resp.ProviderReachable = &reachable
		if !reachable {
			slog.Warn("[Server] provider is unreachable", "provider", resp.Provider)
			resp.Status = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) visionProvider() model.Provider {
	if s.vision != nil {
		return s.vision
	}
	return s.assistant.Provider()
}
