package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	slacklib "github.com/slack-go/slack"

	v1 "github.com/causeway-ai/causeway/internal/api/v1"
	causewayslack "github.com/causeway-ai/causeway/internal/chatops/slack"
	"github.com/causeway-ai/causeway/internal/config"
	"github.com/causeway-ai/causeway/internal/server/middleware"
	"github.com/causeway-ai/causeway/internal/store/postgres"
	redisstore "github.com/causeway-ai/causeway/internal/store/redis"
	"github.com/causeway-ai/causeway/internal/stream"
)

// Server is the HTTP server that wires all application routes and middleware.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	cfg        *config.Config
}

// Deps collects everything the route tree needs.
type Deps struct {
	Store *postgres.Store
	Redis *redisstore.Client
	Queue *redisstore.Queue
	Guard v1.PromptGuard
	Quota v1.QuotaGate
	// SlackWorkspace, when set, binds the Slack surface to one workspace
	// (self-hosted single-tenant installs).
	SlackWorkspace causewayslack.WorkspaceResolver
}

// New creates a Server with all routes wired.
func New(ctx context.Context, cfg *config.Config, deps Deps) *Server {
	router := chi.NewRouter()

	// Global middleware stack.
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Logger)
	router.Use(chimw.Recoverer)
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Workspace-ID", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	s := &Server{
		router: router,
		cfg:    cfg,
		httpServer: &http.Server{
			Addr:        cfg.Server.Addr,
			Handler:     router,
			ReadTimeout: cfg.Server.ReadTimeout,
			// WriteTimeout stays at the configured value; zero keeps the
			// stream endpoint open for the lifetime of a turn.
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	chatDeps := v1.ChatDeps{
		Store: deps.Store,
		Guard: deps.Guard,
		Quota: deps.Quota,
		Queue: deps.Queue,
	}

	// Authenticated API routes under /api/v1.
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT.Secret))
		r.Use(middleware.RequireWorkspace())
		r.Use(middleware.RateLimit(ctx, 100, 200))

		apiConfig := huma.DefaultConfig("Causeway API", "1.0.0")
		apiConfig.Servers = []*huma.Server{
			{URL: "/api/v1"},
		}
		api := humachi.New(r, apiConfig)
		registerAPIRoutes(api, deps.Store, deps.Redis, chatDeps)
	})

	// WebSocket stream routes.
	router.Route("/ws", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT.Secret))
		r.Use(middleware.RequireWorkspace())
		registerWSRoutes(r, stream.NewHub(deps.Store.Turns(), deps.Redis))
	})

	// Slack webhook routes: real handler if configured, 501 placeholder otherwise.
	router.Route("/slack", func(r chi.Router) {
		slackHandler := buildSlackHandler(cfg, chatDeps, deps)
		if slackHandler != nil {
			r.Post("/events", slackHandler.HandleEvents)
		} else {
			r.Post("/events", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotImplemented)
			})
		}
	})

	// Operational health (unauthenticated).
	router.Get("/healthz", v1.HealthHandler(deps.Store, deps.Redis, deps.Redis))

	return s
}

// buildSlackHandler creates the Slack surface when it is configured.
// Returns nil if the signing secret is not set.
func buildSlackHandler(cfg *config.Config, chatDeps v1.ChatDeps, deps Deps) *causewayslack.Handler {
	if cfg.Slack.SigningSecret == "" || deps.SlackWorkspace == nil {
		return nil
	}

	messenger := causewayslack.NewMessenger(slacklib.New(cfg.Slack.BotToken))
	return causewayslack.NewHandler(cfg.Slack.SigningSecret, chatDeps, messenger, deps.SlackWorkspace, deps.Redis)
}

// Start runs the HTTP server until it fails or is shut down.
func (s *Server) Start(_ context.Context) error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Start: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
