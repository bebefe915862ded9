package main

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	causewayslack "github.com/causeway-ai/causeway/internal/chatops/slack"
	"github.com/causeway-ai/causeway/internal/config"
	"github.com/causeway-ai/causeway/internal/guard"
	"github.com/causeway-ai/causeway/internal/llm"
	"github.com/causeway-ai/causeway/internal/providers"
	"github.com/causeway-ai/causeway/internal/quota"
	"github.com/causeway-ai/causeway/internal/secrets"
	"github.com/causeway-ai/causeway/internal/server"
	"github.com/causeway-ai/causeway/internal/store/postgres"
	redisstore "github.com/causeway-ai/causeway/internal/store/redis"
	"github.com/causeway-ai/causeway/internal/tools"
	"github.com/causeway-ai/causeway/internal/worker"
)

const jobQueueName = "rca-jobs"

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	// Initialize structured logging from environment.
	logLevel := os.Getenv("CAUSEWAY_LOG_LEVEL")
	level, parseErr := zerolog.ParseLevel(logLevel)
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logFormat := os.Getenv("CAUSEWAY_LOG_FORMAT")
	if logFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	ctx := context.Background()

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if cfg.Database.MaxConns < 0 || cfg.Database.MaxConns > math.MaxInt32 {
		return fmt.Errorf("database max_conns %d out of int32 range", cfg.Database.MaxConns)
	}

	// Connect to PostgreSQL.
	store, err := postgres.New(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns)) //nolint:gosec // bounds checked above
	if err != nil {
		return err
	}
	defer store.Close()

	// Connect to Redis (event bus, job queue, heartbeats).
	redisClient, err := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer func() { _ = redisClient.Close() }()

	queue := redisstore.NewQueue(redisClient, jobQueueName)

	// Credential vault.
	vaultKey, err := cfg.Vault.KeyBytes()
	if err != nil {
		return err
	}
	vault, err := secrets.NewVault(vaultKey)
	if err != nil {
		return err
	}

	// Provider registry and tool builder.
	registry := providers.NewRegistry(store.Integrations(), vault, &http.Client{Timeout: 15 * time.Second})
	toolBuilder := tools.NewBuilder(registry, cfg.Worker.ToolTimeout)

	// LLM gateway, prompt guard, quota gate.
	gateway := llm.NewGateway(store.LLMConfigs(), vault, cfg.LLM)
	guardHandle := gateway.GuardHandle()
	promptGuard := guard.New(guardHandle.Model, guardHandle.ModelName, store.SecurityEvents(), cfg.Guard.FailClosed, cfg.Guard.Timeout)
	quotaGate := quota.NewGate(store.Quotas(), quota.StaticPlanSource{DailyRCALimit: cfg.Quota.DailyRCALimit}, queue, cfg.Quota.MaxQueueDepth)

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runWorkers := cfg.Mode == "worker" || cfg.Mode == "all"
	runAPI := cfg.Mode == "api" || cfg.Mode == "all"

	workersDone := make(chan struct{})
	if runWorkers {
		pool := worker.New(store.Jobs(), store.Turns(), queue, redisClient, redisClient, gateway, toolBuilder, cfg.Worker)
		reconciler := worker.NewReconciler(store.Jobs(), queue, cfg.Worker.ReconcileEvery, cfg.Worker.MaxTurnDuration)

		go reconciler.Run(ctx)
		go func() {
			pool.Run(ctx)
			close(workersDone)
		}()

		// Invalidate cached provider credentials on integration updates.
		go watchIntegrationUpdates(ctx, redisClient, registry)
	} else {
		close(workersDone)
	}

	var srv *server.Server
	if runAPI {
		srv = server.New(ctx, cfg, server.Deps{
			Store:          store,
			Redis:          redisClient,
			Queue:          queue,
			Guard:          promptGuard,
			Quota:          quotaGate,
			SlackWorkspace: slackResolver(cfg),
		})

		go func() {
			if startErr := srv.Start(ctx); startErr != nil {
				log.Error().Err(startErr).Msg("server error")
			}
		}()
	}

	// Block until shutdown signal.
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if srv != nil {
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			return shutdownErr
		}
	}

	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("workers did not drain before shutdown deadline")
	}

	log.Info().Msg("stopped")
	return nil
}

// slackResolver binds the Slack surface to the configured workspace, when
// one is set.
func slackResolver(cfg *config.Config) causewayslack.WorkspaceResolver {
	if cfg.Slack.WorkspaceID == "" {
		return nil
	}
	id, err := uuid.Parse(cfg.Slack.WorkspaceID)
	if err != nil {
		log.Warn().Str("value", cfg.Slack.WorkspaceID).Msg("invalid CAUSEWAY_SLACK_WORKSPACE_ID, slack surface disabled")
		return nil
	}
	return causewayslack.StaticWorkspaceResolver{WorkspaceID: id}
}

// watchIntegrationUpdates drops cached provider credentials when an
// integration changes. The update publisher is the external integration
// CRUD service; the payload is the workspace id.
func watchIntegrationUpdates(ctx context.Context, redisClient *redisstore.Client, registry *providers.Registry) {
	frames, cleanup, err := redisClient.Subscribe(ctx, "integrations:updated")
	if err != nil {
		log.Warn().Err(err).Msg("integration update subscription failed, relying on cache TTL")
		return
	}
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-frames:
			if !ok {
				return
			}
			workspaceID, parseErr := uuid.Parse(string(payload))
			if parseErr != nil {
				continue
			}
			registry.Invalidate(workspaceID)
		}
	}
}
