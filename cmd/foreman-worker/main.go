// Command foreman-worker consumes task-run jobs from NATS and executes the
// orchestration graph for each one. Run alongside a foreman server started
// with USE_QUEUE=true; both must point at the same (shared) storage backend.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	foreman "github.com/mkarlsen/foreman"
	"github.com/mkarlsen/foreman/internal/config"
	"github.com/mkarlsen/foreman/internal/queue"
	"github.com/mkarlsen/foreman/provider/resolve"
	"github.com/mkarlsen/foreman/store/memory"
	"github.com/mkarlsen/foreman/store/postgres"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load(os.Getenv("FOREMAN_CONFIG"))

	logger := slog.New(foreman.NewKeyScrubHandler(
		slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	// A queue worker only makes sense against shared storage. Memory mode is
	// allowed for smoke testing but every worker sees its own world.
	var repo foreman.Repository
	switch cfg.Storage.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		pg := postgres.New(pool)
		if err := pg.Init(ctx); err != nil {
			return err
		}
		repo = pg
	default:
		logger.Warn("memory storage in queue mode: task state is not shared with the server")
		repo = memory.New()
	}

	settings := foreman.Settings{
		DefaultProvider:       cfg.LLM.Provider,
		DefaultModel:          cfg.LLM.Model,
		MaxRevisions:          cfg.Engine.MaxRevisions,
		GraphTimeout:          time.Duration(cfg.Engine.GraphTimeoutSeconds) * time.Second,
		RateLimitRPM:          cfg.Engine.RateLimitRPM,
		MaxTaskDepth:          cfg.Lineage.MaxTaskDepth,
		MaxChildTasksPerTask:  cfg.Lineage.MaxChildTasksPerTask,
		MaxTotalAutoTasks:     cfg.Lineage.MaxTotalAutoTasks,
		AllowAutoTaskCreation: cfg.Lineage.AllowAutoTaskCreation,
	}

	factory := resolve.Factory(resolve.WithOllamaBaseURL(cfg.LLM.OllamaBaseURL))
	engine := foreman.New(settings, foreman.Deps{Repo: repo, Factory: factory},
		foreman.WithLogger(logger),
		foreman.WithServerKeys(foreman.RequestKeys{
			OpenAI:    cfg.LLM.OpenAIKey,
			Anthropic: cfg.LLM.AnthropicKey,
			Google:    cfg.LLM.GoogleKey,
		}),
	)
	engine.Start(ctx)

	nc, err := nats.Connect(cfg.Queue.NATSURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return err
	}
	defer nc.Close()

	consumer := queue.NewConsumer(nc, engine.RunTask, logger)
	if err := consumer.Start(ctx); err != nil {
		return err
	}
	logger.Info("worker consuming", "nats_url", cfg.Queue.NATSURL, "subject", queue.Subject)

	<-ctx.Done()

	logger.Info("shutting down")
	_ = consumer.Stop()
	shCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return engine.Shutdown(shCtx)
}
