// Command foreman runs the orchestration server: HTTP/WS API, the task graph
// engine, and (optionally) a NATS publisher that ships runs to external
// workers.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	foreman "github.com/mkarlsen/foreman"
	"github.com/mkarlsen/foreman/internal/api"
	"github.com/mkarlsen/foreman/internal/config"
	"github.com/mkarlsen/foreman/internal/queue"
	memsqlite "github.com/mkarlsen/foreman/memory/sqlite"
	"github.com/mkarlsen/foreman/observer"
	"github.com/mkarlsen/foreman/provider/resolve"
	"github.com/mkarlsen/foreman/store/memory"
	"github.com/mkarlsen/foreman/store/postgres"
	"github.com/mkarlsen/foreman/store/sqlite"
	codetool "github.com/mkarlsen/foreman/tools/code"
	memorytool "github.com/mkarlsen/foreman/tools/memory"
	notestool "github.com/mkarlsen/foreman/tools/notes"
	taskstool "github.com/mkarlsen/foreman/tools/tasks"
	webtool "github.com/mkarlsen/foreman/tools/web"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load(os.Getenv("FOREMAN_CONFIG"))

	// Credentials pass through request handling in the clear; the scrub
	// handler is the backstop against them reaching log output.
	logger := slog.New(foreman.NewKeyScrubHandler(
		slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	// Storage backend
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
		logger.Info("storage backend ready", "backend", "postgres")
	default:
		repo = memory.New()
		logger.Info("storage backend ready", "backend", "memory")
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
		BroadcastErrorDelay:   time.Duration(cfg.Broadcast.ErrorDelay) * time.Second,
		MaxBroadcastErrors:    cfg.Broadcast.MaxErrorCount,
	}
	serverKeys := foreman.RequestKeys{
		OpenAI:    cfg.LLM.OpenAIKey,
		Anthropic: cfg.LLM.AnthropicKey,
		Google:    cfg.LLM.GoogleKey,
	}

	opts := []foreman.Option{
		foreman.WithLogger(logger),
		foreman.WithServerKeys(serverKeys),
	}

	// Observability
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx)
		if err != nil {
			return err
		}
		defer func() {
			shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = shutdown(shCtx)
		}()
		opts = append(opts, foreman.WithTracer(observer.NewTracer()))
	}

	// Durable checkpoints. A broken checkpoint store degrades to the
	// in-process gate: approvals still work, they just don't survive restarts.
	approvals := foreman.ApprovalController(foreman.NewGateController(0))
	if cfg.Storage.CheckpointPath != "" {
		cpStore, err := sqlite.Open(cfg.Storage.CheckpointPath)
		if err != nil {
			logger.Error("checkpoint store unavailable, approvals will not survive restarts",
				"path", cfg.Storage.CheckpointPath, "error", err)
		} else {
			defer cpStore.Close()
			approvals = foreman.NewDurableController(cpStore)
		}
	}
	opts = append(opts, foreman.WithApprovals(approvals))

	// Agent tools
	tools := foreman.NewToolRegistry()
	var sandboxTool *codetool.Tool
	if cfg.Tools.Enabled {
		sandboxTool = codetool.New(cfg.Tools.WorkspaceDir, codetool.Sandbox{
			Mode:    codetool.SandboxMode(cfg.Tools.SandboxMode),
			Image:   cfg.Tools.SandboxImage,
			Network: cfg.Tools.SandboxNetwork,
			Timeout: time.Duration(cfg.Tools.SandboxTimeout) * time.Second,
		})

		var memStore foreman.MemoryStore
		if cfg.Storage.MemoryDBPath != "" {
			ms, err := memsqlite.Open(cfg.Storage.MemoryDBPath)
			if err != nil {
				return err
			}
			defer ms.Close()
			memStore = ms
		}

		register := func(t foreman.Tool) {
			if inst != nil {
				t = observer.WrapTool(t, inst)
			}
			tools.Add(t)
		}
		register(sandboxTool)
		register(webtool.New())
		register(memorytool.New(memStore))
		register(notestool.New(cfg.Tools.WorkspaceDir))
		opts = append(opts, foreman.WithTools(tools))
	}

	factory := resolve.Factory(resolve.WithOllamaBaseURL(cfg.LLM.OllamaBaseURL))
	if inst != nil {
		inner := factory
		factory = func(provider, model string, keys foreman.RequestKeys) (foreman.Provider, error) {
			p, err := inner(provider, model, keys)
			if err != nil {
				return nil, err
			}
			return observer.WrapProvider(p, model, inst), nil
		}
	}

	engine := foreman.New(settings, foreman.Deps{Repo: repo, Factory: factory}, opts...)

	// The create_task tool needs the live task service, so it registers after
	// engine assembly.
	if cfg.Tools.Enabled {
		tools.Add(taskstool.New(engine.Tasks(), func() foreman.RequestKeys { return serverKeys }))
	}

	// Queue mode: publish runs to NATS instead of running in-process.
	if cfg.Queue.Enabled {
		nc, err := nats.Connect(cfg.Queue.NATSURL)
		if err != nil {
			return err
		}
		defer nc.Close()
		engine.SetScheduler(queue.NewScheduler(nc, logger))
		logger.Info("queue mode enabled", "nats_url", cfg.Queue.NATSURL)
	}

	engine.Start(ctx)

	server := api.New(engine,
		api.WithSandbox(sandboxTool),
		api.WithHeartbeat(time.Duration(cfg.HTTP.HeartbeatInterval)*time.Second),
		api.WithLogger(logger),
	)
	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := engine.Shutdown(shCtx); err != nil {
		logger.Warn("engine shutdown", "error", err)
	}
	return nil
}
