package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/adaptd/internal/adaptation"
	"github.com/fyrsmithlabs/adaptd/internal/auth"
	"github.com/fyrsmithlabs/adaptd/internal/config"
	"github.com/fyrsmithlabs/adaptd/internal/experiment"
	adapthttp "github.com/fyrsmithlabs/adaptd/internal/http"
	"github.com/fyrsmithlabs/adaptd/internal/logging"
	"github.com/fyrsmithlabs/adaptd/internal/mcp"
	"github.com/fyrsmithlabs/adaptd/internal/memory"
	"github.com/fyrsmithlabs/adaptd/internal/orchestrator"
	"github.com/fyrsmithlabs/adaptd/internal/pipeline"
	"github.com/fyrsmithlabs/adaptd/internal/storage"
	"github.com/fyrsmithlabs/adaptd/internal/telemetry"
	"github.com/fyrsmithlabs/adaptd/internal/tracking"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the adaptd daemon (MCP on stdio, HTTP sidecar)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx)
	},
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "starting adaptd",
		zap.String("version", version),
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Bool("telemetry_enabled", cfg.Telemetry.Enabled))

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn(ctx, "telemetry shutdown", zap.Error(err))
		}
	}()

	dbPath := cfg.Store.Path
	if dbPath == "" {
		dbPath, err = storage.DefaultPath()
		if err != nil {
			return fmt.Errorf("resolve database path: %w", err)
		}
	}
	db, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	store, err := memory.NewStore(db, logger)
	if err != nil {
		return fmt.Errorf("initialize memory store: %w", err)
	}
	defer store.FlushAccessUpdates()

	recorder, err := experiment.NewRecorder(db, logger)
	if err != nil {
		return fmt.Errorf("initialize experiment recorder: %w", err)
	}

	tracker, err := tracking.NewTracker(db, logger)
	if err != nil {
		return fmt.Errorf("initialize tracker: %w", err)
	}

	registry, err := pipeline.NewRegistry(cfg.Pipelines)
	if err != nil {
		return fmt.Errorf("initialize pipeline registry: %w", err)
	}

	provider, err := adaptation.NewStaticProvider(cfg.Templates)
	if err != nil {
		return fmt.Errorf("initialize template provider: %w", err)
	}
	engine := adaptation.NewEngine(logger)

	orch, err := orchestrator.New(cfg.Orchestration, registry, provider, logger)
	if err != nil {
		return fmt.Errorf("initialize orchestrator: %w", err)
	}

	memStage, err := orchestrator.NewMemoryStage(store, cfg.Retrieval.Limit)
	if err != nil {
		return err
	}
	expStage, err := orchestrator.NewExperimentStage(recorder, cfg.Experiment.ID)
	if err != nil {
		return err
	}
	adaptStage, err := orchestrator.NewAdaptationStage(provider, engine)
	if err != nil {
		return err
	}
	for _, h := range []orchestrator.Handler{memStage, expStage, adaptStage} {
		if err := orch.RegisterHandler(h); err != nil {
			return fmt.Errorf("register stage handler: %w", err)
		}
	}

	authenticator, err := auth.NewAPIKeyAuthenticator(cfg.Auth.APIKeys)
	if err != nil {
		return fmt.Errorf("initialize authenticator: %w", err)
	}

	mcpServer, err := mcp.NewServer(&mcp.Config{
		Name:    "adaptd",
		Version: version,
		Logger:  logger,
	}, orch, store, tracker, registry, authenticator)
	if err != nil {
		return fmt.Errorf("initialize MCP server: %w", err)
	}

	httpServer, err := adapthttp.NewServer(registry, logger, &adapthttp.Config{
		Host: "localhost",
		Port: cfg.Server.HTTPPort,
	})
	if err != nil {
		return fmt.Errorf("initialize HTTP server: %w", err)
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- httpServer.Start()
	}()

	// MCP on stdio is the primary transport; it blocks until the context
	// is canceled or the client disconnects.
	runErr := mcpServer.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "http shutdown", zap.Error(err))
	}

	select {
	case err := <-httpErr:
		if err != nil {
			logger.Warn(ctx, "http server exited", zap.Error(err))
		}
	default:
	}

	logger.Info(ctx, "adaptd shutdown complete")
	if runErr != nil && ctx.Err() == nil {
		return runErr
	}
	return nil
}
