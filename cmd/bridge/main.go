package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ninjacat-ai/mcp-bridge/internal/api"
	"github.com/ninjacat-ai/mcp-bridge/internal/auth"
	"github.com/ninjacat-ai/mcp-bridge/internal/config"
	"github.com/ninjacat-ai/mcp-bridge/internal/memory"
	"github.com/ninjacat-ai/mcp-bridge/internal/rpc"
	"github.com/ninjacat-ai/mcp-bridge/internal/store"
	"github.com/ninjacat-ai/mcp-bridge/internal/tools"
	"github.com/ninjacat-ai/mcp-bridge/internal/transport/stdio"
	"github.com/ninjacat-ai/mcp-bridge/internal/transport/ws"
	"github.com/ninjacat-ai/mcp-bridge/internal/webhook"
)

func main() {
	stdioMode := flag.Bool("stdio", false, "serve MCP over stdin/stdout instead of HTTP")
	envFile := flag.String("env-file", "", "optional .env file to load before reading the environment")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
			os.Exit(1)
		}
	} else {
		// Best effort: a missing .env is not an error.
		_ = godotenv.Load()
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(*stdioMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger, *stdioMode); err != nil {
		logger.Fatal("bridge exited", zap.Error(err))
	}
}

// newLogger builds the process logger. In stdio mode stdout carries the
// JSON-RPC stream, so log output must go to stderr only.
func newLogger(stdioMode bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if stdioMode {
		zcfg.OutputPaths = []string{"stderr"}
		zcfg.ErrorOutputPaths = []string{"stderr"}
	}
	return zcfg.Build()
}

func run(cfg *config.Config, logger *zap.Logger, stdioMode bool) error {
	db, err := store.NewSQLiteStore(cfg.ConversationDBPath, cfg.ConversationHistoryLimit)
	if err != nil {
		return fmt.Errorf("open transcript store: %w", err)
	}
	defer db.Close()

	if cfg.AIWebhookURL == "" {
		logger.Warn("AI_WEBHOOK_URL is not set; start_ai_message will fail until it is configured")
	}

	dispatcher := webhook.NewDispatcher(cfg, logger)
	svc := memory.NewService(db, dispatcher, logger)

	registry := tools.NewRegistry()
	tools.NewBridge(svc, dispatcher, cfg, logger).RegisterAll(registry)

	engine := rpc.NewEngine(registry, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.SweepEnabled() {
		sweeper := store.NewSweeper(db, cfg.Retention(), cfg.SweepInterval, logger)
		go sweeper.Run(ctx)
	}

	if stdioMode {
		logger.Info("serving MCP over stdio")
		return stdio.New(engine, os.Stdin, os.Stdout, logger).Run(ctx)
	}

	guard := auth.NewGuard(cfg.AuthEnabled, cfg.AuthToken, cfg.AuthRouteTokens, []string{"/healthz"})
	wsrv := ws.NewServer(engine, guard, logger)
	server := api.NewHandler(engine, svc, dispatcher, guard, wsrv, cfg, logger).NewServer()

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		logger.Info("http server listening", zap.String("addr", addr))
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}
	return nil
}
