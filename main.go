package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/loomchat/loomchat/pkg/auth"
	"github.com/loomchat/loomchat/pkg/config"
	"github.com/loomchat/loomchat/pkg/db"
	"github.com/loomchat/loomchat/pkg/mcp"
	"github.com/loomchat/loomchat/pkg/registry"
	"github.com/loomchat/loomchat/pkg/service"
)

func main() {
	// Provider keys may live in a local .env during development.
	_ = godotenv.Load()

	logLevel := slog.LevelInfo
	if os.Getenv("LOOMCHAT_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if _, err := config.EnsureDefaultConfig(); err != nil {
		logger.Warn("could not write default config", "error", err)
	}
	cfg, configFile, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Info("config loaded", "file", configFile)

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		logger.Error("failed to resolve database path", "error", err)
		os.Exit(1)
	}
	// Open runs migrations itself.
	gdb, err := db.Open(dbPath)
	if err != nil {
		logger.Error("failed to open database", "path", dbPath, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	modelRegistry := registry.New(cfg, logger)
	gateway := mcp.NewGateway(cfg.MCP, logger)
	gateway.Start(ctx)
	defer gateway.Close()

	sessions := auth.NewSessions(cfg.Auth.Secret, logger)
	users := service.NewUserService(gdb, logger)
	titles := service.NewTitleService(gdb, cfg, modelRegistry, logger)
	chat := service.NewChatService(gdb, cfg, modelRegistry, gateway, titles, logger)
	projects := service.NewProjectService(gdb, logger)

	server := NewServer(cfg, Deps{
		Sessions: sessions,
		Users:    users,
		Chat:     chat,
		Projects: projects,
		Registry: modelRegistry,
		Gateway:  gateway,
	}, logger)

	if err := server.Start(ctx); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
