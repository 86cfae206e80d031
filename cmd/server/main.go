package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"

	"keyward/internal/api"
	"keyward/internal/config"
	"keyward/internal/logging"
	"keyward/internal/store"
	"keyward/internal/version"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.LoadFromPath(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	_, logCloser := logging.Setup(cfg.Logging, os.Stdout)
	defer logCloser.Close()

	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()
	stores, err := store.Open(ctx, cfg.DatabaseURL, cfg.MigrationsPath)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	server := api.NewServer(cfg, stores.Keys, stores.Logs)

	slog.Info("Keyward license server ("+version.Version+") listening", "port", cfg.Port, "storage", stores.Driver)
	if err := server.Router.Run(":" + cfg.Port); err != nil {
		slog.Error("Failed to run server", "error", err)
		os.Exit(1)
	}
}
