package main

import (
	"log/slog"
	"os"

	"github.com/emberfed/emberauth/internal/config"
	"github.com/emberfed/emberauth/internal/server"
)

func main() {
	envConfig := config.LoadEnv()

	cfg, err := config.Load(envConfig.ConfigPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Environment loaded", "environment", envConfig.Environment.String())

	if err := server.Start(cfg); err != nil {
		slog.Error("Server exited", "error", err)
		os.Exit(1)
	}
}
