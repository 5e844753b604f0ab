package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/wudi/petshop/internal/config"
	"github.com/wudi/petshop/internal/logging"
	"github.com/wudi/petshop/internal/server"
	"go.uber.org/zap"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/petshop.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("petshop %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	logger, err := logging.NewWithOptions(logging.Options{
		Level: cfg.Logging.Level,
		File:  cfg.Logging.File,
		Rotation: logging.Rotation{
			MaxSize:    cfg.Logging.Rotation.MaxSize,
			MaxBackups: cfg.Logging.Rotation.MaxBackups,
			MaxAge:     cfg.Logging.Rotation.MaxAge,
			Compress:   cfg.Logging.Rotation.Compress,
			LocalTime:  cfg.Logging.Rotation.LocalTime,
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logging.Info("Starting petshop",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.Bool("csrf", cfg.CSRF.Enabled),
		zap.Bool("postgres", cfg.Postgres.DSN != ""),
	)

	srv, err := server.NewServer(context.Background(), cfg, *configPath)
	if err != nil {
		logging.Error("Failed to create server", zap.Error(err))
		os.Exit(1)
	}

	if err := srv.Run(); err != nil {
		logging.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
}
