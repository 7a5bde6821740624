package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"rewardnet/config"
	"rewardnet/core"
	"rewardnet/core/state"
	"rewardnet/observability"
	"rewardnet/observability/logging"
	"rewardnet/rpc"
	"rewardnet/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("REWARDNET_ENV"))
	logger := logging.Setup("rewardnetd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if env == "" {
		env = cfg.Environment
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	manager := state.NewManager(db)
	processor := core.NewProcessor(manager)
	processor.SetEmitter(observability.NewEventEmitter(logger))

	logger.Info("rewardnet daemon starting",
		slog.String("network", cfg.NetworkName),
		slog.String("environment", env),
		slog.String("dataDir", cfg.DataDir),
	)

	server := rpc.NewServer(processor, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
