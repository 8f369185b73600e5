package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"wagercore/config"
	"wagercore/core"
	"wagercore/observability/logging"
	"wagercore/rpc"
	"wagercore/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("WAGERCORE_ENV"))
	logger := logging.Setup("wagercored", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Configuration loaded",
		slog.String("rpcAddress", cfg.RPCAddress),
		slog.String("dataDir", cfg.DataDir),
		slog.String("backendApiKey", cfg.BackendAPIKey),
		logging.MaskField("backendApiSecret", cfg.BackendAPISecret),
	)

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		logger.Error("Failed to open state database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	node := core.NewNode(db, logger)

	var auth *rpc.Authenticator
	if secrets := cfg.BackendSecrets(); len(secrets) > 0 {
		auth = rpc.NewAuthenticator(secrets, nil)
	} else {
		logger.Warn("No backend credentials configured; mutating RPC methods will be rejected")
	}

	server := rpc.NewServer(node, auth)
	logger.Info("Starting JSON-RPC server", slog.String("address", cfg.RPCAddress))
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server terminated", slog.Any("error", err))
		os.Exit(1)
	}
}
