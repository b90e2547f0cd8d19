package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/omnia-network/wg-gateway/internal/api"
	"github.com/omnia-network/wg-gateway/internal/config"
	"github.com/omnia-network/wg-gateway/internal/directory"
	"github.com/omnia-network/wg-gateway/internal/dockerexec"
	"go.uber.org/zap"
)

func main() {
	cfg, bootErr := config.Load()
	logger := newLogger(bootErr)
	defer logger.Sync()

	if bootErr != nil {
		logger.Fatal("failed to load configuration", zap.Error(bootErr))
	}

	logger.Info("starting wg-gateway", zap.String("env", cfg.Env))

	cli, err := dockerexec.Connect(cfg.DockerDialTimeout)
	if err != nil {
		logger.Fatal("docker daemon unreachable", zap.Error(err))
	}
	defer cli.Close()

	runner := dockerexec.New(cli, cfg.WireguardContainerName, logger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DockerDialTimeout)
	if err := runner.Ping(ctx); err != nil {
		cancel()
		logger.Fatal("wireguard container unreachable", zap.Error(err))
	}
	cancel()

	dir, err := directory.Load(context.Background(), directory.DefaultPath, runner, logger)
	if err != nil {
		logger.Fatal("failed to load directory", zap.Error(err))
	}
	logger.Info("directory loaded",
		zap.String("interface", dir.VPN().InterfaceName),
		zap.Int("known_peers", len(dir.VPN().Peers)),
	)

	server := api.NewServer(cfg, dir, logger)

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Run(runCtx); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}

	logger.Info("server exited properly")
}

func newLogger(bootErr error) *zap.Logger {
	if os.Getenv("ENV") == "development" || bootErr != nil {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	logger, _ := zap.NewProduction()
	return logger
}
