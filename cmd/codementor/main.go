package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"go.uber.org/zap"

	"codementor/internal/app"
	"codementor/internal/config"
	"codementor/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", os.Getenv("CODEMENTOR_CONFIG_FILE"), "path to a JSON config file")
	flag.Parse()

	// file > env > defaults
	cfg := config.LoadConfigWithPrecedence(*configPath)

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	application, err := app.NewApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create application", zap.Error(err))
		return 1
	}
	if err := application.Start(ctx); err != nil {
		logger.Error("failed to start application", zap.Error(err))
		_ = application.Stop(ctx)
		return 1
	}

	wait := gfshutdown.GracefulShutdown(ctx, cfg.HTTP.ShutdownTimeout, map[string]gfshutdown.Operation{
		"codementor": func(ctx context.Context) error {
			return application.Stop(ctx)
		},
	})

	exitCode := <-wait
	logger.Info("exited", zap.Int("code", exitCode))
	return exitCode
}
