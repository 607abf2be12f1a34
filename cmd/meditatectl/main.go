package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mindfulchat/meditation-gateway/internal/cli"
	"github.com/mindfulchat/meditation-gateway/internal/config"
	"github.com/mindfulchat/meditation-gateway/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	observability.InitLogger(config.GetEnv("LOG_LEVEL", "warn"), true)

	deps := &cli.Dependencies{
		LoadConfig: config.Load,
		Logger:     observability.GetLogger(),
	}
	return cli.NewRootCmd(deps).ExecuteContext(ctx)
}
