package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/opencardata/cardata-bridge/cmd/cardata-bridge/app"
	"github.com/opencardata/cardata-bridge/internal/bridge"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.NewBridgeCommand(ctx).Execute(); err != nil {
		var exit *bridge.ExitError
		if errors.As(err, &exit) {
			os.Exit(exit.Code)
		}
		os.Exit(1)
	}
}
