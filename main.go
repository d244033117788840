package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tphakala/tricam/cmd"
	"github.com/tphakala/tricam/internal/conf"
	"github.com/tphakala/tricam/internal/coordinator"
	"github.com/tphakala/tricam/internal/errors"
	"github.com/tphakala/tricam/internal/logger"
)

// buildDate and version are set at build time with -ldflags
var (
	buildDate string
	version   string
)

// exitCaptureLoss is returned when capture stopped because every camera was lost.
const exitCaptureLoss = 3

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	if version == "" {
		version = "dev"
	}
	if buildDate == "" {
		buildDate = "unknown"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings := &conf.Settings{Version: version, BuildDate: buildDate}
	rootCmd := cmd.RootCommand(settings)

	err := rootCmd.ExecuteContext(ctx)

	errors.FlushTelemetry(2 * time.Second)
	if closeErr := logger.Global().Close(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "failed to close logs: %v\n", closeErr)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if coordinator.IsCaptureLoss(err) {
			return exitCaptureLoss
		}
		return 1
	}
	return 0
}
