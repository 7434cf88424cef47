// Package main runs the Novu workers consuming the workflow, standard and
// execution log queues.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/novu-co/novu-sub003/pkg/cmd"
	"github.com/novu-co/novu-sub003/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

	command := &cli.Command{
		Name:                  "novu-worker",
		Usage:                 "Process workflow and step jobs",
		EnableShellCompletion: true,
		Flags: append(cmd.Flags(),
			&cli.StringFlag{
				Name:    "worker-id",
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.IntFlag{
				Name:    "port",
				Usage:   "Port of the health and metrics server",
				Value:   9091,
				Sources: cli.EnvVars("PORT"),
			},
		),
		Action: run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()[:8]
	}

	logger := log.WithModule("novu-worker").With("worker_id", workerID)
	logger.InfoContext(ctx, "Initializing Novu worker")

	runtime, err := cmd.NewRuntime(ctx, cmd.OptionsFromCommand("novu-worker", command), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := runtime.Close(closeCtx)
		if err != nil {
			logger.ErrorContext(closeCtx, "Failed to close resources", "error", err)
		}
	}()

	err = runtime.Queue.StartDelayed(ctx)
	if err != nil {
		return fmt.Errorf("failed to start delayed queue: %w", err)
	}

	app := newStatusApp(runtime)

	go func() {
		err := app.Listen(fmt.Sprintf(":%d", command.Int("port")))
		if err != nil {
			logger.ErrorContext(ctx, "Status server stopped", "error", err)
		}
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = app.ShutdownWithContext(shutdownCtx)
	}()

	manager := runtime.Workers(workerID, cmd.NewProviderRegistry(logger))

	err = manager.Start(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("worker stopped: %w", err)
	}

	logger.InfoContext(ctx, "Novu worker stopped")

	return nil
}
