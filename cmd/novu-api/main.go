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

const (
	defaultPort     = 3000
	shutdownTimeout = 10 * time.Second
)

func main() {
	_ = godotenv.Load()

	command := &cli.Command{
		Name:                  "novu-api",
		Usage:                 "Accept trigger events and manage workflows",
		EnableShellCompletion: true,
		Flags: append(cmd.Flags(),
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.BoolFlag{
				Name:    "embedded-worker",
				Usage:   "Run the workers in this process, required with the memory queue",
				Sources: cli.EnvVars("EMBEDDED_WORKER"),
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

	logger := log.WithModule("novu-api")
	logger.InfoContext(ctx, "Initializing Novu API")

	runtime, err := cmd.NewRuntime(ctx, cmd.OptionsFromCommand("novu-api", command), logger)
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

	if command.Bool("embedded-worker") {
		err = runtime.Queue.StartDelayed(ctx)
		if err != nil {
			return fmt.Errorf("failed to start delayed queue: %w", err)
		}

		workers := runtime.Workers("api-"+uuid.NewString()[:8], cmd.NewProviderRegistry(logger))

		go func() {
			err := workers.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Embedded worker stopped", "error", err)
				stop()
			}
		}()
	}

	api := NewAPI(logger, runtime)
	app := api.App()

	errs := make(chan error, 1)

	go func() {
		errs <- api.Start(app, command.Int("port"))
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	logger.InfoContext(ctx, "Shutting down Novu API")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return app.ShutdownWithContext(shutdownCtx)
}
