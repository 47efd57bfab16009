// Package main provides the scheduled trigger runner binary.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/flowstone-io/flowstone/pkg/cmd"
	"github.com/flowstone-io/flowstone/pkg/log"
	"github.com/flowstone-io/flowstone/pkg/scheduler"
	"github.com/flowstone-io/flowstone/pkg/telemetry"
)

func main() {
	command := &cli.Command{
		Name:                  "flowstone-scheduler",
		Usage:                 "Fire scheduled workflow triggers",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.DurationFlag{
				Name:    "tick-interval",
				Usage:   "How often to poll for due triggers",
				Value:   scheduler.DefaultTickInterval,
				Sources: cli.EnvVars("TICK_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "grace-period",
				Usage:   "How far behind a trigger may be and still fire",
				Value:   scheduler.DefaultGracePeriod,
				Sources: cli.EnvVars("GRACE_PERIOD"),
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Maximum triggers fired per tick",
				Value:   scheduler.DefaultBatchSize,
				Sources: cli.EnvVars("BATCH_SIZE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("scheduler")
			logger.InfoContext(ctx, "Initializing Flowstone Scheduler")

			store := cmd.NewPersistence(ctx, logger, command.String("database-url"))

			defer func() {
				err := store.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			runner := scheduler.NewRunner(store, logger, telemetry.NewMetrics(logger),
				scheduler.WithTickInterval(command.Duration("tick-interval")),
				scheduler.WithGracePeriod(command.Duration("grace-period")),
				scheduler.WithBatchSize(command.Int("batch-size")),
			)

			err := runner.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			return nil
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := command.Run(ctx, os.Args)
	if err != nil {
		panic(err)
	}
}
