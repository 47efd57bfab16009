// Package main provides the execution worker binary.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/flowstone-io/flowstone/pkg/breaker"
	"github.com/flowstone-io/flowstone/pkg/cmd"
	"github.com/flowstone-io/flowstone/pkg/log"
	"github.com/flowstone-io/flowstone/pkg/queue"
	"github.com/flowstone-io/flowstone/pkg/telemetry"
	"github.com/flowstone-io/flowstone/pkg/worker"
)

func main() {
	command := &cli.Command{
		Name:                  "flowstone-worker",
		Usage:                 "Claim and execute queued workflow runs",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the manual trigger queue (disabled when empty)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often to poll the execution queue when idle",
				Value:   worker.DefaultPollInterval,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "claim-batch",
				Usage:   "Maximum executions claimed per poll",
				Value:   worker.DefaultClaimBatch,
				Sources: cli.EnvVars("CLAIM_BATCH"),
			},
			&cli.IntFlag{
				Name:    "max-loops",
				Usage:   "Loop-back budget per execution",
				Value:   breaker.DefaultMaxLoops,
				Sources: cli.EnvVars("MAX_LOOPS"),
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

			logger := log.WithModule("worker")
			logger.InfoContext(ctx, "Initializing Flowstone Worker")

			store := cmd.NewPersistence(ctx, logger, command.String("database-url"))

			defer func() {
				err := store.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			metrics := telemetry.NewMetrics(logger)

			if redisURL := command.String("redis-url"); redisURL != "" {
				source, err := queue.NewSource(ctx, redisURL, store, logger, metrics)
				if err != nil {
					return err
				}

				source.Start(ctx)

				defer func() {
					err := source.Stop()
					if err != nil {
						logger.ErrorContext(ctx, "Failed to stop manual trigger source", "error", err)
					}
				}()
			}

			workerOpts := []worker.Option{
				worker.WithPollInterval(command.Duration("poll-interval")),
				worker.WithClaimBatch(command.Int("claim-batch")),
				worker.WithMaxLoops(command.Int("max-loops")),
			}

			if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
				tracer, err := telemetry.NewTracer(ctx, "flowstone-worker")
				if err != nil {
					logger.WarnContext(ctx, "Failed to initialize tracer", "error", err)
				} else {
					workerOpts = append(workerOpts, worker.WithTracer(tracer))
				}
			}

			w := worker.NewWorker(store, newGraphExecutor(logger), logger, metrics, workerOpts...)

			err := w.Run(ctx)
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
