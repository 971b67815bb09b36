// Package main runs the journey worker: the tick loop that claims due
// enrollments and advances them.
package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
	"github.com/voyagerhq/voyager/pkg/cmd"
	"github.com/voyagerhq/voyager/pkg/conditions"
	"github.com/voyagerhq/voyager/pkg/customers"
	"github.com/voyagerhq/voyager/pkg/delay"
	"github.com/voyagerhq/voyager/pkg/dispatch"
	"github.com/voyagerhq/voyager/pkg/dispatch/whatsapp"
	"github.com/voyagerhq/voyager/pkg/engine"
	"github.com/voyagerhq/voyager/pkg/log"
	"github.com/voyagerhq/voyager/pkg/otelhelper"
)

func main() {
	command := &cli.Command{
		Name:                  "voyager-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to advance journey enrollments",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis connection URL for the rate limiter",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:     "profile-service-url",
				Usage:    "Base URL of the customer profile service",
				Required: true,
				Sources:  cli.EnvVars("PROFILE_SERVICE_URL"),
			},
			&cli.StringFlag{
				Name:     "messaging-api-url",
				Usage:    "Base URL of the WhatsApp messaging API",
				Required: true,
				Sources:  cli.EnvVars("MESSAGING_API_URL"),
			},
			&cli.StringFlag{
				Name:    "messaging-api-token",
				Usage:   "Access token for the messaging API",
				Sources: cli.EnvVars("MESSAGING_API_TOKEN"),
			},
			&cli.DurationFlag{
				Name:    "tick-interval",
				Usage:   "How often the worker polls for due enrollments",
				Value:   5 * time.Second,
				Sources: cli.EnvVars("TICK_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "How many enrollments are processed in parallel",
				Value:   4,
				Sources: cli.EnvVars("WORKER_CONCURRENCY"),
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

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("voyager-worker").With("workerId", workerID)

			logger.InfoContext(ctx, "Initializing Voyager Worker")

			eventBus := cmd.NewEventBus(command.String("event-bus"), "voyager-worker", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			limiter := cmd.NewRateLimiter(ctx, logger, command.String("redis-url"))
			defer func() {
				if err := limiter.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close rate limiter", "error", err)
				}
			}()

			profile := customers.NewClient(command.String("profile-service-url"), logger)
			provider := whatsapp.NewProvider(
				command.String("messaging-api-url"),
				command.String("messaging-api-token"),
				logger,
			)

			worker := engine.NewEngine(
				workerID,
				persistence,
				profile,
				conditions.NewEvaluator(profile, profile),
				delay.NewScheduler(profile),
				dispatch.NewDispatcher(provider, limiter, logger),
				eventBus,
				engine.Config{
					TickInterval: command.Duration("tick-interval"),
					Concurrency:  command.Int("concurrency"),
				},
				logger,
			)

			tracer, err := otelhelper.NewTracer(ctx, "voyager-worker")
			if err != nil {
				logger.WarnContext(ctx, "Tracing disabled", "error", err)
			} else {
				worker.WithTracer(tracer)
			}

			if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
				logger.ErrorContext(ctx, "Worker stopped with error", "error", err)
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
