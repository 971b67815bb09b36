package main

import (
	"context"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"
	"github.com/voyagerhq/voyager/pkg/cmd"
	"github.com/voyagerhq/voyager/pkg/customers"
	"github.com/voyagerhq/voyager/pkg/log"
	"github.com/voyagerhq/voyager/pkg/triggers"
	"golang.org/x/sync/errgroup"
)

func main() {
	command := &cli.Command{
		Name:                  "voyager-ingest",
		EnableShellCompletion: true,
		Usage:                 "Consume customer events and evaluate journey triggers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
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
			&cli.DurationFlag{
				Name:    "schedule-interval",
				Usage:   "How often schedule triggers are checked",
				Value:   time.Minute,
				Sources: cli.EnvVars("SCHEDULE_INTERVAL"),
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

			logger := log.WithModule("voyager-ingest")

			logger.InfoContext(ctx, "Initializing Voyager Ingest")

			eventBus := cmd.NewEventBus(command.String("event-bus"), "voyager-ingest", logger)
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

			profile := customers.NewClient(command.String("profile-service-url"), logger)
			evaluator := triggers.NewEvaluator(persistence, profile, eventBus, logger)
			schedules := triggers.NewScheduleRunner(
				persistence, profile, evaluator, command.Duration("schedule-interval"), logger,
			)
			ingest := NewIngest(evaluator, profile, eventBus, logger)

			group, groupCtx := errgroup.WithContext(ctx)
			group.Go(func() error { return ingest.Start(groupCtx) })
			group.Go(func() error { return schedules.Start(groupCtx) })

			if err := group.Wait(); err != nil && ctx.Err() == nil {
				logger.ErrorContext(ctx, "Ingest stopped with error", "error", err)
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
