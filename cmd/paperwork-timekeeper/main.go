// Package main provides the sweeper that announces overdue approval and
// signature requests.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/vessoa/paperwork/pkg/cmd"
	"github.com/vessoa/paperwork/pkg/log"
	"github.com/vessoa/paperwork/pkg/timekeeper"
)

func main() {
	logger := log.WithModule("timekeeper")

	command := &cli.Command{
		Name:                  "paperwork-timekeeper",
		EnableShellCompletion: true,
		Usage:                 "Sweep overdue approval and signature requests onto the bus",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_PROVIDER"),
			},
			&cli.DurationFlag{
				Name:    "sweep-interval",
				Usage:   "How often to scan for overdue requests",
				Value:   1 * time.Minute,
				Sources: cli.EnvVars("SWEEP_INTERVAL"),
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

			logger.InfoContext(ctx, "Initializing Paperwork Timekeeper")

			persist, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persist.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "paperwork-timekeeper", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			keeper := timekeeper.NewTimekeeper(command.Duration("sweep-interval"), persist, eventBus, logger)

			if err := keeper.Start(ctx); err != nil {
				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			<-sigChan
			logger.InfoContext(ctx, "Shutting down timekeeper...")

			return keeper.Stop(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
