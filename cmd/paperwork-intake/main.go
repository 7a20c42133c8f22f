// Package main provides the Redis queue consumer that starts runs from
// messages enqueued by external automations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	redis "github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"

	"github.com/vessoa/paperwork/pkg/cmd"
	"github.com/vessoa/paperwork/pkg/intake/queue"
	"github.com/vessoa/paperwork/pkg/log"
	"github.com/vessoa/paperwork/pkg/services"
)

func main() {
	logger := log.WithModule("intake")

	command := &cli.Command{
		Name:                  "paperwork-intake",
		EnableShellCompletion: true,
		Usage:                 "Start runs from messages on a Redis queue",
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
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis connection URL",
				Value:   "redis://localhost:6379",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "queue",
				Usage:   "Redis list to consume start-run messages from",
				Value:   "paperwork:start-runs",
				Sources: cli.EnvVars("INTAKE_QUEUE"),
			},
			&cli.StringFlag{
				Name:    "consumer-group",
				Usage:   "Consumer group name for logging and identification",
				Value:   "paperwork-intake",
				Sources: cli.EnvVars("INTAKE_CONSUMER_GROUP"),
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

			logger.InfoContext(ctx, "Initializing Paperwork Intake")

			redisOptions, err := redis.ParseURL(command.String("redis-url"))
			if err != nil {
				return fmt.Errorf("invalid redis URL: %w", err)
			}

			persist, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persist.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "paperwork-intake", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			runs := services.NewRun(persist, eventBus, logger)

			consumer, err := queue.NewConsumer(queue.Config{
				Addr:          redisOptions.Addr,
				Password:      redisOptions.Password,
				DB:            redisOptions.DB,
				Queue:         command.String("queue"),
				ConsumerGroup: command.String("consumer-group"),
			}, runs, logger)
			if err != nil {
				return err
			}

			if err := consumer.Start(ctx); err != nil {
				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			<-sigChan
			logger.InfoContext(ctx, "Shutting down intake...")

			return consumer.Stop(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
