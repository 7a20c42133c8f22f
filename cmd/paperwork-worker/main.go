package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vessoa/paperwork/pkg/cmd"
	"github.com/vessoa/paperwork/pkg/gatekeeper"
	"github.com/vessoa/paperwork/pkg/log"
	"github.com/vessoa/paperwork/pkg/orchestration"
	"github.com/vessoa/paperwork/pkg/otelhelper"
)

func main() {
	command := &cli.Command{
		Name:                  "paperwork-worker",
		EnableShellCompletion: true,
		Usage:                 "Execute workflow runs from bus events",
		Flags: append([]cli.Flag{
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
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_PROVIDER"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OpenTelemetry traces (OTLP over HTTP)",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		}, cmd.CollaboratorFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("paperwork-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Paperwork Worker")

			persist, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persist.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "paperwork-worker", logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			collaborators := cmd.NewCollaborators(cmd.CollaboratorConfigFrom(command), logger)
			reg := cmd.NewRegistry(persist, collaborators, logger)

			var tracer trace.Tracer
			if command.Bool("tracing") {
				tracer, err = otelhelper.NewTracer(ctx, "paperwork-worker")
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}
			} else {
				tracer = noop.NewTracerProvider().Tracer("paperwork-worker")
			}

			orchestrator := orchestration.NewOrchestrator(workerID, persist, eventBus, reg, tracer, logger)
			gk := gatekeeper.NewGatekeeper(workerID, persist, eventBus, logger)

			worker := NewWorkerManager(workerID, orchestrator, gk, eventBus, logger)

			if err := worker.Start(ctx); err != nil {
				logger.ErrorContext(ctx, "Failed to start event-driven worker", "error", err)
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
