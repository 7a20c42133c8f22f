// Package main provides the worker that executes runs from bus events.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vessoa/paperwork/pkg/eventbus"
	"github.com/vessoa/paperwork/pkg/gatekeeper"
	"github.com/vessoa/paperwork/pkg/orchestration"
)

type WorkerManager struct {
	id           string
	logger       *slog.Logger
	orchestrator *orchestration.Orchestrator
	gatekeeper   *gatekeeper.Gatekeeper
	eventBus     eventbus.EventBus
}

func NewWorkerManager(
	id string,
	orchestrator *orchestration.Orchestrator,
	gk *gatekeeper.Gatekeeper,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
) *WorkerManager {
	return &WorkerManager{
		id:           id,
		logger:       logger.With("module", "paperwork-worker", "worker_id", id),
		orchestrator: orchestrator,
		gatekeeper:   gk,
		eventBus:     eventBus,
	}
}

// Start registers both consumers on the bus, subscribes once, and blocks
// until the process is signaled to stop.
func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	if err := w.orchestrator.RegisterHandlers(); err != nil {
		return err
	}

	if err := w.gatekeeper.RegisterHandlers(); err != nil {
		return err
	}

	if err := w.eventBus.Subscribe(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	w.logger.InfoContext(ctx, "Shutting down worker...")

	return nil
}
