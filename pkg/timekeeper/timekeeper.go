// Package timekeeper sweeps for overdue approval and signature requests and
// publishes expiry signals for the gatekeeper to act on.
package timekeeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vessoa/paperwork/pkg/eventbus"
	"github.com/vessoa/paperwork/pkg/events"
	"github.com/vessoa/paperwork/pkg/persistence"
)

const defaultInterval = 1 * time.Minute

// Timekeeper periodically scans both request repositories for pending
// entries whose deadline passed. It only announces them; the gatekeeper
// owns the state change, which keeps a redelivered announcement harmless.
type Timekeeper struct {
	interval    time.Duration
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	cron        *cron.Cron
}

// NewTimekeeper creates a timekeeper sweeping at the given interval. A zero
// or negative interval falls back to one minute.
func NewTimekeeper(interval time.Duration, persist persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger) *Timekeeper {
	if interval <= 0 {
		interval = defaultInterval
	}

	return &Timekeeper{
		interval:    interval,
		persistence: persist,
		publisher:   publisher,
		logger:      logger.With("module", "timekeeper", "interval", interval.String()),
	}
}

// Start schedules the sweep. Overlapping sweeps are skipped rather than
// stacked.
func (t *Timekeeper) Start(ctx context.Context) error {
	t.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := t.cron.AddFunc("@every "+t.interval.String(), func() {
		t.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule expiry sweep: %w", err)
	}

	t.cron.Start()
	t.logger.InfoContext(ctx, "Timekeeper started")

	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (t *Timekeeper) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Stopping timekeeper")

	if t.cron != nil {
		<-t.cron.Stop().Done()
	}

	return nil
}

// Sweep runs one pass over both repositories.
func (t *Timekeeper) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	t.sweepApprovals(ctx, now)
	t.sweepSignatures(ctx, now)
}

func (t *Timekeeper) sweepApprovals(ctx context.Context, now time.Time) {
	due, err := t.persistence.ApprovalRepository().ListExpired(ctx, now)
	if err != nil {
		t.logger.ErrorContext(ctx, "Failed to list overdue approvals", "error", err)

		return
	}

	if len(due) == 0 {
		return
	}

	t.logger.InfoContext(ctx, "Processing overdue approvals", "count", len(due))

	for _, request := range due {
		event := events.ApprovalExpiryDue{
			BaseEvent:   events.NewBaseEvent(events.ApprovalExpiryDueEvent, ""),
			ExecutionID: request.RunID,
			RequestID:   request.ID,
		}

		if err := t.publisher.Publish(ctx, request.RunID, event); err != nil {
			t.logger.ErrorContext(ctx, "Failed to publish approval expiry",
				"request_id", request.ID, "run_id", request.RunID, "error", err)

			continue
		}

		t.logger.InfoContext(ctx, "Approval expiry announced",
			"request_id", request.ID, "run_id", request.RunID, "expired_at", request.ExpiresAt)
	}
}

func (t *Timekeeper) sweepSignatures(ctx context.Context, now time.Time) {
	due, err := t.persistence.SignatureRepository().ListExpired(ctx, now)
	if err != nil {
		t.logger.ErrorContext(ctx, "Failed to list overdue signature requests", "error", err)

		return
	}

	if len(due) == 0 {
		return
	}

	t.logger.InfoContext(ctx, "Processing overdue signature requests", "count", len(due))

	for _, request := range due {
		event := events.SignatureExpiryDue{
			BaseEvent:   events.NewBaseEvent(events.SignatureExpiryDueEvent, ""),
			ExecutionID: request.RunID,
			RequestID:   request.ID,
		}

		if err := t.publisher.Publish(ctx, request.RunID, event); err != nil {
			t.logger.ErrorContext(ctx, "Failed to publish signature expiry",
				"request_id", request.ID, "run_id", request.RunID, "error", err)

			continue
		}

		t.logger.InfoContext(ctx, "Signature expiry announced",
			"request_id", request.ID, "run_id", request.RunID, "expired_at", request.ExpiresAt)
	}
}
