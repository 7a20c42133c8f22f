// Package queue consumes start-run messages from a Redis list and starts
// runs for them.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/vessoa/paperwork/pkg/persistence"
	"github.com/vessoa/paperwork/pkg/services"
)

const (
	defaultAddr  = "localhost:6379"
	popTimeout   = 1 * time.Second
	pingTimeout  = 5 * time.Second
	retryBackoff = 1 * time.Second
)

// Config connects the consumer to its Redis list.
type Config struct {
	Addr          string
	Password      string
	DB            int
	Queue         string
	ConsumerGroup string
}

// Consumer pops start-run messages from a Redis list and hands them to the
// run service. Messages that cannot become runs are logged and dropped.
type Consumer struct {
	config Config
	runs   *services.Run

	client redis.UniversalClient
	logger *slog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewConsumer creates an intake consumer. It does not connect; Start does.
func NewConsumer(config Config, runs *services.Run, logger *slog.Logger) (*Consumer, error) {
	if config.Queue == "" {
		return nil, errors.New("intake queue name is required")
	}

	if config.Addr == "" {
		config.Addr = defaultAddr
	}

	return &Consumer{
		config: config,
		runs:   runs,
		stopCh: make(chan struct{}),
		logger: logger.With(
			"module", "intake",
			"queue", config.Queue,
			"consumer_group", config.ConsumerGroup,
		),
	}, nil
}

// Start connects to Redis and launches the consume loop.
func (c *Consumer) Start(ctx context.Context) error {
	client := redis.NewClient(&redis.Options{
		Addr:     c.config.Addr,
		Password: c.config.Password,
		DB:       c.config.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c.client = client

	c.logger.InfoContext(ctx, "Connected to Redis", "addr", c.config.Addr, "db", c.config.DB)

	c.wg.Add(1)

	go c.consume(ctx)

	return nil
}

func (c *Consumer) consume(ctx context.Context) {
	defer c.wg.Done()

	c.logger.InfoContext(ctx, "Starting intake consumer")

	for {
		select {
		case <-c.stopCh:
			c.logger.InfoContext(ctx, "Intake consumer stopped")

			return
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Context cancelled, stopping intake consumer")

			return
		default:
			err := c.poll(ctx)
			if err != nil {
				c.logger.ErrorContext(ctx, "Error reading from intake queue", "error", err)
				time.Sleep(retryBackoff)
			}
		}
	}
}

func (c *Consumer) poll(ctx context.Context) error {
	result, err := c.client.BRPop(ctx, popTimeout, c.config.Queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return nil
		}

		return fmt.Errorf("failed to pop message from %s: %w", c.config.Queue, err)
	}

	if len(result) < 2 {
		return nil
	}

	c.handleMessage(ctx, result[1])

	return nil
}

// handleMessage turns one queue message into a run. Delivery is
// at-most-once: the message is already popped, so failures are logged
// rather than retried.
func (c *Consumer) handleMessage(ctx context.Context, payload string) {
	var req services.StartRunRequest

	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		c.logger.WarnContext(ctx, "Dropping malformed start-run message", "error", err)

		return
	}

	run, err := c.runs.StartRun(ctx, req)
	if err != nil {
		if services.IsValidationError(err) || services.IsConflictError(err) || persistence.IsWorkflowNotFound(err) {
			c.logger.WarnContext(ctx, "Dropping start-run message that cannot start a run",
				"workflow_id", req.WorkflowID, "error", err)

			return
		}

		c.logger.ErrorContext(ctx, "Failed to start run from intake message",
			"workflow_id", req.WorkflowID, "error", err)

		return
	}

	c.logger.InfoContext(ctx, "Run started from intake message",
		"run_id", run.ID, "workflow_id", run.WorkflowID)
}

// Stop halts the consume loop and closes the Redis connection.
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.InfoContext(ctx, "Stopping intake consumer")

	close(c.stopCh)
	c.wg.Wait()

	if c.client != nil {
		err := c.client.Close()
		if err != nil {
			c.logger.ErrorContext(ctx, "Error closing Redis client", "error", err)
		}
	}

	return nil
}
