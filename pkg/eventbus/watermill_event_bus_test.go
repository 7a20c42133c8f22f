package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vessoa/paperwork/pkg/channels/gochannel"
	"github.com/vessoa/paperwork/pkg/events"
)

func newTestBus(t *testing.T) EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	return NewWatermillEventBus(pub, sub)
}

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan any, 1)

	err := bus.Handle(events.RunStartedEvent, func(_ context.Context, event any) error {
		received <- event

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	event := events.RunStarted{
		BaseEvent:        events.NewBaseEvent(events.RunStartedEvent, "wf-1"),
		ExecutionID:      "run-1",
		SourceObjectType: "deal",
		SourceObjectID:   "8841",
	}

	require.NoError(t, bus.Publish(ctx, "run-1", event))

	select {
	case got := <-received:
		started, ok := got.(*events.RunStarted)
		require.True(t, ok, "handler must receive the typed event")
		assert.Equal(t, "run-1", started.ExecutionID)
		assert.Equal(t, "wf-1", started.WorkflowID)
		assert.Equal(t, events.RunStartedEvent, started.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event delivery")
	}
}

func TestWatermillEventBus_RoutesByEventType(t *testing.T) {
	bus := newTestBus(t)

	pauses := make(chan any, 1)
	completions := make(chan any, 1)

	require.NoError(t, bus.Handle(events.RunPausedEvent, func(_ context.Context, event any) error {
		pauses <- event

		return nil
	}))
	require.NoError(t, bus.Handle(events.RunCompletedEvent, func(_ context.Context, event any) error {
		completions <- event

		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	paused := events.RunPaused{
		BaseEvent:   events.NewBaseEvent(events.RunPausedEvent, "wf-1"),
		ExecutionID: "run-1",
		Position:    3,
		Reason:      "human_approval",
	}

	require.NoError(t, bus.Publish(ctx, "run-1", paused))

	select {
	case got := <-pauses:
		event, ok := got.(*events.RunPaused)
		require.True(t, ok)
		assert.Equal(t, 3, event.Position)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pause event")
	}

	select {
	case <-completions:
		t.Fatal("completion handler must not receive pause events")
	default:
	}
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := newTestBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
