package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowop/pkg/schema"
)

func evt(eventType string) *schema.Event {
	return &schema.Event{Type: eventType, WorkflowID: "wf", InstanceID: "inst"}
}

func TestPublishDeliversInOrder(t *testing.T) {
	bus := NewBus(nil)

	var got []string
	bus.Subscribe(func(e *schema.Event) { got = append(got, e.Type) })

	bus.Publish(evt(schema.EventWorkflowStarted))
	bus.Publish(evt(schema.EventStepStarted))
	bus.Publish(evt(schema.EventStepCompleted))

	assert.Equal(t, []string{
		schema.EventWorkflowStarted,
		schema.EventStepStarted,
		schema.EventStepCompleted,
	}, got)
}

func TestTypeFilter(t *testing.T) {
	bus := NewBus(nil)

	var got []string
	bus.Subscribe(func(e *schema.Event) { got = append(got, e.Type) }, schema.EventStepFailed)

	bus.Publish(evt(schema.EventStepStarted))
	bus.Publish(evt(schema.EventStepFailed))

	assert.Equal(t, []string{schema.EventStepFailed}, got)
}

func TestPanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := NewBus(nil)

	bus.Subscribe(func(e *schema.Event) { panic("bad subscriber") })

	received := 0
	bus.Subscribe(func(e *schema.Event) { received++ })

	require.NotPanics(t, func() { bus.Publish(evt(schema.EventStepStarted)) })
	assert.Equal(t, 1, received)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(nil)

	received := 0
	id := bus.Subscribe(func(e *schema.Event) { received++ })

	bus.Publish(evt(schema.EventStepStarted))
	assert.True(t, bus.Unsubscribe(id))
	bus.Publish(evt(schema.EventStepStarted))

	assert.Equal(t, 1, received)
	assert.False(t, bus.Unsubscribe(id))
}

func TestSubscribeDuringDispatchDoesNotReceiveInFlightEvent(t *testing.T) {
	bus := NewBus(nil)

	lateReceived := 0
	bus.Subscribe(func(e *schema.Event) {
		bus.Subscribe(func(e *schema.Event) { lateReceived++ })
	})

	bus.Publish(evt(schema.EventStepStarted))
	assert.Equal(t, 0, lateReceived)

	bus.Publish(evt(schema.EventStepStarted))
	assert.Equal(t, 1, lateReceived)
}

func TestPublishStampsIDAndTimestamp(t *testing.T) {
	bus := NewBus(nil)

	var seen *schema.Event
	bus.Subscribe(func(e *schema.Event) { seen = e })

	bus.Publish(evt(schema.EventWorkflowStarted))
	require.NotNil(t, seen)
	assert.NotEmpty(t, seen.ID)
	assert.False(t, seen.Timestamp.IsZero())
}
