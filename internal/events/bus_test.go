package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublish_AllAndScoped(t *testing.T) {
	bus := NewBus()

	var all, scoped []Event
	bus.Subscribe("", func(ev Event) { all = append(all, ev) })
	bus.Subscribe("T1", func(ev Event) { scoped = append(scoped, ev) })

	bus.Publish(Event{Type: AgentStarted, TicketID: "T1"})
	bus.Publish(Event{Type: AgentStarted, TicketID: "T2"})

	assert.Len(t, all, 2)
	assert.Len(t, scoped, 1)
	assert.Equal(t, "T1", scoped[0].TicketID)
	assert.False(t, scoped[0].At.IsZero(), "Publish should stamp At")
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()

	var got int
	id := bus.Subscribe("", func(Event) { got++ })
	assert.Equal(t, 1, bus.SubscriptionCount())

	assert.True(t, bus.Unsubscribe(id))
	assert.False(t, bus.Unsubscribe(id), "second unsubscribe is a no-op")

	bus.Publish(Event{Type: AgentCompleted})
	assert.Zero(t, got)
}

func TestPublish_HandlerPanicIsolated(t *testing.T) {
	bus := NewBus()

	bus.Subscribe("", func(Event) { panic("boom") })
	var got int
	bus.Subscribe("", func(Event) { got++ })

	bus.Publish(Event{Type: AgentFailed, TicketID: "T1"})
	assert.Equal(t, 1, got, "later handlers still run after a panic")
}
