package bus

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	b := NewWithPeriod(slog.Default(), 10*time.Millisecond)
	b.Start()
	t.Cleanup(b.Stop)
	return b
}

// collector records delivered events in order.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handler(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *collector) waitFor(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if evs := c.snapshot(); len(evs) >= n {
			return evs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, got %d", n, len(c.snapshot()))
	return nil
}

func TestFIFOWithinPriority(t *testing.T) {
	b := newTestBus(t)
	var c collector
	b.Subscribe(EventDoorStateChanged, c.handler)

	for i := 0; i < 5; i++ {
		b.Post(Event{Type: EventDoorStateChanged, Body: DoorStateChangedPayload{Open: i%2 == 0}})
	}

	evs := c.waitFor(t, 5)
	for i := 0; i < 5; i++ {
		assert.Equal(t, i%2 == 0, evs[i].Body.(DoorStateChangedPayload).Open)
	}
}

func TestHighBeforeNormalBeforeLow(t *testing.T) {
	b := NewWithPeriod(slog.Default(), 10*time.Millisecond)
	var c collector
	b.Subscribe(EventDispensingStatus, c.handler)

	// Post before starting so all three land in the same first tick.
	b.PostLow(Event{Type: EventDispensingStatus, Body: "low"})
	b.Post(Event{Type: EventDispensingStatus, Body: "normal"})
	b.PostHigh(Event{Type: EventDispensingStatus, Body: "high"})

	b.Start()
	defer b.Stop()

	evs := c.waitFor(t, 3)
	require.Len(t, evs, 3)
	assert.Equal(t, "high", evs[0].Body)
	assert.Equal(t, "normal", evs[1].Body)
	assert.Equal(t, "low", evs[2].Body)
}

func TestDrainLimitPerTick(t *testing.T) {
	b := NewWithPeriod(slog.Default(), time.Hour) // manual ticks only
	var c collector
	b.Subscribe(EventHumanDetected, c.handler)

	for i := 0; i < 20; i++ {
		b.PostHigh(Event{Type: EventHumanDetected})
	}

	b.dispatchTick()
	assert.Len(t, c.snapshot(), maxHighPerTick)

	b.dispatchTick()
	assert.Len(t, c.snapshot(), 20)
}

func TestHandlerMayPost(t *testing.T) {
	b := newTestBus(t)
	var c collector
	b.Subscribe(EventStartupComplete, func(Event) {
		b.Post(Event{Type: EventMachineStateChanged, Body: MachineStateChangedPayload{State: "AVAILABLE"}})
	})
	b.Subscribe(EventMachineStateChanged, c.handler)

	b.PostHigh(Event{Type: EventStartupComplete})

	evs := c.waitFor(t, 1)
	assert.Equal(t, "AVAILABLE", evs[0].Body.(MachineStateChangedPayload).State)
}

func TestMultipleSubscribersInOrder(t *testing.T) {
	b := newTestBus(t)
	var mu sync.Mutex
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		b.Subscribe(EventBrandInfoUpdated, func(Event) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	b.Post(Event{Type: EventBrandInfoUpdated})

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n == 3 {
			break
		}
		require.True(t, time.Now().Before(deadline), "subscribers not invoked")
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestPanickingHandlerDoesNotKillDispatcher(t *testing.T) {
	b := newTestBus(t)
	var c collector
	b.Subscribe(EventUIModelUpdated, func(Event) { panic("boom") })
	b.Subscribe(EventUIModelUpdated, c.handler)

	b.Post(Event{Type: EventUIModelUpdated})
	b.Post(Event{Type: EventUIModelUpdated})

	c.waitFor(t, 2)
}
