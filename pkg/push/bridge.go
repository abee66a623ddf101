package push

import (
	"encoding/json"

	"github.com/vendkit/kioskd/pkg/bus"
)

// uiEvents lists the bus events forwarded to WebSocket clients. The channel
// name is the event type string.
var uiEvents = []bus.EventType{
	bus.EventMachineStateChanged,
	bus.EventBrandInfoUpdated,
	bus.EventUIModelUpdated,
	bus.EventReservationCompleted,
	bus.EventBeginTransactionResponse,
	bus.EventDispensingStatus,
	bus.EventHumanDetected,
}

// BindBus subscribes the hub to the UI-facing bus events.
func (h *Hub) BindBus(b *bus.Bus) {
	for _, evType := range uiEvents {
		b.Subscribe(evType, h.forward)
	}
}

// forward runs on the bus dispatcher. It only marshals and enqueues; the
// socket writes happen on the per-connection writer goroutines.
func (h *Hub) forward(ev bus.Event) {
	payload, err := json.Marshal(map[string]any{
		"type": string(ev.Type),
		"data": ev.Body,
	})
	if err != nil {
		h.logger.Error("Failed to marshal UI event", "event", ev.Type, "error", err)
		return
	}
	h.Broadcast(string(ev.Type), payload)
}
