// Package bus provides the prioritized in-process event bus that fans
// messages out to registered subscribers.
package bus

// EventType identifies an event on the bus.
type EventType string

const (
	EventStartupComplete          EventType = "startup_complete"
	EventSendToCloud              EventType = "send_to_cloud"
	EventBrandInfoUpdated         EventType = "brand_info_updated"
	EventUIModelUpdated           EventType = "ui_model_updated"
	EventNewPlanogramAvailable    EventType = "new_planogram_available"
	EventNewPlanogramApply        EventType = "new_planogram_apply"
	EventNewPlanogramReject       EventType = "new_planogram_reject"
	EventPlanogramUpdateDone      EventType = "planogram_update_done"
	EventGetPlanogram             EventType = "get_planogram"
	EventPlanogramIsUpToDate      EventType = "planogram_is_up_to_date"
	EventPlanogramUpdateFailed    EventType = "planogram_update_failed"
	EventReservationCompleted     EventType = "reservation_completed"
	EventPurchaseFinished         EventType = "purchase_finished"
	EventBeginTransactionRequest  EventType = "begin_transaction_request"
	EventBeginTransactionResponse EventType = "begin_transaction_response"
	EventMachineStateChanged      EventType = "machine_state_changed"
	EventDispensingStatus         EventType = "dispensing_status"
	EventHumanDetected            EventType = "human_detected"
	EventDispenserReady           EventType = "hw_dispenser_is_ready"
	EventDoorStateChanged         EventType = "door_state_changed"
)

// Event is a single bus message. Body is one of the typed payload structs in
// payloads.go, or nil for events that carry no data.
type Event struct {
	Type EventType
	Body any
}

// Handler processes one event. Handlers run on the dispatcher goroutine and
// must not block; components that need to do real work forward the event to
// their own worker queue.
type Handler func(Event)
