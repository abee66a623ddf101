package bus

// SendToCloudPayload is the body of send_to_cloud events.
// The cloud client POSTs Data to the named API endpoint.
type SendToCloudPayload struct {
	API  string         `json:"api"`  // cloud endpoint name
	Data map[string]any `json:"data"` // object to post
}

// RejectReason explains why a staged planogram failed reservation validation.
type RejectReason string

const (
	ReasonNone                  RejectReason = ""
	ReasonReservedProductAbsent RejectReason = "RESERVED_PRODUCT_ABSENT"
	ReasonReservedOccupiesLess  RejectReason = "RESERVED_PRODUCT_OCCUPIES_LESS_SLOTS"
)

// NewPlanogramAvailablePayload is the body of new_planogram_available events.
type NewPlanogramAvailablePayload struct {
	Status bool         `json:"status"` // true when the staged planogram passed validation
	Reason RejectReason `json:"reason,omitempty"`
}

// ReservationCompletedPayload is the body of reservation_completed events.
type ReservationCompletedPayload struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"` // EXPIRED or DISPENSED
}

// PurchaseFinishedPayload is the body of purchase_finished events.
type PurchaseFinishedPayload struct {
	CartID int64 `json:"cart_id"`
}

// BeginTransactionRequestPayload is the body of begin_transaction_request events.
type BeginTransactionRequestPayload struct {
	CartID int64 `json:"cart_id"`
}

// BeginTransactionResponsePayload is the body of begin_transaction_response events.
type BeginTransactionResponsePayload struct {
	CartID  int64 `json:"cart_id"`
	Success bool  `json:"success"`
}

// MachineStateChangedPayload is the body of machine_state_changed events.
type MachineStateChangedPayload struct {
	State string `json:"state"`
}

// DispensingStatusPayload is the body of dispensing_status events.
type DispensingStatusPayload struct {
	CartID    int64  `json:"cart_id"`
	UnitID    int    `json:"unit_id"`
	Location  int    `json:"location"`
	VariantID int64  `json:"variant_id"`
	Status    string `json:"status"`
}

// HumanDetectedPayload is the body of human_detected events.
type HumanDetectedPayload struct {
	DisplayID int    `json:"display_id"`
	ProfileID string `json:"profile_id"`
}

// DoorStateChangedPayload is the body of door_state_changed events.
type DoorStateChangedPayload struct {
	Open bool `json:"open"`
}
