package mqtt

// Inbound topic payloads. Messages arrive as JSON; malformed payloads are
// logged and dropped by the consumer that decodes them.

// ProductMessage notifies about a catalog product change.
type ProductMessage struct {
	UpdateType string `json:"update_type"` // "update" or "delete"
	ProductID  int64  `json:"product_id"`
}

// CollectionMessage notifies about a collection change.
type CollectionMessage struct {
	UpdateType   string `json:"update_type"`
	CollectionID int64  `json:"collection_id"`
}

// BrandMessage carries the brand document. Fields beyond the three below are
// passed through to the brand-info file untouched, so consumers keep the raw
// payload as well.
type BrandMessage struct {
	LastUpdate int64  `json:"lastUpdate"`
	LogoID     int64  `json:"logoId"`
	LogoURL    string `json:"logoUrl"`
}

// TransactionMessage reports a payment outcome for a transaction.
type TransactionMessage struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"` // PAYMENT_SUCCESS terminates in dispense
}

// ReservationMessage drives the remote cart protocol.
type ReservationMessage struct {
	TransactionID string `json:"transactionId"`
	UpdateType    string `json:"updateType"` // update, cancel, prolong, confirm
	VariantID     int64  `json:"variantId,omitempty"`
	Amount        int    `json:"amount,omitempty"`
	RequestID     int64  `json:"requestId,omitempty"`
	PickupCode    string `json:"pickupCode,omitempty"`
}
