package models

import "time"

// CartType distinguishes carts built at the kiosk from carts built remotely
// in the online shop.
type CartType string

const (
	CartLocal  CartType = "LOCAL"
	CartRemote CartType = "REMOTE"
)

// CartStatus is the cart lifecycle state.
type CartStatus string

const (
	CartCreated        CartStatus = "CREATED"
	CartPrereservation CartStatus = "PRERESERVATION"
	CartReserved       CartStatus = "RESERVED"
	CartCheckout       CartStatus = "CHECKOUT"
	CartDispensing     CartStatus = "DISPENSING"
	CartComplete       CartStatus = "COMPLETE"
)

// CheckoutMethod records how a cart will be handed over.
type CheckoutMethod string

const (
	CheckoutNone   CheckoutMethod = ""
	CheckoutPickup CheckoutMethod = "PICKUP"
)

// Cart is a live shopping cart. TransactionID holds the synthetic
// "unassigned#<display>" placeholder until the cloud issues a real id.
type Cart struct {
	ID             int64          `json:"id"`
	DisplayID      int            `json:"display_id"`
	TransactionID  string         `json:"transaction_id"`
	Type           CartType       `json:"type"`
	OrderInfo      string         `json:"order_info,omitempty"` // pickup code for REMOTE carts
	Status         CartStatus     `json:"status"`
	CheckoutMethod CheckoutMethod `json:"checkout_method,omitempty"`
	LockedAt       time.Time      `json:"locked_at,omitempty"` // set when a timed window starts
}

// CartItem is a variant with an amount inside a cart. Primary key is the
// (cart, variant) pair.
type CartItem struct {
	CartID    int64 `json:"cart_id"`
	VariantID int64 `json:"variant_id"`
	Amount    int   `json:"amount"`
}

// Reservation claims quantity of a variant at a specific slot for a cart.
type Reservation struct {
	ID        int64 `json:"id"`
	CartID    int64 `json:"cart_id"`
	VariantID int64 `json:"variant_id"`
	UnitID    int   `json:"unit_id"`
	Location  int   `json:"location"`
	Quantity  int   `json:"quantity"`
}

// CompletionStatus is the terminal outcome of a REMOTE cart.
type CompletionStatus string

const (
	CompletionExpired   CompletionStatus = "EXPIRED"
	CompletionDispensed CompletionStatus = "DISPENSED"
)

// OrderHistoryRecord is written when a REMOTE cart reaches a terminal state
// and kept for a configured retention window.
type OrderHistoryRecord struct {
	ID               int64            `json:"id"`
	TransactionID    string           `json:"transaction_id"`
	OrderInfo        string           `json:"order_info,omitempty"`
	CompletionStatus CompletionStatus `json:"completion_status"`
	CreatedAt        time.Time        `json:"created_at"`
}
