package models

// InventorySlot is one physical slot of the dispenser. Key: (unit, tray,
// location).
type InventorySlot struct {
	UnitID     int   `json:"unit_id"`
	TrayNumber int   `json:"tray_number"`
	Location   int   `json:"location"`
	VariantID  int64 `json:"variant_id"`
	Width      int   `json:"width"`
	Depth      int   `json:"depth"`
	Quantity   int   `json:"quantity"`
}

// SlotLayout is the layout part of a slot, without quantity. The planogram
// comparison works over these.
type SlotLayout struct {
	VariantID int64 `json:"variant_id"`
	Width     int   `json:"width"`
	Depth     int   `json:"depth"`
}

// UnitLayout maps tray number to location to slot layout.
type UnitLayout map[int]map[int]SlotLayout

// PlanogramLayout maps unit id to its layout.
type PlanogramLayout map[int]UnitLayout
