package postgres

import (
	"context"

	"github.com/vendkit/kioskd/pkg/models"
)

const slotColumns = "unit_id, tray_number, location, variant_id, width, depth, quantity"

// Storage order: unit, tray, location. The reservation walk depends on it.
const slotOrder = " ORDER BY unit_id, tray_number, location"

func (s *Store) querySlots(ctx context.Context, op, query string, args ...any) ([]models.InventorySlot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr(op, err)
	}
	defer rows.Close()

	var out []models.InventorySlot
	for rows.Next() {
		var sl models.InventorySlot
		if err := rows.Scan(&sl.UnitID, &sl.TrayNumber, &sl.Location,
			&sl.VariantID, &sl.Width, &sl.Depth, &sl.Quantity); err != nil {
			return nil, dbErr(op, err)
		}
		out = append(out, sl)
	}
	return out, dbErr(op, rows.Err())
}

func (s *Store) GetInventory(ctx context.Context) ([]models.InventorySlot, error) {
	return s.querySlots(ctx, "get inventory",
		`SELECT `+slotColumns+` FROM inventory`+slotOrder)
}

func (s *Store) GetInventoryByVariant(ctx context.Context, variantID int64) ([]models.InventorySlot, error) {
	return s.querySlots(ctx, "get inventory by variant",
		`SELECT `+slotColumns+` FROM inventory WHERE variant_id = $1`+slotOrder, variantID)
}

func (s *Store) GetInventoryByUnit(ctx context.Context, unitID int) ([]models.InventorySlot, error) {
	return s.querySlots(ctx, "get inventory by unit",
		`SELECT `+slotColumns+` FROM inventory WHERE unit_id = $1`+slotOrder, unitID)
}

func (s *Store) AddInventorySlot(ctx context.Context, sl *models.InventorySlot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inventory (unit_id, tray_number, location, variant_id, width, depth, quantity)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sl.UnitID, sl.TrayNumber, sl.Location, sl.VariantID, sl.Width, sl.Depth, sl.Quantity)
	return dbErr("add inventory slot", err)
}

func (s *Store) UpdateInventorySlot(ctx context.Context, sl *models.InventorySlot) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE inventory SET variant_id = $4, width = $5, depth = $6, quantity = $7
		 WHERE unit_id = $1 AND tray_number = $2 AND location = $3`,
		sl.UnitID, sl.TrayNumber, sl.Location, sl.VariantID, sl.Width, sl.Depth, sl.Quantity)
	return affectedOrNotFound("update inventory slot", res, err)
}

func (s *Store) UpdateSlotQuantity(ctx context.Context, unitID, tray, location, quantity int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE inventory SET quantity = $4
		 WHERE unit_id = $1 AND tray_number = $2 AND location = $3`,
		unitID, tray, location, quantity)
	return affectedOrNotFound("update slot quantity", res, err)
}

func (s *Store) RemoveInventorySlot(ctx context.Context, unitID, tray, location int) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM inventory WHERE unit_id = $1 AND tray_number = $2 AND location = $3`,
		unitID, tray, location)
	return affectedOrNotFound("remove inventory slot", res, err)
}
