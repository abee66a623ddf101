package planogram

import (
	"context"

	"github.com/vendkit/kioskd/pkg/bus"
	"github.com/vendkit/kioskd/pkg/models"
)

// handlePlanogramUpdated fetches the full planogram, stages it and either
// applies immediately (layout unchanged) or asks for an apply/reject decision
// via new_planogram_available. Any failure along the way is announced with
// planogram_update_failed.
func (s *Synchronizer) handlePlanogramUpdated() {
	ctx := context.Background()
	ok := false
	defer func() {
		if !ok {
			s.bus.Post(bus.Event{Type: bus.EventPlanogramUpdateFailed})
		}
	}()

	data, err := s.cloud.Get(ctx, "planogram", map[string]string{"deviceId": ""})
	if err != nil {
		s.logCloudError("get planogram data", err)
		return
	}
	var resp planogramResponse
	if err := decode(data, &resp); err != nil {
		s.logger.Error("Received planogram data is malformed", "error", err)
		return
	}

	staged := make(models.PlanogramLayout)
	for _, stock := range resp.Planogram.Stocks {
		if stock.Number < 1 || stock.Number > s.cfg.MaxUnits {
			s.logger.Error("Received planogram contains data for unit with incorrect number",
				"unit", stock.Number, "max_units", s.cfg.MaxUnits)
			return
		}
		unit := make(models.UnitLayout)
		for _, tray := range stock.Trays {
			slots, found := unit[tray.Number]
			if !found {
				slots = make(map[int]models.SlotLayout)
				unit[tray.Number] = slots
			}
			for _, slot := range tray.Slots {
				slots[slot.Number] = models.SlotLayout{
					VariantID: slot.VariantID,
					Width:     slot.Width,
					Depth:     slot.Depth,
				}
			}
		}
		staged[stock.Number] = unit
	}
	for unitID := 1; unitID <= s.cfg.MaxUnits; unitID++ {
		if _, found := staged[unitID]; !found {
			s.logger.Error("New planogram does not have data for unit", "unit", unitID)
			return
		}
	}

	equal := layoutsEqual(s.currentLayout(), staged)

	s.staged = staged
	s.stagedProducts = s.stagedProducts[:0]
	s.stagedCollections = s.stagedCollections[:0]
	s.stagedVariants = s.stagedVariants[:0]
	for _, cd := range resp.Collections {
		s.stagedCollections = append(s.stagedCollections,
			stagedCollection{collection: toCollection(cd), image: cd.Image})
	}
	for _, pd := range resp.Products {
		s.stagedProducts = append(s.stagedProducts, stagedProduct{product: toProduct(pd)})
		for _, vd := range pd.Variants {
			s.stagedVariants = append(s.stagedVariants,
				stagedVariant{variant: toVariant(pd.ID, vd), image: vd.Image})
		}
	}
	s.uiModel = resp.UIModel
	s.processUIModel(ctx)

	if equal {
		s.applyNewData(ctx)
		s.staged = nil
		s.bus.Post(bus.Event{Type: bus.EventPlanogramIsUpToDate})
	} else {
		status, reason := s.validateAgainstReservations(ctx, staged)
		s.bus.Post(bus.Event{
			Type: bus.EventNewPlanogramAvailable,
			Body: bus.NewPlanogramAvailablePayload{Status: status, Reason: reason},
		})
	}
	ok = true
}

// layoutsEqual compares two layouts slot by slot.
func layoutsEqual(a, b models.PlanogramLayout) bool {
	if len(a) != len(b) {
		return false
	}
	for unitID, unitA := range a {
		unitB, found := b[unitID]
		if !found || len(unitA) != len(unitB) {
			return false
		}
		for trayNum, trayA := range unitA {
			trayB, found := unitB[trayNum]
			if !found || len(trayA) != len(trayB) {
				return false
			}
			for loc, slotA := range trayA {
				slotB, found := trayB[loc]
				if !found || slotA != slotB {
					return false
				}
			}
		}
	}
	return true
}

// validateAgainstReservations rejects a staged layout that would strand an
// active remote reservation: a reserved variant must stay present, and per
// unit it must not occupy fewer slots than it does now.
func (s *Synchronizer) validateAgainstReservations(ctx context.Context, staged models.PlanogramLayout) (bool, bus.RejectReason) {
	stagedVariantIDs := make(map[int64]bool, len(s.stagedVariants))
	for _, sv := range s.stagedVariants {
		stagedVariantIDs[sv.variant.ID] = true
	}

	carts, err := s.store.ListCarts(ctx)
	if err != nil {
		s.logger.Error("Failed to list carts for planogram validation", "error", err)
		return false, bus.ReasonNone
	}
	var reservedVariants []int64
	for _, cart := range carts {
		if cart.Type != models.CartRemote {
			continue
		}
		if cart.Status != models.CartPrereservation && cart.Status != models.CartReserved {
			continue
		}
		items, err := s.store.GetCartItems(ctx, cart.ID)
		if err != nil {
			s.logger.Error("Failed to load cart items for planogram validation",
				"cart_id", cart.ID, "error", err)
			return false, bus.ReasonNone
		}
		for _, item := range items {
			reservedVariants = append(reservedVariants, item.VariantID)
			if !stagedVariantIDs[item.VariantID] {
				s.logger.Info("Reserved variant is not present in the new planogram",
					"variant_id", item.VariantID)
				return false, bus.ReasonReservedProductAbsent
			}
		}
	}

	current := s.currentLayout()
	for _, variantID := range reservedVariants {
		for unitID := 1; unitID <= s.cfg.MaxUnits; unitID++ {
			currentCount := countSlots(current[unitID], variantID)
			stagedCount := countSlots(staged[unitID], variantID)
			if currentCount > stagedCount {
				s.logger.Info("Reserved variant occupies fewer slots in the new planogram",
					"variant_id", variantID, "unit", unitID,
					"current_slots", currentCount, "new_slots", stagedCount)
				return false, bus.ReasonReservedOccupiesLess
			}
		}
	}
	return true, bus.ReasonNone
}

func countSlots(unit models.UnitLayout, variantID int64) int {
	count := 0
	for _, tray := range unit {
		for _, slot := range tray {
			if slot.VariantID == variantID {
				count++
			}
		}
	}
	return count
}
