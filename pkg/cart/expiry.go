package cart

import (
	"context"
	"errors"
	"time"

	"github.com/vendkit/kioskd/pkg/bus"
	"github.com/vendkit/kioskd/pkg/models"
	"github.com/vendkit/kioskd/pkg/store"
)

// sweep runs on the worker every SweepPeriod. The short list is checked on
// every tick; the reservation and order history lists every LongSweepTicks
// ticks. Each list collects its expired items into its own local slice
// before erasing.
func (e *Engine) sweep() {
	ctx := context.Background()
	now := time.Now()

	var expiredShort []expirationItem
	for _, item := range e.shortExp {
		if now.After(item.deadline) {
			e.expireShort(ctx, item)
			expiredShort = append(expiredShort, item)
		}
	}
	e.shortExp = removeItems(e.shortExp, expiredShort)

	e.sweepTicks++
	if e.sweepTicks < e.cfg.LongSweepTicks {
		return
	}
	e.sweepTicks = 0

	var expiredReservations []expirationItem
	for _, item := range e.reservationExp {
		if now.After(item.deadline) {
			e.expireReservation(ctx, item)
			expiredReservations = append(expiredReservations, item)
		}
	}
	e.reservationExp = removeItems(e.reservationExp, expiredReservations)

	var expiredRecords []expirationItem
	for _, item := range e.orderHistExp {
		if now.After(item.deadline) {
			if err := e.store.RemoveOrderHistory(ctx, item.id); err != nil {
				e.logger.Error("Failed to remove order history record", "record_id", item.id, "error", err)
			} else {
				e.logger.Debug("Order history record expired and cleared", "record_id", item.id)
			}
			expiredRecords = append(expiredRecords, item)
		}
	}
	e.orderHistExp = removeItems(e.orderHistExp, expiredRecords)
}

func (e *Engine) expireShort(ctx context.Context, item expirationItem) {
	cart, err := e.store.GetCart(ctx, item.id)
	if err != nil {
		e.logger.Warn("Cart expired but it is not in the store", "cart_id", item.id, "error", err)
		return
	}
	if cart.Status == models.CartPrereservation {
		e.bus.Post(bus.Event{
			Type: bus.EventReservationCompleted,
			Body: bus.ReservationCompletedPayload{
				TransactionID: cart.TransactionID,
				Status:        string(models.CompletionExpired),
			},
		})
	}
	if err := e.store.RemoveCart(ctx, cart.ID); err != nil {
		e.logger.Error("Failed to remove expired cart", "cart_id", cart.ID, "error", err)
		return
	}
	e.logger.Debug("Cart expired and cleared",
		"cart_id", cart.ID, "transaction_id", cart.TransactionID)
}

func (e *Engine) expireReservation(ctx context.Context, item expirationItem) {
	cart, err := e.store.GetCart(ctx, item.id)
	if err != nil {
		e.logger.Warn("Remote cart expired but it is not in the store", "cart_id", item.id, "error", err)
		return
	}
	e.bus.Post(bus.Event{
		Type: bus.EventReservationCompleted,
		Body: bus.ReservationCompletedPayload{
			TransactionID: cart.TransactionID,
			Status:        string(models.CompletionExpired),
		},
	})
	e.writeOrderHistory(ctx, cart, models.CompletionExpired)
	if err := e.store.RemoveCart(ctx, cart.ID); err != nil {
		e.logger.Error("Failed to remove expired cart", "cart_id", cart.ID, "error", err)
		return
	}
	e.logger.Debug("Remote cart expired and cleared",
		"cart_id", cart.ID, "transaction_id", cart.TransactionID)
}

func removeItems(list, gone []expirationItem) []expirationItem {
	if len(gone) == 0 {
		return list
	}
	goneIDs := make(map[int64]bool, len(gone))
	for _, item := range gone {
		goneIDs[item.id] = true
	}
	kept := list[:0]
	for _, item := range list {
		if !goneIDs[item.id] {
			kept = append(kept, item)
		}
	}
	return kept
}

// recover rebuilds the expiration lists after a restart. Carts still inside
// their window are re-armed for the remaining time; everything else is
// removed.
func (e *Engine) recover(ctx context.Context) error {
	carts, err := e.store.ListCarts(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, cart := range carts {
		passed := now.Sub(cart.LockedAt)
		switch {
		case cart.Type == models.CartRemote && cart.Status == models.CartReserved &&
			passed < e.cfg.ReservationTimeout.Duration():
			remaining := e.cfg.ReservationTimeout.Duration() - passed
			e.armReservation(cart.ID, remaining)
			e.logger.Debug("Remote cart re-armed after restart",
				"cart_id", cart.ID, "transaction_id", cart.TransactionID, "remaining", remaining)
		case cart.Status == models.CartCheckout && passed < e.cfg.ExpirationTimeout:
			remaining := e.cfg.ExpirationTimeout - passed
			e.armShort(cart.ID, remaining)
			e.logger.Debug("Checkout cart re-armed after restart",
				"cart_id", cart.ID, "transaction_id", cart.TransactionID, "remaining", remaining)
		default:
			if err := e.store.RemoveCart(ctx, cart.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			e.logger.Debug("Obsolete cart cleared after restart",
				"cart_id", cart.ID, "transaction_id", cart.TransactionID)
		}
	}

	records, err := e.store.ListOrderHistory(ctx)
	if err != nil {
		return err
	}
	retention := e.cfg.OrderHistoryTimeout.Duration()
	for _, rec := range records {
		passed := now.Sub(rec.CreatedAt)
		if passed < retention {
			e.orderHistExp = append(e.orderHistExp, expirationItem{
				id:       rec.ID,
				deadline: now.Add(retention - passed),
			})
			continue
		}
		if err := e.store.RemoveOrderHistory(ctx, rec.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		e.logger.Debug("Obsolete order history record cleared after restart", "record_id", rec.ID)
	}
	return nil
}

// relocateReservations runs after a planogram commit. For every cart's
// reservations of a variant: the first pass marks locations that survived;
// the second pass moves each stranded reservation to the first free location
// of the same unit. A reservation that cannot be placed breaks the data
// model invariant and is logged as critical.
func (e *Engine) relocateReservations(ctx context.Context) {
	carts, err := e.store.ListCarts(ctx)
	if err != nil {
		e.logger.Error("Failed to list carts for relocation", "error", err)
		return
	}
	locationsByVariant := make(map[int64]map[int][]int)

	for _, cart := range carts {
		items, err := e.store.GetCartItems(ctx, cart.ID)
		if err != nil {
			e.logger.Error("Failed to load cart items for relocation", "cart_id", cart.ID, "error", err)
			return
		}
		for _, item := range items {
			variantID := item.VariantID
			locations, cached := locationsByVariant[variantID]
			if !cached {
				slots, err := e.store.GetInventoryByVariant(ctx, variantID)
				if err != nil {
					e.logger.Error("Failed to load inventory for relocation",
						"variant_id", variantID, "error", err)
					return
				}
				locations = make(map[int][]int)
				for _, slot := range slots {
					locations[slot.UnitID] = append(locations[slot.UnitID], slot.Location)
				}
				locationsByVariant[variantID] = locations
			}

			reservations, err := e.store.GetReservations(ctx, variantID, cart.ID)
			if err != nil {
				e.logger.Error("Failed to load reservations for relocation",
					"cart_id", cart.ID, "error", err)
				return
			}

			used := make(map[int]bool)
			for _, r := range reservations {
				unitLocations, present := locations[r.UnitID]
				if !present {
					e.logger.Error("CRITICAL: reservations and inventory are out of sync",
						"variant_id", variantID, "unit", r.UnitID)
					continue
				}
				if containsInt(unitLocations, r.Location) {
					used[r.Location] = true
				}
			}
			for _, r := range reservations {
				unitLocations := locations[r.UnitID]
				if containsInt(unitLocations, r.Location) {
					continue
				}
				relocated := false
				for _, loc := range unitLocations {
					if used[loc] {
						continue
					}
					r := r
					r.Location = loc
					if err := e.store.UpdateReservation(ctx, &r); err != nil {
						e.logger.Error("Failed to relocate reservation",
							"reservation_id", r.ID, "error", err)
						break
					}
					used[loc] = true
					relocated = true
					e.logger.Debug("Reservation relocated", "cart_id", cart.ID,
						"variant_id", variantID, "unit", r.UnitID, "location", loc)
					break
				}
				if !relocated {
					e.logger.Error("CRITICAL: failed to relocate reserved variant",
						"variant_id", variantID, "unit", r.UnitID, "location", r.Location)
				}
			}
		}
	}
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
