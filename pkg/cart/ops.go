package cart

import (
	"context"
	"errors"
	"time"

	"github.com/vendkit/kioskd/pkg/models"
	"github.com/vendkit/kioskd/pkg/store"
)

// Timer helpers. The expiration lists are worker-owned; an item is one
// (id, deadline) pair checked by the periodic sweep.

func (e *Engine) armShort(cartID int64, d time.Duration) {
	e.shortExp = append(e.shortExp, expirationItem{id: cartID, deadline: time.Now().Add(d)})
}

func (e *Engine) restartPrereservation(cartID int64) {
	e.cancelShort(cartID)
	e.armShort(cartID, e.cfg.PrereservationTimeout)
}

func (e *Engine) cancelShort(cartID int64) {
	for i, item := range e.shortExp {
		if item.id == cartID {
			e.shortExp = append(e.shortExp[:i], e.shortExp[i+1:]...)
			return
		}
	}
}

func (e *Engine) armReservation(cartID int64, d time.Duration) {
	e.reservationExp = append(e.reservationExp, expirationItem{id: cartID, deadline: time.Now().Add(d)})
}

func (e *Engine) cancelReservationTimer(cartID int64) {
	for i, item := range e.reservationExp {
		if item.id == cartID {
			e.reservationExp = append(e.reservationExp[:i], e.reservationExp[i+1:]...)
			return
		}
	}
}

func (e *Engine) armOrderHistory(recordID int64) {
	e.orderHistExp = append(e.orderHistExp, expirationItem{
		id:       recordID,
		deadline: time.Now().Add(e.cfg.OrderHistoryTimeout.Duration()),
	})
}

// doReservation claims amount units of the variant for the cart. The free
// stock check runs over all carts; the slot walk consumes free quantity in
// storage order, merging with an existing reservation per slot.
func (e *Engine) doReservation(ctx context.Context, cartID, variantID int64, amount int) (bool, error) {
	slots, err := e.store.GetInventoryByVariant(ctx, variantID)
	if err != nil {
		return false, err
	}
	reservations, err := e.store.GetReservations(ctx, variantID, 0)
	if err != nil {
		return false, err
	}

	stock := 0
	for _, slot := range slots {
		stock += slot.Quantity
	}
	reserved := 0
	for _, r := range reservations {
		reserved += r.Quantity
	}
	if stock == 0 || stock-reserved < amount {
		return false, nil
	}

	for _, slot := range slots {
		atSlot := 0
		for _, r := range reservations {
			if r.UnitID == slot.UnitID && r.Location == slot.Location {
				atSlot += r.Quantity
			}
		}
		free := slot.Quantity - atSlot
		if free <= 0 {
			continue
		}
		take := free
		if amount < take {
			take = amount
		}
		err := e.store.AddOrUpdateReservation(ctx, &models.Reservation{
			CartID:    cartID,
			VariantID: variantID,
			UnitID:    slot.UnitID,
			Location:  slot.Location,
			Quantity:  take,
		})
		if err != nil {
			return false, err
		}
		amount -= take
		if amount == 0 {
			break
		}
	}
	return true, nil
}

// cancelReservation releases amount units of the cart's reservations for the
// variant, removing or decrementing them in storage order.
func (e *Engine) cancelReservation(ctx context.Context, cartID, variantID int64, amount int) error {
	reservations, err := e.store.GetReservations(ctx, variantID, cartID)
	if err != nil {
		return err
	}
	for _, r := range reservations {
		switch {
		case r.Quantity == amount:
			return e.store.RemoveReservation(ctx, r.ID)
		case r.Quantity < amount:
			if err := e.store.RemoveReservation(ctx, r.ID); err != nil {
				return err
			}
			amount -= r.Quantity
		default:
			r.Quantity -= amount
			return e.store.UpdateReservation(ctx, &r)
		}
		if amount <= 0 {
			return nil
		}
	}
	return nil
}

func (e *Engine) update(ctx context.Context, transactionID string, displayID int, cartType models.CartType, variantID int64, amount int) opResult {
	e.logger.Debug("Handling cart update", "transaction_id", transactionID,
		"variant_id", variantID, "amount", amount)
	if amount == 0 {
		e.logger.Warn("Requested cart update with zero amount", "transaction_id", transactionID)
		return opResult{ResultError, "amount cannot be 0"}
	}

	isNewCart := false
	cart, err := e.store.GetCartByTransaction(ctx, transactionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		status := models.CartCreated
		if cartType == models.CartRemote {
			status = models.CartPrereservation
		}
		cart = &models.Cart{
			DisplayID:     displayID,
			TransactionID: transactionID,
			Type:          cartType,
			Status:        status,
		}
		cart.ID, err = e.store.AddCart(ctx, cart)
		if err != nil {
			e.logger.Error("Failed to create cart", "transaction_id", transactionID, "error", err)
			return opResult{ResultError, "internal error"}
		}
		isNewCart = true
		if cart.Status == models.CartPrereservation {
			e.armShort(cart.ID, e.cfg.PrereservationTimeout)
		}
	case err != nil:
		e.logger.Error("Failed to load cart", "transaction_id", transactionID, "error", err)
		return opResult{ResultError, "internal error"}
	}

	item, err := e.store.GetCartItem(ctx, cart.ID, variantID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		e.logger.Error("Failed to load cart item", "cart_id", cart.ID, "error", err)
		return opResult{ResultError, "internal error"}
	}

	result := opResult{ResultOK, ""}
	switch {
	case item != nil && amount > 0:
		ok, err := e.doReservation(ctx, cart.ID, variantID, amount)
		if err != nil {
			e.logger.Error("Reservation failed", "cart_id", cart.ID, "error", err)
			result = opResult{ResultError, "internal error"}
			break
		}
		if !ok {
			e.logger.Warn("Failed to increase items in the cart",
				"cart_id", cart.ID, "variant_id", variantID, "amount", amount)
			result = opResult{ResultNOK, ""}
			break
		}
		item.Amount += amount
		if err := e.store.UpdateCartItem(ctx, item); err != nil {
			e.logger.Error("Failed to update cart item", "cart_id", cart.ID, "error", err)
			result = opResult{ResultError, "internal error"}
		}

	case item != nil: // amount < 0
		removing := -amount
		if item.Amount < removing {
			e.logger.Warn("Requested to remove more items than the cart contains",
				"cart_id", cart.ID, "variant_id", variantID)
			result = opResult{ResultError, "requested amount is more than reserved"}
			break
		}
		if err := e.cancelReservation(ctx, cart.ID, variantID, removing); err != nil {
			e.logger.Error("Failed to cancel reservation", "cart_id", cart.ID, "error", err)
			result = opResult{ResultError, "internal error"}
			break
		}
		if item.Amount > removing {
			item.Amount -= removing
			err = e.store.UpdateCartItem(ctx, item)
		} else {
			err = e.store.RemoveCartItem(ctx, cart.ID, variantID)
		}
		if err != nil {
			e.logger.Error("Failed to write cart item", "cart_id", cart.ID, "error", err)
			result = opResult{ResultError, "internal error"}
		}

	case amount > 0: // no item yet
		ok, err := e.doReservation(ctx, cart.ID, variantID, amount)
		if err != nil {
			e.logger.Error("Reservation failed", "cart_id", cart.ID, "error", err)
			result = opResult{ResultError, "internal error"}
			break
		}
		if !ok {
			e.logger.Warn("Failed to add items to the cart",
				"cart_id", cart.ID, "variant_id", variantID, "amount", amount)
			result = opResult{ResultNOK, ""}
			break
		}
		err = e.store.AddCartItem(ctx, &models.CartItem{
			CartID: cart.ID, VariantID: variantID, Amount: amount,
		})
		if err != nil {
			e.logger.Error("Failed to add cart item", "cart_id", cart.ID, "error", err)
			result = opResult{ResultError, "internal error"}
		}

	default: // amount < 0, nothing to remove
		e.logger.Warn("Requested to remove items that were never added",
			"cart_id", cart.ID, "variant_id", variantID)
		result = opResult{ResultError, "cannot remove not yet added items"}
	}

	if isNewCart && result.result != ResultOK {
		// First update failed, do not keep an empty cart around.
		if err := e.store.RemoveCart(ctx, cart.ID); err != nil {
			e.logger.Error("Failed to remove empty cart", "cart_id", cart.ID, "error", err)
		}
		e.cancelShort(cart.ID)
		return result
	}

	if !isNewCart && cart.Status == models.CartPrereservation && result.result == ResultOK {
		e.restartPrereservation(cart.ID)
	}
	return result
}

func (e *Engine) clear(ctx context.Context, transactionID string) opResult {
	e.logger.Debug("Handling cart clear", "transaction_id", transactionID)
	cart, err := e.store.GetCartByTransaction(ctx, transactionID)
	if errors.Is(err, store.ErrNotFound) {
		e.logger.Warn("Trying to clear a cart that does not exist", "transaction_id", transactionID)
		return opResult{ResultError, "cart is not found"}
	}
	if err != nil {
		e.logger.Error("Failed to load cart", "transaction_id", transactionID, "error", err)
		return opResult{ResultError, "internal error"}
	}
	e.cancelShort(cart.ID)
	if cart.Type == models.CartRemote {
		e.cancelReservationTimer(cart.ID)
	}
	if err := e.store.RemoveCart(ctx, cart.ID); err != nil {
		e.logger.Error("Failed to remove cart", "cart_id", cart.ID, "error", err)
		return opResult{ResultError, "internal error"}
	}
	return opResult{ResultOK, ""}
}

func (e *Engine) prolong(ctx context.Context, transactionID string) opResult {
	e.logger.Debug("Handling cart prolong", "transaction_id", transactionID)
	cart, err := e.store.GetCartByTransaction(ctx, transactionID)
	if errors.Is(err, store.ErrNotFound) {
		e.logger.Warn("Trying to prolong a cart that does not exist", "transaction_id", transactionID)
		return opResult{ResultError, "cart is not found"}
	}
	if err != nil {
		e.logger.Error("Failed to load cart", "transaction_id", transactionID, "error", err)
		return opResult{ResultError, "internal error"}
	}
	if cart.Type != models.CartRemote || cart.Status != models.CartPrereservation {
		e.logger.Warn("Cart has wrong type or state to prolong",
			"cart_id", cart.ID, "type", cart.Type, "status", cart.Status)
		return opResult{ResultError, "wrong cart type or state to prolong"}
	}
	e.restartPrereservation(cart.ID)
	return opResult{ResultOK, ""}
}

func (e *Engine) reserve(ctx context.Context, transactionID, orderInfo string) opResult {
	e.logger.Debug("Handling cart reserve", "transaction_id", transactionID)
	cart, err := e.store.GetCartByTransaction(ctx, transactionID)
	if errors.Is(err, store.ErrNotFound) {
		e.logger.Info("Trying to reserve a cart that does not exist", "transaction_id", transactionID)
		return opResult{ResultError, "cart is not found"}
	}
	if err != nil {
		e.logger.Error("Failed to load cart", "transaction_id", transactionID, "error", err)
		return opResult{ResultError, "internal error"}
	}
	if cart.Type != models.CartRemote {
		e.logger.Warn("Trying to reserve a cart that is not remote", "cart_id", cart.ID)
		return opResult{ResultError, "wrong cart type to reserve"}
	}
	e.cancelShort(cart.ID)
	cart.OrderInfo = orderInfo
	cart.CheckoutMethod = models.CheckoutPickup
	cart.Status = models.CartReserved
	cart.LockedAt = time.Now()
	if err := e.store.UpdateCart(ctx, cart); err != nil {
		e.logger.Error("Failed to update cart", "cart_id", cart.ID, "error", err)
		return opResult{ResultError, "internal error"}
	}
	e.armReservation(cart.ID, e.cfg.ReservationTimeout.Duration())
	return opResult{ResultOK, ""}
}

func (e *Engine) dispense(ctx context.Context, transactionID string, displayID int) opResult {
	e.logger.Debug("Handling cart dispense", "transaction_id", transactionID)
	cart, err := e.store.GetCartByTransaction(ctx, transactionID)
	if errors.Is(err, store.ErrNotFound) {
		e.logger.Warn("Trying to dispense a cart that does not exist", "transaction_id", transactionID)
		return opResult{ResultError, "cart is not found"}
	}
	if err != nil {
		e.logger.Error("Failed to load cart", "transaction_id", transactionID, "error", err)
		return opResult{ResultError, "internal error"}
	}
	items, err := e.store.GetCartItems(ctx, cart.ID)
	if err != nil {
		e.logger.Error("Failed to load cart items", "cart_id", cart.ID, "error", err)
		return opResult{ResultError, "internal error"}
	}
	if len(items) == 0 {
		e.logger.Warn("Trying to dispense an empty cart", "cart_id", cart.ID)
		return opResult{ResultError, "cart is empty"}
	}

	e.cancelShort(cart.ID)
	if cart.Type == models.CartRemote {
		e.cancelReservationTimer(cart.ID)
		// The display is recorded so dispensing progress can be shown there.
		cart.DisplayID = displayID
		if err := e.store.UpdateCart(ctx, cart); err != nil {
			e.logger.Error("Failed to update cart", "cart_id", cart.ID, "error", err)
			return opResult{ResultError, "internal error"}
		}
	}

	reservations, err := e.store.GetReservationsByCart(ctx, cart.ID)
	if err != nil {
		e.logger.Error("Failed to load reservations", "cart_id", cart.ID, "error", err)
		return opResult{ResultError, "internal error"}
	}

	if e.dispenser != nil && !e.dispenser.StartDispensing(cart.ID, reservations) {
		e.logger.Info("Dispensing hardware is busy, request queued",
			"cart_id", cart.ID, "transaction_id", transactionID)
		e.pending = append(e.pending, pendingDispense{cartID: cart.ID, reservations: reservations})
		return opResult{ResultPending, ""}
	}

	cart.Status = models.CartDispensing
	if err := e.store.UpdateCart(ctx, cart); err != nil {
		e.logger.Error("Failed to update cart", "cart_id", cart.ID, "error", err)
		return opResult{ResultError, "internal error"}
	}
	return opResult{ResultOK, ""}
}
