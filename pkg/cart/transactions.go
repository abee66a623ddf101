package cart

import (
	"context"
	"errors"
	"time"

	"github.com/vendkit/kioskd/pkg/bus"
	"github.com/vendkit/kioskd/pkg/cloud"
	"github.com/vendkit/kioskd/pkg/models"
	"github.com/vendkit/kioskd/pkg/store"
)

// beginTransaction posts the cart contents to the cloud transaction API and,
// on success, assigns the returned transaction id and opens the checkout
// window. begin_transaction_response is emitted on both outcomes so the UI
// never waits blind.
func (e *Engine) beginTransaction(ctx context.Context, cartID int64) {
	success := false
	defer func() {
		e.bus.Post(bus.Event{
			Type: bus.EventBeginTransactionResponse,
			Body: bus.BeginTransactionResponsePayload{CartID: cartID, Success: success},
		})
	}()

	cart, err := e.store.GetCart(ctx, cartID)
	if err != nil {
		e.logger.Error("Trying to begin transaction but failed to find the cart",
			"cart_id", cartID, "error", err)
		return
	}
	items, err := e.store.GetCartItems(ctx, cartID)
	if err != nil {
		e.logger.Error("Failed to load cart items", "cart_id", cartID, "error", err)
		return
	}
	if len(items) == 0 {
		e.logger.Error("Trying to begin transaction for an empty cart", "cart_id", cartID)
		return
	}

	products := make([]map[string]any, 0, len(items))
	for _, item := range items {
		products = append(products, map[string]any{"id": item.VariantID, "qty": item.Amount})
	}
	resp, err := e.cloud.PostWithResponse(ctx, "transaction", map[string]any{
		"deviceId": "",
		"products": products,
	})
	if err != nil {
		cloud.LogError(e.logger, "begin transaction", err)
		return
	}
	transactionID, ok := resp["transactionId"].(string)
	if !ok || transactionID == "" {
		e.logger.Error("Transaction response carries no transaction id", "cart_id", cartID)
		return
	}

	cart.TransactionID = transactionID
	cart.Status = models.CartCheckout
	cart.LockedAt = time.Now()
	if err := e.store.UpdateCart(ctx, cart); err != nil {
		e.logger.Error("Failed to update cart", "cart_id", cartID, "error", err)
		return
	}
	e.armShort(cartID, e.cfg.ExpirationTimeout)
	e.logger.Info("Transaction started", "cart_id", cartID, "transaction_id", transactionID)
	success = true
}

// handlePurchaseFinished terminalizes the cart after dispensing completed
// and gives a queued dispense request its turn.
func (e *Engine) handlePurchaseFinished(ctx context.Context, cartID int64) {
	e.logger.Debug("Processing purchase finished", "cart_id", cartID)
	cart, err := e.store.GetCart(ctx, cartID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		e.logger.Warn("Purchase finished but the cart is gone", "cart_id", cartID)
	case err != nil:
		e.logger.Error("Failed to load cart", "cart_id", cartID, "error", err)
	default:
		if cart.Type == models.CartRemote {
			e.bus.Post(bus.Event{
				Type: bus.EventReservationCompleted,
				Body: bus.ReservationCompletedPayload{
					TransactionID: cart.TransactionID,
					Status:        string(models.CompletionDispensed),
				},
			})
			e.writeOrderHistory(ctx, cart, models.CompletionDispensed)
		}
		if err := e.store.RemoveCart(ctx, cart.ID); err != nil {
			e.logger.Error("Failed to remove cart", "cart_id", cart.ID, "error", err)
		}
	}

	if len(e.pending) > 0 {
		item := e.pending[0]
		e.pending = e.pending[1:]
		e.enqueue(func() { e.processPendingDispense(context.Background(), item) })
	}
}

// processPendingDispense retries a dispense request that was queued behind
// busy hardware.
func (e *Engine) processPendingDispense(ctx context.Context, item pendingDispense) {
	e.logger.Debug("Processing pending dispense", "cart_id", item.cartID)
	cart, err := e.store.GetCart(ctx, item.cartID)
	if err != nil {
		e.logger.Error("Trying to dispense a pending cart that does not exist",
			"cart_id", item.cartID, "error", err)
		return
	}
	if e.dispenser != nil && !e.dispenser.StartDispensing(cart.ID, item.reservations) {
		e.logger.Info("Dispensing hardware still busy, request re-queued", "cart_id", cart.ID)
		e.pending = append(e.pending, item)
		return
	}
	cart.Status = models.CartDispensing
	if err := e.store.UpdateCart(ctx, cart); err != nil {
		e.logger.Error("Failed to update cart", "cart_id", cart.ID, "error", err)
	}
}

// processReservationUpdate applies a remote cart update and reports the
// outcome back through the prereservation API.
func (e *Engine) processReservationUpdate(ctx context.Context, transactionID string, variantID int64, amount int, requestID int64) {
	res := e.update(ctx, transactionID, 0, models.CartRemote, variantID, amount)
	err := e.cloud.Post(ctx, "prereservation", map[string]any{
		"deviceId":      "",
		"transactionId": transactionID,
		"requestId":     requestID,
		"result":        res.result == ResultOK,
	})
	if err != nil {
		cloud.LogError(e.logger, "post prereservation result", err)
	}
}

func (e *Engine) writeOrderHistory(ctx context.Context, cart *models.Cart, status models.CompletionStatus) {
	recordID, err := e.store.AddOrderHistory(ctx, &models.OrderHistoryRecord{
		TransactionID:    cart.TransactionID,
		OrderInfo:        cart.OrderInfo,
		CompletionStatus: status,
		CreatedAt:        time.Now(),
	})
	if err != nil {
		e.logger.Error("Failed to write order history record",
			"transaction_id", cart.TransactionID, "error", err)
		return
	}
	e.armOrderHistory(recordID)
}
