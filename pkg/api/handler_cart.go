package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vendkit/kioskd/pkg/bus"
	"github.com/vendkit/kioskd/pkg/cart"
	"github.com/vendkit/kioskd/pkg/models"
)

type cartUpdateRequest struct {
	VariantID int64 `json:"variantId" binding:"required"`
	Amount    int   `json:"amount" binding:"required"`
}

type pickupRequest struct {
	PickupCode string `json:"pickupCode" binding:"required"`
}

// displayID extracts the mandatory displayId header identifying which screen
// the request came from.
func displayID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.GetHeader("displayId"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "displayId header is required"})
		return 0, false
	}
	return id, true
}

// localTransactionID names a cart that has no server transaction yet. One
// local cart per display.
func localTransactionID(displayID int) string {
	return fmt.Sprintf("unassigned#%d", displayID)
}

func (s *Server) handleCartUpdate(c *gin.Context) {
	display, ok := displayID(c)
	if !ok {
		return
	}
	var req cartUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "variantId and amount are required"})
		return
	}
	res, msg := s.carts.Update(localTransactionID(display), display, models.CartLocal, req.VariantID, req.Amount)
	respondResult(c, res, msg)
}

func (s *Server) handleCartClear(c *gin.Context) {
	display, ok := displayID(c)
	if !ok {
		return
	}
	res, msg := s.carts.Clear(localTransactionID(display))
	respondResult(c, res, msg)
}

// handleCheckout starts the payment transaction for the display's cart and
// waits, bounded, for the engine's response so the UI gets a definite answer.
func (s *Server) handleCheckout(c *gin.Context) {
	display, ok := displayID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	cartRow, err := s.store.GetCartByTransaction(ctx, localTransactionID(display))
	if err != nil {
		s.respondError(c, err)
		return
	}

	wait := s.awaitTransaction(cartRow.ID)
	s.bus.Post(bus.Event{
		Type: bus.EventBeginTransactionRequest,
		Body: bus.BeginTransactionRequestPayload{CartID: cartRow.ID},
	})

	select {
	case success := <-wait:
		if !success {
			c.JSON(http.StatusOK, gin.H{"message": string(cart.ResultNOK)})
			return
		}
		updated, err := s.store.GetCart(ctx, cartRow.ID)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message":       string(cart.ResultOK),
			"transactionId": updated.TransactionID,
		})
	case <-time.After(s.cfg.TransactionWaitTimeout):
		s.dropWaiter(cartRow.ID)
		s.logger.Error("Checkout timed out waiting for the transaction response", "cart_id", cartRow.ID)
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "transaction was not confirmed in time"})
	case <-ctx.Done():
		s.dropWaiter(cartRow.ID)
	}
}

// handlePickup dispenses a reserved remote cart identified by its pickup code.
func (s *Server) handlePickup(c *gin.Context) {
	display, ok := displayID(c)
	if !ok {
		return
	}
	var req pickupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pickupCode is required"})
		return
	}

	carts, err := s.store.ListCarts(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	for _, cartRow := range carts {
		if cartRow.Status == models.CartReserved && cartRow.OrderInfo == req.PickupCode {
			res, msg := s.carts.Dispense(cartRow.TransactionID, display)
			respondResult(c, res, msg)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "no reserved order for this code"})
}
