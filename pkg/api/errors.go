package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vendkit/kioskd/pkg/cart"
	"github.com/vendkit/kioskd/pkg/store"
)

// respondError maps storage errors to HTTP responses.
func (s *Server) respondError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
		return
	}
	s.logger.Error("Unexpected error", "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

// respondResult maps a cart operation outcome. A business denial is not an
// HTTP error; the UI distinguishes it by the message.
func respondResult(c *gin.Context, res cart.Result, message string) {
	switch res {
	case cart.ResultOK, cart.ResultNOK, cart.ResultPending:
		c.JSON(http.StatusOK, gin.H{"message": string(res)})
	default:
		if message == "" {
			message = "internal error"
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": message})
	}
}
