// Package api is the REST surface the touchscreen UI talks to. It exposes
// the catalog, the on-disk brand and UI documents, downloaded media and the
// cart operations, and bridges the checkout flow to the transaction events.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/vendkit/kioskd/pkg/bus"
	"github.com/vendkit/kioskd/pkg/cart"
	"github.com/vendkit/kioskd/pkg/config"
	"github.com/vendkit/kioskd/pkg/models"
	"github.com/vendkit/kioskd/pkg/push"
	"github.com/vendkit/kioskd/pkg/store"
)

// CartService is the cart engine surface the handlers need.
type CartService interface {
	Update(transactionID string, displayID int, cartType models.CartType, variantID int64, amount int) (cart.Result, string)
	Clear(transactionID string) (cart.Result, string)
	Dispense(transactionID string, displayID int) (cart.Result, string)
}

// MachineStatus reports the current machine state.
type MachineStatus interface {
	State() string
}

// Server serves the UI REST API.
type Server struct {
	cfg     *config.APIConfig
	planCfg *config.PlanogramConfig
	bus     *bus.Bus
	store   store.Store
	carts   CartService
	machine MachineStatus
	hub     *push.Hub
	logger  *slog.Logger

	httpSrv *http.Server

	// optional database health probe, set when Postgres backs the store
	healthCheck func(ctx context.Context) (map[string]any, error)

	// checkout requests waiting for their transaction response, by cart id
	mu      sync.Mutex
	waiters map[int64]chan bool
}

// SetHealthCheck attaches the storage health probe reported by /health.
func (s *Server) SetHealthCheck(fn func(ctx context.Context) (map[string]any, error)) {
	s.healthCheck = fn
}

// NewServer wires the REST server and subscribes the transaction response
// bridge. The bus must be started separately.
func NewServer(cfg *config.APIConfig, planCfg *config.PlanogramConfig, b *bus.Bus,
	st store.Store, carts CartService, machine MachineStatus, hub *push.Hub, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		planCfg: planCfg,
		bus:     b,
		store:   st,
		carts:   carts,
		machine: machine,
		hub:     hub,
		logger:  logger.With("component", "api"),
		waiters: make(map[int64]chan bool),
	}
	b.Subscribe(bus.EventBeginTransactionResponse, s.onTransactionResponse)
	return s
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	v1 := r.Group("/api/v1")
	{
		v1.GET("/test", s.handleTest)
		v1.GET("/health", s.handleHealth)
		v1.GET("/brand-info", s.handleBrandInfo)
		v1.GET("/ui-model", s.handleUIModel)
		v1.GET("/media/:filename", s.handleMedia)

		v1.GET("/collections", s.handleListCollections)
		v1.GET("/collections/:id", s.handleGetCollection)
		v1.GET("/products", s.handleListProducts)
		v1.GET("/products/:id", s.handleGetProduct)

		v1.PUT("/cart", s.handleCartUpdate)
		v1.DELETE("/cart", s.handleCartClear)
		v1.POST("/checkout", s.handleCheckout)
		v1.POST("/pickup", s.handlePickup)

		v1.GET("/machine/state", s.handleMachineState)
		v1.POST("/maintenance/login", s.handleMaintenanceLogin)
		v1.GET("/ws", s.handleWS)
	}
	return r
}

// Start serves until Shutdown is called. It blocks; run it in a goroutine
// and collect the error.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.Router(),
	}
	s.logger.Info("REST server listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.logger.Debug("Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status())
	}
}

func (s *Server) onTransactionResponse(ev bus.Event) {
	body, ok := ev.Body.(bus.BeginTransactionResponsePayload)
	if !ok {
		s.logger.Error("Malformed begin_transaction_response event body")
		return
	}
	s.mu.Lock()
	ch, waiting := s.waiters[body.CartID]
	if waiting {
		delete(s.waiters, body.CartID)
	}
	s.mu.Unlock()
	if waiting {
		ch <- body.Success
	}
}

// awaitTransaction registers a waiter for the cart's transaction response.
// The returned channel is buffered; a late response never blocks the bus.
func (s *Server) awaitTransaction(cartID int64) chan bool {
	ch := make(chan bool, 1)
	s.mu.Lock()
	s.waiters[cartID] = ch
	s.mu.Unlock()
	return ch
}

func (s *Server) dropWaiter(cartID int64) {
	s.mu.Lock()
	delete(s.waiters, cartID)
	s.mu.Unlock()
}
