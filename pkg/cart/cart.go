// Package cart drives local and remote shopping carts through their
// lifecycle: reservation arithmetic over inventory, expiration timers,
// transaction initiation and the remote reservation protocol. Every cart
// mutation runs on a single worker goroutine; the public API enqueues a
// command and waits for its reply.
package cart

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/vendkit/kioskd/pkg/bus"
	"github.com/vendkit/kioskd/pkg/cloud"
	"github.com/vendkit/kioskd/pkg/config"
	"github.com/vendkit/kioskd/pkg/models"
	"github.com/vendkit/kioskd/pkg/mqtt"
	"github.com/vendkit/kioskd/pkg/store"
)

// Result is the outcome of a cart operation.
type Result string

const (
	ResultOK      Result = "OK"      // success
	ResultNOK     Result = "NOK"     // business denial, e.g. insufficient stock
	ResultPending Result = "PENDING" // dispensing queued behind busy hardware
	ResultError   Result = "ERROR"   // internal failure or malformed request
)

// Dispenser starts the physical dispensing of a cart's reservations.
// StartDispensing returns false when the hardware is busy; the engine then
// queues the request and retries after the current purchase finishes.
type Dispenser interface {
	StartDispensing(cartID int64, reservations []models.Reservation) bool
}

type opResult struct {
	result  Result
	message string
}

type expirationItem struct {
	id       int64
	deadline time.Time
}

type pendingDispense struct {
	cartID       int64
	reservations []models.Reservation
}

const queueCapacity = 128

// Engine is the cart and reservation worker.
type Engine struct {
	cfg       *config.CartConfig
	bus       *bus.Bus
	cloud     *cloud.Client
	store     store.Store
	dispenser Dispenser
	logger    *slog.Logger

	queue    chan func()
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// expiration state, worker-owned
	shortExp       []expirationItem
	reservationExp []expirationItem
	orderHistExp   []expirationItem
	pending        []pendingDispense
	sweepTicks     int
}

// New creates the engine. dispenser may be nil when no hardware is attached;
// dispensing then succeeds immediately.
func New(cfg *config.CartConfig, b *bus.Bus, cl *cloud.Client, st store.Store, dispenser Dispenser, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		bus:       b,
		cloud:     cl,
		store:     st,
		dispenser: dispenser,
		logger:    logger.With("component", "cart"),
		queue:     make(chan func(), queueCapacity),
		stopCh:    make(chan struct{}),
	}
}

// Start runs the startup recovery pass, subscribes the bus events and
// launches the worker with its expiration sweeper.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.recover(ctx); err != nil {
		return err
	}

	e.bus.Subscribe(bus.EventPlanogramUpdateDone, e.busHandler)
	e.bus.Subscribe(bus.EventPurchaseFinished, e.busHandler)
	e.bus.Subscribe(bus.EventBeginTransactionRequest, e.busHandler)

	e.wg.Add(1)
	go e.run()
	e.logger.Info("Cart engine started")
	return nil
}

// Stop terminates the worker. Queued commands are dropped; blocked API
// callers receive ERROR.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
	e.wg.Wait()
	e.logger.Info("Cart engine stopped")
}

// BindTopics registers the inbound transaction and reservation handlers.
func (e *Engine) BindTopics(sub *mqtt.Subscriber) {
	sub.RegisterHandler(mqtt.TopicTransaction, e.onTransactionTopic)
	sub.RegisterHandler(mqtt.TopicReservation, e.onReservationTopic)
}

func (e *Engine) run() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.SweepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case cmd := <-e.queue:
			cmd()
		case <-ticker.C:
			e.sweep()
		}
	}
}

func (e *Engine) enqueue(cmd func()) bool {
	select {
	case e.queue <- cmd:
		return true
	case <-e.stopCh:
		return false
	}
}

// call runs op on the worker and waits for its reply.
func (e *Engine) call(op func() opResult) (Result, string) {
	reply := make(chan opResult, 1)
	if !e.enqueue(func() { reply <- op() }) {
		return ResultError, "engine is stopped"
	}
	select {
	case res := <-reply:
		return res.result, res.message
	case <-e.stopCh:
		return ResultError, "engine is stopped"
	}
}

// Update creates the cart on first use and reserves (amount > 0) or cancels
// (amount < 0) items of the variant. amount 0 is rejected.
func (e *Engine) Update(transactionID string, displayID int, cartType models.CartType, variantID int64, amount int) (Result, string) {
	return e.call(func() opResult {
		return e.update(context.Background(), transactionID, displayID, cartType, variantID, amount)
	})
}

// Clear cancels the cart's timers and removes the cart with its items and
// reservations.
func (e *Engine) Clear(transactionID string) (Result, string) {
	return e.call(func() opResult {
		return e.clear(context.Background(), transactionID)
	})
}

// Prolong restarts the prereservation window of a REMOTE cart.
func (e *Engine) Prolong(transactionID string) (Result, string) {
	return e.call(func() opResult {
		return e.prolong(context.Background(), transactionID)
	})
}

// Reserve confirms a REMOTE cart for later pickup.
func (e *Engine) Reserve(transactionID, orderInfo string) (Result, string) {
	return e.call(func() opResult {
		return e.reserve(context.Background(), transactionID, orderInfo)
	})
}

// Dispense starts dispensing the cart, queueing the request when the
// hardware is busy.
func (e *Engine) Dispense(transactionID string, displayID int) (Result, string) {
	return e.call(func() opResult {
		return e.dispense(context.Background(), transactionID, displayID)
	})
}

// busHandler runs on the bus dispatcher; work is forwarded to the worker.
func (e *Engine) busHandler(ev bus.Event) {
	switch ev.Type {
	case bus.EventPlanogramUpdateDone:
		e.enqueue(func() { e.relocateReservations(context.Background()) })
	case bus.EventPurchaseFinished:
		body, ok := ev.Body.(bus.PurchaseFinishedPayload)
		if !ok {
			e.logger.Error("Malformed purchase_finished event body")
			return
		}
		e.enqueue(func() { e.handlePurchaseFinished(context.Background(), body.CartID) })
	case bus.EventBeginTransactionRequest:
		body, ok := ev.Body.(bus.BeginTransactionRequestPayload)
		if !ok {
			e.logger.Error("Malformed begin_transaction_request event body")
			return
		}
		e.enqueue(func() { e.beginTransaction(context.Background(), body.CartID) })
	}
}

func (e *Engine) onTransactionTopic(payload []byte) {
	var msg mqtt.TransactionMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		e.logger.Error("Malformed transaction notification", "error", err)
		return
	}
	e.enqueue(func() {
		ctx := context.Background()
		if msg.Status == "PAYMENT_SUCCESS" {
			e.dispense(ctx, msg.TransactionID, 0)
		} else {
			e.clear(ctx, msg.TransactionID)
		}
	})
}

func (e *Engine) onReservationTopic(payload []byte) {
	var msg mqtt.ReservationMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		e.logger.Error("Malformed reservation notification", "error", err)
		return
	}
	switch msg.UpdateType {
	case "update":
		e.enqueue(func() {
			e.processReservationUpdate(context.Background(),
				msg.TransactionID, msg.VariantID, msg.Amount, msg.RequestID)
		})
	case "cancel":
		e.enqueue(func() { e.clear(context.Background(), msg.TransactionID) })
	case "prolong":
		e.enqueue(func() { e.prolong(context.Background(), msg.TransactionID) })
	case "confirm":
		e.enqueue(func() { e.reserve(context.Background(), msg.TransactionID, msg.PickupCode) })
	default:
		e.logger.Warn("Unknown reservation update type", "update_type", msg.UpdateType)
	}
}
