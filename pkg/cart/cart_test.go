package cart

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendkit/kioskd/pkg/bus"
	"github.com/vendkit/kioskd/pkg/cloud"
	"github.com/vendkit/kioskd/pkg/config"
	"github.com/vendkit/kioskd/pkg/models"
	"github.com/vendkit/kioskd/pkg/mqtt"
	"github.com/vendkit/kioskd/pkg/store"
)

type fakeDispenser struct {
	mu    sync.Mutex
	busy  bool
	calls int
}

func (d *fakeDispenser) StartDispensing(cartID int64, reservations []models.Reservation) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return !d.busy
}

func (d *fakeDispenser) setBusy(busy bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.busy = busy
}

type fixture struct {
	t         *testing.T
	bus       *bus.Bus
	store     *store.Memory
	engine    *Engine
	dispenser *fakeDispenser
	cfg       *config.CartConfig
	srv       *httptest.Server

	mu             sync.Mutex
	events         []bus.Event
	transactionID  string // returned by the transaction endpoint
	prereservation []map[string]any
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:             t,
		store:         store.NewMemory(),
		dispenser:     &fakeDispenser{},
		transactionID: "srv-tx-1",
	}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.URL.Path {
		case "/transaction":
			_ = json.NewEncoder(w).Encode(map[string]any{"transactionId": f.transactionID})
		case "/prereservation":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.prereservation = append(f.prereservation, body)
			_ = json.NewEncoder(w).Encode(map[string]any{})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.srv.Close)

	cloudCfg := &config.CloudConfig{
		DeviceID:    "dev-1",
		HTTPTimeout: 2 * time.Second,
		Endpoints: map[string]config.EndpointConfig{
			"transaction":    {URL: f.srv.URL + "/transaction"},
			"prereservation": {URL: f.srv.URL + "/prereservation"},
		},
	}

	f.cfg = config.DefaultCartConfig()
	f.cfg.SweepPeriod = 10 * time.Millisecond
	f.cfg.LongSweepTicks = 1000

	f.bus = bus.NewWithPeriod(slog.Default(), 5*time.Millisecond)
	for _, evType := range []bus.EventType{
		bus.EventReservationCompleted, bus.EventBeginTransactionResponse,
	} {
		f.bus.Subscribe(evType, f.record)
	}

	f.engine = New(f.cfg, f.bus, cloud.NewClient(cloudCfg, slog.Default()),
		f.store, f.dispenser, slog.Default())
	return f
}

func (f *fixture) start() {
	require.NoError(f.t, f.engine.Start(context.Background()))
	f.bus.Start()
	f.t.Cleanup(func() {
		f.bus.Stop()
		f.engine.Stop()
	})
}

func (f *fixture) record(ev bus.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fixture) waitForEvent(evType bus.EventType) bus.Event {
	f.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		for _, ev := range f.events {
			if ev.Type == evType {
				f.mu.Unlock()
				return ev
			}
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	f.t.Fatalf("event %s never arrived", evType)
	return bus.Event{}
}

func (f *fixture) waitFor(what string, cond func() bool) {
	f.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	f.t.Fatalf("%s never happened", what)
}

func (f *fixture) addSlot(unit, tray, location int, variantID int64, quantity int) {
	f.t.Helper()
	require.NoError(f.t, f.store.AddInventorySlot(context.Background(), &models.InventorySlot{
		UnitID: unit, TrayNumber: tray, Location: location,
		VariantID: variantID, Width: 1, Depth: 5, Quantity: quantity,
	}))
}

func (f *fixture) reservedTotal(variantID int64) int {
	f.t.Helper()
	reservations, err := f.store.GetReservations(context.Background(), variantID, 0)
	require.NoError(f.t, err)
	total := 0
	for _, r := range reservations {
		total += r.Quantity
	}
	return total
}

func TestLocalCartLifecycle(t *testing.T) {
	f := newFixture(t)
	f.addSlot(1, 1, 1, 100, 5)
	f.start()
	ctx := context.Background()

	res, _ := f.engine.Update("tx-1", 1, models.CartLocal, 100, 2)
	require.Equal(t, ResultOK, res)

	cart, err := f.store.GetCartByTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, models.CartCreated, cart.Status)
	item, err := f.store.GetCartItem(ctx, cart.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, item.Amount)
	assert.Equal(t, 2, f.reservedTotal(100))

	res, _ = f.engine.Dispense("tx-1", 1)
	require.Equal(t, ResultOK, res)
	cart, err = f.store.GetCart(ctx, cart.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CartDispensing, cart.Status)

	f.bus.Post(bus.Event{Type: bus.EventPurchaseFinished, Body: bus.PurchaseFinishedPayload{CartID: cart.ID}})
	f.waitFor("cart removal", func() bool {
		_, err := f.store.GetCart(ctx, cart.ID)
		return errors.Is(err, store.ErrNotFound)
	})
	assert.Equal(t, 0, f.reservedTotal(100))
}

func TestInsufficientStockLeavesNoCart(t *testing.T) {
	f := newFixture(t)
	f.addSlot(1, 1, 1, 100, 1)
	f.start()

	res, _ := f.engine.Update("tx-1", 1, models.CartLocal, 100, 2)
	assert.Equal(t, ResultNOK, res)

	_, err := f.store.GetCartByTransaction(context.Background(), "tx-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 0, f.reservedTotal(100))
}

func TestAddThenRemoveReleasesEverything(t *testing.T) {
	f := newFixture(t)
	f.addSlot(1, 1, 1, 100, 2)
	f.addSlot(1, 1, 2, 100, 2)
	f.start()
	ctx := context.Background()

	res, _ := f.engine.Update("tx-1", 1, models.CartLocal, 100, 3)
	require.Equal(t, ResultOK, res)
	assert.Equal(t, 3, f.reservedTotal(100))

	res, _ = f.engine.Update("tx-1", 1, models.CartLocal, 100, -3)
	require.Equal(t, ResultOK, res)
	assert.Equal(t, 0, f.reservedTotal(100))

	cart, err := f.store.GetCartByTransaction(ctx, "tx-1")
	require.NoError(t, err)
	_, err = f.store.GetCartItem(ctx, cart.ID, 100)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateRejectsBadAmounts(t *testing.T) {
	f := newFixture(t)
	f.addSlot(1, 1, 1, 100, 5)
	f.start()

	res, msg := f.engine.Update("tx-1", 1, models.CartLocal, 100, 0)
	assert.Equal(t, ResultError, res)
	assert.Equal(t, "amount cannot be 0", msg)

	res, _ = f.engine.Update("tx-1", 1, models.CartLocal, 100, 2)
	require.Equal(t, ResultOK, res)
	res, _ = f.engine.Update("tx-1", 1, models.CartLocal, 100, -3)
	assert.Equal(t, ResultError, res)
	assert.Equal(t, 2, f.reservedTotal(100))
}

func TestPrereservationExpires(t *testing.T) {
	f := newFixture(t)
	f.cfg.PrereservationTimeout = 30 * time.Millisecond
	f.addSlot(1, 1, 1, 100, 5)
	f.start()
	ctx := context.Background()

	res, _ := f.engine.Update("rtx-1", 0, models.CartRemote, 100, 1)
	require.Equal(t, ResultOK, res)
	cart, err := f.store.GetCartByTransaction(ctx, "rtx-1")
	require.NoError(t, err)
	assert.Equal(t, models.CartPrereservation, cart.Status)

	ev := f.waitForEvent(bus.EventReservationCompleted)
	body, ok := ev.Body.(bus.ReservationCompletedPayload)
	require.True(t, ok)
	assert.Equal(t, "rtx-1", body.TransactionID)
	assert.Equal(t, string(models.CompletionExpired), body.Status)

	f.waitFor("cart removal", func() bool {
		_, err := f.store.GetCartByTransaction(ctx, "rtx-1")
		return errors.Is(err, store.ErrNotFound)
	})
	assert.Equal(t, 0, f.reservedTotal(100))
}

func TestUpdateRestartsPrereservationWindow(t *testing.T) {
	f := newFixture(t)
	f.cfg.PrereservationTimeout = 120 * time.Millisecond
	f.addSlot(1, 1, 1, 100, 10)
	f.start()
	ctx := context.Background()

	res, _ := f.engine.Update("rtx-1", 0, models.CartRemote, 100, 1)
	require.Equal(t, ResultOK, res)

	// Keep shopping shortly before each deadline; every successful update
	// restarts the expiration window.
	for i := 0; i < 3; i++ {
		time.Sleep(70 * time.Millisecond)
		res, _ = f.engine.Update("rtx-1", 0, models.CartRemote, 100, 1)
		require.Equal(t, ResultOK, res)
	}

	// Well past the original deadline the cart is still alive.
	cart, err := f.store.GetCartByTransaction(ctx, "rtx-1")
	require.NoError(t, err)
	assert.Equal(t, models.CartPrereservation, cart.Status)

	// Without further activity it expires after the last window.
	f.waitFor("cart expiry", func() bool {
		_, err := f.store.GetCartByTransaction(ctx, "rtx-1")
		return errors.Is(err, store.ErrNotFound)
	})
}

func TestProlongRequiresRemotePrereservation(t *testing.T) {
	f := newFixture(t)
	f.addSlot(1, 1, 1, 100, 5)
	f.start()

	res, _ := f.engine.Update("local-tx", 1, models.CartLocal, 100, 1)
	require.Equal(t, ResultOK, res)
	res, _ = f.engine.Prolong("local-tx")
	assert.Equal(t, ResultError, res)

	res, _ = f.engine.Update("rtx-1", 0, models.CartRemote, 100, 1)
	require.Equal(t, ResultOK, res)
	res, _ = f.engine.Prolong("rtx-1")
	assert.Equal(t, ResultOK, res)
}

func TestReserveConfirmsPickup(t *testing.T) {
	f := newFixture(t)
	f.addSlot(1, 1, 1, 100, 5)
	f.start()
	ctx := context.Background()

	res, _ := f.engine.Update("rtx-1", 0, models.CartRemote, 100, 2)
	require.Equal(t, ResultOK, res)
	res, _ = f.engine.Reserve("rtx-1", "4711")
	require.Equal(t, ResultOK, res)

	cart, err := f.store.GetCartByTransaction(ctx, "rtx-1")
	require.NoError(t, err)
	assert.Equal(t, models.CartReserved, cart.Status)
	assert.Equal(t, "4711", cart.OrderInfo)
	assert.Equal(t, models.CheckoutPickup, cart.CheckoutMethod)
	assert.False(t, cart.LockedAt.IsZero())

	res, _ = f.engine.Reserve("local-tx", "0000")
	assert.Equal(t, ResultError, res)
}

func TestBusyDispenserQueuesRequest(t *testing.T) {
	f := newFixture(t)
	f.addSlot(1, 1, 1, 100, 5)
	f.start()
	ctx := context.Background()

	res, _ := f.engine.Update("tx-1", 1, models.CartLocal, 100, 1)
	require.Equal(t, ResultOK, res)
	res, _ = f.engine.Update("tx-2", 2, models.CartLocal, 100, 1)
	require.Equal(t, ResultOK, res)

	res, _ = f.engine.Dispense("tx-1", 1)
	require.Equal(t, ResultOK, res)
	firstCart, err := f.store.GetCartByTransaction(ctx, "tx-1")
	require.NoError(t, err)

	f.dispenser.setBusy(true)
	res, _ = f.engine.Dispense("tx-2", 2)
	require.Equal(t, ResultPending, res)
	second, err := f.store.GetCartByTransaction(ctx, "tx-2")
	require.NoError(t, err)
	assert.NotEqual(t, models.CartDispensing, second.Status)

	f.dispenser.setBusy(false)
	f.bus.Post(bus.Event{Type: bus.EventPurchaseFinished, Body: bus.PurchaseFinishedPayload{CartID: firstCart.ID}})

	f.waitFor("queued dispense", func() bool {
		cart, err := f.store.GetCart(ctx, second.ID)
		return err == nil && cart.Status == models.CartDispensing
	})
}

func TestBeginTransactionAssignsServerID(t *testing.T) {
	f := newFixture(t)
	f.addSlot(1, 1, 1, 100, 5)
	f.start()
	ctx := context.Background()

	res, _ := f.engine.Update("unassigned#1", 1, models.CartLocal, 100, 2)
	require.Equal(t, ResultOK, res)
	cart, err := f.store.GetCartByTransaction(ctx, "unassigned#1")
	require.NoError(t, err)

	f.bus.Post(bus.Event{Type: bus.EventBeginTransactionRequest, Body: bus.BeginTransactionRequestPayload{CartID: cart.ID}})

	ev := f.waitForEvent(bus.EventBeginTransactionResponse)
	body, ok := ev.Body.(bus.BeginTransactionResponsePayload)
	require.True(t, ok)
	assert.Equal(t, cart.ID, body.CartID)
	assert.True(t, body.Success)

	cart, err = f.store.GetCart(ctx, cart.ID)
	require.NoError(t, err)
	assert.Equal(t, "srv-tx-1", cart.TransactionID)
	assert.Equal(t, models.CartCheckout, cart.Status)
}

func TestBeginTransactionFailsForEmptyCart(t *testing.T) {
	f := newFixture(t)
	f.start()
	ctx := context.Background()

	cartID, err := f.store.AddCart(ctx, &models.Cart{TransactionID: "empty-tx", Type: models.CartLocal, Status: models.CartCreated})
	require.NoError(t, err)

	f.bus.Post(bus.Event{Type: bus.EventBeginTransactionRequest, Body: bus.BeginTransactionRequestPayload{CartID: cartID}})

	ev := f.waitForEvent(bus.EventBeginTransactionResponse)
	body, ok := ev.Body.(bus.BeginTransactionResponsePayload)
	require.True(t, ok)
	assert.Equal(t, cartID, body.CartID)
	assert.False(t, body.Success)
}

func TestReservationUpdateReportsOutcome(t *testing.T) {
	f := newFixture(t)
	f.addSlot(1, 1, 1, 100, 1)
	f.start()

	payload, err := json.Marshal(mqtt.ReservationMessage{
		UpdateType:    "update",
		TransactionID: "rtx-1",
		VariantID:     100,
		Amount:        1,
		RequestID:     7,
	})
	require.NoError(t, err)
	f.engine.onReservationTopic(payload)

	f.waitFor("prereservation report", func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.prereservation) == 1
	})
	f.mu.Lock()
	report := f.prereservation[0]
	f.mu.Unlock()
	assert.Equal(t, "rtx-1", report["transactionId"])
	assert.Equal(t, float64(7), report["requestId"])
	assert.Equal(t, true, report["result"])

	// A second unit cannot be reserved, the stock is exhausted.
	payload, err = json.Marshal(mqtt.ReservationMessage{
		UpdateType:    "update",
		TransactionID: "rtx-2",
		VariantID:     100,
		Amount:        1,
		RequestID:     8,
	})
	require.NoError(t, err)
	f.engine.onReservationTopic(payload)

	f.waitFor("second prereservation report", func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.prereservation) == 2
	})
	f.mu.Lock()
	report = f.prereservation[1]
	f.mu.Unlock()
	assert.Equal(t, false, report["result"])
}

func TestRecoveryKeepsLiveCartsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	staleID, err := f.store.AddCart(ctx, &models.Cart{
		TransactionID: "stale-tx", Type: models.CartRemote,
		Status: models.CartReserved, LockedAt: time.Now().Add(-48 * time.Hour),
	})
	require.NoError(t, err)
	liveID, err := f.store.AddCart(ctx, &models.Cart{
		TransactionID: "live-tx", Type: models.CartRemote,
		Status: models.CartReserved, LockedAt: time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)
	checkoutID, err := f.store.AddCart(ctx, &models.Cart{
		TransactionID: "checkout-tx", Type: models.CartLocal,
		Status: models.CartCheckout, LockedAt: time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)
	abandonedID, err := f.store.AddCart(ctx, &models.Cart{
		TransactionID: "abandoned-tx", Type: models.CartLocal,
		Status: models.CartCreated, LockedAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	f.start()

	_, err = f.store.GetCart(ctx, staleID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.store.GetCart(ctx, abandonedID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.store.GetCart(ctx, liveID)
	assert.NoError(t, err)
	_, err = f.store.GetCart(ctx, checkoutID)
	assert.NoError(t, err)
}

func TestReservationsRelocateAfterPlanogramChange(t *testing.T) {
	f := newFixture(t)
	f.addSlot(1, 1, 1, 100, 3)
	f.start()
	ctx := context.Background()

	res, _ := f.engine.Update("rtx-1", 0, models.CartRemote, 100, 2)
	require.Equal(t, ResultOK, res)

	// The variant moves to a different location of the same unit.
	require.NoError(t, f.store.AddInventorySlot(ctx, &models.InventorySlot{
		UnitID: 1, TrayNumber: 1, Location: 3, VariantID: 100, Width: 1, Depth: 5, Quantity: 3,
	}))
	require.NoError(t, f.store.RemoveInventorySlot(ctx, 1, 1, 1))

	f.bus.Post(bus.Event{Type: bus.EventPlanogramUpdateDone})

	f.waitFor("reservation relocation", func() bool {
		reservations, err := f.store.GetReservations(ctx, 100, 0)
		if err != nil || len(reservations) != 1 {
			return false
		}
		return reservations[0].Location == 3 && reservations[0].Quantity == 2
	})
}
