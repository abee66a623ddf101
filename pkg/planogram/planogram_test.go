package planogram

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendkit/kioskd/pkg/bus"
	"github.com/vendkit/kioskd/pkg/cloud"
	"github.com/vendkit/kioskd/pkg/config"
	"github.com/vendkit/kioskd/pkg/models"
	"github.com/vendkit/kioskd/pkg/store"
)

type fixture struct {
	t     *testing.T
	bus   *bus.Bus
	store *store.Memory
	sync  *Synchronizer
	srv   *httptest.Server

	mu        sync.Mutex
	events    []bus.Event
	planogram map[string]any
	brand     map[string]any
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t, store: store.NewMemory()}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case r.URL.Path == "/planogram":
			_ = json.NewEncoder(w).Encode(f.planogram)
		case r.URL.Path == "/brand":
			_ = json.NewEncoder(w).Encode(f.brand)
		default:
			_, _ = w.Write([]byte("image-bytes"))
		}
	}))
	t.Cleanup(f.srv.Close)

	cloudCfg := &config.CloudConfig{
		DeviceID:    "dev-1",
		HTTPTimeout: 2 * time.Second,
		Endpoints: map[string]config.EndpointConfig{
			"planogram":  {URL: f.srv.URL + "/planogram"},
			"product":    {URL: f.srv.URL + "/product"},
			"collection": {URL: f.srv.URL + "/collection"},
			"brand":      {URL: f.srv.URL + "/brand"},
		},
	}
	planCfg := config.DefaultPlanogramConfig()
	planCfg.MaxUnits = 1
	planCfg.DataDir = t.TempDir()
	planCfg.ImageDir = filepath.Join(planCfg.DataDir, "images")

	f.bus = bus.NewWithPeriod(slog.Default(), 5*time.Millisecond)
	for _, evType := range []bus.EventType{
		bus.EventNewPlanogramAvailable, bus.EventPlanogramIsUpToDate,
		bus.EventPlanogramUpdateDone, bus.EventPlanogramUpdateFailed,
		bus.EventBrandInfoUpdated, bus.EventUIModelUpdated,
	} {
		f.bus.Subscribe(evType, f.record)
	}

	f.sync = New(planCfg, f.bus, cloud.NewClient(cloudCfg, slog.Default()), f.store, slog.Default())
	return f
}

func (f *fixture) start() {
	require.NoError(f.t, f.sync.Start(context.Background()))
	f.bus.Start()
	f.t.Cleanup(func() {
		f.bus.Stop()
		f.sync.Stop()
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

func (f *fixture) sawEvent(evType bus.EventType) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range f.events {
		if ev.Type == evType {
			return true
		}
	}
	return false
}

func (f *fixture) servePlanogram(doc map[string]any) {
	f.mu.Lock()
	f.planogram = doc
	f.mu.Unlock()
}

func (f *fixture) serveBrand(doc map[string]any) {
	f.mu.Lock()
	f.brand = doc
	f.mu.Unlock()
}

func planogramDoc(slots []map[string]any, productVariantIDs ...int64) map[string]any {
	products := make([]any, 0, len(productVariantIDs))
	for _, id := range productVariantIDs {
		products = append(products, map[string]any{
			"id": id, "last_update": 1, "product_type": "drink",
			"tags": []any{}, "localization": []any{},
			"variants": []any{map[string]any{
				"id": id, "price": 250, "price_cmp": 0,
				"price_fmt": "2.50", "price_cmp_fmt": "",
				"deleted": false, "last_update": 1,
				"image":        map[string]any{"url": "", "last_update": 1},
				"localization": []any{}, "options": []any{},
			}},
		})
	}
	traySlots := make([]any, 0, len(slots))
	for _, s := range slots {
		traySlots = append(traySlots, s)
	}
	return map[string]any{
		"planogram": map[string]any{
			"stocks": []any{map[string]any{
				"number": 1,
				"trays":  []any{map[string]any{"number": 1, "slots": traySlots}},
			}},
		},
		"collections": []any{},
		"products":    products,
		"uiModel":     map[string]any{"last_updated": 1, "profiles": map[string]any{}},
	}
}

func slotDoc(location int, variantID int64, width int) map[string]any {
	return map[string]any{"number": location, "width": width, "depth": 1, "variantId": variantID}
}

func addSlot(t *testing.T, st *store.Memory, unit, tray, loc int, variantID int64, qty int) {
	t.Helper()
	require.NoError(t, st.AddInventorySlot(context.Background(), &models.InventorySlot{
		UnitID: unit, TrayNumber: tray, Location: loc,
		VariantID: variantID, Width: 1, Depth: 1, Quantity: qty,
	}))
}

func TestReshuffleStagedThenApplied(t *testing.T) {
	f := newFixture(t)
	addSlot(t, f.store, 1, 1, 1, 100, 3)
	f.start()
	assert.True(t, f.sync.IsPlanogramSet())

	// Variant 100 moves from location 1 to location 3.
	f.servePlanogram(planogramDoc([]map[string]any{slotDoc(3, 100, 1)}, 100))
	f.sync.onPlanogramTopic([]byte(`{}`))

	ev := f.waitForEvent(bus.EventNewPlanogramAvailable)
	payload := ev.Body.(bus.NewPlanogramAvailablePayload)
	assert.True(t, payload.Status)

	f.bus.Post(bus.Event{Type: bus.EventNewPlanogramApply})
	f.waitForEvent(bus.EventPlanogramUpdateDone)

	slots, err := f.store.GetInventory(context.Background())
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, 3, slots[0].Location)
	assert.Equal(t, int64(100), slots[0].VariantID)
	assert.Equal(t, 0, slots[0].Quantity)
}

func TestQuantityPreservedWhenVariantUnchanged(t *testing.T) {
	f := newFixture(t)
	addSlot(t, f.store, 1, 1, 1, 100, 3)
	f.start()

	// Same slot, wider: layout differs but the variant stays put.
	f.servePlanogram(planogramDoc([]map[string]any{slotDoc(1, 100, 2)}, 100))
	f.sync.onPlanogramTopic([]byte(`{}`))
	f.waitForEvent(bus.EventNewPlanogramAvailable)

	f.bus.Post(bus.Event{Type: bus.EventNewPlanogramApply})
	f.waitForEvent(bus.EventPlanogramUpdateDone)

	slots, err := f.store.GetInventory(context.Background())
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, 2, slots[0].Width)
	assert.Equal(t, 3, slots[0].Quantity)
}

func TestIdenticalPlanogramIsUpToDate(t *testing.T) {
	f := newFixture(t)
	addSlot(t, f.store, 1, 1, 1, 100, 3)
	f.start()

	f.servePlanogram(planogramDoc([]map[string]any{slotDoc(1, 100, 1)}, 100))
	f.sync.onPlanogramTopic([]byte(`{}`))

	f.waitForEvent(bus.EventPlanogramIsUpToDate)
	assert.False(t, f.sawEvent(bus.EventNewPlanogramAvailable))

	slots, err := f.store.GetInventory(context.Background())
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, 3, slots[0].Quantity)
}

func TestRejectionWhenReservedVariantAbsent(t *testing.T) {
	f := newFixture(t)
	addSlot(t, f.store, 1, 1, 1, 100, 3)
	ctx := context.Background()
	cartID, err := f.store.AddCart(ctx, &models.Cart{
		TransactionID: "X", Type: models.CartRemote, Status: models.CartPrereservation,
	})
	require.NoError(t, err)
	require.NoError(t, f.store.AddCartItem(ctx, &models.CartItem{CartID: cartID, VariantID: 100, Amount: 1}))
	f.start()

	// New planogram drops variant 100 entirely.
	f.servePlanogram(planogramDoc([]map[string]any{slotDoc(1, 200, 1)}, 200))
	f.sync.onPlanogramTopic([]byte(`{}`))

	ev := f.waitForEvent(bus.EventNewPlanogramAvailable)
	payload := ev.Body.(bus.NewPlanogramAvailablePayload)
	assert.False(t, payload.Status)
	assert.Equal(t, bus.ReasonReservedProductAbsent, payload.Reason)

	// Staged buffers stay until an explicit apply or reject.
	slots, err := f.store.GetInventory(ctx)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, int64(100), slots[0].VariantID)
}

func TestRejectDiscardsStagedPlanogram(t *testing.T) {
	f := newFixture(t)
	addSlot(t, f.store, 1, 1, 1, 100, 3)
	f.start()

	f.servePlanogram(planogramDoc([]map[string]any{slotDoc(3, 100, 1)}, 100))
	f.sync.onPlanogramTopic([]byte(`{}`))
	f.waitForEvent(bus.EventNewPlanogramAvailable)

	f.bus.Post(bus.Event{Type: bus.EventNewPlanogramReject})
	f.bus.Post(bus.Event{Type: bus.EventNewPlanogramApply})
	time.Sleep(100 * time.Millisecond)

	assert.False(t, f.sawEvent(bus.EventPlanogramUpdateDone))
	slots, err := f.store.GetInventory(context.Background())
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, 1, slots[0].Location)
}

func TestProductDeleteMarksVariants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.AddProduct(ctx, &models.Product{ID: 7, VariantIDs: []int64{70, 71}}))
	require.NoError(t, f.store.AddVariant(ctx, &models.Variant{ID: 70, ProductID: 7}))
	require.NoError(t, f.store.AddVariant(ctx, &models.Variant{ID: 71, ProductID: 7}))
	f.start()

	f.sync.onProductTopic([]byte(`{"update_type":"delete","product_id":7}`))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		v, err := f.store.GetVariant(ctx, 70)
		require.NoError(t, err)
		if v.Deleted {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	v, err := f.store.GetVariant(ctx, 71)
	require.NoError(t, err)
	assert.True(t, v.Deleted)
}

func TestBrandUpdateWritesDocumentWithLocalLogoURL(t *testing.T) {
	f := newFixture(t)
	f.start()
	f.serveBrand(map[string]any{
		"lastUpdate": 5, "logoId": 2,
		"logoUrl": f.srv.URL + "/images/logo.png",
		"name":    "ACME",
	})

	f.sync.onBrandTopic([]byte(`{"lastUpdate":5}`))
	f.waitForEvent(bus.EventBrandInfoUpdated)

	raw, err := os.ReadFile(filepath.Join(f.sync.cfg.DataDir, f.sync.cfg.BrandInfoFilename))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, f.sync.cfg.LocalImageURLPrefix+"logo.png", doc["logoUrl"])
	assert.Equal(t, "ACME", doc["name"])

	// Stale notification is ignored.
	f.sync.onBrandTopic([]byte(`{"lastUpdate":4}`))
	time.Sleep(50 * time.Millisecond)
	f.mu.Lock()
	brandEvents := 0
	for _, ev := range f.events {
		if ev.Type == bus.EventBrandInfoUpdated {
			brandEvents++
		}
	}
	f.mu.Unlock()
	assert.Equal(t, 1, brandEvents)
}

func TestWorkerQueueAbsorbsBursts(t *testing.T) {
	f := newFixture(t)
	f.start()

	var mu sync.Mutex
	done := 0
	total := 4 * queueCapacity
	for i := 0; i < total; i++ {
		f.sync.enqueue(func() {
			mu.Lock()
			done++
			mu.Unlock()
		})
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := done
		mu.Unlock()
		if n == total {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("only %d of %d commands ran", done, total)
}
