package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendkit/kioskd/pkg/bus"
	"github.com/vendkit/kioskd/pkg/cart"
	"github.com/vendkit/kioskd/pkg/cloud"
	"github.com/vendkit/kioskd/pkg/config"
	"github.com/vendkit/kioskd/pkg/models"
	"github.com/vendkit/kioskd/pkg/store"
)

type stubMachine struct {
	state string
}

func (m *stubMachine) State() string { return m.state }

type fixture struct {
	t       *testing.T
	bus     *bus.Bus
	store   *store.Memory
	engine  *cart.Engine
	machine *stubMachine
	planCfg *config.PlanogramConfig
	api     *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		store:   store.NewMemory(),
		machine: &stubMachine{state: "AVAILABLE"},
	}

	cloudSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"transactionId": "srv-tx-1"})
	}))
	t.Cleanup(cloudSrv.Close)

	cloudCfg := &config.CloudConfig{
		DeviceID:    "dev-1",
		HTTPTimeout: 2 * time.Second,
		Endpoints: map[string]config.EndpointConfig{
			"transaction":    {URL: cloudSrv.URL + "/transaction"},
			"prereservation": {URL: cloudSrv.URL + "/prereservation"},
		},
	}

	cartCfg := config.DefaultCartConfig()
	cartCfg.SweepPeriod = 50 * time.Millisecond

	f.planCfg = config.DefaultPlanogramConfig()
	f.planCfg.DataDir = t.TempDir()
	f.planCfg.ImageDir = filepath.Join(f.planCfg.DataDir, "images")

	f.bus = bus.NewWithPeriod(slog.Default(), 5*time.Millisecond)
	f.engine = cart.New(cartCfg, f.bus, cloud.NewClient(cloudCfg, slog.Default()),
		f.store, nil, slog.Default())

	apiCfg := config.DefaultAPIConfig()
	apiCfg.TransactionWaitTimeout = 2 * time.Second
	server := NewServer(apiCfg, f.planCfg, f.bus, f.store, f.engine, f.machine, nil, slog.Default())

	require.NoError(t, f.engine.Start(context.Background()))
	f.bus.Start()
	t.Cleanup(func() {
		f.bus.Stop()
		f.engine.Stop()
	})

	f.api = httptest.NewServer(server.Router())
	t.Cleanup(f.api.Close)
	return f
}

func (f *fixture) addSlot(variantID int64, quantity int) {
	f.t.Helper()
	require.NoError(f.t, f.store.AddInventorySlot(context.Background(), &models.InventorySlot{
		UnitID: 1, TrayNumber: 1, Location: 1,
		VariantID: variantID, Width: 1, Depth: 5, Quantity: quantity,
	}))
}

func (f *fixture) do(method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.api.URL+path, &buf)
	require.NoError(f.t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

var display1 = map[string]string{"displayId": "1"}

func TestLiveness(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(http.MethodGet, "/api/v1/test", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", body["message"])
}

func TestCartRequiresDisplayHeader(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(http.MethodPut, "/api/v1/cart",
		map[string]any{"variantId": 100, "amount": 1}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCartUpdateOutcomes(t *testing.T) {
	f := newFixture(t)
	f.addSlot(100, 1)

	resp, body := f.do(http.MethodPut, "/api/v1/cart",
		map[string]any{"variantId": 100, "amount": 1}, display1)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", body["message"])

	// Stock is exhausted; the denial still travels as 200.
	resp, body = f.do(http.MethodPut, "/api/v1/cart",
		map[string]any{"variantId": 100, "amount": 1}, display1)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "NOK", body["message"])

	resp, _ = f.do(http.MethodDelete, "/api/v1/cart", nil, display1)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, err := f.store.GetCartByTransaction(context.Background(), "unassigned#1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCheckoutReturnsServerTransaction(t *testing.T) {
	f := newFixture(t)
	f.addSlot(100, 5)

	resp, _ := f.do(http.MethodPut, "/api/v1/cart",
		map[string]any{"variantId": 100, "amount": 2}, display1)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.do(http.MethodPost, "/api/v1/checkout", nil, display1)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", body["message"])
	assert.Equal(t, "srv-tx-1", body["transactionId"])

	cartRow, err := f.store.GetCartByTransaction(context.Background(), "srv-tx-1")
	require.NoError(t, err)
	assert.Equal(t, models.CartCheckout, cartRow.Status)
}

func TestCheckoutWithoutCart(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(http.MethodPost, "/api/v1/checkout", nil, display1)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPickupDispensesReservedCart(t *testing.T) {
	f := newFixture(t)
	f.addSlot(100, 5)

	res, _ := f.engine.Update("rtx-1", 0, models.CartRemote, 100, 1)
	require.Equal(t, cart.ResultOK, res)
	res, _ = f.engine.Reserve("rtx-1", "4711")
	require.Equal(t, cart.ResultOK, res)

	resp, _ := f.do(http.MethodPost, "/api/v1/pickup",
		map[string]any{"pickupCode": "0000"}, display1)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := f.do(http.MethodPost, "/api/v1/pickup",
		map[string]any{"pickupCode": "4711"}, display1)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", body["message"])

	cartRow, err := f.store.GetCartByTransaction(context.Background(), "rtx-1")
	require.NoError(t, err)
	assert.Equal(t, models.CartDispensing, cartRow.Status)
	assert.Equal(t, 1, cartRow.DisplayID)
}

func TestCatalogEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mediaID, err := f.store.AddMedia(ctx, &models.Media{Filename: "cola.png", LastUpdate: 1})
	require.NoError(t, err)
	require.NoError(t, f.store.AddProduct(ctx, &models.Product{
		ID: 10, LastUpdate: 1, Type: "drink",
		Name: models.LocalizedText{"en": "Cola"}, VariantIDs: []int64{100, 101},
	}))
	require.NoError(t, f.store.AddVariant(ctx, &models.Variant{ID: 100, ProductID: 10, Price: 250, MediaID: mediaID}))
	require.NoError(t, f.store.AddVariant(ctx, &models.Variant{ID: 101, ProductID: 10, Price: 300, Deleted: true}))
	require.NoError(t, f.store.AddCollection(ctx, &models.Collection{
		ID: 20, LastUpdate: 1, Name: models.LocalizedText{"en": "Drinks"}, ProductIDs: []int64{10},
	}))

	resp, body := f.do(http.MethodGet, "/api/v1/products/10", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	variants, ok := body["variants"].([]any)
	require.True(t, ok)
	require.Len(t, variants, 1) // the deleted variant is filtered out
	variant := variants[0].(map[string]any)
	assert.Equal(t, "/api/v1/media/cola.png", variant["image_url"])

	resp, _ = f.do(http.MethodGet, "/api/v1/products/999", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = f.do(http.MethodGet, "/api/v1/collections/20", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(20), body["id"])
}

func TestDocumentsAndMedia(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(http.MethodGet, "/api/v1/brand-info", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	brandPath := filepath.Join(f.planCfg.DataDir, f.planCfg.BrandInfoFilename)
	require.NoError(t, os.WriteFile(brandPath, []byte(`{"name":"VendKit"}`), 0o644))
	resp, body := f.do(http.MethodGet, "/api/v1/brand-info", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "VendKit", body["name"])

	require.NoError(t, os.MkdirAll(f.planCfg.ImageDir, 0o755))
	imgPath := filepath.Join(f.planCfg.ImageDir, "cola.png")
	require.NoError(t, os.WriteFile(imgPath, []byte("image-bytes"), 0o644))
	resp, _ = f.do(http.MethodGet, "/api/v1/media/cola.png", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(http.MethodGet, "/api/v1/media/missing.png", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMaintenanceLogin(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.AddUser(context.Background(), &models.User{
		Name: "tech", Password: "s3cret", AccessLevel: models.AccessAdmin,
	}))

	resp, body := f.do(http.MethodPost, "/api/v1/maintenance/login",
		map[string]any{"username": "tech", "password": "s3cret"}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(models.AccessAdmin), body["access_level"])

	resp, _ = f.do(http.MethodPost, "/api/v1/maintenance/login",
		map[string]any{"username": "tech", "password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(http.MethodPost, "/api/v1/maintenance/login",
		map[string]any{"username": "ghost", "password": "s3cret"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMachineState(t *testing.T) {
	f := newFixture(t)
	f.machine.state = "MAINTENANCE"
	resp, body := f.do(http.MethodGet, "/api/v1/machine/state", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MAINTENANCE", body["state"])
}
