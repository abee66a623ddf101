package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendkit/kioskd/pkg/bus"
)

type client struct {
	t    *testing.T
	conn *websocket.Conn
	ctx  context.Context
}

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(2*time.Second, slog.Default())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		hub.HandleConnection(r.Context(), conn)
	}))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	c := &client{t: t, conn: conn, ctx: ctx}
	// connection.established arrives first
	msg := c.read()
	require.Equal(t, "connection.established", msg["type"])
	require.NotEmpty(t, msg["connection_id"])
	return c
}

func (c *client) send(v any) {
	c.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.Write(c.ctx, websocket.MessageText, data))
}

func (c *client) read() map[string]any {
	c.t.Helper()
	_, data, err := c.conn.Read(c.ctx)
	require.NoError(c.t, err)
	var msg map[string]any
	require.NoError(c.t, json.Unmarshal(data, &msg))
	return msg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s never happened", what)
}

func TestSubscribeAndBroadcast(t *testing.T) {
	hub, srv := newTestHub(t)
	c := dial(t, srv)

	c.send(ClientMessage{Action: "subscribe", Channel: "machine_state_changed"})
	msg := c.read()
	assert.Equal(t, "subscription.confirmed", msg["type"])
	assert.Equal(t, "machine_state_changed", msg["channel"])

	hub.Broadcast("machine_state_changed", []byte(`{"type":"machine_state_changed","data":{"state":"AVAILABLE"}}`))
	msg = c.read()
	assert.Equal(t, "machine_state_changed", msg["type"])
}

func TestBroadcastSkipsOtherChannels(t *testing.T) {
	hub, srv := newTestHub(t)
	c := dial(t, srv)

	c.send(ClientMessage{Action: "subscribe", Channel: "brand_info_updated"})
	msg := c.read()
	require.Equal(t, "subscription.confirmed", msg["type"])

	hub.Broadcast("ui_model_updated", []byte(`{"type":"ui_model_updated"}`))
	hub.Broadcast("brand_info_updated", []byte(`{"type":"brand_info_updated"}`))

	// Only the subscribed channel's message arrives.
	msg = c.read()
	assert.Equal(t, "brand_info_updated", msg["type"])
}

func TestPing(t *testing.T) {
	_, srv := newTestHub(t)
	c := dial(t, srv)

	c.send(ClientMessage{Action: "ping"})
	msg := c.read()
	assert.Equal(t, "pong", msg["type"])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub, srv := newTestHub(t)
	c := dial(t, srv)

	c.send(ClientMessage{Action: "subscribe", Channel: "dispensing_status"})
	msg := c.read()
	require.Equal(t, "subscription.confirmed", msg["type"])
	waitFor(t, "subscription", func() bool { return hub.subscriberCount("dispensing_status") == 1 })

	c.send(ClientMessage{Action: "unsubscribe", Channel: "dispensing_status"})
	waitFor(t, "unsubscription", func() bool { return hub.subscriberCount("dispensing_status") == 0 })

	hub.Broadcast("dispensing_status", []byte(`{"type":"dispensing_status"}`))
	c.send(ClientMessage{Action: "ping"})
	msg = c.read()
	assert.Equal(t, "pong", msg["type"]) // the broadcast was not delivered
}

func TestBroadcastNotStalledBySlowClient(t *testing.T) {
	hub, srv := newTestHub(t)

	stalled := dial(t, srv)
	stalled.send(ClientMessage{Action: "subscribe", Channel: "ui_model_updated"})
	msg := stalled.read()
	require.Equal(t, "subscription.confirmed", msg["type"])
	// stalled stops reading from here on

	live := dial(t, srv)
	live.conn.SetReadLimit(-1)
	live.send(ClientMessage{Action: "subscribe", Channel: "ui_model_updated"})
	msg = live.read()
	require.Equal(t, "subscription.confirmed", msg["type"])
	waitFor(t, "subscriptions", func() bool { return hub.subscriberCount("ui_model_updated") == 2 })

	// Large payloads exhaust the stalled client's transport credit after a
	// few messages; broadcasting must still return immediately.
	payload := []byte(`{"type":"ui_model_updated","data":"` + strings.Repeat("x", 256*1024) + `"}`)
	start := time.Now()
	for i := 0; i < 200; i++ {
		hub.Broadcast("ui_model_updated", payload)
	}
	assert.Less(t, time.Since(start), time.Second)

	// The responsive client keeps receiving.
	msg = live.read()
	assert.Equal(t, "ui_model_updated", msg["type"])
}

func TestDisconnectCleansUp(t *testing.T) {
	hub, srv := newTestHub(t)
	c := dial(t, srv)

	c.send(ClientMessage{Action: "subscribe", Channel: "human_detected"})
	msg := c.read()
	require.Equal(t, "subscription.confirmed", msg["type"])

	require.NoError(t, c.conn.Close(websocket.StatusNormalClosure, ""))
	waitFor(t, "cleanup", func() bool {
		return hub.ActiveConnections() == 0 && hub.subscriberCount("human_detected") == 0
	})
}

func TestBusBridgeForwardsEvents(t *testing.T) {
	hub, srv := newTestHub(t)

	b := bus.NewWithPeriod(slog.Default(), 5*time.Millisecond)
	hub.BindBus(b)
	b.Start()
	t.Cleanup(b.Stop)

	c := dial(t, srv)
	c.send(ClientMessage{Action: "subscribe", Channel: string(bus.EventMachineStateChanged)})
	msg := c.read()
	require.Equal(t, "subscription.confirmed", msg["type"])
	waitFor(t, "subscription", func() bool {
		return hub.subscriberCount(string(bus.EventMachineStateChanged)) == 1
	})

	b.Post(bus.Event{
		Type: bus.EventMachineStateChanged,
		Body: bus.MachineStateChangedPayload{State: "BUSY"},
	})

	msg = c.read()
	assert.Equal(t, string(bus.EventMachineStateChanged), msg["type"])
	data, ok := msg["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "BUSY", data["state"])
}
