// internal/handler/websocket_test.go
package handler

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cash-device-service/internal/model"
)

func TestClientSubscriptions(t *testing.T) {
	c := newClient("c1", nil, "", "", "coin-1")
	assert.True(t, c.Wants("coin-1"))
	assert.False(t, c.Wants("bill-1"))

	c.Subscribe(allDevices)
	assert.True(t, c.Wants("bill-1"))
	assert.Equal(t, []string{"*", "coin-1"}, c.Subscriptions())

	c.Unsubscribe(allDevices)
	assert.Empty(t, c.Subscriptions())
	assert.False(t, c.Wants("coin-1"))
}

func TestClientEnqueueAfterClose(t *testing.T) {
	c := newClient("c1", nil, "", "")
	assert.True(t, c.enqueue([]byte("x")))
	c.close()
	c.close()
	assert.False(t, c.enqueue([]byte("y")))
}

func TestConnectionManagerRouting(t *testing.T) {
	cm := NewConnectionManager()
	coin := newClient("a", nil, "", "", "coin-1")
	all := newClient("b", nil, "", "", allDevices)
	cm.Register(coin)
	cm.Register(all)

	assert.Len(t, cm.Subscribers("coin-1"), 2)
	assert.Len(t, cm.Subscribers("bill-1"), 1)

	stats := cm.GetStats()
	assert.Equal(t, 2, stats.TotalConnections)
	assert.Equal(t, 1, stats.ByDevice["coin-1"])

	cm.Unregister(coin)
	assert.Len(t, cm.All(), 1)
	_, open := <-coin.Send
	assert.False(t, open)
}

func TestListenerNames(t *testing.T) {
	tests := []struct {
		event model.EventType
		want  string
	}{
		{model.EventCoin, "onCoin"},
		{model.EventBill, "onBill"},
		{model.EventDispense, "onDispense"},
		{model.EventLifecycle, "onLifecycle"},
		{model.EventFault, "onFault"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, listenerName(tt.event))
		})
	}
}

func dial(t *testing.T, f *fixture, path string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var welcome WebSocketMessage
	require.NoError(t, conn.ReadJSON(&welcome))
	require.Equal(t, "welcome", welcome.Type)
	return conn
}

func readType(t *testing.T, conn *websocket.Conn, want string) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] == want {
			return msg
		}
	}
}

func TestWebSocketCommandAndEvents(t *testing.T) {
	f := newFixture(t)
	defer f.close()
	conn := dial(t, f, "/ws?device_id=bill-1")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "command", DeviceID: "bill-1", Command: "connect", RequestID: "r1"}))
	reply := readType(t, conn, "command_response")
	assert.Equal(t, "r1", reply["request_id"])
	assert.Equal(t, float64(200), reply["data"].(map[string]interface{})["status_code"])

	f.ws.BroadcastEvent(model.DeviceEvent{DeviceID: "coin-1", Type: model.EventCoin})
	f.ws.BroadcastEvent(model.DeviceEvent{DeviceID: "bill-1", Type: model.EventBill, StatusCode: 301})
	bill := readType(t, conn, "onBill")
	assert.Equal(t, "bill-1", bill["device_id"])

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "subscribe", DeviceID: "nope", RequestID: "r2"}))
	errMsg := readType(t, conn, "error")
	assert.Equal(t, "r2", errMsg["request_id"])
}

func TestWebSocketUnknownDevice(t *testing.T) {
	f := newFixture(t)
	defer f.close()

	w, _ := f.do("GET", "/ws/devices/nope", "")
	assert.Equal(t, 404, w.Code)
}
