package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"license-server/internal/events"
)

func dialFeed(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(url, "http") + "/stats/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestStatsFeed(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	ts := httptest.NewServer(env.server.Handler())
	t.Cleanup(ts.Close)

	conn := dialFeed(t, ts.URL)
	hello := readJSON(t, conn)
	assert.Equal(t, "CONNECTED", hello["type"])

	require.Eventually(t, func() bool {
		return env.server.Hub().GetClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	env.bus.Publish(events.New(events.EventLicenseGenerated, map[string]interface{}{"count": 2}))

	msg := readJSON(t, conn)
	assert.Equal(t, string(events.EventLicenseGenerated), msg["type"])
	assert.Equal(t, float64(2), msg["data"].(map[string]any)["count"])

	conn.Close()
	assert.Eventually(t, func() bool {
		return env.server.Hub().GetClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewWSHub(zerolog.Nop())
	go hub.Run()
	t.Cleanup(hub.Stop)

	slow := &WSClient{send: make(chan []byte), hub: hub}
	hub.register <- slow
	require.Eventually(t, func() bool {
		return hub.GetClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	hub.BroadcastEvent(events.New(events.EventStatsUpdated, nil))

	assert.Eventually(t, func() bool {
		return hub.GetClientCount() == 0
	}, time.Second, 10*time.Millisecond)

	_, open := <-slow.send
	assert.False(t, open)
}

func TestHubStopClosesClients(t *testing.T) {
	hub := NewWSHub(zerolog.Nop())
	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	client := &WSClient{send: make(chan []byte, 1), hub: hub}
	hub.register <- client

	hub.Stop()
	hub.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	_, open := <-client.send
	assert.False(t, open)
}
