package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regime-backtest-lab/internal/eventbus"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStream_ForwardsRunCompleted(t *testing.T) {
	s, stores := newTestServer(t)
	seedBars(t, stores, "AAA", 100, 101, 102)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	waitFor(t, func() bool { return s.Hub().Clients() == 1 })
	assert.Equal(t, 1.0, testutil.ToFloat64(s.app.Metrics.StreamClients))

	_, err = s.app.Runner.Run(context.Background(), "AAA", day0, day0.AddDate(0, 0, 10), 1_000_000)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var e struct {
		Topic   string         `json:"topic"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg, &e))
	assert.Equal(t, eventbus.TopicRunCompleted, e.Topic)
	assert.Equal(t, "AAA", e.Payload["instrument"])
}

func TestStream_DisconnectUpdatesClients(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	waitFor(t, func() bool { return s.Hub().Clients() == 1 })
	conn.Close()
	waitFor(t, func() bool { return s.Hub().Clients() == 0 })
}

func TestHub_BroadcastDropsWhenQueueFull(t *testing.T) {
	h := NewHub(HubOptions{Buffer: 1})
	c := &client{send: make(chan []byte, 1)}
	require.True(t, h.add(c))

	h.Broadcast([]byte("a"))
	h.Broadcast([]byte("b")) // queue full, dropped

	assert.Equal(t, []byte("a"), <-c.send)
	select {
	case m := <-c.send:
		t.Fatalf("unexpected message %q", m)
	default:
	}
}

func TestHub_CloseUnsubscribes(t *testing.T) {
	bus := eventbus.New(eventbus.Options{})
	h := NewHub(HubOptions{Bus: bus})
	require.Equal(t, 1, bus.Subscribers(eventbus.TopicRunCompleted))

	h.Close()
	assert.Equal(t, 0, bus.Subscribers(eventbus.TopicRunCompleted))
	assert.False(t, h.add(&client{send: make(chan []byte, 1)}))

	// Close is idempotent
	h.Close()
}
