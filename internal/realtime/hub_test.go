package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func runHub(t *testing.T) *Hub {
	t.Helper()
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

// testClient registers a connectionless client and returns it.
func testClient(t *testing.T, h *Hub, f Filter) *client {
	t.Helper()
	c := newClient(h, nil, f)
	h.register <- c
	require.Eventually(t, func() bool { return h.Stats().ConnectedClients > 0 }, time.Second, 5*time.Millisecond)
	return c
}

func receive(t *testing.T, c *client) *Event {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		require.True(t, ok, "client channel closed")
		var ev Event
		require.NoError(t, json.Unmarshal(msg, &ev))
		return &ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

// ---------------------------------------------------------------------------
// Filter tests
// ---------------------------------------------------------------------------

func TestFilter_ZeroMatchesEverything(t *testing.T) {
	m := compile(Filter{})
	assert.True(t, m.match(&Event{Type: EventReputationUpdated, UserID: "u1", TontineID: "t1"}))
	assert.True(t, m.match(&Event{Type: EventBadgeRevoked}))
}

func TestFilter_Dimensions(t *testing.T) {
	m := compile(Filter{
		TontineIDs: []string{"t-1"},
		Events:     []EventType{EventBadgeEarned, EventLevelChanged},
	})

	assert.True(t, m.match(&Event{Type: EventBadgeEarned, UserID: "u", TontineID: "t-1"}))
	assert.True(t, m.match(&Event{Type: EventLevelChanged, UserID: "v", TontineID: "t-1"}))
	assert.False(t, m.match(&Event{Type: EventBadgeEarned, UserID: "u", TontineID: "t-2"}))
	assert.False(t, m.match(&Event{Type: EventReputationUpdated, UserID: "u", TontineID: "t-1"}))

	users := compile(Filter{UserIDs: []string{"user-1"}})
	assert.True(t, users.match(&Event{Type: EventReputationUpdated, UserID: "user-1", TontineID: "t-9"}))
	assert.False(t, users.match(&Event{Type: EventReputationUpdated, UserID: "user-2", TontineID: "t-9"}))
}

func TestFilterFromQuery(t *testing.T) {
	q, err := url.ParseQuery("tontineId=t1&tontineId=t2&userId=u1&event=level_changed")
	require.NoError(t, err)

	f := FilterFromQuery(q)
	assert.Equal(t, []string{"t1", "t2"}, f.TontineIDs)
	assert.Equal(t, []string{"u1"}, f.UserIDs)
	assert.Equal(t, []EventType{EventLevelChanged}, f.Events)

	assert.Equal(t, Filter{}, FilterFromQuery(url.Values{}))
}

// ---------------------------------------------------------------------------
// Hub tests
// ---------------------------------------------------------------------------

func TestHub_StatsInitial(t *testing.T) {
	assert.Equal(t, Stats{}, testHub().Stats())
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := runHub(t)
	c := testClient(t, h, Filter{})

	stats := h.Stats()
	assert.Equal(t, 1, stats.ConnectedClients)
	assert.Equal(t, int64(1), stats.PeakClients)

	h.unregister <- c
	require.Eventually(t, func() bool { return h.Stats().ConnectedClients == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), h.Stats().PeakClients, "peak survives disconnects")

	_, ok := <-c.send
	assert.False(t, ok, "send channel closed on unregister")
}

func TestHub_PublishToSubscriber(t *testing.T) {
	h := runHub(t)
	c := testClient(t, h, Filter{UserIDs: []string{"user-1"}})

	h.Publish(string(EventReputationUpdated), "user-2", "t-1", map[string]interface{}{"totalScore": 610})
	h.Publish(string(EventLevelChanged), "user-1", "t-1", map[string]interface{}{"to": "platinum"})

	ev := receive(t, c)
	assert.Equal(t, EventLevelChanged, ev.Type, "other members' updates are filtered")
	assert.Equal(t, "user-1", ev.UserID)
	assert.Equal(t, "t-1", ev.TontineID)

	require.Eventually(t, func() bool { return h.Stats().TotalEvents == 2 }, time.Second, 5*time.Millisecond)
}

func TestHub_SlowClientIsDisconnected(t *testing.T) {
	h := runHub(t)
	c := testClient(t, h, Filter{})

	for i := 0; i < sendBuffer+1; i++ {
		h.fanOut(&Event{Type: EventReputationUpdated})
	}

	assert.Equal(t, 0, h.Stats().ConnectedClients)
	assert.True(t, c.enqueue([]byte("{}")), "enqueue after close is a no-op")
}

func TestHub_BroadcastDropsWhenQueueFull(t *testing.T) {
	h := testHub() // not running, so nothing drains the queue
	for i := 0; i < broadcastQueue+3; i++ {
		h.Publish(string(EventReputationUpdated), "u", "t", nil)
	}
	assert.Equal(t, int64(3), h.Stats().DroppedEvents)
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	c := testClient(t, h, Filter{})

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after context cancellation")
	}
	_, ok := <-c.send
	assert.False(t, ok)
}

// ---------------------------------------------------------------------------
// WebSocket tests
// ---------------------------------------------------------------------------

func dial(t *testing.T, srvURL, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srvURL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHandleWebSocket_FilterAndResubscribe(t *testing.T) {
	h := runHub(t)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	conn := dial(t, srv.URL, "tontineId=t1")
	ack := read(t, conn)
	assert.Equal(t, EventSubscribed, ack.Type)
	require.Eventually(t, func() bool { return h.Stats().ConnectedClients == 1 }, time.Second, 5*time.Millisecond)

	h.Publish(string(EventReputationUpdated), "u1", "t2", nil)
	h.Publish(string(EventBadgeEarned), "u1", "t1", map[string]interface{}{"badge": "clean_record"})

	ev := read(t, conn)
	assert.Equal(t, EventBadgeEarned, ev.Type)
	assert.Equal(t, "t1", ev.TontineID)

	require.NoError(t, conn.WriteJSON(Filter{TontineIDs: []string{"t2"}}))
	ack = read(t, conn)
	assert.Equal(t, EventSubscribed, ack.Type)

	h.Publish(string(EventReputationUpdated), "u1", "t1", nil)
	h.Publish(string(EventReputationUpdated), "u2", "t2", nil)
	ev = read(t, conn)
	assert.Equal(t, "t2", ev.TontineID)
	assert.Equal(t, "u2", ev.UserID)
}

func TestHandleWebSocket_RejectsForeignOrigin(t *testing.T) {
	h := runHub(t)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(u, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandleWebSocket_AfterShutdown(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.Run(ctx)

	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
