package realtime

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-tracker/internal/auth"
	"bus-tracker/internal/fleet"
	"bus-tracker/internal/publisher"
)

type countingMetrics struct {
	mu      sync.Mutex
	clients int
	dropped int
}

func (m *countingMetrics) ClientsSet(n int) {
	m.mu.Lock()
	m.clients = n
	m.mu.Unlock()
}

func (m *countingMetrics) ClientDroppedInc() {
	m.mu.Lock()
	m.dropped++
	m.mu.Unlock()
}

func event(t *testing.T, bus string) publisher.Event {
	raw, err := json.Marshal(fleet.BusLocation{BusNumber: bus, Latitude: 17.38, Longitude: 78.48})
	require.NoError(t, err)
	return publisher.Event{Type: publisher.KindLocation, BusNumber: bus, At: time.Now().UTC(), Payload: raw}
}

func TestDispatchFiltersByBus(t *testing.T) {
	m := &countingMetrics{}
	h := NewHub(m)
	a := &Client{ID: "a", Bus: "TS09", Send: make(chan []byte, 4)}
	b := &Client{ID: "b", Bus: "AP07", Send: make(chan []byte, 4)}
	h.Register(a)
	h.Register(b)
	assert.Equal(t, 2, h.Count())

	h.Dispatch(event(t, "TS09"))
	assert.Len(t, a.Send, 1)
	assert.Len(t, b.Send, 0)

	h.Unregister(a)
	h.Unregister(a)
	assert.Equal(t, 1, h.Count())
	assert.Equal(t, 1, m.clients)
}

func TestDispatchDropsSlowClient(t *testing.T) {
	m := &countingMetrics{}
	h := NewHub(m)
	slow := &Client{ID: "slow", Bus: "TS09", Send: make(chan []byte, 1)}
	h.Register(slow)

	h.Dispatch(event(t, "TS09"))
	h.Dispatch(event(t, "TS09"))

	assert.Equal(t, 0, h.Count())
	assert.Equal(t, 1, m.dropped)
	<-slow.Send
	_, open := <-slow.Send
	assert.False(t, open)
}

type fakeFeed struct{ handler func(publisher.Event) }

func (f *fakeFeed) SubscribeAll(h func(publisher.Event)) (func(), error) {
	f.handler = h
	return func() {}, nil
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(v))
}

func TestHandlerStreamsEvents(t *testing.T) {
	tokens := auth.NewManager("secret", time.Hour)
	tok, _, err := tokens.Issue("asha", fleet.RoleStudent, "")
	require.NoError(t, err)

	h := NewHub(nil)
	feed := &fakeFeed{}
	_, err = h.Feed(feed)
	require.NoError(t, err)

	srv := httptest.NewServer(h.Handler(tokens))
	defer srv.Close()

	conn := dial(t, srv, "bus=TS09&token="+tok)
	var ack map[string]string
	readJSON(t, conn, &ack)
	assert.Equal(t, "subscribed", ack["status"])

	feed.handler(event(t, "AP07"))
	feed.handler(event(t, "TS09"))

	var ev publisher.Event
	readJSON(t, conn, &ev)
	assert.Equal(t, "TS09", ev.BusNumber)
	assert.Equal(t, publisher.KindLocation, ev.Type)
}

func TestHandlerAuthMessage(t *testing.T) {
	tokens := auth.NewManager("secret", time.Hour)
	tok, _, err := tokens.Issue("asha", fleet.RoleStudent, "")
	require.NoError(t, err)

	h := NewHub(nil)
	srv := httptest.NewServer(h.Handler(tokens))
	defer srv.Close()

	conn := dial(t, srv, "bus=TS09")
	require.NoError(t, conn.WriteJSON(authMessage{Type: "auth", Token: tok}))
	var ack map[string]string
	readJSON(t, conn, &ack)
	assert.Equal(t, "TS09", ack["bus"])
	assert.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestHandlerRejectsBadToken(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(h.Handler(auth.NewManager("secret", time.Hour)))
	defer srv.Close()

	conn := dial(t, srv, "bus=TS09&token=garbage")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
	assert.Equal(t, 0, h.Count())
}

func TestHandlerRequiresBus(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(h.Handler(auth.NewManager("secret", time.Hour)))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}
