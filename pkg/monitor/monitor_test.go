package monitor

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwebrtc/go-whip/pkg/media"
	"github.com/cloudwebrtc/go-whip/pkg/whip"
)

func dial(t *testing.T, hub *Hub) (*websocket.Conn, func()) {
	srv := httptest.NewServer(hub)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.NumClients() == 1 }, time.Second, 5*time.Millisecond)
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var e Event
	require.NoError(t, json.Unmarshal(data, &e))
	return e
}

func TestObserverEvents(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	conn, done := dial(t, hub)
	defer done()

	o := NewObserver(hub)
	o.OnPublishStart("abc")
	o.OnFrame("abc", nil)
	o.OnSourceReady("abc", media.KindVideo)
	o.OnPublishStop("abc", "Connection closed")

	e := readEvent(t, conn)
	assert.Equal(t, EventPublishStart, e.Type)
	assert.Equal(t, "abc", e.Session)
	assert.False(t, e.Time.IsZero())

	e = readEvent(t, conn)
	assert.Equal(t, EventSourceReady, e.Type)
	assert.Equal(t, "video", e.Data)

	e = readEvent(t, conn)
	assert.Equal(t, EventPublishStop, e.Type)
	assert.Equal(t, "Connection closed", e.Reason)
}

type fakeStats struct{}

func (fakeStats) Stats() []whip.SessionStats {
	return []whip.SessionStats{{}}
}

func TestReportStats(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	conn, done := dial(t, hub)
	defer done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.ReportStats(ctx, fakeStats{}, 10*time.Millisecond)

	e := readEvent(t, conn)
	assert.Equal(t, EventStats, e.Type)
	assert.NotNil(t, e.Data)
}

func TestSubscriberLeaves(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	conn, done := dial(t, hub)
	defer done()

	conn.Close()
	assert.Eventually(t, func() bool { return hub.NumClients() == 0 }, 2*time.Second, 5*time.Millisecond)
	hub.Publish(Event{Type: EventStats})
}

func TestClose(t *testing.T) {
	hub := NewHub()
	conn, done := dial(t, hub)
	defer done()

	hub.Close()
	hub.Close()
	assert.Equal(t, 0, hub.NumClients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	srv := httptest.NewServer(hub)
	defer srv.Close()
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	assert.Error(t, err)
	if resp != nil {
		assert.Equal(t, 503, resp.StatusCode)
	}
}
