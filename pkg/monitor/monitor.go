package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ghettovoice/gosip/log"
	"github.com/gorilla/websocket"
	"github.com/tevino/abool"

	"github.com/cloudwebrtc/go-whip/pkg/media"
	"github.com/cloudwebrtc/go-whip/pkg/utils"
	"github.com/cloudwebrtc/go-whip/pkg/whip"
)

const (
	EventPublishStart = "publish-start"
	EventPublishStop  = "publish-stop"
	EventSourceReady  = "source-ready"
	EventStats        = "stats"

	sendBuffer = 64
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var logger log.Logger

func init() {
	logger = utils.NewLogrusLogger(utils.DefaultLogLevel, "Monitor", nil)
}

type Event struct {
	Type    string      `json:"type"`
	Time    time.Time   `json:"time"`
	Session string      `json:"session,omitempty"`
	Reason  string      `json:"reason,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to websocket subscribers. Slow subscribers lose
// events instead of blocking the publisher.
type Hub struct {
	upgrader websocket.Upgrader
	closed   *abool.AtomicBool

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		closed:  abool.New(),
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.closed.IsSet() {
		http.Error(w, "monitor closed", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("Upgrade: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	if h.closed.IsSet() {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	logger.Infof("Subscriber %s connected", r.RemoteAddr)

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop only watches for the subscriber going away.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debugf("read: %v", err)
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debugf("write: %v", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) NumClients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		logger.Errorf("Marshal %s event: %v", e.Type, err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			logger.Debugf("subscriber too slow, %s event dropped", e.Type)
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed.SetToIf(false, true) {
		return
	}
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Observer publishes ingest session events on a Hub.
type Observer struct {
	hub *Hub
}

func NewObserver(hub *Hub) *Observer {
	return &Observer{hub: hub}
}

func (o *Observer) OnPublishStart(id string) {
	o.hub.Publish(Event{Type: EventPublishStart, Session: id})
}

func (o *Observer) OnPublishStop(id string, reason string) {
	o.hub.Publish(Event{Type: EventPublishStop, Session: id, Reason: reason})
}

func (o *Observer) OnSourceReady(id string, kind media.Kind) {
	o.hub.Publish(Event{Type: EventSourceReady, Session: id, Data: kind.String()})
}

func (o *Observer) OnFrame(string, *media.Frame) {}

var _ whip.SourceReadyObserver = (*Observer)(nil)

type StatsSource interface {
	Stats() []whip.SessionStats
}

// ReportStats publishes a stats event every interval until ctx is done.
func (h *Hub) ReportStats(ctx context.Context, src StatsSource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h.NumClients() == 0 {
				continue
			}
			h.Publish(Event{Type: EventStats, Data: src.Stats()})
		}
	}
}
