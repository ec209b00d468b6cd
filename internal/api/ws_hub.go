package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atmx/options-market/internal/metrics"
	"github.com/atmx/options-market/internal/model"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// subscription narrows the event feed of one client. Zero fields match
// everything.
type subscription struct {
	user       string
	underlying string
	types      map[model.EventType]bool
}

var eventTypes = map[model.EventType]bool{
	model.EventListed:    true,
	model.EventUnlisted:  true,
	model.EventSold:      true,
	model.EventExercised: true,
	model.EventExpired:   true,
	model.EventSpotBuy:   true,
	model.EventSpotSell:  true,
}

// parseSubscription reads ?user=, ?underlying= and a comma separated
// ?type= list.
func parseSubscription(q url.Values) (subscription, error) {
	sub := subscription{
		user:       q.Get("user"),
		underlying: strings.ToUpper(q.Get("underlying")),
	}
	if raw := q.Get("type"); raw != "" {
		sub.types = make(map[model.EventType]bool)
		for _, t := range strings.Split(raw, ",") {
			et := model.EventType(strings.TrimSpace(t))
			if !eventTypes[et] {
				return subscription{}, fmt.Errorf("unknown event type %q", t)
			}
			sub.types[et] = true
		}
	}
	return sub, nil
}

func (s subscription) matches(e *model.Event) bool {
	if s.user != "" && !e.Involves(s.user) {
		return false
	}
	if s.underlying != "" && e.Symbol != s.underlying {
		return false
	}
	if s.types != nil && !s.types[e.Type] {
		return false
	}
	return true
}

type wsClient struct {
	conn *websocket.Conn
	sub  subscription
	quit chan struct{}
}

// WSHub fans committed market events out to websocket subscribers.
type WSHub struct {
	clients    map[*wsClient]struct{}
	events     chan model.Event
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
	mu         sync.RWMutex
}

// NewWSHub creates a hub. Nothing is delivered until Run is started.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		events:     make(chan model.Event, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is done, then disconnects everyone.
// Must be called in a goroutine.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.drop(c)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			slog.Info("ws client connected", "total", n, "user", c.sub.user, "underlying", c.sub.underlying)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))

		case e := <-h.events:
			h.deliver(&e)
		}
	}
}

// deliver encodes e at most once and writes it to every matching client.
func (h *WSHub) deliver(e *model.Event) {
	var msg []byte
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.sub.matches(e) {
			continue
		}
		if msg == nil {
			var err error
			if msg, err = json.Marshal(e); err != nil {
				slog.Error("ws encode failed", "event_id", e.ID, "err", err)
				return
			}
		}
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.drop(c)
		}
	}
	metrics.WebSocketClients.Set(float64(len(h.clients)))
}

// drop must be called with mu held.
func (h *WSHub) drop(c *wsClient) {
	delete(h.clients, c)
	close(c.quit)
	c.conn.Close()
}

// Publish implements market.Publisher. It is called under the engine lock
// and never blocks: with the buffer full the event is skipped for
// websocket subscribers only, since the journal records it separately.
func (h *WSHub) Publish(e model.Event) {
	select {
	case h.events <- e:
	default:
		slog.Warn("ws buffer full, event not broadcast", "event_id", e.ID, "type", e.Type)
	}
}

// Clients returns the number of connected subscribers.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // read-only feed
	},
}

// HandleWS upgrades GET /api/v1/ws. Query parameters user, underlying and
// type filter the feed; an unknown type is rejected before the upgrade.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	sub, err := parseSubscription(r.URL.Query())
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}
	c := &wsClient{conn: conn, sub: sub, quit: make(chan struct{})}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	// Subscribers never send anything; reading only services pongs and
	// notices disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- c:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-c.quit:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()
}
