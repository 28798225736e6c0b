// Package realtime pushes domain events to websocket clients watching a
// session.
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"kilnstudio/internal/pkg/events"
)

const (
	sendBuffer   = 32
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

type room struct {
	tenantID  int64
	sessionID int64
}

type client struct {
	conn *websocket.Conn
	send chan events.Event
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Hub fans events out to the connections of the session they belong to. It
// implements events.Publisher.
type Hub struct {
	mutex sync.RWMutex
	rooms map[room]map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[room]map[*client]struct{})}
}

func (h *Hub) register(tenantID, sessionID int64, conn *websocket.Conn) *client {
	c := &client{conn: conn, send: make(chan events.Event, sendBuffer)}
	key := room{tenantID, sessionID}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.rooms[key] == nil {
		h.rooms[key] = make(map[*client]struct{})
	}
	h.rooms[key][c] = struct{}{}
	return c
}

func (h *Hub) unregister(tenantID, sessionID int64, c *client) {
	key := room{tenantID, sessionID}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	if clients, ok := h.rooms[key]; ok {
		if _, ok := clients[c]; ok {
			delete(clients, c)
			c.close()
		}
		if len(clients) == 0 {
			delete(h.rooms, key)
		}
	}
}

// Publish never blocks: a client whose buffer is full misses the event.
func (h *Hub) Publish(_ context.Context, ev events.Event) error {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for c := range h.rooms[room{ev.TenantID, ev.SessionID}] {
		select {
		case c.send <- ev:
		default:
			log.Warn().Str("event_type", ev.Type).Int64("session_id", ev.SessionID).Msg("websocket client is slow, dropping event")
		}
	}
	return nil
}

// Count is the number of connections watching a session.
func (h *Hub) Count(tenantID, sessionID int64) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[room{tenantID, sessionID}])
}

func (h *Hub) Close() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for key, clients := range h.rooms {
		for c := range clients {
			c.close()
		}
		delete(h.rooms, key)
	}
}

// serve runs until the client goes away or the hub closes.
func (h *Hub) serve(tenantID, sessionID int64, conn *websocket.Conn) {
	c := h.register(tenantID, sessionID, conn)
	defer func() {
		h.unregister(tenantID, sessionID, c)
		_ = conn.Close()
	}()

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop only keeps the connection alive; clients do not send anything
// meaningful.
func (h *Hub) readLoop(c *client) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket closed")
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				_ = c.conn.Close()
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}
