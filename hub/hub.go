package hub

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/table-service/utils"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 64
)

var ErrHubClosed = errors.New("hub closed")

type Options struct {
	// PingInterval is how often clients are expected to ping. A connection
	// silent for twice this long is dropped.
	PingInterval time.Duration
	// AllowedOrigins restricts the websocket handshake. Empty allows any origin.
	AllowedOrigins []string
}

// Hub is the process-wide registry of open client sockets.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	closed   bool
	upgrader websocket.Upgrader
	readWait time.Duration
}

// Client is one admitted socket.
type Client struct {
	ID           string
	SessionID    string
	ClientType   string
	RestaurantID uint

	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func New(opts Options) *Hub {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	h := &Hub{
		clients:  make(map[string]*Client),
		readWait: 2 * opts.PingInterval,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(r *http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// ServeWS admits a connection. Session tokens are not checked here; the
// socket only carries notifications and every mutation goes through HTTP.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientType := q.Get("clientType")
	if clientType != ClientCustomer && clientType != ClientAdmin {
		http.Error(w, "clientType must be customer or admin", http.StatusBadRequest)
		return
	}
	var restaurantID uint
	if raw := q.Get("restaurantId"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid restaurantId", http.StatusBadRequest)
			return
		}
		restaurantID = uint(id)
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		utils.ErrorLogger.Errorf("websocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		ID:           uuid.NewString(),
		SessionID:    q.Get("sessionId"),
		ClientType:   clientType,
		RestaurantID: restaurantID,
		hub:          h,
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
	}
	if err := h.register(client); err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (h *Hub) register(c *Client) error {
	// queued before the client is visible, so Close cannot race this send
	status, _ := json.Marshal(Event{Type: EventConnectionStatus, Status: "connected", ConnectionID: c.ID})
	c.send <- status

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	h.clients[c.ID] = c
	total := len(h.clients)
	h.mu.Unlock()

	c.logger().WithField("clients", total).Info("websocket client connected")
	return nil
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	close(c.send)
	h.mu.Unlock()

	c.logger().Info("websocket client disconnected")
}

// Broadcast writes ev to every connection whose room matches and returns the
// number of connections it was queued for. Connections that cannot keep up
// are dropped; they reconnect and refetch.
func (h *Hub) Broadcast(ev Event) int {
	data, err := json.Marshal(ev)
	if err != nil {
		utils.ErrorLogger.Errorf("Error marshaling %s event: %v", ev.Type, err)
		return 0
	}

	var (
		delivered int
		slow      []*Client
	)
	h.mu.RLock()
	for _, c := range h.clients {
		if !c.wants(ev) {
			continue
		}
		select {
		case c.send <- data:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		c.logger().Warn("dropping slow websocket client")
		h.unregister(c)
	}

	utils.InfoLogger.WithFields(logrus.Fields{
		"type":          ev.Type,
		"table_id":      ev.TableID,
		"restaurant_id": ev.RestaurantID,
		"delivered":     delivered,
	}).Debug("broadcast event")
	return delivered
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
}

// wants applies the optional restaurant room. Untagged events reach everyone.
func (c *Client) wants(ev Event) bool {
	if c.RestaurantID == 0 || ev.RestaurantID == 0 {
		return true
	}
	return c.RestaurantID == ev.RestaurantID
}

func (c *Client) logger() *logrus.Entry {
	return utils.InfoLogger.WithFields(logrus.Fields{
		"conn_id":       c.ID,
		"client_type":   c.ClientType,
		"session_id":    c.SessionID,
		"restaurant_id": c.RestaurantID,
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.readWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.readWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger().Warnf("websocket read error: %v", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.hub.readWait))

		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger().Debugf("ignoring malformed client message: %v", err)
			continue
		}
		if msg.Type != EventPing {
			c.logger().Debugf("ignoring client message of type %q", msg.Type)
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.logger().Warnf("Error sending message to client: %v", err)
			c.hub.unregister(c)
			// drain until unregister closes the channel
			for range c.send {
			}
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
