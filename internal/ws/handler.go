package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"cad-copilot/backend/internal/models"
	"cad-copilot/backend/internal/orchestrator"
	"cad-copilot/backend/pkg/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Clients only send pings
	maxMessageSize = 4 * 1024

	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Origins are checked by the CORS layer
	},
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
}

// Message is the envelope of every frame
type Message struct {
	Type    string      `json:"type"`
	Content interface{} `json:"content"`
}

// MessageSource loads the current log of a session
type MessageSource interface {
	Messages(ctx context.Context, sessionID string) ([]models.Message, error)
}

type Client struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte
	Hub       *Hub
}

type envelope struct {
	sessionID string
	payload   []byte
}

// Hub fans orchestration events out to the clients watching a session.
type Hub struct {
	sessions   map[string]map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	source     MessageSource
	log        *logger.Logger
	mu         sync.RWMutex
}

func NewHub(source MessageSource, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		sessions:   make(map[string]map[*Client]bool),
		broadcast:  make(chan envelope, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		source:     source,
		log:        log,
	}
}

// SetSource sets where the history frame sent on connect comes from.
func (h *Hub) SetSource(source MessageSource) {
	h.source = source
}

// Run serves registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, clients := range h.sessions {
				for client := range clients {
					close(client.Send)
				}
			}
			h.sessions = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.sessions[client.SessionID] == nil {
				h.sessions[client.SessionID] = make(map[*Client]bool)
			}
			h.sessions[client.SessionID][client] = true
			h.mu.Unlock()
			h.log.Debug("Client registered", "client_id", client.ID, "session_id", client.SessionID)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.sessions[msg.sessionID] {
				select {
				case client.Send <- msg.payload:
				default:
					h.remove(client)
					h.log.Warn("Client removed due to blocked channel", "client_id", client.ID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with h.mu held.
func (h *Hub) remove(client *Client) {
	clients, ok := h.sessions[client.SessionID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.sessions, client.SessionID)
	}
}

// Publish implements orchestrator.EventSink. Events are dropped when the
// hub is saturated.
func (h *Hub) Publish(e orchestrator.Event) {
	payload, err := json.Marshal(Message{Type: string(e.Type), Content: e})
	if err != nil {
		h.log.LogError(err, "Error marshaling event")
		return
	}
	select {
	case h.broadcast <- envelope{sessionID: e.SessionID, payload: payload}:
	default:
		h.log.Warn("Event dropped, hub is saturated", "session_id", e.SessionID, "type", e.Type)
	}
}

// ActiveConnections counts connected clients.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.sessions {
		n += len(clients)
	}
	return n
}

func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.Debug("websocket closed", "client_id", c.ID, "error", err.Error())
			}
			return
		}

		var message Message
		if err := json.Unmarshal(data, &message); err != nil {
			continue
		}
		if message.Type == "ping" {
			c.sendMessage("pong", nil)
		}
	}
}

func (c *Client) sendMessage(messageType string, content interface{}) {
	payload, err := json.Marshal(Message{Type: messageType, Content: content})
	if err != nil {
		c.Hub.log.LogError(err, "Error marshaling message")
		return
	}
	select {
	case c.Send <- payload:
	default:
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs upgrades the request and streams the events of ?sessionId=.
// The current log is sent first as a "history" frame.
func ServeWs(hub *Hub, c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}

	var history []models.Message
	if hub.source != nil {
		msgs, err := hub.source.Messages(c.Request.Context(), sessionID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		history = msgs
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		hub.log.LogError(err, "Error upgrading connection")
		return
	}
	conn.EnableWriteCompression(true)

	client := &Client{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Conn:      conn,
		Send:      make(chan []byte, sendBuffer),
		Hub:       hub,
	}
	if history != nil {
		client.sendMessage("history", map[string]interface{}{"messages": history})
	}

	hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}
