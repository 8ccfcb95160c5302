package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Hub groups client connections by doctor id so token displays and dashboards
// only receive events for the doctor they watch.
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan BroadcastMessage
	mu         sync.RWMutex
}

// BroadcastMessage carries a serialized event for one doctor's watchers.
type BroadcastMessage struct {
	DoctorID string
	Message  []byte
}

// WSMessage is the event shape pushed to clients.
type WSMessage struct {
	EventType string                 `json:"event_type"` // token_issued, patient_called, consult_done, load_snapshot
	DoctorID  string                 `json:"doctor_id"`
	Data      map[string]interface{} `json:"data"`
}

var HubInstance = NewHub()

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan BroadcastMessage),
	}
}

// Run processes the hub channels. Started once as a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.DoctorID] == nil {
				h.clients[client.DoctorID] = make(map[*Client]bool)
			}
			h.clients[client.DoctorID][client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.DoctorID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.DoctorID)
					}
				}
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.RLock()
			if clients, ok := h.clients[message.DoctorID]; ok {
				for client := range clients {
					select {
					case client.Send <- message.Message:
					default:
						close(client.Send)
						delete(clients, client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastWSMessage serializes and fans out an event to the doctor's watchers.
func (h *Hub) BroadcastWSMessage(msg WSMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Println("ws message marshal failed:", err)
		return
	}
	h.broadcast <- BroadcastMessage{DoctorID: msg.DoctorID, Message: payload}
}

// Client is one WebSocket connection.
type Client struct {
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	DoctorID string
}

// readPump drains the connection; incoming frames are ignored, we only track
// disconnects.
func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			break
		}
	}
}

// writePump pushes events and keepalive pings to the client.
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// DoctorWebSocketHandler upgrades the connection and subscribes it to one
// doctor's event stream on the given hub. URL: /api/doctors/{id}/ws
func DoctorWebSocketHandler(h *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		doctorID := c.Param("id")
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			http.Error(c.Writer, "WebSocket upgrade failed", http.StatusInternalServerError)
			return
		}
		client := &Client{
			Hub:      h,
			Conn:     conn,
			Send:     make(chan []byte, 256),
			DoctorID: doctorID,
		}
		h.register <- client

		go client.writePump()
		client.readPump()
	}
}
