package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/aura/api/internal/model"
	"github.com/aura/api/internal/store"
)

// UserTopic is the topic carrying every change to a user's jobs
func UserTopic(userID string) string {
	return "user:" + userID
}

// JobTopic is the topic carrying changes to a single job
func JobTopic(jobID string) string {
	return "job:" + jobID
}

// Client represents a WebSocket client
type Client struct {
	Topic string
	Conn  *websocket.Conn
	Send  chan []byte

	// snapshot rebuilds the client's full view after missed changes
	snapshot func() []byte
	done     chan struct{}
	dropOnce sync.Once
}

// NewClient creates a client for topic. snapshot may be nil.
func NewClient(topic string, conn *websocket.Conn, snapshot func() []byte) *Client {
	return &Client{
		Topic:    topic,
		Conn:     conn,
		Send:     make(chan []byte, 256),
		snapshot: snapshot,
		done:     make(chan struct{}),
	}
}

// Done is closed when the hub drops the client as a slow consumer
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// offer queues data without blocking. It reports false once the client has
// been dropped or its queue is full.
func (c *Client) offer(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) drop() {
	c.dropOnce.Do(func() { close(c.done) })
}

// Hub maintains active WebSocket connections and fans store changes out to them
type Hub struct {
	// Clients grouped by topic
	clients map[string]map[*Client]bool

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Broadcast messages to topic subscribers
	broadcast chan *BroadcastMessage

	mu sync.RWMutex

	// Topics that lost a message to a full queue
	staleMu sync.Mutex
	stale   map[string]bool
}

// BroadcastMessage represents a message to broadcast. Resync asks each
// subscriber for a fresh snapshot in place of Message.
type BroadcastMessage struct {
	Topic   string
	Message []byte
	Resync  bool
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		stale:      make(map[string]bool),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.Topic] == nil {
				h.clients[client.Topic] = make(map[*Client]bool)
			}
			h.clients[client.Topic][client] = true
			h.mu.Unlock()
			log.Printf("[WS] client subscribed to %s", client.Topic)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.Topic]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(h.clients, client.Topic)
					}
				}
			}
			h.mu.Unlock()
			log.Printf("[WS] client left %s", client.Topic)

		case msg := <-h.broadcast:
			h.mu.Lock()
			if clients, ok := h.clients[msg.Topic]; ok {
				for client := range clients {
					data := msg.Message
					if msg.Resync && client.snapshot != nil {
						if snap := client.snapshot(); snap != nil {
							data = snap
						}
					}
					if !client.offer(data) {
						// Slow consumer. Only unregister closes Send; the
						// connection sees Done and shuts itself down.
						client.drop()
						delete(clients, client)
						log.Printf("[WS] dropped slow client on %s", msg.Topic)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.Topic)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribers returns the number of clients on topic
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// Attach subscribes the hub to store changes. Every effective change is sent
// to the owner's topic and to the job's topic. It returns the unsubscribe func.
func (h *Hub) Attach(jobStore *store.JobStore) func() {
	return jobStore.Subscribe(func(e store.Event) {
		job := e.Job
		msg := model.WSJobMessage{
			Type:  messageType(e),
			JobID: job.ID,
		}
		if e.Type != store.EventRemoved {
			msg.Job = &job
		}

		data, err := json.Marshal(msg)
		if err != nil {
			log.Printf("[WS] failed to marshal %s message: %v", msg.Type, err)
			return
		}

		h.publish(UserTopic(job.OwnerID), data)
		h.publish(JobTopic(job.ID), data)
	})
}

// publish never blocks; store listeners run while the store serializes notifications.
// A topic that loses a message gets a snapshot with its next delivered one.
func (h *Hub) publish(topic string, data []byte) {
	h.staleMu.Lock()
	defer h.staleMu.Unlock()

	msg := &BroadcastMessage{Topic: topic, Message: data, Resync: h.stale[topic]}
	select {
	case h.broadcast <- msg:
		delete(h.stale, topic)
	default:
		h.stale[topic] = true
		log.Printf("[WS] broadcast queue full, dropping message for %s", topic)
	}
}

func messageType(e store.Event) string {
	switch e.Type {
	case store.EventCreated:
		return model.WSMessageTypeCreated
	case store.EventRemoved:
		return model.WSMessageTypeRemoved
	}

	if e.Transitioned {
		switch e.Job.Status {
		case model.JobStatusCompleted:
			return model.WSMessageTypeComplete
		case model.JobStatusFailed:
			return model.WSMessageTypeError
		}
	}
	return model.WSMessageTypeProgress
}

// HandleConnection serves one surface: it sends the snapshot taken right
// after subscribing, then every change on topic until the client disconnects.
// Disconnecting never affects job polling.
func (h *Hub) HandleConnection(c *websocket.Conn, topic string, snapshot func() []byte) {
	client := NewClient(topic, c, snapshot)

	h.Register(client)
	defer h.Unregister(client)

	if snapshot != nil {
		if data := snapshot(); data != nil {
			client.offer(data)
		}
	}

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-client.Done():
				// Dropped by the hub; closing unblocks the reader.
				c.WriteMessage(websocket.CloseMessage, []byte{})
				c.Close()
				return

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] error on %s: %v", topic, err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong := model.WSMessage{Type: model.WSMessageTypePong}
			data, _ := json.Marshal(pong)
			client.offer(data)
		}
	}
}
