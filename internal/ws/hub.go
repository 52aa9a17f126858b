package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/fixlyapp/fixly/internal/model"
	"github.com/redis/go-redis/v9"
)

const redisChannel = "fixly:realtime"

// Hub manages all WebSocket connections and frame fan-out.
// It uses Redis Pub/Sub for horizontal scaling across multiple instances:
// every push goes through Redis so whichever instance holds the target
// user's sockets delivers it.
type Hub struct {
	// Map of userID -> set of client connections (one user can have multiple devices)
	clients map[uuid.UUID]map[*Client]bool
	mu      sync.RWMutex

	// Channels for registering/unregistering clients
	register   chan *Client
	unregister chan *Client

	// Redis client for Pub/Sub (horizontal scaling)
	rdb *redis.Client

	// Callback when a client's socket goes away, however it died
	onDisconnect func(client *Client)
}

// NewHub creates a new WebSocket Hub
func NewHub(rdb *redis.Client, onDisconnect func(client *Client)) *Hub {
	return &Hub{
		clients:      make(map[uuid.UUID]map[*Client]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		rdb:          rdb,
		onDisconnect: onDisconnect,
	}
}

// Run starts the Hub's main event loop
func (h *Hub) Run(ctx context.Context) {
	// Start Redis subscriber in a goroutine
	go h.subscribeRedis(ctx)

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// Register queues a client for registration with the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// addClient registers a new client connection
func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.userID]; !ok {
		h.clients[client.userID] = make(map[*Client]bool)
	}
	h.clients[client.userID][client] = true
	log.Printf("✅ Client connected: %s device=%s (connections for user: %d)",
		client.userID, client.deviceID, len(h.clients[client.userID]))
}

// removeClient unregisters a client connection
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if clients, ok := h.clients[client.userID]; ok {
		if _, present := clients[client]; present {
			delete(clients, client)
			close(client.send)
			if len(clients) == 0 {
				delete(h.clients, client.userID)
			}
		}
	}
	h.mu.Unlock()

	log.Printf("❌ Client disconnected: %s device=%s", client.userID, client.deviceID)
	if h.onDisconnect != nil {
		go h.onDisconnect(client)
	}
}

// targetedEvent wraps an outbound push for Redis Pub/Sub. A nil target
// means broadcast to every connected client.
type targetedEvent struct {
	TargetUserID uuid.UUID       `json:"target_user_id,omitempty"`
	Event        string          `json:"event"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// SendToUser sends an event to a specific user (all of their connections,
// on every instance)
func (h *Hub) SendToUser(userID uuid.UUID, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Error marshaling payload for %s: %v", event, err)
		return
	}
	h.publishToRedis(&targetedEvent{TargetUserID: userID, Event: event, Payload: data})
}

// SendToUsers sends an event to multiple users
func (h *Hub) SendToUsers(userIDs []uuid.UUID, event string, payload any) {
	for _, userID := range userIDs {
		h.SendToUser(userID, event, payload)
	}
}

// Broadcast sends an event to every connected client on every instance
func (h *Hub) Broadcast(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Error marshaling broadcast payload for %s: %v", event, err)
		return
	}
	h.publishToRedis(&targetedEvent{Event: event, Payload: data})
}

// sendToLocalUser delivers a frame to a user's connections on this instance
func (h *Hub) sendToLocalUser(userID uuid.UUID, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if clients, ok := h.clients[userID]; ok {
		for client := range clients {
			select {
			case client.send <- frame:
			default:
				// Client's send buffer is full, drop the frame. The
				// connection itself is reaped by its ping/pong deadline.
				log.Printf("⚠️  Dropping frame for slow client %s", client.connectionID)
			}
		}
	}
}

// broadcastToLocal delivers a frame to all connected local clients
func (h *Hub) broadcastToLocal(frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, clients := range h.clients {
		for client := range clients {
			select {
			case client.send <- frame:
			default:
				log.Printf("⚠️  Dropping broadcast frame for slow client %s", client.connectionID)
			}
		}
	}
}

// IsUserOnline checks if a user has any active connections on this instance
func (h *Hub) IsUserOnline(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// LocalConnectionCount returns the number of sockets held by this instance
func (h *Hub) LocalConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, clients := range h.clients {
		total += len(clients)
	}
	return total
}

// ========== Redis Pub/Sub for Horizontal Scaling ==========

// publishToRedis publishes an event to Redis for cross-instance delivery
func (h *Hub) publishToRedis(event *targetedEvent) {
	jsonData, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshaling for Redis: %v", err)
		return
	}

	if err := h.rdb.Publish(context.Background(), redisChannel, jsonData).Err(); err != nil {
		log.Printf("Error publishing to Redis: %v", err)
	}
}

// subscribeRedis subscribes to Redis and delivers events to local clients
func (h *Hub) subscribeRedis(ctx context.Context) {
	pubsub := h.rdb.Subscribe(ctx, redisChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	log.Println("📡 Redis Pub/Sub subscriber started")

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			var targeted targetedEvent
			if err := json.Unmarshal([]byte(msg.Payload), &targeted); err != nil {
				log.Printf("Error unmarshaling Redis message: %v", err)
				continue
			}

			frame, err := json.Marshal(model.Envelope{
				Version:   "1.0",
				Event:     targeted.Event,
				Timestamp: time.Now().UnixMilli(),
				Payload:   targeted.Payload,
			})
			if err != nil {
				log.Printf("Error building frame for %s: %v", targeted.Event, err)
				continue
			}

			if targeted.TargetUserID != uuid.Nil {
				h.sendToLocalUser(targeted.TargetUserID, frame)
			} else {
				h.broadcastToLocal(frame)
			}
		}
	}
}
