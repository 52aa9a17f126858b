package ws

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/fixlyapp/fixly/internal/model"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

// ErrSendBufferFull is returned when a client's outbound buffer is full
// and the frame was dropped
var ErrSendBufferFull = errors.New("client send buffer full")

// Client represents a single WebSocket connection. Identity is fixed at
// upgrade time and read-only afterwards, which is what lets the getters
// satisfy the router's connection interface without locking.
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	userID       uuid.UUID
	deviceID     string
	sessionID    uuid.UUID
	connectionID uuid.UUID
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, deviceID string, sessionID, connectionID uuid.UUID) *Client {
	return &Client{
		hub:          hub,
		conn:         conn,
		send:         make(chan []byte, 256),
		userID:       userID,
		deviceID:     deviceID,
		sessionID:    sessionID,
		connectionID: connectionID,
	}
}

func (c *Client) UserID() uuid.UUID       { return c.userID }
func (c *Client) DeviceID() string        { return c.deviceID }
func (c *Client) SessionID() uuid.UUID    { return c.sessionID }
func (c *Client) ConnectionID() uuid.UUID { return c.connectionID }

// Send enqueues an enveloped frame for delivery on this connection.
// A slow client whose buffer is full loses the frame rather than blocking
// the caller.
func (c *Client) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(model.Envelope{
		Version:   "1.0",
		Event:     event,
		Timestamp: time.Now().UnixMilli(),
		Payload:   data,
	})
	if err != nil {
		return err
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// FrameHandler is a callback for processing raw inbound frames
type FrameHandler func(client *Client, frame []byte)

// ReadPump pumps frames from the WebSocket connection to the handler.
// Runs in a per-client goroutine and returns when the connection drops.
func (c *Client) ReadPump(handler FrameHandler) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		if handler != nil {
			handler(c, frame)
		}
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
// Runs in a per-client goroutine
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Write any queued messages to the current WebSocket frame
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte("\n"))
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
