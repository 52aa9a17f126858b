package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/fixlyapp/fixly/internal/model"
	"github.com/fixlyapp/fixly/internal/presence"
	"github.com/fixlyapp/fixly/internal/ratelimit"
	"github.com/fixlyapp/fixly/internal/router"
	"github.com/fixlyapp/fixly/internal/session"
	"github.com/fixlyapp/fixly/internal/ws"
	"github.com/fixlyapp/fixly/pkg/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // In production, validate origin
	},
}

// WSHandler is the realtime gateway. It authenticates the upgrade,
// registers the session, and pushes every inbound frame through the rate
// limiter and the event router.
type WSHandler struct {
	hub        *ws.Hub
	jwtManager *auth.JWTManager
	sessions   *session.Registry
	engine     *presence.Engine
	limiter    *ratelimit.Limiter
	events     *router.Router
}

func NewWSHandler(hub *ws.Hub, jwtManager *auth.JWTManager, sessions *session.Registry, engine *presence.Engine, limiter *ratelimit.Limiter, events *router.Router) *WSHandler {
	return &WSHandler{
		hub:        hub,
		jwtManager: jwtManager,
		sessions:   sessions,
		engine:     engine,
		limiter:    limiter,
		events:     events,
	}
}

// HandleWebSocket upgrades HTTP to WebSocket and manages the connection
// Client connects with: ws://host/ws?token=<jwt_token>&device_id=<id>
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	// Authenticate via query parameter (WebSocket can't use Authorization header)
	tokenString := c.Query("token")
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token required"})
		return
	}

	claims, err := h.jwtManager.ValidateToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	deviceID := claims.DeviceID
	if deviceID == "" {
		deviceID = c.Query("device_id")
	}
	if deviceID == "" {
		deviceID = "web"
	}

	// Upgrade HTTP to WebSocket
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	connectionID := uuid.New()
	now := time.Now().UTC()
	sess := &model.Session{
		UserID:       claims.UserID,
		DeviceID:     deviceID,
		SessionID:    uuid.New(),
		ConnectionID: connectionID,
		Status:       model.StatusOnline,
		Metadata: map[string]string{
			"user_agent": c.Request.UserAgent(),
			"ip":         c.ClientIP(),
		},
		LastSeen:    now,
		ConnectedAt: now,
	}

	// A connection without a session entry is invisible to routing, so a
	// failed registration closes the socket instead of limping along.
	if err := h.sessions.Register(c.Request.Context(), sess); err != nil {
		log.Printf("❌ Session registration failed for %s: %v", claims.UserID, err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session registration failed"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	client := ws.NewClient(h.hub, conn, claims.UserID, deviceID, sess.SessionID, connectionID)
	h.hub.Register(client)
	h.engine.HandleConnect(c.Request.Context(), sess)

	log.Printf("✅ WS Connected: UserID=%s Device=%s Conn=%s", claims.UserID, deviceID, connectionID)

	// Start read/write pumps in goroutines
	go client.WritePump()
	go client.ReadPump(h.handleFrame)
}

// handleFrame processes one inbound frame: records activity, applies the
// per-event rate limit, then routes
func (h *WSHandler) handleFrame(client *ws.Client, frame []byte) {
	ctx := context.Background()

	h.engine.HandleActivity(ctx, client.UserID(), client.DeviceID())

	// Peek at the event name; full validation happens in the router
	var peek struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(frame, &peek); err != nil || peek.Event == "" {
		client.Send(model.EventError, model.ErrorFrame{
			Error:   model.ErrCodeValidation,
			Message: "malformed frame",
		})
		return
	}

	res := h.limiter.Allow(ctx, client.UserID(), peek.Event, client.ConnectionID())
	if !res.Allowed {
		// Over-limit frames are dropped, not queued; the client learns
		// when it may try again
		client.Send(model.EventError, model.ErrorFrame{
			Error:   model.ErrCodeRateLimited,
			Message: "rate limit exceeded, retry after " + res.ResetAt.UTC().Format(time.RFC3339),
			Event:   peek.Event,
		})
		return
	}

	h.events.Route(ctx, client, frame)
}

// OnDisconnect tears down a dropped connection's session and presence.
// Wired as the hub's disconnect callback.
func (h *WSHandler) OnDisconnect(client *ws.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	removed, err := h.sessions.Deregister(ctx, client.ConnectionID())
	if err != nil {
		log.Printf("⚠️  Session deregistration failed for %s: %v", client.ConnectionID(), err)
		return
	}
	if removed == nil {
		// A newer connection already took over this device
		return
	}
	h.engine.HandleDisconnect(ctx, removed)
}
