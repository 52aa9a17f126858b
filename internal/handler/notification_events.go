package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fixlyapp/fixly/internal/model"
	"github.com/fixlyapp/fixly/internal/notification"
	"github.com/fixlyapp/fixly/internal/router"
)

// NotificationEvents exposes the notification pipeline over the realtime
// socket
type NotificationEvents struct {
	svc *notification.Service
}

func NewNotificationEvents(svc *notification.Service) *NotificationEvents {
	return &NotificationEvents{svc: svc}
}

// Register binds the notification event handlers onto the router
func (h *NotificationEvents) Register(r *router.Router) {
	r.Register(model.EventNotificationSend, h.handleSend)
	r.Register(model.EventNotificationMarkRead, h.handleMarkRead)
	r.Register(model.EventNotificationGet, h.handleGet)
	r.Register(model.EventNotificationUpdatePreference, h.handleUpdatePreference)
}

func (h *NotificationEvents) handleSend(ctx context.Context, conn router.Conn, env model.Envelope) error {
	var req model.CreateNotificationRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	n, err := h.svc.Create(ctx, req)
	if reason, ok := notification.Rejected(err); ok {
		// Rejections are an answer, not a failure
		return conn.Send(model.EventNotificationSend, map[string]any{
			"status": "rejected",
			"reason": reason,
		})
	}
	if err != nil {
		return err
	}
	return conn.Send(model.EventNotificationSend, map[string]any{
		"status":          "accepted",
		"notification_id": n.ID,
		"channels":        n.Channels,
	})
}

func (h *NotificationEvents) handleMarkRead(ctx context.Context, conn router.Conn, env model.Envelope) error {
	var req model.MarkReadRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if err := h.svc.MarkRead(ctx, conn.UserID(), req.NotificationID); err != nil {
		return err
	}
	return conn.Send(model.EventNotificationMarkRead, map[string]any{
		"notification_id": req.NotificationID,
		"read":            true,
	})
}

func (h *NotificationEvents) handleGet(ctx context.Context, conn router.Conn, env model.Envelope) error {
	var req model.ListNotificationsRequest
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
	}
	resp, err := h.svc.List(ctx, conn.UserID(), req)
	if err != nil {
		return err
	}
	return conn.Send(model.EventNotificationGet, resp)
}

func (h *NotificationEvents) handleUpdatePreference(ctx context.Context, conn router.Conn, env model.Envelope) error {
	var req model.UpdatePreferenceRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	pref, err := h.svc.UpdatePreferences(ctx, conn.UserID(), req)
	if err != nil {
		return err
	}
	return conn.Send(model.EventNotificationUpdatePreference, pref)
}
