package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/fixlyapp/fixly/internal/model"
	"github.com/fixlyapp/fixly/internal/presence"
	"github.com/fixlyapp/fixly/internal/router"
)

// PresenceEvents exposes the presence engine over the realtime socket
type PresenceEvents struct {
	engine *presence.Engine
}

func NewPresenceEvents(engine *presence.Engine) *PresenceEvents {
	return &PresenceEvents{engine: engine}
}

// Register binds the presence event handlers onto the router
func (h *PresenceEvents) Register(r *router.Router) {
	r.Register(model.EventPresenceUpdateStatus, h.handleUpdateStatus)
	r.Register(model.EventPresenceSubscribe, h.handleSubscribe)
	r.Register(model.EventPresenceUnsubscribe, h.handleUnsubscribe)
	r.Register(model.EventPresenceHeartbeat, h.handleHeartbeat)
	r.Register(model.EventPresenceGetStatus, h.handleGetStatus)
	r.Register(model.EventPresenceGetBatchStatus, h.handleGetBatchStatus)
}

func (h *PresenceEvents) handleUpdateStatus(ctx context.Context, conn router.Conn, env model.Envelope) error {
	var req model.UpdateStatusRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if err := h.engine.UpdateStatus(ctx, conn.UserID(), req.Status, req.CustomStatus); err != nil {
		return err
	}
	return conn.Send(model.EventPresenceStatusUpdated, model.UserPresenceInfo{
		UserID:       conn.UserID(),
		Status:       req.Status,
		CustomStatus: req.CustomStatus,
	})
}

func (h *PresenceEvents) handleSubscribe(ctx context.Context, conn router.Conn, env model.Envelope) error {
	var req model.SubscribeRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	initial, err := h.engine.Subscribe(ctx, conn.UserID(), req.UserIDs)
	if err != nil {
		return err
	}
	// The subscriber gets the current state of each target up front so it
	// never has to wait for the first change
	for _, info := range initial {
		if err := conn.Send(model.EventPresenceStatusChange, model.StatusChangeEvent{
			UserID:       info.UserID,
			Status:       info.Status,
			CustomStatus: info.CustomStatus,
			Timestamp:    info.LastSeen,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (h *PresenceEvents) handleUnsubscribe(ctx context.Context, conn router.Conn, env model.Envelope) error {
	var req model.SubscribeRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return h.engine.Unsubscribe(ctx, conn.UserID(), req.UserIDs)
}

func (h *PresenceEvents) handleHeartbeat(ctx context.Context, conn router.Conn, _ model.Envelope) error {
	// Activity is already recorded per frame at the gateway; the explicit
	// heartbeat exists for clients with no other traffic
	h.engine.HandleActivity(ctx, conn.UserID(), conn.DeviceID())
	return nil
}

func (h *PresenceEvents) handleGetStatus(ctx context.Context, conn router.Conn, env model.Envelope) error {
	var req struct {
		UserID uuid.UUID `json:"user_id"`
	}
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	info, err := h.engine.GetPresence(ctx, req.UserID)
	if err != nil {
		return err
	}
	if info == nil {
		info = &model.UserPresenceInfo{UserID: req.UserID, Status: model.StatusOffline}
	}
	return conn.Send(model.EventPresenceGetStatus, info)
}

func (h *PresenceEvents) handleGetBatchStatus(ctx context.Context, conn router.Conn, env model.Envelope) error {
	var req model.GetBatchStatusRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	resp, err := h.engine.GetBulkPresence(ctx, req.UserIDs)
	if err != nil {
		return err
	}
	return conn.Send(model.EventPresenceGetBatchStatus, resp)
}
