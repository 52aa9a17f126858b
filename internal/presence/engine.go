// Package presence tracks per-user/device presence state, the subscription
// graph of who watches whom, and the inactivity sweep that demotes idle
// users.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fixlyapp/fixly/internal/config"
	"github.com/fixlyapp/fixly/internal/model"
	"github.com/fixlyapp/fixly/internal/session"
)

const (
	watchingKeyPrefix = "rt:presence:watching:" // subscriberID -> set of targetIDs
	watchersKeyPrefix = "rt:presence:watchers:" // targetID -> set of subscriberIDs
)

// Pusher delivers an event to every live socket of a user. Satisfied by
// ws.Hub.
type Pusher interface {
	SendToUser(userID uuid.UUID, event string, payload any)
}

// Store persists the durable last-seen record that survives session expiry.
// Satisfied by repository.PresenceRepository.
type Store interface {
	Upsert(ctx context.Context, p *model.UserPresence) error
	Get(ctx context.Context, userID uuid.UUID) (*model.UserPresence, error)
}

// statusChange is one queued fan-out unit
type statusChange struct {
	UserID       uuid.UUID
	Status       model.PresenceStatus
	CustomStatus string
	At           time.Time
}

// Engine owns the presence state machine. Status mutations go through the
// session registry; fan-out to subscribers is queued so a slow or failing
// subscriber push can never block or fail the mutation itself.
type Engine struct {
	registry *session.Registry
	rdb      *redis.Client
	store    Store
	pusher   Pusher
	cfg      config.PresenceConfig

	fanout chan statusChange
}

// NewEngine creates a presence engine. Call Run to start fan-out dispatch.
func NewEngine(registry *session.Registry, rdb *redis.Client, store Store, pusher Pusher, cfg config.PresenceConfig) *Engine {
	return &Engine{
		registry: registry,
		rdb:      rdb,
		store:    store,
		pusher:   pusher,
		cfg:      cfg,
		fanout:   make(chan statusChange, 1024),
	}
}

// Run drains the fan-out queue until ctx is cancelled
func (e *Engine) Run(ctx context.Context) {
	log.Println("📡 Presence fan-out dispatcher started")
	for {
		select {
		case <-ctx.Done():
			return
		case change := <-e.fanout:
			e.dispatch(ctx, change)
		}
	}
}

// HandleConnect transitions a freshly registered session to ONLINE. A new
// connection clears a sticky BUSY/DND on the user's other sessions too: it
// counts as an explicit user action.
func (e *Engine) HandleConnect(ctx context.Context, sess *model.Session) {
	others, err := e.registry.ListSessions(ctx, sess.UserID, "")
	if err == nil {
		online := model.StatusOnline
		for _, s := range others {
			if s.DeviceID == sess.DeviceID || !s.Status.Sticky() {
				continue
			}
			if _, err := e.registry.Touch(ctx, sess.UserID, s.DeviceID, model.SessionUpdate{Status: &online}); err != nil {
				log.Printf("⚠️  Failed to clear sticky status for %s/%s: %v", sess.UserID, s.DeviceID, err)
			}
		}
	}
	e.queueChange(sess.UserID, model.StatusOnline, sess.CustomStatus)
}

// HandleActivity records a heartbeat or any inbound activity. ONLINE and
// AWAY sessions are (re)promoted to ONLINE; explicit BUSY/DND stays put.
func (e *Engine) HandleActivity(ctx context.Context, userID uuid.UUID, deviceID string) {
	sess, err := e.registry.Get(ctx, userID, deviceID)
	if err != nil {
		// Touch failures are soft: losing a heartbeat must not kill the
		// connection
		return
	}

	upd := model.SessionUpdate{}
	promoted := false
	if !sess.Status.Sticky() && sess.Status != model.StatusOnline {
		online := model.StatusOnline
		upd.Status = &online
		promoted = true
	}

	if _, err := e.registry.Touch(ctx, userID, deviceID, upd); err != nil {
		return
	}
	if promoted {
		e.queueChange(userID, model.StatusOnline, sess.CustomStatus)
	}
}

// HandleDisconnect is called after the gateway deregistered a session. When
// the last device of the user goes away, presence becomes OFFLINE and the
// last-seen timestamp is written to the durable store so it survives
// registry expiry.
func (e *Engine) HandleDisconnect(ctx context.Context, sess *model.Session) {
	remaining, err := e.registry.ListSessions(ctx, sess.UserID, "")
	if err != nil {
		log.Printf("⚠️  Could not list sessions on disconnect for %s: %v", sess.UserID, err)
		return
	}
	if len(remaining) > 0 {
		return
	}

	now := time.Now().UTC()
	if err := e.store.Upsert(ctx, &model.UserPresence{
		UserID:     sess.UserID,
		Status:     model.StatusOffline,
		LastSeenAt: now,
	}); err != nil {
		log.Printf("⚠️  Failed to persist durable last-seen for %s: %v", sess.UserID, err)
	}
	e.queueChange(sess.UserID, model.StatusOffline, "")
}

// UpdateStatus applies an explicit user-chosen status to every session of
// the user. BUSY and DND set this way are sticky against the sweep.
func (e *Engine) UpdateStatus(ctx context.Context, userID uuid.UUID, status model.PresenceStatus, customStatus string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid presence status %q", status)
	}

	sessions, err := e.registry.ListSessions(ctx, userID, "")
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		return fmt.Errorf("user %s has no active sessions", userID)
	}

	for _, s := range sessions {
		if _, err := e.registry.Touch(ctx, userID, s.DeviceID, model.SessionUpdate{
			Status:       &status,
			CustomStatus: &customStatus,
		}); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
			return fmt.Errorf("failed to update session status: %w", err)
		}
	}

	e.queueChange(userID, status, customStatus)
	return nil
}

// Subscribe adds subscriber->target edges (both directions, one atomic
// multi-key command) and returns the current presence of each target so the
// subscriber starts from a synced state, not just future deltas.
func (e *Engine) Subscribe(ctx context.Context, subscriberID uuid.UUID, targetIDs []uuid.UUID) ([]model.UserPresenceInfo, error) {
	if len(targetIDs) == 0 {
		return nil, nil
	}

	pipe := e.rdb.TxPipeline()
	for _, target := range targetIDs {
		pipe.SAdd(ctx, watchingKeyPrefix+subscriberID.String(), target.String())
		pipe.SAdd(ctx, watchersKeyPrefix+target.String(), subscriberID.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to add subscription edges: %w", err)
	}

	resp, err := e.GetBulkPresence(ctx, targetIDs)
	if err != nil {
		return nil, err
	}
	return resp.Presences, nil
}

// Unsubscribe removes both directions of each edge atomically
func (e *Engine) Unsubscribe(ctx context.Context, subscriberID uuid.UUID, targetIDs []uuid.UUID) error {
	if len(targetIDs) == 0 {
		return nil
	}
	pipe := e.rdb.TxPipeline()
	for _, target := range targetIDs {
		pipe.SRem(ctx, watchingKeyPrefix+subscriberID.String(), target.String())
		pipe.SRem(ctx, watchersKeyPrefix+target.String(), subscriberID.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove subscription edges: %w", err)
	}
	return nil
}

// GetPresence resolves the current presence of one user: live sessions win,
// otherwise the durable last-seen row, otherwise nothing.
func (e *Engine) GetPresence(ctx context.Context, userID uuid.UUID) (*model.UserPresenceInfo, error) {
	sessions, err := e.registry.ListSessions(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	if len(sessions) > 0 {
		info := aggregate(userID, sessions)
		return &info, nil
	}

	durable, err := e.store.Get(ctx, userID)
	if err != nil || durable == nil {
		return nil, err
	}
	return &model.UserPresenceInfo{
		UserID:   userID,
		Status:   model.StatusOffline,
		LastSeen: durable.LastSeenAt,
	}, nil
}

// GetBulkPresence returns one entry per id that has known presence; ids
// with none are silently omitted
func (e *Engine) GetBulkPresence(ctx context.Context, userIDs []uuid.UUID) (*model.BulkPresenceResponse, error) {
	resp := &model.BulkPresenceResponse{
		Presences: make([]model.UserPresenceInfo, 0, len(userIDs)),
		Timestamp: time.Now().UTC(),
	}
	for _, id := range userIDs {
		info, err := e.GetPresence(ctx, id)
		if err != nil {
			return nil, err
		}
		if info != nil {
			resp.Presences = append(resp.Presences, *info)
		}
	}
	return resp, nil
}

// aggregate folds a user's device sessions into one user-level presence.
// Explicitly chosen statuses dominate automatic ones.
func aggregate(userID uuid.UUID, sessions []model.Session) model.UserPresenceInfo {
	precedence := map[model.PresenceStatus]int{
		model.StatusDND:     4,
		model.StatusBusy:    3,
		model.StatusOnline:  2,
		model.StatusAway:    1,
		model.StatusOffline: 0,
	}

	best := sessions[0]
	for _, s := range sessions[1:] {
		if precedence[s.Status] > precedence[best.Status] {
			best = s
		}
		if s.LastSeen.After(best.LastSeen) && precedence[s.Status] == precedence[best.Status] {
			best = s
		}
	}
	return model.UserPresenceInfo{
		UserID:       userID,
		Status:       best.Status,
		CustomStatus: best.CustomStatus,
		LastSeen:     best.LastSeen,
	}
}

// queueChange hands a status change to the fan-out dispatcher without
// blocking the mutation path. A full queue drops the push and logs: the
// mutation has already happened and must not be rolled back or stalled.
func (e *Engine) queueChange(userID uuid.UUID, status model.PresenceStatus, customStatus string) {
	change := statusChange{
		UserID:       userID,
		Status:       status,
		CustomStatus: customStatus,
		At:           time.Now().UTC(),
	}
	select {
	case e.fanout <- change:
	default:
		log.Printf("⚠️  Presence fan-out queue full, dropping change for %s", userID)
	}
}

// dispatch pushes one status change to every subscriber found via the
// reverse index
func (e *Engine) dispatch(ctx context.Context, change statusChange) {
	watchers, err := e.rdb.SMembers(ctx, watchersKeyPrefix+change.UserID.String()).Result()
	if err != nil {
		log.Printf("⚠️  Failed to load watchers for %s: %v", change.UserID, err)
		return
	}

	payload := model.StatusChangeEvent{
		UserID:       change.UserID,
		Status:       change.Status,
		CustomStatus: change.CustomStatus,
		Timestamp:    change.At,
	}
	for _, w := range watchers {
		subscriberID, err := uuid.Parse(w)
		if err != nil {
			continue
		}
		e.pusher.SendToUser(subscriberID, model.EventPresenceStatusChange, payload)
	}
}
