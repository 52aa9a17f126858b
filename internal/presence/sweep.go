package presence

import (
	"context"
	"log"
	"time"

	"github.com/fixlyapp/fixly/internal/model"
)

const sweepPageSize = 200

// RunSweeper demotes inactive users on a fixed interval until ctx is
// cancelled. It is designed to run as a standalone worker process,
// independent of the gateway instances.
func (e *Engine) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	log.Printf("🧹 Presence sweeper started (interval=%s, away=%s, offline=%s)",
		e.cfg.SweepInterval, e.cfg.InactiveThreshold, e.cfg.OfflineThreshold)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Sweep(ctx); err != nil {
				log.Printf("⚠️  Presence sweep failed: %v", err)
			}
		}
	}
}

// Sweep walks the whole session keyspace page by page and demotes sessions
// idle past the thresholds: ONLINE -> AWAY -> OFFLINE. Explicitly set BUSY
// and DND are sticky and never touched here.
func (e *Engine) Sweep(ctx context.Context) error {
	now := time.Now().UTC()
	var cursor uint64
	demoted := 0

	for {
		sessions, next, err := e.registry.ScanSessions(ctx, cursor, sweepPageSize)
		if err != nil {
			return err
		}

		for i := range sessions {
			if e.sweepSession(ctx, &sessions[i], now) {
				demoted++
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	if demoted > 0 {
		log.Printf("🧹 Presence sweep demoted %d session(s)", demoted)
	}
	return nil
}

// sweepSession applies the inactivity state machine to one session and
// reports whether it was demoted
func (e *Engine) sweepSession(ctx context.Context, sess *model.Session, now time.Time) bool {
	if sess.Status.Sticky() || sess.Status == model.StatusOffline {
		return false
	}

	idle := now.Sub(sess.LastSeen)
	var target model.PresenceStatus
	switch {
	case idle > e.cfg.OfflineThreshold:
		target = model.StatusOffline
	case idle > e.cfg.InactiveThreshold:
		target = model.StatusAway
	default:
		return false
	}
	if target == sess.Status {
		return false
	}

	// Preserve the observed last-seen: a status-only demotion is not
	// activity
	lastSeen := sess.LastSeen
	if _, err := e.registry.Touch(ctx, sess.UserID, sess.DeviceID, model.SessionUpdate{
		Status:   &target,
		LastSeen: &lastSeen,
	}); err != nil {
		return false
	}

	if target == model.StatusOffline {
		if err := e.store.Upsert(ctx, &model.UserPresence{
			UserID:     sess.UserID,
			Status:     model.StatusOffline,
			LastSeenAt: sess.LastSeen,
		}); err != nil {
			log.Printf("⚠️  Failed to persist durable last-seen for %s: %v", sess.UserID, err)
		}
	}

	e.queueChange(sess.UserID, target, sess.CustomStatus)
	return true
}
