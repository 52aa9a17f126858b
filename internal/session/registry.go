// Package session implements the authoritative registry of live realtime
// sessions. Redis is the single source of truth: gateway instances never
// keep a second in-memory copy that can drift.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fixlyapp/fixly/internal/model"
)

const (
	sessionKeyPrefix = "rt:session:" // rt:session:{userID}:{deviceID} -> Session JSON
	connKeyPrefix    = "rt:conn:"    // rt:conn:{connectionID} -> connRef JSON
)

// ErrSessionNotFound is returned when no session exists for the given key
var ErrSessionNotFound = errors.New("session not found")

// connRef is the reverse index entry used for O(1) cleanup on disconnect
type connRef struct {
	UserID   uuid.UUID `json:"user_id"`
	DeviceID string    `json:"device_id"`
}

// Registry stores sessions in Redis with a renewable TTL so a crashed
// gateway's sessions self-expire without an explicit cleanup pass
type Registry struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRegistry creates a session registry with the given entry TTL
func NewRegistry(rdb *redis.Client, ttl time.Duration) *Registry {
	return &Registry{rdb: rdb, ttl: ttl}
}

func sessionKey(userID uuid.UUID, deviceID string) string {
	return sessionKeyPrefix + userID.String() + ":" + deviceID
}

func connKey(connectionID uuid.UUID) string {
	return connKeyPrefix + connectionID.String()
}

// Register upserts the session for (UserID, DeviceID). A new connection for
// the same device replaces the prior entry; the stale reverse index entry of
// the replaced connection is removed so its disconnect cannot clobber the
// new session. Registry unavailability is a hard failure for connect.
func (r *Registry) Register(ctx context.Context, sess *model.Session) error {
	// Drop the reverse index of a connection we are replacing
	if old, err := r.Get(ctx, sess.UserID, sess.DeviceID); err == nil && old.ConnectionID != sess.ConnectionID {
		if err := r.rdb.Del(ctx, connKey(old.ConnectionID)).Err(); err != nil {
			return fmt.Errorf("failed to drop replaced connection index: %w", err)
		}
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	ref, err := json.Marshal(connRef{UserID: sess.UserID, DeviceID: sess.DeviceID})
	if err != nil {
		return fmt.Errorf("failed to marshal connection ref: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.UserID, sess.DeviceID), data, r.ttl)
	pipe.Set(ctx, connKey(sess.ConnectionID), ref, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to register session: %w", err)
	}
	return nil
}

// Deregister removes the session owned by the given connection and its
// reverse index entry. If the device has since been taken over by a newer
// connection, only the reverse index entry is removed and nil is returned.
func (r *Registry) Deregister(ctx context.Context, connectionID uuid.UUID) (*model.Session, error) {
	data, err := r.rdb.Get(ctx, connKey(connectionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve connection: %w", err)
	}

	var ref connRef
	if err := json.Unmarshal([]byte(data), &ref); err != nil {
		return nil, fmt.Errorf("corrupt connection index entry: %w", err)
	}

	sess, err := r.Get(ctx, ref.UserID, ref.DeviceID)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, connKey(connectionID))
	if sess != nil && sess.ConnectionID == connectionID {
		pipe.Del(ctx, sessionKey(ref.UserID, ref.DeviceID))
	} else {
		sess = nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to deregister session: %w", err)
	}
	return sess, nil
}

// Get returns the session for (userID, deviceID)
func (r *Registry) Get(ctx context.Context, userID uuid.UUID, deviceID string) (*model.Session, error) {
	data, err := r.rdb.Get(ctx, sessionKey(userID, deviceID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	var sess model.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("corrupt session entry: %w", err)
	}
	return &sess, nil
}

// Touch applies a partial update to the session and renews its TTL.
// Losing a heartbeat is better than killing a live connection, so callers
// treat errors as soft: Touch logs and returns the error for tests only.
func (r *Registry) Touch(ctx context.Context, userID uuid.UUID, deviceID string, upd model.SessionUpdate) (*model.Session, error) {
	sess, err := r.Get(ctx, userID, deviceID)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			log.Printf("⚠️  Session touch failed for %s/%s: %v", userID, deviceID, err)
		}
		return nil, err
	}

	if upd.Status != nil {
		sess.Status = *upd.Status
	}
	if upd.CustomStatus != nil {
		sess.CustomStatus = *upd.CustomStatus
	}
	if upd.Metadata != nil {
		if sess.Metadata == nil {
			sess.Metadata = make(map[string]string, len(upd.Metadata))
		}
		for k, v := range upd.Metadata {
			sess.Metadata[k] = v
		}
	}
	if upd.LastSeen != nil {
		sess.LastSeen = *upd.LastSeen
	} else {
		sess.LastSeen = time.Now().UTC()
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(userID, deviceID), data, r.ttl)
	pipe.Expire(ctx, connKey(sess.ConnectionID), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("⚠️  Session touch failed for %s/%s: %v", userID, deviceID, err)
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}
	return sess, nil
}

// ListSessions returns all sessions of one user, optionally filtered by
// status. Pass model.PresenceStatus("") for no filter.
func (r *Registry) ListSessions(ctx context.Context, userID uuid.UUID, status model.PresenceStatus) ([]model.Session, error) {
	pattern := sessionKeyPrefix + userID.String() + ":*"
	var sessions []model.Session
	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan sessions: %w", err)
		}
		batch, err := r.fetch(ctx, keys, status)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return sessions, nil
}

// ListConnections returns the live connection ids of one user
func (r *Registry) ListConnections(ctx context.Context, userID uuid.UUID, status model.PresenceStatus) ([]uuid.UUID, error) {
	sessions, err := r.ListSessions(ctx, userID, status)
	if err != nil {
		return nil, err
	}
	conns := make([]uuid.UUID, 0, len(sessions))
	for _, s := range sessions {
		conns = append(conns, s.ConnectionID)
	}
	return conns, nil
}

// ScanSessions walks the whole session keyspace one page at a time so the
// inactivity sweep never loads every session into memory at once. cursor=0
// starts a scan; a returned cursor of 0 ends it.
func (r *Registry) ScanSessions(ctx context.Context, cursor uint64, count int64) ([]model.Session, uint64, error) {
	keys, next, err := r.rdb.Scan(ctx, cursor, sessionKeyPrefix+"*", count).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan session keyspace: %w", err)
	}
	sessions, err := r.fetch(ctx, keys, "")
	if err != nil {
		return nil, 0, err
	}
	return sessions, next, nil
}

// fetch loads session values for a page of keys, skipping entries that
// expired between SCAN and GET
func (r *Registry) fetch(ctx context.Context, keys []string, status model.PresenceStatus) ([]model.Session, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	sessions := make([]model.Session, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var sess model.Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			log.Printf("⚠️  Skipping corrupt session entry: %v", err)
			continue
		}
		if status != "" && sess.Status != status {
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}
