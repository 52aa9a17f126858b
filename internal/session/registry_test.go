package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixlyapp/fixly/internal/model"
)

func newTestRegistry(t *testing.T) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRegistry(rdb, 24*time.Hour), mr
}

func newSession(userID uuid.UUID, deviceID string) *model.Session {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.Session{
		UserID:       userID,
		DeviceID:     deviceID,
		SessionID:    uuid.New(),
		ConnectionID: uuid.New(),
		Status:       model.StatusOnline,
		LastSeen:     now,
		ConnectedAt:  now,
	}
}

func TestRegisterAndGet(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	sess := newSession(uuid.New(), "phone-1")
	require.NoError(t, r.Register(ctx, sess))

	got, err := r.Get(ctx, sess.UserID, sess.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, sess.ConnectionID, got.ConnectionID)
	assert.Equal(t, model.StatusOnline, got.Status)
}

func TestRegisterReplacesSameDevice(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	userID := uuid.New()

	first := newSession(userID, "phone-1")
	require.NoError(t, r.Register(ctx, first))

	// Reconnect on the same device: the entry is replaced, never duplicated
	second := newSession(userID, "phone-1")
	require.NoError(t, r.Register(ctx, second))

	sessions, err := r.ListSessions(ctx, userID, "")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, second.ConnectionID, sessions[0].ConnectionID)

	// The replaced connection's reverse index entry is gone
	_, err = r.Deregister(ctx, first.ConnectionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDeregisterRemovesBothEntries(t *testing.T) {
	r, mr := newTestRegistry(t)
	ctx := context.Background()

	sess := newSession(uuid.New(), "web-1")
	require.NoError(t, r.Register(ctx, sess))

	removed, err := r.Deregister(ctx, sess.ConnectionID)
	require.NoError(t, err)
	require.NotNil(t, removed)
	assert.Equal(t, sess.DeviceID, removed.DeviceID)

	sessions, err := r.ListSessions(ctx, sess.UserID, "")
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.False(t, mr.Exists(connKey(sess.ConnectionID)))
}

func TestDeregisterStaleConnectionKeepsNewSession(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	userID := uuid.New()

	first := newSession(userID, "phone-1")
	require.NoError(t, r.Register(ctx, first))
	second := newSession(userID, "phone-1")
	require.NoError(t, r.Register(ctx, second))

	// Even if the old socket's reverse entry somehow survived, its
	// disconnect must not remove the replacement session
	ref := `{"user_id":"` + userID.String() + `","device_id":"phone-1"}`
	require.NoError(t, r.rdb.Set(ctx, connKey(first.ConnectionID), ref, time.Hour).Err())

	removed, err := r.Deregister(ctx, first.ConnectionID)
	require.NoError(t, err)
	assert.Nil(t, removed)

	got, err := r.Get(ctx, userID, "phone-1")
	require.NoError(t, err)
	assert.Equal(t, second.ConnectionID, got.ConnectionID)
}

func TestTouchUpdatesAndRenews(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	sess := newSession(uuid.New(), "phone-1")
	require.NoError(t, r.Register(ctx, sess))

	busy := model.StatusBusy
	custom := "in a meeting"
	updated, err := r.Touch(ctx, sess.UserID, sess.DeviceID, model.SessionUpdate{
		Status:       &busy,
		CustomStatus: &custom,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusBusy, updated.Status)
	assert.Equal(t, "in a meeting", updated.CustomStatus)
	assert.True(t, updated.LastSeen.After(sess.LastSeen) || updated.LastSeen.Equal(sess.LastSeen))
}

func TestTouchMissingSession(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Touch(context.Background(), uuid.New(), "ghost", model.SessionUpdate{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestListSessionsStatusFilter(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	userID := uuid.New()

	online := newSession(userID, "phone-1")
	require.NoError(t, r.Register(ctx, online))

	away := newSession(userID, "web-1")
	away.Status = model.StatusAway
	require.NoError(t, r.Register(ctx, away))

	got, err := r.ListSessions(ctx, userID, model.StatusAway)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "web-1", got[0].DeviceID)

	conns, err := r.ListConnections(ctx, userID, "")
	require.NoError(t, err)
	assert.Len(t, conns, 2)
}

func TestScanSessionsPaginates(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		require.NoError(t, r.Register(ctx, newSession(uuid.New(), "dev")))
	}

	var all []model.Session
	var cursor uint64
	pages := 0
	for {
		batch, next, err := r.ScanSessions(ctx, cursor, 10)
		require.NoError(t, err)
		all = append(all, batch...)
		pages++
		cursor = next
		if cursor == 0 {
			break
		}
		require.Less(t, pages, 100, "scan did not terminate")
	}
	assert.Len(t, all, 25)
}

func TestSessionEntriesExpire(t *testing.T) {
	r, mr := newTestRegistry(t)
	ctx := context.Background()

	sess := newSession(uuid.New(), "phone-1")
	require.NoError(t, r.Register(ctx, sess))

	// Crashed gateways never deregister; the TTL is the backstop
	mr.FastForward(25 * time.Hour)

	_, err := r.Get(ctx, sess.UserID, sess.DeviceID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = r.Deregister(ctx, sess.ConnectionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
