package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixlyapp/fixly/internal/config"
	"github.com/fixlyapp/fixly/internal/model"
	"github.com/fixlyapp/fixly/internal/session"
)

type fakeStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]model.UserPresence
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[uuid.UUID]model.UserPresence)}
}

func (s *fakeStore) Upsert(_ context.Context, p *model.UserPresence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[p.UserID] = *p
	return nil
}

func (s *fakeStore) Get(_ context.Context, userID uuid.UUID) (*model.UserPresence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[userID]; ok {
		return &row, nil
	}
	return nil, nil
}

type fakePusher struct {
	mu     sync.Mutex
	pushes []push
}

type push struct {
	userID  uuid.UUID
	event   string
	payload any
}

func (p *fakePusher) SendToUser(userID uuid.UUID, event string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, push{userID: userID, event: event, payload: payload})
}

func (p *fakePusher) pushesFor(userID uuid.UUID) []push {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []push
	for _, pu := range p.pushes {
		if pu.userID == userID {
			out = append(out, pu)
		}
	}
	return out
}

type fixture struct {
	engine   *Engine
	registry *session.Registry
	store    *fakeStore
	pusher   *fakePusher
	mr       *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	registry := session.NewRegistry(rdb, 24*time.Hour)
	store := newFakeStore()
	pusher := &fakePusher{}
	cfg := config.PresenceConfig{
		InactiveThreshold: 5 * time.Minute,
		OfflineThreshold:  15 * time.Minute,
		SweepInterval:     time.Minute,
		SessionTTL:        24 * time.Hour,
	}
	return &fixture{
		engine:   NewEngine(registry, rdb, store, pusher, cfg),
		registry: registry,
		store:    store,
		pusher:   pusher,
		mr:       mr,
	}
}

// drainFanout dispatches every queued status change synchronously
func (f *fixture) drainFanout(ctx context.Context) {
	for {
		select {
		case change := <-f.engine.fanout:
			f.engine.dispatch(ctx, change)
		default:
			return
		}
	}
}

func (f *fixture) connect(t *testing.T, userID uuid.UUID, deviceID string, lastSeen time.Time) *model.Session {
	t.Helper()
	sess := &model.Session{
		UserID:       userID,
		DeviceID:     deviceID,
		SessionID:    uuid.New(),
		ConnectionID: uuid.New(),
		Status:       model.StatusOnline,
		LastSeen:     lastSeen,
		ConnectedAt:  lastSeen,
	}
	require.NoError(t, f.registry.Register(context.Background(), sess))
	f.engine.HandleConnect(context.Background(), sess)
	return sess
}

func TestUpdateStatusAndAggregate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	f.connect(t, userID, "phone", time.Now().UTC())
	f.connect(t, userID, "web", time.Now().UTC())

	require.NoError(t, f.engine.UpdateStatus(ctx, userID, model.StatusBusy, "on a job"))

	info, err := f.engine.GetPresence(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusBusy, info.Status)
	assert.Equal(t, "on a job", info.CustomStatus)
}

func TestUpdateStatusRejectsInvalid(t *testing.T) {
	f := newFixture(t)
	err := f.engine.UpdateStatus(context.Background(), uuid.New(), model.PresenceStatus("NAPPING"), "")
	assert.Error(t, err)
}

func TestSweepDemotesIdleSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	awayUser := uuid.New()
	f.connect(t, awayUser, "phone", time.Now().UTC().Add(-7*time.Minute))

	offlineUser := uuid.New()
	f.connect(t, offlineUser, "phone", time.Now().UTC().Add(-20*time.Minute))

	activeUser := uuid.New()
	f.connect(t, activeUser, "phone", time.Now().UTC())

	require.NoError(t, f.engine.Sweep(ctx))

	info, err := f.engine.GetPresence(ctx, awayUser)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAway, info.Status)

	info, err = f.engine.GetPresence(ctx, offlineUser)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOffline, info.Status)

	info, err = f.engine.GetPresence(ctx, activeUser)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOnline, info.Status)

	// The OFFLINE demotion also wrote the durable last-seen row
	durable, err := f.store.Get(ctx, offlineUser)
	require.NoError(t, err)
	require.NotNil(t, durable)
	assert.Equal(t, model.StatusOffline, durable.Status)
}

func TestSweepDoesNotOverwriteStickyStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	f.connect(t, userID, "phone", time.Now().UTC().Add(-30*time.Minute))
	require.NoError(t, f.engine.UpdateStatus(ctx, userID, model.StatusDND, ""))

	require.NoError(t, f.engine.Sweep(ctx))

	info, err := f.engine.GetPresence(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDND, info.Status)
}

func TestNewConnectionClearsStickyStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	f.connect(t, userID, "phone", time.Now().UTC())
	require.NoError(t, f.engine.UpdateStatus(ctx, userID, model.StatusBusy, ""))

	f.connect(t, userID, "web", time.Now().UTC())

	info, err := f.engine.GetPresence(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOnline, info.Status)
}

func TestActivityPromotesAwayToOnline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	f.connect(t, userID, "phone", time.Now().UTC().Add(-7*time.Minute))
	require.NoError(t, f.engine.Sweep(ctx))

	info, err := f.engine.GetPresence(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, model.StatusAway, info.Status)

	f.engine.HandleActivity(ctx, userID, "phone")

	info, err = f.engine.GetPresence(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOnline, info.Status)
}

func TestSubscribeReturnsInitialState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subscriber, target := uuid.New(), uuid.New()

	f.connect(t, target, "phone", time.Now().UTC())

	presences, err := f.engine.Subscribe(ctx, subscriber, []uuid.UUID{target})
	require.NoError(t, err)
	require.Len(t, presences, 1)
	assert.Equal(t, target, presences[0].UserID)
	assert.Equal(t, model.StatusOnline, presences[0].Status)
}

func TestStatusChangeFansOutToSubscribersOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subscriber, bystander, target := uuid.New(), uuid.New(), uuid.New()

	f.connect(t, target, "phone", time.Now().UTC())
	f.drainFanout(ctx)
	f.pusher.pushes = nil

	_, err := f.engine.Subscribe(ctx, subscriber, []uuid.UUID{target})
	require.NoError(t, err)

	require.NoError(t, f.engine.UpdateStatus(ctx, target, model.StatusBusy, ""))
	f.drainFanout(ctx)

	got := f.pusher.pushesFor(subscriber)
	require.Len(t, got, 1, "exactly one push per status change")
	assert.Equal(t, model.EventPresenceStatusChange, got[0].event)
	payload, ok := got[0].payload.(model.StatusChangeEvent)
	require.True(t, ok)
	assert.Equal(t, model.StatusBusy, payload.Status)

	assert.Empty(t, f.pusher.pushesFor(bystander), "unrelated users receive nothing")
}

func TestUnsubscribeStopsFanOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subscriber, target := uuid.New(), uuid.New()

	f.connect(t, target, "phone", time.Now().UTC())
	_, err := f.engine.Subscribe(ctx, subscriber, []uuid.UUID{target})
	require.NoError(t, err)
	require.NoError(t, f.engine.Unsubscribe(ctx, subscriber, []uuid.UUID{target}))
	f.drainFanout(ctx)
	f.pusher.pushes = nil

	require.NoError(t, f.engine.UpdateStatus(ctx, target, model.StatusDND, ""))
	f.drainFanout(ctx)

	assert.Empty(t, f.pusher.pushesFor(subscriber))
}

func TestLastDisconnectGoesOfflineDurably(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	subscriber, userID := uuid.New(), uuid.New()

	sess := f.connect(t, userID, "phone", time.Now().UTC())
	_, err := f.engine.Subscribe(ctx, subscriber, []uuid.UUID{userID})
	require.NoError(t, err)
	f.drainFanout(ctx)
	f.pusher.pushes = nil

	removed, err := f.registry.Deregister(ctx, sess.ConnectionID)
	require.NoError(t, err)
	f.engine.HandleDisconnect(ctx, removed)
	f.drainFanout(ctx)

	durable, err := f.store.Get(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, durable)
	assert.Equal(t, model.StatusOffline, durable.Status)

	got := f.pusher.pushesFor(subscriber)
	require.Len(t, got, 1)
	payload := got[0].payload.(model.StatusChangeEvent)
	assert.Equal(t, model.StatusOffline, payload.Status)
}

func TestDisconnectWithRemainingDeviceStaysReachable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	phone := f.connect(t, userID, "phone", time.Now().UTC())
	f.connect(t, userID, "web", time.Now().UTC())

	removed, err := f.registry.Deregister(ctx, phone.ConnectionID)
	require.NoError(t, err)
	f.engine.HandleDisconnect(ctx, removed)

	info, err := f.engine.GetPresence(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOnline, info.Status)

	durable, err := f.store.Get(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, durable, "durable last-seen is only written on the last disconnect")
}

func TestGetBulkPresenceOmitsUnknownIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	known, unknown := uuid.New(), uuid.New()

	f.connect(t, known, "phone", time.Now().UTC())

	resp, err := f.engine.GetBulkPresence(ctx, []uuid.UUID{known, unknown})
	require.NoError(t, err)
	require.Len(t, resp.Presences, 1)
	assert.Equal(t, known, resp.Presences[0].UserID)
	assert.False(t, resp.Timestamp.IsZero())
}
