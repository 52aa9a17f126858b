package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fixlyapp/fixly/internal/config"
	"github.com/fixlyapp/fixly/internal/model"
)

// ========== Fakes ==========

type fakeStore struct {
	mu            sync.Mutex
	notifications map[uuid.UUID]*model.Notification
}

func newFakeStore() *fakeStore {
	return &fakeStore{notifications: make(map[uuid.UUID]*model.Notification)}
}

func (s *fakeStore) Create(_ context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.notifications[n.ID] = &cp
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *n
	return &cp, nil
}

func (s *fakeStore) GetDelivery(_ context.Context, id uuid.UUID, ch model.Channel) (*model.NotificationDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, errors.New("not found")
	}
	for i := range n.Deliveries {
		if n.Deliveries[i].Channel == ch {
			cp := n.Deliveries[i]
			return &cp, nil
		}
	}
	return nil, errors.New("delivery not found")
}

func (s *fakeStore) UpdateDelivery(_ context.Context, d *model.NotificationDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[d.NotificationID]
	if !ok {
		return errors.New("not found")
	}
	for i := range n.Deliveries {
		if n.Deliveries[i].Channel == d.Channel {
			n.Deliveries[i] = *d
			return nil
		}
	}
	return errors.New("delivery not found")
}

func (s *fakeStore) UpdateStatus(_ context.Context, id uuid.UUID, status model.NotificationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return errors.New("not found")
	}
	n.Status = status
	return nil
}

func (s *fakeStore) MarkRead(_ context.Context, userID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return errors.New("not found")
	}
	now := time.Now().UTC()
	n.ReadAt = &now
	return nil
}

func (s *fakeStore) List(_ context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]model.Notification, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Notification
	for _, n := range s.notifications {
		if n.UserID != userID {
			continue
		}
		if unreadOnly && n.ReadAt != nil {
			continue
		}
		out = append(out, *n)
	}
	return out, int64(len(out)), nil
}

func (s *fakeStore) CountUnread(_ context.Context, userID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, n := range s.notifications {
		if n.UserID == userID && n.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) DeleteExpired(_ context.Context, cutoff time.Time, batchSize int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, n := range s.notifications {
		if n.ExpiresAt != nil && n.ExpiresAt.Before(cutoff) {
			delete(s.notifications, id)
			deleted++
			if deleted == int64(batchSize) {
				break
			}
		}
	}
	return deleted, nil
}

func (s *fakeStore) FailStalledDeliveries(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var affected []uuid.UUID
	for id, n := range s.notifications {
		for i := range n.Deliveries {
			d := &n.Deliveries[i]
			if d.Status == model.DeliveryProcessing && d.UpdatedAt.Before(cutoff) {
				d.Status = model.DeliveryFailed
				d.Error = "delivery stalled, failed by operator cleanup"
				affected = append(affected, id)
			}
		}
	}
	return affected, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notifications)
}

type fakePrefStore struct {
	pref   *model.NotificationPreference
	tokens []model.PushToken
}

func (s *fakePrefStore) GetOrCreate(_ context.Context, userID uuid.UUID) (*model.NotificationPreference, error) {
	if s.pref == nil {
		s.pref = model.DefaultPreference(userID)
	}
	return s.pref, nil
}

func (s *fakePrefStore) Update(_ context.Context, _ uuid.UUID, _ model.UpdatePreferenceRequest) (*model.NotificationPreference, error) {
	return s.pref, nil
}

func (s *fakePrefStore) ListPushTokens(_ context.Context, _ uuid.UUID, _ bool) ([]model.PushToken, error) {
	return s.tokens, nil
}

func (s *fakePrefStore) RegisterPushToken(_ context.Context, _ uuid.UUID, _ model.RegisterPushTokenRequest) (*model.PushToken, error) {
	return nil, nil
}

func (s *fakePrefStore) RemovePushToken(_ context.Context, _ uuid.UUID, _ string) error {
	return nil
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (e *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func (e *fakeEnqueuer) byType(taskType string) []*asynq.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*asynq.Task
	for _, t := range e.tasks {
		if t.Type() == taskType {
			out = append(out, t)
		}
	}
	return out
}

type fakeAdapter struct {
	channel model.Channel
	err     error
	sends   int
}

func (a *fakeAdapter) Channel() model.Channel { return a.channel }

func (a *fakeAdapter) Send(_ context.Context, _ DeliveryPayload) (string, error) {
	a.sends++
	if a.err != nil {
		return "", a.err
	}
	return "msg-123", nil
}

// ========== Fixtures ==========

func queueCfg() config.QueueConfig {
	return config.QueueConfig{
		Channels: map[string]config.ChannelPolicy{
			"IN_APP": {MaxRetries: 2, BaseDelay: 5 * time.Second, Timeout: 10 * time.Second},
			"PUSH":   {MaxRetries: 3, BaseDelay: 30 * time.Second, Timeout: 30 * time.Second},
			"EMAIL":  {MaxRetries: 5, BaseDelay: time.Minute, Timeout: time.Minute},
			"SMS":    {MaxRetries: 3, BaseDelay: time.Minute, Timeout: 30 * time.Second},
		},
	}
}

func newTestService(adapters ...Adapter) (*Service, *fakeStore, *fakePrefStore, *fakeEnqueuer) {
	store := newFakeStore()
	prefs := &fakePrefStore{}
	enq := &fakeEnqueuer{}
	return NewService(store, prefs, enq, adapters, queueCfg()), store, prefs, enq
}

func request(userID uuid.UUID, channels ...model.Channel) model.CreateNotificationRequest {
	return model.CreateNotificationRequest{
		UserID:   userID,
		Title:    "Job accepted",
		Body:     "Your plumbing job was accepted",
		Category: "jobs",
		Priority: model.PriorityNormal,
		Channels: channels,
	}
}

// ========== Create / preference gate ==========

func TestCreateRejectsMutedCategory(t *testing.T) {
	svc, store, prefs, enq := newTestService()
	userID := uuid.New()
	prefs.pref = model.DefaultPreference(userID)
	prefs.pref.MutedCategories = []string{"jobs"}

	_, err := svc.Create(context.Background(), request(userID, model.ChannelInApp))

	reason, ok := Rejected(err)
	require.True(t, ok)
	assert.Equal(t, RejectCategoryMuted, reason)
	assert.Zero(t, store.count(), "nothing is persisted on rejection")
	assert.Empty(t, enq.tasks)
}

func TestCreateRejectsDuringQuietHours(t *testing.T) {
	svc, store, prefs, _ := newTestService()
	userID := uuid.New()
	prefs.pref = model.DefaultPreference(userID)
	prefs.pref.QuietHours = model.QuietHours{Enabled: true, Start: "00:00", End: "23:59", Timezone: "UTC"}

	_, err := svc.Create(context.Background(), request(userID, model.ChannelEmail))

	reason, ok := Rejected(err)
	require.True(t, ok)
	assert.Equal(t, RejectQuietHours, reason)
	assert.Zero(t, store.count())
}

func TestCreateUrgentBypassesQuietHoursInAppOnly(t *testing.T) {
	svc, _, prefs, enq := newTestService()
	userID := uuid.New()
	prefs.pref = model.DefaultPreference(userID)
	prefs.pref.QuietHours = model.QuietHours{Enabled: true, Start: "00:00", End: "23:59", Timezone: "UTC"}

	req := request(userID, model.ChannelEmail, model.ChannelPush)
	req.Priority = model.PriorityUrgent

	n, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []model.Channel{model.ChannelInApp}, n.Channels)
	assert.Len(t, enq.byType(TypeDeliver), 1)
}

func TestCreatePersistsDeliveriesAndEnqueues(t *testing.T) {
	svc, store, _, enq := newTestService()
	userID := uuid.New()

	n, err := svc.Create(context.Background(), request(userID, model.ChannelInApp, model.ChannelEmail))
	require.NoError(t, err)

	stored, err := store.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	require.Len(t, stored.Deliveries, 2)
	for _, d := range stored.Deliveries {
		assert.Equal(t, model.DeliveryPending, d.Status)
	}
	assert.Equal(t, model.NotificationPending, stored.Status)
	assert.Len(t, enq.byType(TypeDeliver), 2, "one job per resolved channel")
}

func TestCreateIntersectsWithEnabledChannels(t *testing.T) {
	svc, _, prefs, _ := newTestService()
	userID := uuid.New()
	prefs.pref = model.DefaultPreference(userID)
	prefs.pref.EnabledChannels = []model.Channel{model.ChannelInApp}

	n, err := svc.Create(context.Background(), request(userID, model.ChannelInApp, model.ChannelEmail, model.ChannelSMS))
	require.NoError(t, err)
	assert.Equal(t, []model.Channel{model.ChannelInApp}, n.Channels)
}

func TestCreateHighPriorityForcesInApp(t *testing.T) {
	svc, _, _, _ := newTestService()
	userID := uuid.New()

	req := request(userID, model.ChannelEmail)
	req.Priority = model.PriorityHigh

	n, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, n.Channels, model.ChannelInApp)
	assert.Contains(t, n.Channels, model.ChannelEmail)
}

func TestCreateRejectsWhenNoChannelResolves(t *testing.T) {
	svc, _, prefs, _ := newTestService()
	userID := uuid.New()
	prefs.pref = model.DefaultPreference(userID)
	prefs.pref.EnabledChannels = []model.Channel{}

	_, err := svc.Create(context.Background(), request(userID, model.ChannelEmail))

	reason, ok := Rejected(err)
	require.True(t, ok)
	assert.Equal(t, RejectNoChannels, reason)
}

func TestCreateScheduledEnqueuesSingleFireTask(t *testing.T) {
	svc, _, _, enq := newTestService()
	userID := uuid.New()

	at := time.Now().Add(2 * time.Hour)
	req := request(userID, model.ChannelInApp, model.ChannelEmail)
	req.ScheduledAt = &at

	_, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, enq.byType(TypeDeliver))
	assert.Len(t, enq.byType(TypeFire), 1)
}

// ========== Worker ==========

func TestHandleDeliverSuccess(t *testing.T) {
	adapter := &fakeAdapter{channel: model.ChannelEmail}
	svc, store, _, _ := newTestService(adapter)
	userID := uuid.New()

	n, err := svc.Create(context.Background(), request(userID, model.ChannelEmail))
	require.NoError(t, err)

	task, _, err := NewDeliveryTask(DeliveryPayload{
		NotificationID: n.ID,
		Channel:        model.ChannelEmail,
		UserID:         userID,
		Title:          n.Title,
		Body:           n.Body,
		Category:       n.Category,
		Priority:       n.Priority,
	}, queueCfg().Policy("EMAIL"))
	require.NoError(t, err)

	require.NoError(t, svc.HandleDeliver(context.Background(), task))
	assert.Equal(t, 1, adapter.sends)

	stored, err := store.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliverySent, stored.Deliveries[0].Status)
	assert.NotNil(t, stored.Deliveries[0].SentAt)
	assert.Equal(t, model.NotificationSent, stored.Status)
}

func TestHandleDeliverTerminalFailure(t *testing.T) {
	adapter := &fakeAdapter{channel: model.ChannelEmail, err: errors.New("smtp down")}
	svc, store, _, _ := newTestService(adapter)
	userID := uuid.New()

	n, err := svc.Create(context.Background(), request(userID, model.ChannelEmail))
	require.NoError(t, err)

	task, _, err := NewDeliveryTask(DeliveryPayload{
		NotificationID: n.ID,
		Channel:        model.ChannelEmail,
		UserID:         userID,
	}, queueCfg().Policy("EMAIL"))
	require.NoError(t, err)

	// Outside an asynq server there is no retry budget left, so the
	// failure is terminal
	err = svc.HandleDeliver(context.Background(), task)
	require.Error(t, err, "the error must surface so the queue records the failure")

	stored, err := store.GetByID(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryFailed, stored.Deliveries[0].Status)
	assert.Contains(t, stored.Deliveries[0].Error, "smtp down")
	assert.Equal(t, model.NotificationFailed, stored.Status)
}

func TestHandleDeliverSkipsSettledDelivery(t *testing.T) {
	adapter := &fakeAdapter{channel: model.ChannelEmail}
	svc, store, _, _ := newTestService(adapter)
	userID := uuid.New()

	n, err := svc.Create(context.Background(), request(userID, model.ChannelEmail))
	require.NoError(t, err)

	d, err := store.GetDelivery(context.Background(), n.ID, model.ChannelEmail)
	require.NoError(t, err)
	d.Status = model.DeliveryDelivered
	require.NoError(t, store.UpdateDelivery(context.Background(), d))

	task, _, err := NewDeliveryTask(DeliveryPayload{NotificationID: n.ID, Channel: model.ChannelEmail}, queueCfg().Policy("EMAIL"))
	require.NoError(t, err)
	require.NoError(t, svc.HandleDeliver(context.Background(), task))
	assert.Zero(t, adapter.sends, "settled deliveries are not re-sent")
}

func TestHandleFireExpandsScheduledNotification(t *testing.T) {
	svc, _, _, enq := newTestService()
	userID := uuid.New()

	at := time.Now().Add(time.Hour)
	req := request(userID, model.ChannelInApp, model.ChannelEmail)
	req.ScheduledAt = &at

	_, err := svc.Create(context.Background(), req)
	require.NoError(t, err)

	fires := enq.byType(TypeFire)
	require.Len(t, fires, 1)

	require.NoError(t, svc.HandleFire(context.Background(), fires[0]))
	assert.Len(t, enq.byType(TypeDeliver), 2)
}

func TestHandleCleanupDeletesExpired(t *testing.T) {
	svc, store, _, _ := newTestService()
	userID := uuid.New()

	past := time.Now().Add(-time.Hour)
	req := request(userID, model.ChannelInApp)
	req.ExpiresAt = &past
	_, err := svc.Create(context.Background(), req)
	require.NoError(t, err)

	task, _, err := NewCleanupTask(time.Now(), 100)
	require.NoError(t, err)
	require.NoError(t, svc.HandleCleanup(context.Background(), task))
	assert.Zero(t, store.count())
}

// ========== Retry policy ==========

func TestRetryDelayGrowsPerChannel(t *testing.T) {
	fn := RetryDelay(queueCfg())

	task, _, err := NewDeliveryTask(DeliveryPayload{
		NotificationID: uuid.New(),
		Channel:        model.ChannelEmail,
	}, queueCfg().Policy("EMAIL"))
	require.NoError(t, err)

	d1 := fn(1, errors.New("x"), task)
	d2 := fn(2, errors.New("x"), task)
	d3 := fn(3, errors.New("x"), task)

	assert.Equal(t, time.Minute, d1)
	assert.Less(t, d1, d2)
	assert.Less(t, d2, d3)
}

func TestDeliveryTaskRetryBudget(t *testing.T) {
	// maxRetries=3 means exactly 3 total attempts: 1 initial + 2 retries
	task, opts, err := NewDeliveryTask(DeliveryPayload{
		Channel:  model.ChannelPush,
		Priority: model.PriorityNormal,
	}, queueCfg().Policy("PUSH"))
	require.NoError(t, err)
	assert.Equal(t, TypeDeliver, task.Type())
	assert.Contains(t, opts, asynq.MaxRetry(2))
	assert.Contains(t, opts, asynq.Queue(QueueDeliveries))
}

func TestUrgentDeliveriesUseCriticalQueue(t *testing.T) {
	_, opts, err := NewDeliveryTask(DeliveryPayload{
		Channel:  model.ChannelInApp,
		Priority: model.PriorityUrgent,
	}, queueCfg().Policy("IN_APP"))
	require.NoError(t, err)
	assert.Contains(t, opts, asynq.Queue(QueueCritical))
}
