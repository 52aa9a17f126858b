// Package notification implements the multi-channel delivery pipeline:
// preference gating, per-channel delivery records, persistent queueing with
// retries, and the derived overall status.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/fixlyapp/fixly/internal/config"
	"github.com/fixlyapp/fixly/internal/model"
)

// Store persists notifications and their delivery sub-records. Satisfied by
// repository.NotificationRepository.
type Store interface {
	Create(ctx context.Context, n *model.Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Notification, error)
	GetDelivery(ctx context.Context, notificationID uuid.UUID, channel model.Channel) (*model.NotificationDelivery, error)
	UpdateDelivery(ctx context.Context, d *model.NotificationDelivery) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.NotificationStatus) error
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error
	List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]model.Notification, int64, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteExpired(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
	FailStalledDeliveries(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

// PreferenceStore persists per-user notification preferences and push
// tokens. Satisfied by repository.PreferenceRepository.
type PreferenceStore interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*model.NotificationPreference, error)
	Update(ctx context.Context, userID uuid.UUID, req model.UpdatePreferenceRequest) (*model.NotificationPreference, error)
	ListPushTokens(ctx context.Context, userID uuid.UUID, enabledOnly bool) ([]model.PushToken, error)
	RegisterPushToken(ctx context.Context, userID uuid.UUID, req model.RegisterPushTokenRequest) (*model.PushToken, error)
	RemovePushToken(ctx context.Context, userID uuid.UUID, token string) error
}

// Enqueuer enqueues asynq tasks; satisfied by *asynq.Client
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// RejectReason classifies preference-gate rejections
type RejectReason string

const (
	RejectCategoryMuted RejectReason = "category_muted"
	RejectQuietHours    RejectReason = "quiet_hours"
	RejectNoChannels    RejectReason = "no_channels"
)

// RejectedError is returned synchronously to the producer when the
// preference gate blocks a notification. Nothing is persisted beyond the
// rejection.
type RejectedError struct {
	Reason RejectReason
}

func (e *RejectedError) Error() string {
	return "notification rejected: " + string(e.Reason)
}

// Rejected unwraps a RejectedError's reason, if err is one
func Rejected(err error) (RejectReason, bool) {
	var re *RejectedError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}

// Service is the notification delivery pipeline
type Service struct {
	store    Store
	prefs    PreferenceStore
	enqueuer Enqueuer
	adapters map[model.Channel]Adapter
	queue    config.QueueConfig

	now func() time.Time // injectable for tests
}

// NewService wires the pipeline
func NewService(store Store, prefs PreferenceStore, enqueuer Enqueuer, adapters []Adapter, queue config.QueueConfig) *Service {
	byChannel := make(map[model.Channel]Adapter, len(adapters))
	for _, a := range adapters {
		byChannel[a.Channel()] = a
	}
	return &Service{
		store:    store,
		prefs:    prefs,
		enqueuer: enqueuer,
		adapters: byChannel,
		queue:    queue,
		now:      time.Now,
	}
}

// Create runs the full pipeline entry: preference gate, channel resolution,
// persistence, and enqueue. Scheduled notifications get a single delayed
// fire task instead of immediate per-channel tasks.
func (s *Service) Create(ctx context.Context, req model.CreateNotificationRequest) (*model.Notification, error) {
	pref, err := s.prefs.GetOrCreate(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}

	priority := req.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}

	if pref.CategoryMuted(req.Category) {
		return nil, &RejectedError{Reason: RejectCategoryMuted}
	}
	// Quiet hours reject outright unless the priority forces in-app; an
	// urgent notification still reaches the in-app feed during the night.
	inQuiet := pref.InQuietHours(s.now())
	if inQuiet && !priority.Urgent() {
		return nil, &RejectedError{Reason: RejectQuietHours}
	}

	channels := resolveChannels(req.Channels, pref, priority, inQuiet)
	if len(channels) == 0 {
		return nil, &RejectedError{Reason: RejectNoChannels}
	}

	n := &model.Notification{
		ID:          uuid.New(),
		UserID:      req.UserID,
		TenantID:    req.TenantID,
		Title:       req.Title,
		Body:        req.Body,
		Category:    req.Category,
		Priority:    priority,
		Channels:    channels,
		Metadata:    req.Metadata,
		Status:      model.NotificationPending,
		ScheduledAt: req.ScheduledAt,
		ExpiresAt:   req.ExpiresAt,
	}
	for _, ch := range channels {
		n.Deliveries = append(n.Deliveries, model.NotificationDelivery{
			ID:             uuid.New(),
			NotificationID: n.ID,
			Channel:        ch,
			Status:         model.DeliveryPending,
		})
	}

	if err := s.store.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to persist notification: %w", err)
	}

	if n.ScheduledAt != nil && n.ScheduledAt.After(s.now()) {
		task, opts, err := NewFireTask(n.ID, *n.ScheduledAt)
		if err != nil {
			return nil, err
		}
		if _, err := s.enqueuer.EnqueueContext(ctx, task, opts...); err != nil {
			return nil, fmt.Errorf("failed to schedule notification: %w", err)
		}
		return n, nil
	}

	if err := s.enqueueDeliveries(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// enqueueDeliveries puts one delivery task per channel on the queue
func (s *Service) enqueueDeliveries(ctx context.Context, n *model.Notification) error {
	for _, d := range n.Deliveries {
		if d.Status != model.DeliveryPending {
			continue
		}
		payload := DeliveryPayload{
			NotificationID: n.ID,
			Channel:        d.Channel,
			UserID:         n.UserID,
			Title:          n.Title,
			Body:           n.Body,
			Category:       n.Category,
			Priority:       n.Priority,
			Metadata:       n.Metadata,
		}
		task, opts, err := NewDeliveryTask(payload, s.queue.Policy(string(d.Channel)))
		if err != nil {
			return err
		}
		if _, err := s.enqueuer.EnqueueContext(ctx, task, opts...); err != nil {
			return fmt.Errorf("failed to enqueue %s delivery: %w", d.Channel, err)
		}
	}
	return nil
}

// resolveChannels intersects the requested channels with the user's enabled
// ones. HIGH/URGENT always force-include the in-app channel. During quiet
// hours (urgent bypass) only the in-app channel survives.
func resolveChannels(requested []model.Channel, pref *model.NotificationPreference, priority model.Priority, inQuietHours bool) []model.Channel {
	if len(requested) == 0 {
		requested = pref.EnabledChannels
	}

	seen := make(map[model.Channel]bool, len(requested)+1)
	var resolved []model.Channel
	add := func(c model.Channel) {
		if !seen[c] {
			seen[c] = true
			resolved = append(resolved, c)
		}
	}

	for _, c := range requested {
		if !c.Valid() || !pref.ChannelEnabled(c) {
			continue
		}
		if inQuietHours && c != model.ChannelInApp {
			continue
		}
		add(c)
	}
	if priority.Urgent() {
		add(model.ChannelInApp)
	}
	return resolved
}

// Get returns one notification with its deliveries, scoped to the owner
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*model.Notification, error) {
	n, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.UserID != userID {
		return nil, fmt.Errorf("notification %s does not belong to user %s", id, userID)
	}
	return n, nil
}

// List returns the user's notification feed plus counts
func (s *Service) List(ctx context.Context, userID uuid.UUID, req model.ListNotificationsRequest) (*model.NotificationListResponse, error) {
	limit := req.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	items, total, err := s.store.List(ctx, userID, limit, req.Offset, req.UnreadOnly)
	if err != nil {
		return nil, err
	}
	unread, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.NotificationListResponse{
		Notifications: items,
		Total:         total,
		UnreadCount:   unread,
	}, nil
}

// MarkRead marks one notification read for its owner
func (s *Service) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	return s.store.MarkRead(ctx, userID, notificationID)
}

// GetPreferences returns the user's preferences, creating defaults on first
// access
func (s *Service) GetPreferences(ctx context.Context, userID uuid.UUID) (*model.NotificationPreference, error) {
	return s.prefs.GetOrCreate(ctx, userID)
}

// UpdatePreferences applies a partial preference update
func (s *Service) UpdatePreferences(ctx context.Context, userID uuid.UUID, req model.UpdatePreferenceRequest) (*model.NotificationPreference, error) {
	return s.prefs.Update(ctx, userID, req)
}

// RegisterPushToken registers a device token for the push channel
func (s *Service) RegisterPushToken(ctx context.Context, userID uuid.UUID, req model.RegisterPushTokenRequest) (*model.PushToken, error) {
	return s.prefs.RegisterPushToken(ctx, userID, req)
}

// RemovePushToken deletes a device token
func (s *Service) RemovePushToken(ctx context.Context, userID uuid.UUID, token string) error {
	return s.prefs.RemovePushToken(ctx, userID, token)
}

// CleanupStalled force-fails deliveries that have been stuck PROCESSING for
// longer than grace, then recomputes the affected overall statuses. Used by
// operators when a worker died mid-delivery.
func (s *Service) CleanupStalled(ctx context.Context, grace time.Duration) (int, error) {
	affected, err := s.store.FailStalledDeliveries(ctx, s.now().Add(-grace))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up stalled deliveries: %w", err)
	}
	for _, id := range affected {
		s.refreshStatus(ctx, id)
	}
	return len(affected), nil
}

// refreshStatus recomputes the derived overall status from the delivery
// sub-records and persists it
func (s *Service) refreshStatus(ctx context.Context, notificationID uuid.UUID) {
	n, err := s.store.GetByID(ctx, notificationID)
	if err != nil {
		log.Printf("⚠️  Could not refresh status for notification %s: %v", notificationID, err)
		return
	}
	derived := DeriveStatus(n.Deliveries)
	if derived == n.Status {
		return
	}
	if err := s.store.UpdateStatus(ctx, notificationID, derived); err != nil {
		log.Printf("⚠️  Could not persist status for notification %s: %v", notificationID, err)
	}
}
