package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/fixlyapp/fixly/internal/model"
	"gorm.io/gorm"
)

// NotificationRepository handles database operations for Notification
type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a notification together with its delivery sub-records
func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

// GetByID loads a notification with its deliveries
func (r *NotificationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	var n model.Notification
	err := r.db.WithContext(ctx).
		Preload("Deliveries").
		Where("id = ?", id).
		First(&n).Error
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// GetDelivery loads the per-channel sub-record of one notification
func (r *NotificationRepository) GetDelivery(ctx context.Context, notificationID uuid.UUID, channel model.Channel) (*model.NotificationDelivery, error) {
	var d model.NotificationDelivery
	err := r.db.WithContext(ctx).
		Where("notification_id = ? AND channel = ?", notificationID, channel).
		First(&d).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateDelivery saves the full delivery sub-record
func (r *NotificationRepository) UpdateDelivery(ctx context.Context, d *model.NotificationDelivery) error {
	return r.db.WithContext(ctx).Save(d).Error
}

// UpdateStatus writes the derived overall status
func (r *NotificationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.NotificationStatus) error {
	return r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// MarkRead stamps read_at once; a second call is a no-op
func (r *NotificationRepository) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("id = ? AND user_id = ? AND read_at IS NULL", notificationID, userID).
		Update("read_at", time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Either unknown, someone else's, or already read. Distinguish
		// ownership so the handler can 404 instead of silently succeeding.
		var count int64
		if err := r.db.WithContext(ctx).
			Model(&model.Notification{}).
			Where("id = ? AND user_id = ?", notificationID, userID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return gorm.ErrRecordNotFound
		}
	}
	return nil
}

// List returns a page of the user's notifications, newest first
func (r *NotificationRepository) List(ctx context.Context, userID uuid.UUID, limit, offset int, unreadOnly bool) ([]model.Notification, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("read_at IS NULL")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	notifications := []model.Notification{}
	err := query.
		Preload("Deliveries").
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&notifications).Error
	return notifications, total, err
}

// CountUnread returns the user's unread badge count
func (r *NotificationRepository) CountUnread(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Count(&count).Error
	return count, err
}

// FailStalledDeliveries flips deliveries stuck PROCESSING since before
// cutoff to FAILED and returns the affected notification IDs so the caller
// can recompute their overall statuses
func (r *NotificationRepository) FailStalledDeliveries(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&model.NotificationDelivery{}).
		Where("status = ? AND updated_at < ?", model.DeliveryProcessing, cutoff).
		Pluck("notification_id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	err = r.db.WithContext(ctx).
		Model(&model.NotificationDelivery{}).
		Where("status = ? AND updated_at < ?", model.DeliveryProcessing, cutoff).
		Updates(map[string]any{
			"status": model.DeliveryFailed,
			"error":  "delivery stalled, failed by operator cleanup",
		}).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteExpired removes at most batchSize notifications whose expiry passed
// before cutoff. Deliveries go with them via the FK cascade.
func (r *NotificationRepository) DeleteExpired(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("id IN (?)", r.db.
			Model(&model.Notification{}).
			Select("id").
			Where("expires_at IS NOT NULL AND expires_at < ?", cutoff).
			Limit(batchSize),
		).
		Delete(&model.Notification{})
	return res.RowsAffected, res.Error
}
