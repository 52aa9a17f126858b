package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/fixlyapp/fixly/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PreferenceRepository handles database operations for NotificationPreference
// and PushToken
type PreferenceRepository struct {
	db *gorm.DB
}

func NewPreferenceRepository(db *gorm.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// GetOrCreate returns the user's preference row, lazily creating the
// default one on first access
func (r *PreferenceRepository) GetOrCreate(ctx context.Context, userID uuid.UUID) (*model.NotificationPreference, error) {
	var pref model.NotificationPreference
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&pref).Error
	if err == nil {
		return &pref, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	created := model.DefaultPreference(userID)
	// Two first-time callers may race; the conflict clause makes the
	// insert idempotent.
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(created).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&pref).Error; err != nil {
		return nil, err
	}
	return &pref, nil
}

// Update applies the non-nil fields of the request
func (r *PreferenceRepository) Update(ctx context.Context, userID uuid.UUID, req model.UpdatePreferenceRequest) (*model.NotificationPreference, error) {
	pref, err := r.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.EnabledChannels != nil {
		pref.EnabledChannels = req.EnabledChannels
	}
	if req.MutedCategories != nil {
		pref.MutedCategories = req.MutedCategories
	}
	if req.QuietHours != nil {
		pref.QuietHours = *req.QuietHours
	}
	if req.Email != nil {
		pref.Email = *req.Email
	}
	if req.PhoneNumber != nil {
		pref.PhoneNumber = *req.PhoneNumber
	}

	if err := r.db.WithContext(ctx).Save(pref).Error; err != nil {
		return nil, err
	}
	return pref, nil
}

// ListPushTokens returns the user's registered push tokens
func (r *PreferenceRepository) ListPushTokens(ctx context.Context, userID uuid.UUID, enabledOnly bool) ([]model.PushToken, error) {
	tokens := []model.PushToken{}
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if enabledOnly {
		query = query.Where("enabled = ?", true)
	}
	err := query.Order("created_at DESC").Find(&tokens).Error
	return tokens, err
}

// RegisterPushToken upserts a device token. Re-registering an existing
// token refreshes its platform/device and re-enables it.
func (r *PreferenceRepository) RegisterPushToken(ctx context.Context, userID uuid.UUID, req model.RegisterPushTokenRequest) (*model.PushToken, error) {
	token := &model.PushToken{
		ID:       uuid.New(),
		UserID:   userID,
		Token:    req.Token,
		Platform: req.Platform,
		DeviceID: req.DeviceID,
		Enabled:  true,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "platform", "device_id", "enabled", "updated_at"}),
		}).
		Create(token).Error
	if err != nil {
		return nil, err
	}
	return token, nil
}

// RemovePushToken deletes one of the user's tokens
func (r *PreferenceRepository) RemovePushToken(ctx context.Context, userID uuid.UUID, token string) error {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND token = ?", userID, token).
		Delete(&model.PushToken{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DisablePushToken flags a token that the push provider reported invalid
// so later deliveries skip it
func (r *PreferenceRepository) DisablePushToken(ctx context.Context, token string) error {
	return r.db.WithContext(ctx).
		Model(&model.PushToken{}).
		Where("token = ?", token).
		Update("enabled", false).Error
}
