package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/fixlyapp/fixly/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PresenceRepository handles database operations for the durable last-seen
// presence rows
type PresenceRepository struct {
	db *gorm.DB
}

func NewPresenceRepository(db *gorm.DB) *PresenceRepository {
	return &PresenceRepository{db: db}
}

// Upsert writes the user's last-known presence row
func (r *PresenceRepository) Upsert(ctx context.Context, p *model.UserPresence) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "last_seen_at", "updated_at"}),
		}).
		Create(p).Error
}

// Get returns the user's durable presence row, or nil when none was ever
// written
func (r *PresenceRepository) Get(ctx context.Context, userID uuid.UUID) (*model.UserPresence, error) {
	var p model.UserPresence
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
