package model

import (
	"time"

	"github.com/google/uuid"
)

// QuietHours is a per-user window during which non-in-app notifications
// are suppressed
type QuietHours struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"`    // "22:00"
	End      string `json:"end"`      // "07:00"
	Timezone string `json:"timezone"` // IANA name, e.g. "Europe/Berlin"
}

// PushToken is one registered device token for the push channel
type PushToken struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:uuid;not null;index"`
	Token     string    `json:"token" gorm:"not null;uniqueIndex:idx_user_push_token"`
	Platform  string    `json:"platform" gorm:"size:20;default:'unknown'"` // android, ios, web
	DeviceID  string    `json:"device_id" gorm:"size:128"`
	Enabled   bool      `json:"enabled" gorm:"not null;default:true"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PushToken) TableName() string { return "push_tokens" }

// NotificationPreference is the per-user notification gate. Created lazily
// with defaults on first access; never hard-deleted, only reset.
type NotificationPreference struct {
	UserID          uuid.UUID  `json:"user_id" gorm:"type:uuid;primaryKey"`
	EnabledChannels []Channel  `json:"enabled_channels" gorm:"serializer:json"`
	MutedCategories []string   `json:"muted_categories" gorm:"serializer:json"`
	QuietHours      QuietHours `json:"quiet_hours" gorm:"serializer:json"`
	Email           string     `json:"email,omitempty" gorm:"size:255"`
	PhoneNumber     string     `json:"phone_number,omitempty" gorm:"size:32"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	PushTokens []PushToken `json:"push_tokens" gorm:"foreignKey:UserID;references:UserID"`
}

func (NotificationPreference) TableName() string { return "notification_preferences" }

// DefaultPreference returns the preference row created on first access
func DefaultPreference(userID uuid.UUID) *NotificationPreference {
	return &NotificationPreference{
		UserID:          userID,
		EnabledChannels: []Channel{ChannelInApp, ChannelPush, ChannelEmail},
		MutedCategories: []string{},
		QuietHours:      QuietHours{Enabled: false, Timezone: "UTC"},
	}
}

// ChannelEnabled reports whether the user has opted into the channel
func (p *NotificationPreference) ChannelEnabled(c Channel) bool {
	for _, ec := range p.EnabledChannels {
		if ec == c {
			return true
		}
	}
	return false
}

// CategoryMuted reports whether the user muted the category
func (p *NotificationPreference) CategoryMuted(category string) bool {
	for _, mc := range p.MutedCategories {
		if mc == category {
			return true
		}
	}
	return false
}

// InQuietHours reports whether now falls inside the configured quiet-hours
// window. Windows may wrap midnight (22:00–07:00). A malformed window or
// unknown timezone disables the gate rather than blocking delivery.
func (p *NotificationPreference) InQuietHours(now time.Time) bool {
	qh := p.QuietHours
	if !qh.Enabled || qh.Start == "" || qh.End == "" {
		return false
	}

	loc, err := time.LoadLocation(qh.Timezone)
	if err != nil {
		return false
	}
	local := now.In(loc)

	start, err1 := time.Parse("15:04", qh.Start)
	end, err2 := time.Parse("15:04", qh.End)
	if err1 != nil || err2 != nil {
		return false
	}

	cur := local.Hour()*60 + local.Minute()
	s := start.Hour()*60 + start.Minute()
	e := end.Hour()*60 + end.Minute()

	if s <= e {
		return cur >= s && cur < e
	}
	// Window wraps past midnight
	return cur >= s || cur < e
}
