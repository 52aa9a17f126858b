package model

import (
	"time"

	"github.com/google/uuid"
)

// Channel is a notification delivery medium
type Channel string

const (
	ChannelInApp Channel = "IN_APP"
	ChannelPush  Channel = "PUSH"
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
)

// AllChannels lists every supported delivery channel
var AllChannels = []Channel{ChannelInApp, ChannelPush, ChannelEmail, ChannelSMS}

// Valid reports whether c is a known channel
func (c Channel) Valid() bool {
	switch c {
	case ChannelInApp, ChannelPush, ChannelEmail, ChannelSMS:
		return true
	}
	return false
}

// Priority orders notifications; HIGH and URGENT force the in-app channel
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Urgent reports whether the priority forces in-app delivery
func (p Priority) Urgent() bool {
	return p == PriorityHigh || p == PriorityUrgent
}

// NotificationStatus is the derived overall status of a notification.
// It is always recomputed from the delivery sub-records, never set directly.
type NotificationStatus string

const (
	NotificationPending    NotificationStatus = "PENDING"
	NotificationProcessing NotificationStatus = "PROCESSING"
	NotificationSent       NotificationStatus = "SENT"
	NotificationFailed     NotificationStatus = "FAILED"
)

// DeliveryStatus is the per-channel delivery state
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "PENDING"
	DeliveryProcessing DeliveryStatus = "PROCESSING"
	DeliverySent       DeliveryStatus = "SENT"
	DeliveryDelivered  DeliveryStatus = "DELIVERED"
	DeliveryFailed     DeliveryStatus = "FAILED"
)

// Terminal reports whether no further automatic transition occurs
func (s DeliveryStatus) Terminal() bool {
	return s == DeliverySent || s == DeliveryDelivered || s == DeliveryFailed
}

// Succeeded reports whether the channel reached the recipient
func (s DeliveryStatus) Succeeded() bool {
	return s == DeliverySent || s == DeliveryDelivered
}

// Notification is a persisted notification with one delivery sub-record
// per resolved channel
type Notification struct {
	ID          uuid.UUID          `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID      uuid.UUID          `json:"user_id" gorm:"type:uuid;not null;index"`
	TenantID    *uuid.UUID         `json:"tenant_id,omitempty" gorm:"type:uuid;index"`
	Title       string             `json:"title" gorm:"size:255;not null"`
	Body        string             `json:"body" gorm:"type:text"`
	Category    string             `json:"category" gorm:"size:64;not null;index"`
	Priority    Priority           `json:"priority" gorm:"size:16;not null;default:'NORMAL'"`
	Channels    []Channel          `json:"channels" gorm:"serializer:json"`
	Metadata    map[string]string  `json:"metadata,omitempty" gorm:"serializer:json"`
	Status      NotificationStatus `json:"status" gorm:"size:16;not null;default:'PENDING';index"`
	ReadAt      *time.Time         `json:"read_at,omitempty"`
	ExpiresAt   *time.Time         `json:"expires_at,omitempty" gorm:"index"`
	ScheduledAt *time.Time         `json:"scheduled_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`

	Deliveries []NotificationDelivery `json:"deliveries" gorm:"foreignKey:NotificationID;constraint:OnDelete:CASCADE"`
}

func (Notification) TableName() string { return "notifications" }

// NotificationDelivery is one per (notification, channel); owned by its
// parent notification and never referenced independently
type NotificationDelivery struct {
	ID             uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	NotificationID uuid.UUID      `json:"notification_id" gorm:"type:uuid;not null;uniqueIndex:idx_notification_channel"`
	Channel        Channel        `json:"channel" gorm:"size:16;not null;uniqueIndex:idx_notification_channel"`
	Status         DeliveryStatus `json:"status" gorm:"size:16;not null;default:'PENDING'"`
	MessageID      string         `json:"message_id,omitempty" gorm:"size:255"`
	Error          string         `json:"error,omitempty" gorm:"type:text"`
	RetryCount     int            `json:"retry_count" gorm:"not null;default:0"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (NotificationDelivery) TableName() string { return "notification_deliveries" }
