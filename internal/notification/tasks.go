package notification

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/fixlyapp/fixly/internal/config"
	"github.com/fixlyapp/fixly/internal/model"
)

// Task types handled by the delivery worker
const (
	TypeDeliver = "notification:deliver"
	TypeFire    = "notification:fire"
	TypeCleanup = "notification:cleanup"
)

// Queue names. Critical and deliveries are drained by the delivery worker
// pool; cleanup runs on its own serialized worker so bulk deletes cannot
// starve the database.
const (
	QueueCritical   = "critical"
	QueueDeliveries = "deliveries"
	QueueCleanup    = "cleanup"
)

// DeliveryQueues maps queue name to weight for the delivery worker
var DeliveryQueues = map[string]int{
	QueueCritical:   6,
	QueueDeliveries: 3,
}

// DeliveryPayload is the body of one per-channel delivery task
type DeliveryPayload struct {
	NotificationID uuid.UUID         `json:"notification_id"`
	Channel        model.Channel     `json:"channel"`
	UserID         uuid.UUID         `json:"user_id"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	Category       string            `json:"category"`
	Priority       model.Priority    `json:"priority"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// FirePayload triggers the per-channel enqueue of a scheduled notification
// at its scheduled time
type FirePayload struct {
	NotificationID uuid.UUID `json:"notification_id"`
}

// CleanupPayload bulk-deletes expired notifications in batches
type CleanupPayload struct {
	Cutoff    time.Time `json:"cutoff"`
	BatchSize int       `json:"batch_size"`
}

// queueFor picks the queue by notification priority
func queueFor(p model.Priority) string {
	if p.Urgent() {
		return QueueCritical
	}
	return QueueDeliveries
}

// NewDeliveryTask builds one delivery task with the channel's retry policy.
// MaxRetry is maxRetries-1 so a channel with maxRetries=3 gets exactly 3
// total attempts.
func NewDeliveryTask(p DeliveryPayload, policy config.ChannelPolicy) (*asynq.Task, []asynq.Option, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal delivery payload: %w", err)
	}
	opts := []asynq.Option{
		asynq.Queue(queueFor(p.Priority)),
		asynq.MaxRetry(policy.MaxRetries - 1),
		asynq.Timeout(policy.Timeout),
	}
	return asynq.NewTask(TypeDeliver, data), opts, nil
}

// NewFireTask builds the single delayed task for a scheduled notification
func NewFireTask(notificationID uuid.UUID, at time.Time) (*asynq.Task, []asynq.Option, error) {
	data, err := json.Marshal(FirePayload{NotificationID: notificationID})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal fire payload: %w", err)
	}
	opts := []asynq.Option{
		asynq.Queue(QueueDeliveries),
		asynq.ProcessAt(at),
		asynq.MaxRetry(3),
	}
	return asynq.NewTask(TypeFire, data), opts, nil
}

// NewCleanupTask builds an expiry/retention cleanup task
func NewCleanupTask(cutoff time.Time, batchSize int) (*asynq.Task, []asynq.Option, error) {
	data, err := json.Marshal(CleanupPayload{Cutoff: cutoff, BatchSize: batchSize})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal cleanup payload: %w", err)
	}
	opts := []asynq.Option{
		asynq.Queue(QueueCleanup),
		asynq.MaxRetry(2),
	}
	return asynq.NewTask(TypeCleanup, data), opts, nil
}

// RetryDelay returns the per-channel backoff: baseDelay × retry number, so
// successive delays grow linearly per channel policy. Non-delivery tasks
// fall back to the default PUSH-like policy.
func RetryDelay(cfg config.QueueConfig) asynq.RetryDelayFunc {
	return func(n int, _ error, task *asynq.Task) time.Duration {
		base := 30 * time.Second
		if task.Type() == TypeDeliver {
			var p DeliveryPayload
			if err := json.Unmarshal(task.Payload(), &p); err == nil {
				base = cfg.Policy(string(p.Channel)).BaseDelay
			}
		}
		if n < 1 {
			n = 1
		}
		return base * time.Duration(n)
	}
}
