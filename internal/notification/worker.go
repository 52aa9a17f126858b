package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fixlyapp/fixly/internal/model"
)

// Mux returns the task multiplexer for the delivery and cleanup workers
func (s *Service) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeDeliver, s.HandleDeliver)
	mux.HandleFunc(TypeFire, s.HandleFire)
	mux.HandleFunc(TypeCleanup, s.HandleCleanup)
	return mux
}

// HandleDeliver performs one per-channel delivery attempt. Returning an
// error makes asynq retry with the per-channel backoff until MaxRetry is
// exhausted, after which the task is archived for operator inspection; the
// final attempt also marks the delivery sub-record terminally FAILED.
func (s *Service) HandleDeliver(ctx context.Context, t *asynq.Task) error {
	var p DeliveryPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("malformed delivery payload: %w", err)
	}

	delivery, err := s.store.GetDelivery(ctx, p.NotificationID, p.Channel)
	if err != nil {
		return fmt.Errorf("failed to load delivery record: %w", err)
	}
	if delivery.Status.Terminal() {
		// Already settled (duplicate task or operator retry race)
		return nil
	}

	retryCount, _ := asynq.GetRetryCount(ctx)
	delivery.Status = model.DeliveryProcessing
	delivery.RetryCount = retryCount
	if err := s.store.UpdateDelivery(ctx, delivery); err != nil {
		return fmt.Errorf("failed to mark delivery processing: %w", err)
	}
	s.refreshStatus(ctx, p.NotificationID)

	adapter, ok := s.adapters[p.Channel]
	if !ok {
		return s.failDelivery(ctx, delivery, fmt.Errorf("no adapter for channel %s", p.Channel), true)
	}

	messageID, sendErr := adapter.Send(ctx, p)
	if sendErr != nil {
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		terminal := retryCount >= maxRetry
		return s.failDelivery(ctx, delivery, sendErr, terminal)
	}

	now := time.Now().UTC()
	delivery.Status = model.DeliverySent
	delivery.MessageID = messageID
	delivery.Error = ""
	delivery.SentAt = &now
	if err := s.store.UpdateDelivery(ctx, delivery); err != nil {
		return fmt.Errorf("failed to mark delivery sent: %w", err)
	}
	s.refreshStatus(ctx, p.NotificationID)

	log.Printf("✅ Delivered notification %s via %s (attempt %d)", p.NotificationID, p.Channel, retryCount+1)
	return nil
}

// failDelivery records a failed attempt. Terminal failures flip the
// sub-record to FAILED; non-terminal ones keep it PROCESSING so the retry
// picks it up. The error is always returned so asynq drives the retry or
// archives the task.
func (s *Service) failDelivery(ctx context.Context, d *model.NotificationDelivery, cause error, terminal bool) error {
	d.Error = cause.Error()
	if terminal {
		d.Status = model.DeliveryFailed
	}
	if err := s.store.UpdateDelivery(ctx, d); err != nil {
		log.Printf("⚠️  Could not record delivery failure for %s/%s: %v", d.NotificationID, d.Channel, err)
	}
	s.refreshStatus(ctx, d.NotificationID)

	if terminal {
		log.Printf("❌ Delivery %s via %s failed terminally after %d attempt(s): %v",
			d.NotificationID, d.Channel, d.RetryCount+1, cause)
	}
	return fmt.Errorf("delivery via %s failed: %w", d.Channel, cause)
}

// HandleFire expands a scheduled notification into its per-channel delivery
// tasks at the scheduled time
func (s *Service) HandleFire(ctx context.Context, t *asynq.Task) error {
	var p FirePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("malformed fire payload: %w", err)
	}

	n, err := s.store.GetByID(ctx, p.NotificationID)
	if err != nil {
		return fmt.Errorf("failed to load scheduled notification: %w", err)
	}
	if n.ExpiresAt != nil && n.ExpiresAt.Before(s.now()) {
		log.Printf("⏭️  Scheduled notification %s expired before firing, skipping", n.ID)
		return nil
	}
	return s.enqueueDeliveries(ctx, n)
}

// HandleCleanup bulk-deletes notifications past their expiry/retention
// window. Runs on the serialized cleanup queue.
func (s *Service) HandleCleanup(ctx context.Context, t *asynq.Task) error {
	var p CleanupPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("malformed cleanup payload: %w", err)
	}
	batch := p.BatchSize
	if batch <= 0 {
		batch = 500
	}
	if p.Cutoff.IsZero() {
		// Scheduler-enqueued tasks carry no cutoff; apply the retention
		// window at execution time
		p.Cutoff = s.now().Add(-s.queue.RetentionWindow)
	}

	total := int64(0)
	for {
		deleted, err := s.store.DeleteExpired(ctx, p.Cutoff, batch)
		if err != nil {
			return fmt.Errorf("cleanup batch failed: %w", err)
		}
		total += deleted
		if deleted < int64(batch) {
			break
		}
	}
	if total > 0 {
		log.Printf("🧹 Cleanup removed %d expired notification(s)", total)
	}
	return nil
}
